package registry

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"trustlines-relay/internal/events"
)

// Registry maps contract kind and address to a tracked instance.
type Registry[T any] struct {
	mu        sync.RWMutex
	instances map[events.ContractKind]map[common.Address]T
}

func New[T any]() *Registry[T] {
	return &Registry[T]{instances: make(map[events.ContractKind]map[common.Address]T)}
}

// Register parses raw and, if the address is not yet tracked for kind, builds
// and stores its instance. build runs without the lock held; if another caller
// registered the address meanwhile, the stored instance wins and the built one
// is discarded. The bool reports whether this call inserted the instance.
// Malformed addresses fail without touching the registry.
func (r *Registry[T]) Register(kind events.ContractKind, raw string, build func(common.Address) (T, error)) (T, bool, error) {
	var zero T
	addr, err := ParseAddress(raw)
	if err != nil {
		return zero, false, err
	}
	if existing, ok := r.Lookup(kind, addr); ok {
		return existing, false, nil
	}

	instance, err := build(addr)
	if err != nil {
		return zero, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byAddr, ok := r.instances[kind]
	if !ok {
		byAddr = make(map[common.Address]T)
		r.instances[kind] = byAddr
	}
	if existing, ok := byAddr[addr]; ok {
		return existing, false, nil
	}
	byAddr[addr] = instance
	return instance, true, nil
}

func (r *Registry[T]) Lookup(kind events.ContractKind, addr common.Address) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[kind][addr]
	return instance, ok
}

func (r *Registry[T]) Has(kind events.ContractKind, addr common.Address) bool {
	_, ok := r.Lookup(kind, addr)
	return ok
}

// Addresses returns the tracked addresses of kind, sorted.
func (r *Registry[T]) Addresses(kind events.ContractKind) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.instances[kind]))
	for addr := range r.instances[kind] {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (r *Registry[T]) Len(kind events.ContractKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances[kind])
}
