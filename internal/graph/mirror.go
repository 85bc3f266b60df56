package graph

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"trustlines-relay/internal/events"
)

// ErrUnknownNetwork is returned for operations on a network that is not mirrored.
var ErrUnknownNetwork = errors.New("unknown network")

// Mirror holds one Graph per tracked currency network.
type Mirror struct {
	mu     sync.RWMutex
	graphs map[common.Address]*Graph
}

func NewMirror() *Mirror {
	return &Mirror{graphs: make(map[common.Address]*Graph)}
}

// Add starts mirroring a network. Adding a mirrored network returns its existing graph.
func (m *Mirror) Add(network common.Address, cfg Config) *Graph {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.graphs[network]; ok {
		return g
	}
	g := NewGraph(cfg)
	m.graphs[network] = g
	return g
}

func (m *Mirror) Graph(network common.Address) (*Graph, error) {
	m.mu.RLock()
	g, ok := m.graphs[network]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network.Hex())
	}
	return g, nil
}

// Networks returns the mirrored network addresses, sorted.
func (m *Mirror) Networks() []common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedAddresses(m.graphs)
}

// NetworksOf returns the networks in which user has at least one trustline, sorted.
func (m *Mirror) NetworksOf(user common.Address) []common.Address {
	m.mu.RLock()
	graphs := make(map[common.Address]*Graph, len(m.graphs))
	for network, g := range m.graphs {
		graphs[network] = g
	}
	m.mu.RUnlock()

	out := make([]common.Address, 0)
	for _, network := range sortedAddresses(graphs) {
		if graphs[network].HasUser(user) {
			out = append(out, network)
		}
	}
	return out
}

func (m *Mirror) ApplyFullSync(network common.Address, snap Snapshot) (bool, error) {
	g, err := m.Graph(network)
	if err != nil {
		return false, err
	}
	return g.ApplyFullSync(snap), nil
}

func (m *Mirror) ApplyBalanceUpdate(network, from, to common.Address, value *big.Int, ts uint64) (bool, error) {
	g, err := m.Graph(network)
	if err != nil {
		return false, err
	}
	return g.ApplyBalanceUpdate(from, to, value, ts), nil
}

func (m *Mirror) ApplyTrustlineUpdate(network common.Address, u TrustlineUpdate) (bool, error) {
	g, err := m.Graph(network)
	if err != nil {
		return false, err
	}
	return g.ApplyTrustlineUpdate(u), nil
}

func (m *Mirror) AccountSum(network, user common.Address, counterparty *common.Address, ts uint64) (*big.Int, error) {
	g, err := m.Graph(network)
	if err != nil {
		return nil, err
	}
	return g.AccountSum(user, counterparty, ts), nil
}

func (m *Mirror) DerivedEvents(network, user1, user2 common.Address, ts uint64) ([]events.Event, error) {
	g, err := m.Graph(network)
	if err != nil {
		return nil, err
	}
	return g.DerivedEvents(network, user1, user2, ts), nil
}
