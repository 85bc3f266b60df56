package registry

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"

	"trustlines-relay/internal/graph"
)

// TrackedNetwork is the registry's record of a currency network.
type TrackedNetwork struct {
	Address common.Address
	Config  graph.Config

	frozen atomic.Bool
}

func NewTrackedNetwork(addr common.Address, cfg graph.Config, frozen bool) *TrackedNetwork {
	n := &TrackedNetwork{Address: addr, Config: cfg}
	n.frozen.Store(frozen)
	return n
}

// Freeze marks the network frozen. It reports whether this call froze it.
// A frozen network never thaws.
func (n *TrackedNetwork) Freeze() bool {
	return !n.frozen.Swap(true)
}

func (n *TrackedNetwork) IsFrozen() bool {
	return n.frozen.Load()
}
