package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/fanin"
	"trustlines-relay/internal/graph"
	"trustlines-relay/internal/hub"
	"trustlines-relay/internal/proxy"
	"trustlines-relay/internal/registry"
)

// ErrUnknownContract is returned by queries on contracts that are not tracked.
var ErrUnknownContract = errors.New("unknown contract")

// identityFactoryKind keys known identity factories in the registry. Factories
// emit no events the relay follows.
const identityFactoryKind events.ContractKind = "IdentityProxyFactory"

// Proxy reads and watches the events of one contract instance.
type Proxy interface {
	Address() common.Address
	Kind() events.ContractKind
	Events(ctx context.Context, q proxy.Query) ([]events.Event, error)
	Watch(ctx context.Context, handler proxy.Handler) error
}

// NetworkProxy adds the currency network state reads.
type NetworkProxy interface {
	Proxy
	NetworkConfig(ctx context.Context) (graph.Config, bool, error)
	Snapshot(ctx context.Context) (graph.Snapshot, error)
}

// ProxyFactory builds proxies for newly discovered contracts.
type ProxyFactory interface {
	NewProxy(addr common.Address, kind events.ContractKind) (Proxy, error)
	NewNetworkProxy(addr common.Address) (NetworkProxy, error)
}

type Config struct {
	UpdateNetworksInterval time.Duration
	SyncInterval           time.Duration
	EventQueryTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.UpdateNetworksInterval <= 0 {
		c.UpdateNetworksInterval = 120 * time.Second
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 300 * time.Second
	}
	if c.EventQueryTimeout <= 0 {
		c.EventQueryTimeout = 20 * time.Second
	}
	return c
}

type Dependencies struct {
	Factory  ProxyFactory
	Manifest registry.ManifestSource
	Hub      *hub.Hub
	FanIn    *fanin.Engine
	Logger   *zap.Logger
}

// network is a tracked currency network together with its proxy.
type network struct {
	*registry.TrackedNetwork
	proxy NetworkProxy
}

// Relay tracks contracts, mirrors currency networks and fans ledger events out
// to subscribers.
type Relay struct {
	cfg      Config
	factory  ProxyFactory
	manifest registry.ManifestSource
	hub      *hub.Hub
	fanin    *fanin.Engine
	logger   *zap.Logger

	mirror    *graph.Mirror
	networks  *registry.Registry[*network]
	contracts *registry.Registry[Proxy]
	factories *registry.Registry[struct{}]

	wg sync.WaitGroup
}

func New(cfg Config, deps Dependencies) *Relay {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := deps.Hub
	if h == nil {
		h = hub.New(nil, nil, logger)
	}
	engine := deps.FanIn
	if engine == nil {
		engine = fanin.NewEngine(fanin.DefaultConcurrency, logger)
	}
	return &Relay{
		cfg:       cfg.withDefaults(),
		factory:   deps.Factory,
		manifest:  deps.Manifest,
		hub:       h,
		fanin:     engine,
		logger:    logger,
		mirror:    graph.NewMirror(),
		networks:  registry.New[*network](),
		contracts: registry.New[Proxy](),
		factories: registry.New[struct{}](),
	}
}

// Run restores stored push subscriptions and runs discovery until ctx is done.
// It returns after every listener has stopped.
func (r *Relay) Run(ctx context.Context) error {
	n, err := r.hub.BootstrapFromStore(ctx)
	if err != nil {
		r.logger.Error("restore push subscriptions", zap.Error(err))
	} else {
		r.logger.Info("restored push subscriptions", zap.Int("count", n))
	}

	r.RunDiscovery(ctx)
	r.wg.Wait()
	return nil
}

func (r *Relay) Hub() *hub.Hub {
	return r.hub
}

func (r *Relay) Mirror() *graph.Mirror {
	return r.mirror
}
