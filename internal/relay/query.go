package relay

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/fanin"
	"trustlines-relay/internal/graph"
	"trustlines-relay/internal/hub"
	"trustlines-relay/internal/proxy"
)

// NetworkInfo describes a tracked currency network.
type NetworkInfo struct {
	Address common.Address
	Config  graph.Config
	Frozen  bool
	// Block and timestamp of the last full sync, zero before the first one.
	SyncBlock     uint64
	SyncTimestamp uint64
}

func (r *Relay) Networks() []NetworkInfo {
	addrs := r.networks.Addresses(events.CurrencyNetwork)
	out := make([]NetworkInfo, 0, len(addrs))
	for _, addr := range addrs {
		if info, err := r.Network(addr); err == nil {
			out = append(out, info)
		}
	}
	return out
}

func (r *Relay) Network(addr common.Address) (NetworkInfo, error) {
	n, err := r.network(addr)
	if err != nil {
		return NetworkInfo{}, err
	}
	info := NetworkInfo{Address: n.Address, Config: n.Config, Frozen: n.IsFrozen()}
	if g, err := r.mirror.Graph(addr); err == nil {
		info.SyncBlock, info.SyncTimestamp, _ = g.SyncPoint()
	}
	return info, nil
}

func (r *Relay) IsNetworkFrozen(addr common.Address) (bool, error) {
	n, err := r.network(addr)
	if err != nil {
		return false, err
	}
	return n.IsFrozen(), nil
}

func (r *Relay) network(addr common.Address) (*network, error) {
	n, ok := r.networks.Lookup(events.CurrencyNetwork, addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownNetwork, addr.Hex())
	}
	return n, nil
}

// NetworksOfUser returns the networks in which user has a trustline.
func (r *Relay) NetworksOfUser(user common.Address) []common.Address {
	return r.mirror.NetworksOf(user)
}

func (r *Relay) UsersOfNetwork(addr common.Address) ([]common.Address, error) {
	g, err := r.mirror.Graph(addr)
	if err != nil {
		return nil, err
	}
	return g.Users(), nil
}

// FriendsOfUser returns the counterparties of user in a network.
func (r *Relay) FriendsOfUser(addr, user common.Address) ([]common.Address, error) {
	g, err := r.mirror.Graph(addr)
	if err != nil {
		return nil, err
	}
	return g.Friends(user), nil
}

// AccountSum returns the accrued balance of user in a network, towards
// counterparty or over all trustlines when counterparty is nil.
func (r *Relay) AccountSum(addr, user common.Address, counterparty *common.Address) (*big.Int, error) {
	return r.mirror.AccountSum(addr, user, counterparty, uint64(time.Now().Unix()))
}

// HopFee returns the imbalance fee sender charges for forwarding value to
// receiver in a network.
func (r *Relay) HopFee(addr, sender, receiver common.Address, value *big.Int) (*big.Int, error) {
	g, err := r.mirror.Graph(addr)
	if err != nil {
		return nil, err
	}
	return g.HopFee(sender, receiver, value, uint64(time.Now().Unix())), nil
}

// IsTrustedToken reports whether addr is a tracked token or unw-eth contract.
func (r *Relay) IsTrustedToken(addr common.Address) bool {
	return r.contracts.Has(events.Token, addr) || r.contracts.Has(events.UnwEth, addr)
}

func (r *Relay) IsKnownFactory(addr common.Address) bool {
	return r.factories.Has(identityFactoryKind, addr)
}

func (r *Relay) NetworkEvents(ctx context.Context, addr common.Address, eventType string, fromBlock uint64) ([]events.Event, error) {
	n, err := r.network(addr)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, n.proxy, proxy.Query{Type: eventType, FromBlock: fromBlock})
}

func (r *Relay) UserNetworkEvents(ctx context.Context, addr, user common.Address, eventType string, fromBlock uint64) ([]events.Event, error) {
	n, err := r.network(addr)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, n.proxy, proxy.Query{Type: eventType, User: &user, FromBlock: fromBlock})
}

func (r *Relay) EscrowEvents(ctx context.Context, addr common.Address, eventType string, fromBlock uint64) ([]events.Event, error) {
	return r.contractEvents(ctx, []events.ContractKind{events.Escrow}, addr, proxy.Query{Type: eventType, FromBlock: fromBlock})
}

func (r *Relay) GatewayEvents(ctx context.Context, addr common.Address, eventType string, fromBlock uint64) ([]events.Event, error) {
	return r.contractEvents(ctx, []events.ContractKind{events.Gateway}, addr, proxy.Query{Type: eventType, FromBlock: fromBlock})
}

func (r *Relay) ExchangeEvents(ctx context.Context, addr common.Address, eventType string, fromBlock uint64) ([]events.Event, error) {
	return r.contractEvents(ctx, []events.ContractKind{events.Exchange}, addr, proxy.Query{Type: eventType, FromBlock: fromBlock})
}

func (r *Relay) UserExchangeEvents(ctx context.Context, addr, user common.Address, eventType string, fromBlock uint64) ([]events.Event, error) {
	return r.contractEvents(ctx, []events.ContractKind{events.Exchange}, addr, proxy.Query{Type: eventType, User: &user, FromBlock: fromBlock})
}

// TokenEvents queries a token or unw-eth contract.
func (r *Relay) TokenEvents(ctx context.Context, addr common.Address, eventType string, fromBlock uint64) ([]events.Event, error) {
	return r.contractEvents(ctx, []events.ContractKind{events.UnwEth, events.Token}, addr, proxy.Query{Type: eventType, FromBlock: fromBlock})
}

func (r *Relay) UserTokenEvents(ctx context.Context, addr, user common.Address, eventType string, fromBlock uint64) ([]events.Event, error) {
	return r.contractEvents(ctx, []events.ContractKind{events.UnwEth, events.Token}, addr, proxy.Query{Type: eventType, User: &user, FromBlock: fromBlock})
}

// contractEvents queries addr as the first of kinds it is tracked under.
func (r *Relay) contractEvents(ctx context.Context, kinds []events.ContractKind, addr common.Address, q proxy.Query) ([]events.Event, error) {
	for _, kind := range kinds {
		if p, ok := r.contracts.Lookup(kind, addr); ok {
			return r.query(ctx, p, q)
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrUnknownContract, kinds[0], addr.Hex())
}

func (r *Relay) query(ctx context.Context, p Proxy, q proxy.Query) ([]events.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.EventQueryTimeout)
	defer cancel()
	return p.Events(ctx, q)
}

// UserEvents collects the events of user across every network, unw-eth,
// exchange and escrow contract. Sources that fail or miss the deadline
// contribute nothing. A source whose kind lacks eventType is queried for all
// of its standard types. A zero deadline waits for every source.
func (r *Relay) UserEvents(ctx context.Context, user common.Address, eventType string, fromBlock uint64, deadline time.Duration) []events.Event {
	var sources []Proxy
	for _, addr := range r.networks.Addresses(events.CurrencyNetwork) {
		if n, ok := r.networks.Lookup(events.CurrencyNetwork, addr); ok {
			sources = append(sources, n.proxy)
		}
	}
	for _, kind := range []events.ContractKind{events.UnwEth, events.Exchange, events.Escrow} {
		for _, addr := range r.contracts.Addresses(kind) {
			if p, ok := r.contracts.Lookup(kind, addr); ok {
				sources = append(sources, p)
			}
		}
	}
	return r.fanin.Aggregate(ctx, userTasks(sources, user, eventType, fromBlock), deadline)
}

// UserExchangeEventsAll collects the events of user across every exchange.
func (r *Relay) UserExchangeEventsAll(ctx context.Context, user common.Address, eventType string, fromBlock uint64, deadline time.Duration) []events.Event {
	var sources []Proxy
	for _, addr := range r.contracts.Addresses(events.Exchange) {
		if p, ok := r.contracts.Lookup(events.Exchange, addr); ok {
			sources = append(sources, p)
		}
	}
	return r.fanin.Aggregate(ctx, userTasks(sources, user, eventType, fromBlock), deadline)
}

func userTasks(sources []Proxy, user common.Address, eventType string, fromBlock uint64) []fanin.Task {
	tasks := make([]fanin.Task, 0, len(sources))
	for _, p := range sources {
		p := p
		q := proxy.Query{User: &user, FromBlock: fromBlock}
		if events.HasType(p.Kind(), eventType) {
			q.Type = eventType
		}
		tasks = append(tasks, fanin.Task{
			Name: fmt.Sprintf("%s %s", p.Kind(), p.Address().Hex()),
			Run: func(ctx context.Context) ([]events.Event, error) {
				return p.Events(ctx, q)
			},
		})
	}
	return tasks
}

// Subscribe registers client for the live events of user.
func (r *Relay) Subscribe(user common.Address, client hub.Client) *hub.Subscription {
	return r.hub.Subscribe(user, client)
}

func (r *Relay) RegisterPushToken(ctx context.Context, user common.Address, token string) error {
	return r.hub.RegisterPushToken(ctx, user, token)
}

func (r *Relay) DeletePushToken(ctx context.Context, user common.Address, token string) error {
	return r.hub.DeletePushToken(ctx, user, token)
}
