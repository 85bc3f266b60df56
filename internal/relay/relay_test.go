package relay

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/graph"
	"trustlines-relay/internal/hub"
	"trustlines-relay/internal/proxy"
	"trustlines-relay/internal/registry"
)

var (
	networkA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	networkB = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	escrow   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	token    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	unwEth   = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	factory  = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func hexOf(addr common.Address) string {
	return "0x" + common.Bytes2Hex(addr.Bytes())
}

type fakeProxy struct {
	addr common.Address
	kind events.ContractKind

	mu      sync.Mutex
	queries []proxy.Query
	events  []events.Event
	err     error
}

func (p *fakeProxy) Address() common.Address   { return p.addr }
func (p *fakeProxy) Kind() events.ContractKind { return p.kind }

func (p *fakeProxy) Events(_ context.Context, q proxy.Query) ([]events.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)
	return p.events, p.err
}

func (p *fakeProxy) Watch(ctx context.Context, _ proxy.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakeProxy) recorded() []proxy.Query {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]proxy.Query, len(p.queries))
	copy(out, p.queries)
	return out
}

type fakeNetworkProxy struct {
	*fakeProxy
	cfg       graph.Config
	frozen    bool
	snap      graph.Snapshot
	configErr error
}

func (n *fakeNetworkProxy) NetworkConfig(context.Context) (graph.Config, bool, error) {
	return n.cfg, n.frozen, n.configErr
}

func (n *fakeNetworkProxy) Snapshot(context.Context) (graph.Snapshot, error) {
	return n.snap, nil
}

type fakeFactory struct {
	mu        sync.Mutex
	networks  map[common.Address]*fakeNetworkProxy
	contracts map[common.Address]*fakeProxy
	builds    int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		networks:  make(map[common.Address]*fakeNetworkProxy),
		contracts: make(map[common.Address]*fakeProxy),
	}
}

func (f *fakeFactory) NewProxy(addr common.Address, kind events.ContractKind) (Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	p, ok := f.contracts[addr]
	if !ok {
		p = &fakeProxy{addr: addr, kind: kind}
		f.contracts[addr] = p
	}
	return p, nil
}

func (f *fakeFactory) NewNetworkProxy(addr common.Address) (NetworkProxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	n, ok := f.networks[addr]
	if !ok {
		n = &fakeNetworkProxy{fakeProxy: &fakeProxy{addr: addr, kind: events.CurrencyNetwork}}
		f.networks[addr] = n
	}
	return n, nil
}

type staticManifest struct {
	m   registry.Manifest
	err error
}

func (s staticManifest) Load() (registry.Manifest, error) {
	return s.m, s.err
}

func newTestRelay(t *testing.T, f *fakeFactory, m registry.Manifest) (*Relay, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := New(Config{UpdateNetworksInterval: time.Hour, SyncInterval: time.Hour, EventQueryTimeout: time.Second}, Dependencies{
		Factory:  f,
		Manifest: staticManifest{m: m},
	})
	t.Cleanup(func() {
		cancel()
		r.wg.Wait()
	})
	return r, ctx
}

func waitForSync(t *testing.T, r *Relay, addr common.Address) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if g, err := r.mirror.Graph(addr); err == nil {
			if _, _, ok := g.SyncPoint(); ok {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("network %s never synced", addr.Hex())
}

func TestReconcileRegistersManifest(t *testing.T) {
	f := newFakeFactory()
	f.networks[networkA] = &fakeNetworkProxy{
		fakeProxy: &fakeProxy{addr: networkA, kind: events.CurrencyNetwork},
		cfg:       graph.Config{CapacityImbalanceFeeDivisor: 100},
		frozen:    true,
	}
	r, ctx := newTestRelay(t, f, registry.Manifest{
		Networks:          registry.AddressList{hexOf(networkA), "0x1234"},
		Escrows:           registry.AddressList{hexOf(escrow)},
		Tokens:            registry.AddressList{hexOf(token)},
		UnwEth:            registry.AddressList{hexOf(unwEth)},
		IdentityFactories: registry.AddressList{hexOf(factory)},
	})

	err := r.ReconcileOnce(ctx)
	if !errors.Is(err, registry.ErrMalformedAddress) {
		t.Fatalf("expected malformed address error, got %v", err)
	}

	info, err := r.Network(networkA)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	if !info.Frozen || info.Config.CapacityImbalanceFeeDivisor != 100 {
		t.Fatalf("unexpected network info %+v", info)
	}
	if !r.IsTrustedToken(token) || !r.IsTrustedToken(unwEth) || r.IsTrustedToken(escrow) {
		t.Fatalf("trusted token lookup wrong")
	}
	if !r.IsKnownFactory(factory) || r.IsKnownFactory(token) {
		t.Fatalf("known factory lookup wrong")
	}

	builds := f.builds
	_ = r.ReconcileOnce(ctx)
	if f.builds != builds {
		t.Fatalf("second pass rebuilt proxies: %d != %d", f.builds, builds)
	}
	if len(r.Networks()) != 1 {
		t.Fatalf("expected one network, got %d", len(r.Networks()))
	}
}

func TestReconcileManifestError(t *testing.T) {
	boom := errors.New("unreadable")
	r := New(Config{}, Dependencies{Factory: newFakeFactory(), Manifest: staticManifest{err: boom}})
	if err := r.ReconcileOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected manifest error, got %v", err)
	}
}

func TestReconcileNetworkConfigFailure(t *testing.T) {
	f := newFakeFactory()
	f.networks[networkA] = &fakeNetworkProxy{
		fakeProxy: &fakeProxy{addr: networkA, kind: events.CurrencyNetwork},
		configErr: errors.New("rpc down"),
	}
	r, ctx := newTestRelay(t, f, registry.Manifest{Networks: registry.AddressList{hexOf(networkA)}})
	if err := r.ReconcileOnce(ctx); err == nil {
		t.Fatalf("expected config error")
	}
	if _, err := r.Network(networkA); !errors.Is(err, graph.ErrUnknownNetwork) {
		t.Fatalf("network registered despite failure: %v", err)
	}

	f.networks[networkA].configErr = nil
	if err := r.ReconcileOnce(ctx); err != nil {
		t.Fatalf("retry pass: %v", err)
	}
	if _, err := r.Network(networkA); err != nil {
		t.Fatalf("network not registered on retry: %v", err)
	}
}

// flakyManifest fails its first loads and then serves m.
type flakyManifest struct {
	mu       sync.Mutex
	failures int
	loads    int
	m        registry.Manifest
}

func (f *flakyManifest) Load() (registry.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loads <= f.failures {
		return registry.Manifest{}, errors.New("addresses file unreadable")
	}
	return f.m, nil
}

func TestRunDiscoveryRetriesFailedPass(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	manifest := &flakyManifest{failures: 1, m: registry.Manifest{Networks: registry.AddressList{hexOf(networkA)}}}
	r := New(Config{UpdateNetworksInterval: 10 * time.Millisecond, SyncInterval: time.Hour}, Dependencies{
		Factory:  newFakeFactory(),
		Manifest: manifest,
		Logger:   zap.New(core),
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.RunDiscovery(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := r.Network(networkA); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("network not registered after a failed pass")
		}
		time.Sleep(time.Millisecond)
	}
	if n := logs.FilterMessage("error while loading addresses").Len(); n != 1 {
		t.Fatalf("expected one logged failed pass, got %d", n)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("discovery loop did not return after cancel")
	}
	r.wg.Wait()
}

func receive(t *testing.T, c *hub.ChannelClient, n int) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(time.Second)
	for len(out) < n {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("received %d of %d events", len(out), n)
		}
	}
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected extra event %s", ev.Type)
	default:
	}
	return out
}

func trackedRelay(t *testing.T, syncTimestamp uint64) (*Relay, context.Context) {
	t.Helper()
	f := newFakeFactory()
	f.networks[networkA] = &fakeNetworkProxy{
		fakeProxy: &fakeProxy{addr: networkA, kind: events.CurrencyNetwork},
		snap:      graph.Snapshot{BlockNumber: 5, Timestamp: syncTimestamp},
	}
	r, ctx := newTestRelay(t, f, registry.Manifest{
		Networks: registry.AddressList{hexOf(networkA)},
		Escrows:  registry.AddressList{hexOf(escrow)},
	})
	if err := r.ReconcileOnce(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	waitForSync(t, r, networkA)
	return r, ctx
}

func TestBalanceUpdatePublishesDerivedEvents(t *testing.T) {
	r, ctx := trackedRelay(t, 1000)
	aliceClient, bobClient := hub.NewChannelClient(8), hub.NewChannelClient(8)
	r.Subscribe(alice, aliceClient)
	r.Subscribe(bob, bobClient)

	r.handleEvent(ctx, events.Event{
		Contract:    networkA,
		Kind:        events.CurrencyNetwork,
		Type:        events.TypeBalanceUpdate,
		BlockNumber: 10,
		LogIndex:    2,
		Timestamp:   2000,
		From:        alice,
		To:          &bob,
		Payload:     events.BalanceUpdatePayload{Value: big.NewInt(-100)},
	})

	got := receive(t, aliceClient, 2)
	if got[0].Type != events.TypeBalance || got[1].Type != events.TypeNetworkBalance {
		t.Fatalf("unexpected types %s, %s", got[0].Type, got[1].Type)
	}
	if v := got[0].Payload.(events.BalancePayload).Value; v.Int64() != -100 {
		t.Fatalf("alice balance %s", v)
	}
	if got[0].BlockNumber != 10 || got[0].LogIndex != 2 || got[0].User != alice {
		t.Fatalf("derived event not stamped: %+v", got[0])
	}

	got = receive(t, bobClient, 2)
	if v := got[1].Payload.(events.NetworkBalancePayload).Value; v.Int64() != 100 {
		t.Fatalf("bob network balance %s", v)
	}

	sum, err := r.AccountSum(networkA, alice, &bob)
	if err != nil || sum.Int64() != -100 {
		t.Fatalf("account sum %v %v", sum, err)
	}
	if networks := r.NetworksOfUser(bob); len(networks) != 1 || networks[0] != networkA {
		t.Fatalf("networks of bob %v", networks)
	}
}

func TestTrustlineUpdatePublishesRawAndDerived(t *testing.T) {
	r, ctx := trackedRelay(t, 0)
	aliceClient := hub.NewChannelClient(8)
	r.Subscribe(alice, aliceClient)

	r.handleEvent(ctx, events.Event{
		Contract:  networkA,
		Kind:      events.CurrencyNetwork,
		Type:      events.TypeTrustlineUpdate,
		Timestamp: 10,
		From:      alice,
		To:        &bob,
		Payload: events.TrustlinePayload{
			CreditlineGiven:    big.NewInt(500),
			CreditlineReceived: big.NewInt(300),
		},
	})

	got := receive(t, aliceClient, 3)
	want := []string{events.TypeTrustlineUpdate, events.TypeBalance, events.TypeNetworkBalance}
	for i, ev := range got {
		if ev.Type != want[i] || ev.User != alice {
			t.Fatalf("event %d: %s for %s", i, ev.Type, ev.User.Hex())
		}
	}

	g, _ := r.mirror.Graph(networkA)
	acc, ok := g.Account(bob, alice)
	if !ok || acc.CreditlineGiven.Int64() != 300 || acc.CreditlineReceived.Int64() != 500 {
		t.Fatalf("unexpected account %+v", acc)
	}
}

func TestNetworkInfoAndFriends(t *testing.T) {
	r, ctx := trackedRelay(t, 0)
	info, err := r.Network(networkA)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	if info.SyncBlock != 5 {
		t.Fatalf("sync block %d, want 5", info.SyncBlock)
	}

	r.handleEvent(ctx, events.Event{
		Contract:  networkA,
		Kind:      events.CurrencyNetwork,
		Type:      events.TypeBalanceUpdate,
		Timestamp: 10,
		From:      alice,
		To:        &bob,
		Payload:   events.BalanceUpdatePayload{Value: big.NewInt(7)},
	})
	friends, err := r.FriendsOfUser(networkA, alice)
	if err != nil {
		t.Fatalf("friends: %v", err)
	}
	if len(friends) != 1 || friends[0] != bob {
		t.Fatalf("unexpected friends %v", friends)
	}
	if _, err := r.FriendsOfUser(networkB, alice); !errors.Is(err, graph.ErrUnknownNetwork) {
		t.Fatalf("expected unknown network, got %v", err)
	}
}

func TestStaleUpdateIsDiscarded(t *testing.T) {
	r, ctx := trackedRelay(t, 1000)
	aliceClient := hub.NewChannelClient(8)
	r.Subscribe(alice, aliceClient)

	r.handleEvent(ctx, events.Event{
		Contract:  networkA,
		Kind:      events.CurrencyNetwork,
		Type:      events.TypeBalanceUpdate,
		Timestamp: 999,
		From:      alice,
		To:        &bob,
		Payload:   events.BalanceUpdatePayload{Value: big.NewInt(1)},
	})
	receive(t, aliceClient, 0)
	if users, _ := r.UsersOfNetwork(networkA); len(users) != 0 {
		t.Fatalf("stale update reached the mirror: %v", users)
	}
}

func TestTransferEscrowAndFreeze(t *testing.T) {
	r, ctx := trackedRelay(t, 0)
	aliceClient, bobClient := hub.NewChannelClient(8), hub.NewChannelClient(8)
	r.Subscribe(alice, aliceClient)
	r.Subscribe(bob, bobClient)

	r.handleEvent(ctx, events.Event{
		Contract: networkA, Kind: events.CurrencyNetwork, Type: events.TypeTransfer,
		From: alice, To: &bob, Payload: events.TransferPayload{Value: big.NewInt(3)},
	})
	r.handleEvent(ctx, events.Event{
		Contract: escrow, Kind: events.Escrow, Type: events.TypeDeposited,
		From: alice, Payload: events.AmountPayload{Value: big.NewInt(7)},
	})
	r.handleEvent(ctx, events.Event{Contract: networkA, Kind: events.CurrencyNetwork, Type: events.TypeNetworkFreeze})

	got := receive(t, aliceClient, 2)
	if got[0].Type != events.TypeTransfer || got[1].Type != events.TypeDeposited {
		t.Fatalf("unexpected alice events %s, %s", got[0].Type, got[1].Type)
	}
	if got := receive(t, bobClient, 1); got[0].User != bob {
		t.Fatalf("transfer projected to %s", got[0].User.Hex())
	}
	if frozen, err := r.IsNetworkFrozen(networkA); err != nil || !frozen {
		t.Fatalf("network not frozen: %v %v", frozen, err)
	}
}

func TestEventForUntrackedNetworkIsDropped(t *testing.T) {
	r, ctx := trackedRelay(t, 0)
	aliceClient := hub.NewChannelClient(8)
	r.Subscribe(alice, aliceClient)

	r.handleEvent(ctx, events.Event{
		Contract: networkB, Kind: events.CurrencyNetwork, Type: events.TypeTransfer,
		From: alice, To: &bob, Payload: events.TransferPayload{Value: big.NewInt(3)},
	})
	receive(t, aliceClient, 0)
}

func TestUserEventsFansInWithTypeFallback(t *testing.T) {
	f := newFakeFactory()
	for i, addr := range []common.Address{networkA, networkB} {
		f.networks[addr] = &fakeNetworkProxy{fakeProxy: &fakeProxy{
			addr: addr,
			kind: events.CurrencyNetwork,
			events: []events.Event{
				{Contract: addr, Type: events.TypeTransfer, BlockNumber: uint64(10 * (i + 1))},
				{Contract: addr, Type: events.TypeTransfer, BlockNumber: uint64(10*(i+1) + 5)},
			},
		}}
	}
	f.contracts[escrow] = &fakeProxy{addr: escrow, kind: events.Escrow, events: []events.Event{
		{Contract: escrow, Type: events.TypeDeposited, BlockNumber: 12},
	}}
	f.contracts[unwEth] = &fakeProxy{addr: unwEth, kind: events.UnwEth, err: errors.New("rpc down")}

	r, ctx := newTestRelay(t, f, registry.Manifest{
		Networks: registry.AddressList{hexOf(networkA), hexOf(networkB)},
		Escrows:  registry.AddressList{hexOf(escrow)},
		UnwEth:   registry.AddressList{hexOf(unwEth)},
	})
	if err := r.ReconcileOnce(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got := r.UserEvents(ctx, alice, events.TypeTransfer, 3, time.Second)
	wantBlocks := []uint64{10, 12, 15, 20, 25}
	if len(got) != len(wantBlocks) {
		t.Fatalf("expected %d events, got %d", len(wantBlocks), len(got))
	}
	for i, ev := range got {
		if ev.BlockNumber != wantBlocks[i] {
			t.Fatalf("event %d at block %d, want %d", i, ev.BlockNumber, wantBlocks[i])
		}
	}

	if q := f.networks[networkA].recorded(); len(q) != 1 || q[0].Type != events.TypeTransfer || *q[0].User != alice || q[0].FromBlock != 3 {
		t.Fatalf("unexpected network query %+v", q)
	}
	if q := f.contracts[escrow].recorded(); len(q) != 1 || q[0].Type != "" {
		t.Fatalf("escrow must fall back to all types: %+v", q)
	}
	if q := f.contracts[unwEth].recorded(); len(q) != 1 || q[0].Type != events.TypeTransfer {
		t.Fatalf("unw-eth supports transfers: %+v", q)
	}
}

func TestQueriesOnUnknownContracts(t *testing.T) {
	r, ctx := trackedRelay(t, 0)
	if _, err := r.NetworkEvents(ctx, networkB, "", 0); !errors.Is(err, graph.ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
	if _, err := r.TokenEvents(ctx, token, "", 0); !errors.Is(err, ErrUnknownContract) {
		t.Fatalf("expected ErrUnknownContract, got %v", err)
	}
	if _, err := r.EscrowEvents(ctx, escrow, events.TypeDeposited, 0); err != nil {
		t.Fatalf("escrow events: %v", err)
	}
	if _, err := r.UsersOfNetwork(networkB); !errors.Is(err, graph.ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
}
