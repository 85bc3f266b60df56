package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/storage"
)

var (
	alice = common.HexToAddress("0x2222222222222222222222222222222222222222")
	bob   = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeBackend struct {
	mu      sync.Mutex
	invalid map[string]bool
	sent    map[string][]events.Event
}

func newFakeBackend(invalid ...string) *fakeBackend {
	b := &fakeBackend{invalid: make(map[string]bool), sent: make(map[string][]events.Event)}
	for _, tok := range invalid {
		b.invalid[tok] = true
	}
	return b
}

func (b *fakeBackend) ValidateToken(_ context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.invalid[token], nil
}

func (b *fakeBackend) Send(_ context.Context, token string, ev events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent[token] = append(b.sent[token], ev)
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	mappings []storage.TokenMapping
}

func (s *fakeStore) AddToken(_ context.Context, user common.Address, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.User == user && m.Token == token {
			return storage.ErrTokenExists
		}
	}
	s.mappings = append(s.mappings, storage.TokenMapping{User: user, Token: token})
	return nil
}

func (s *fakeStore) DeleteToken(_ context.Context, user common.Address, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.mappings {
		if m.User == user && m.Token == token {
			s.mappings = append(s.mappings[:i], s.mappings[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) ListTokens(context.Context) ([]storage.TokenMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.TokenMapping, len(s.mappings))
	copy(out, s.mappings)
	return out, nil
}

type failingClient struct{ calls int }

func (c *failingClient) Deliver(context.Context, events.Event) error {
	c.calls++
	return errors.New("broken pipe")
}

func (c *failingClient) Close() error { return nil }

func transfer() events.Event {
	to := bob
	return events.Event{Type: events.TypeTransfer, From: alice, To: &to, User: alice}
}

func TestPublishIsolatesFailingSubscribers(t *testing.T) {
	h := New(nil, nil, nil)
	broken := &failingClient{}
	first := NewChannelClient(4)
	second := NewChannelClient(4)

	h.Subscribe(alice, first)
	h.Subscribe(alice, broken)
	h.Subscribe(alice, second)
	h.Subscribe(bob, NewChannelClient(4))

	h.Publish(context.Background(), alice, transfer())

	if broken.calls != 1 {
		t.Fatalf("broken client called %d times", broken.calls)
	}
	for i, c := range []*ChannelClient{first, second} {
		select {
		case ev := <-c.Events():
			if ev.Type != events.TypeTransfer {
				t.Fatalf("client %d got %s", i, ev.Type)
			}
		default:
			t.Fatalf("client %d got nothing", i)
		}
	}
}

func TestSlowAndClosedChannelClient(t *testing.T) {
	c := NewChannelClient(1)
	if err := c.Deliver(context.Background(), transfer()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := c.Deliver(context.Background(), transfer()); !errors.Is(err, ErrSlowClient) {
		t.Fatalf("expected ErrSlowClient, got %v", err)
	}
	c.Close()
	c.Close()
	if err := c.Deliver(context.Background(), transfer()); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestSubscriptionClose(t *testing.T) {
	h := New(nil, nil, nil)
	keep := h.Subscribe(alice, NewChannelClient(1))
	drop := h.Subscribe(alice, NewChannelClient(1))

	if err := drop.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	subs := h.Subscriptions(alice)
	if len(subs) != 1 || subs[0].ID != keep.ID {
		t.Fatalf("unexpected subscriptions: %v", subs)
	}
}

func TestRegisterPushTokenIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	store := &fakeStore{}
	h := New(backend, store, nil)
	ctx := context.Background()

	if err := h.RegisterPushToken(ctx, alice, "tok1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.RegisterPushToken(ctx, alice, "tok1"); err != nil {
		t.Fatalf("register again: %v", err)
	}
	if subs := h.Subscriptions(alice); len(subs) != 1 {
		t.Fatalf("expected one subscription, got %d", len(subs))
	}
	if list, _ := store.ListTokens(ctx); len(list) != 1 {
		t.Fatalf("expected one stored mapping, got %d", len(list))
	}

	if err := h.UnsubscribePush(alice, "tok-unknown"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if subs := h.Subscriptions(alice); len(subs) != 1 {
		t.Fatalf("failed unsubscribe touched subscriptions")
	}
	if err := h.UnsubscribePush(bob, "tok1"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for unknown subject, got %v", err)
	}
}

func TestPushClientForwardsOnlyUserEvents(t *testing.T) {
	backend := newFakeBackend()
	h := New(backend, &fakeStore{}, nil)
	ctx := context.Background()
	if err := h.RegisterPushToken(ctx, alice, "tok1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	h.Publish(ctx, alice, transfer())
	h.Publish(ctx, alice, events.Event{Type: events.TypeNetworkBalance, From: alice, User: alice})

	if sent := backend.sent["tok1"]; len(sent) != 1 || sent[0].Type != events.TypeTransfer {
		t.Fatalf("unexpected pushes: %+v", sent)
	}
}

func TestRegisterPushTokenErrors(t *testing.T) {
	ctx := context.Background()
	if err := New(nil, nil, nil).RegisterPushToken(ctx, alice, "tok"); !errors.Is(err, ErrPushDisabled) {
		t.Fatalf("expected ErrPushDisabled, got %v", err)
	}

	store := &fakeStore{}
	h := New(newFakeBackend("bad"), store, nil)
	if err := h.RegisterPushToken(ctx, alice, "bad"); !errors.Is(err, ErrInvalidClientToken) {
		t.Fatalf("expected ErrInvalidClientToken, got %v", err)
	}
	if len(h.Subscriptions(alice)) != 0 {
		t.Fatalf("invalid token subscribed")
	}
	if list, _ := store.ListTokens(ctx); len(list) != 0 {
		t.Fatalf("invalid token stored")
	}
}

func TestDeletePushToken(t *testing.T) {
	store := &fakeStore{}
	h := New(newFakeBackend(), store, nil)
	ctx := context.Background()
	if err := h.RegisterPushToken(ctx, alice, "tok1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.Subscribe(alice, NewChannelClient(1))

	if err := h.DeletePushToken(ctx, alice, "tok1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if subs := h.Subscriptions(alice); len(subs) != 1 {
		t.Fatalf("expected the generic subscription to remain, got %d", len(subs))
	}
	if list, _ := store.ListTokens(ctx); len(list) != 0 {
		t.Fatalf("mapping not deleted")
	}
	if err := h.DeletePushToken(ctx, alice, "tok1"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestBootstrapFromStoreDropsInvalidTokens(t *testing.T) {
	store := &fakeStore{mappings: []storage.TokenMapping{
		{User: alice, Token: "good"},
		{User: bob, Token: "expired"},
	}}
	h := New(newFakeBackend("expired"), store, nil)

	n, err := h.BootstrapFromStore(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 subscription, got %d", n)
	}
	if len(h.Subscriptions(alice)) != 1 || len(h.Subscriptions(bob)) != 0 {
		t.Fatalf("unexpected subscriptions after bootstrap")
	}
	list, _ := store.ListTokens(context.Background())
	if len(list) != 1 || list[0].Token != "good" {
		t.Fatalf("invalid token not deleted: %+v", list)
	}
}

type hungBackend struct{ fakeBackend }

func (b *hungBackend) Send(ctx context.Context, _ string, _ events.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHungPushDeliveryDoesNotStallPublish(t *testing.T) {
	h := New(nil, nil, nil)
	push := NewPushClient("tok1", &hungBackend{})
	push.timeout = 20 * time.Millisecond
	h.Subscribe(alice, push)
	later := NewChannelClient(1)
	h.Subscribe(alice, later)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Publish(context.Background(), alice, transfer())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a hung push backend")
	}
	select {
	case <-later.Events():
	default:
		t.Fatalf("later subscriber missed the event")
	}
}
