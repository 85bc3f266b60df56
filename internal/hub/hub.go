package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/metrics"
	"trustlines-relay/internal/storage"
)

var (
	ErrInvalidClientToken = errors.New("invalid client token")
	ErrTokenNotFound      = errors.New("client token not found")
	ErrPushDisabled       = errors.New("push notifications disabled")
)

// Subscription binds a client to a subject address.
type Subscription struct {
	ID      uuid.UUID
	Subject common.Address
	Client  Client

	hub *Hub
}

// Close removes the subscription from its hub and closes the client.
func (s *Subscription) Close() error {
	s.hub.remove(s)
	return s.Client.Close()
}

type subject struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Hub fans published events out to the subscribers of each subject.
// Subjects are independent: each has its own lock.
type Hub struct {
	mu       sync.RWMutex
	subjects map[common.Address]*subject

	backend PushBackend
	store   storage.TokenStore
	logger  *zap.Logger
}

// New builds a hub. A nil backend or store disables push notifications.
func New(backend PushBackend, store storage.TokenStore, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subjects: make(map[common.Address]*subject),
		backend:  backend,
		store:    store,
		logger:   logger,
	}
}

func (h *Hub) pushEnabled() bool {
	return h.backend != nil && h.store != nil
}

func (h *Hub) subject(addr common.Address, create bool) *subject {
	h.mu.RLock()
	s, ok := h.subjects[addr]
	h.mu.RUnlock()
	if ok || !create {
		return s
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok = h.subjects[addr]; !ok {
		s = &subject{}
		h.subjects[addr] = s
	}
	return s
}

// Subscribe registers client for events published to addr. Push clients are
// deduplicated by token: subscribing a token twice returns the first subscription.
func (h *Hub) Subscribe(addr common.Address, client Client) *Subscription {
	s := h.subject(addr, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	if push, ok := client.(*PushClient); ok {
		for _, sub := range s.subs {
			if existing, ok := sub.Client.(*PushClient); ok && existing.Token() == push.Token() {
				return sub
			}
		}
	}
	sub := &Subscription{ID: uuid.New(), Subject: addr, Client: client, hub: h}
	s.subs = append(s.subs, sub)
	metrics.Subscriptions.Inc()
	return sub
}

func (h *Hub) remove(target *Subscription) {
	s := h.subject(target.Subject, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == target {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			metrics.Subscriptions.Dec()
			return
		}
	}
}

// Subscriptions returns the current subscriptions of addr in registration order.
func (h *Hub) Subscriptions(addr common.Address) []*Subscription {
	s := h.subject(addr, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

// Publish delivers ev to every subscriber of addr in registration order. A
// failing subscriber is logged and skipped.
func (h *Hub) Publish(ctx context.Context, addr common.Address, ev events.Event) {
	for _, sub := range h.Subscriptions(addr) {
		if err := sub.Client.Deliver(ctx, ev); err != nil {
			metrics.HubDeliveries.WithLabelValues("failed").Inc()
			h.logger.Warn("deliver event",
				zap.String("subject", addr.Hex()),
				zap.String("subscription", sub.ID.String()),
				zap.String("type", ev.Type),
				zap.Error(err),
			)
			continue
		}
		metrics.HubDeliveries.WithLabelValues("ok").Inc()
	}
}

// UnsubscribePush closes every push subscription of addr using token.
func (h *Hub) UnsubscribePush(addr common.Address, token string) error {
	s := h.subject(addr, false)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, addr.Hex())
	}

	s.mu.Lock()
	kept := s.subs[:0:0]
	var removed []*Subscription
	for _, sub := range s.subs {
		if push, ok := sub.Client.(*PushClient); ok && push.Token() == token {
			removed = append(removed, sub)
			continue
		}
		kept = append(kept, sub)
	}
	s.subs = kept
	s.mu.Unlock()

	if len(removed) == 0 {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, addr.Hex())
	}
	for _, sub := range removed {
		metrics.Subscriptions.Dec()
		_ = sub.Client.Close()
	}
	return nil
}

// RegisterPushToken validates token, subscribes it to addr and persists the mapping.
func (h *Hub) RegisterPushToken(ctx context.Context, addr common.Address, token string) error {
	if !h.pushEnabled() {
		return ErrPushDisabled
	}
	valid, err := h.backend.ValidateToken(ctx, token)
	if err != nil {
		return fmt.Errorf("validate client token: %w", err)
	}
	if !valid {
		return ErrInvalidClientToken
	}

	h.Subscribe(addr, NewPushClient(token, h.backend))
	if err := h.store.AddToken(ctx, addr, token); err != nil && !errors.Is(err, storage.ErrTokenExists) {
		return fmt.Errorf("store client token: %w", err)
	}
	return nil
}

// DeletePushToken removes the stored mapping and the matching subscriptions.
func (h *Hub) DeletePushToken(ctx context.Context, addr common.Address, token string) error {
	if !h.pushEnabled() {
		return ErrPushDisabled
	}
	if err := h.store.DeleteToken(ctx, addr, token); err != nil {
		return fmt.Errorf("delete client token: %w", err)
	}
	return h.UnsubscribePush(addr, token)
}

// BootstrapFromStore subscribes every stored token. Tokens the backend now
// rejects are deleted from the store. It returns the number of subscriptions made.
func (h *Hub) BootstrapFromStore(ctx context.Context) (int, error) {
	if !h.pushEnabled() {
		h.logger.Info("push notifications disabled, skipping token bootstrap")
		return 0, nil
	}
	mappings, err := h.store.ListTokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("list client tokens: %w", err)
	}

	subscribed := 0
	for _, m := range mappings {
		valid, err := h.backend.ValidateToken(ctx, m.Token)
		if err != nil {
			// Backend errors keep the token subscribed.
			h.logger.Warn("validate stored client token", zap.String("user", m.User.Hex()), zap.Error(err))
		} else if !valid {
			h.logger.Info("dropping invalid client token", zap.String("user", m.User.Hex()))
			if err := h.store.DeleteToken(ctx, m.User, m.Token); err != nil {
				h.logger.Warn("delete invalid client token", zap.String("user", m.User.Hex()), zap.Error(err))
			}
			continue
		}
		h.Subscribe(m.User, NewPushClient(m.Token, h.backend))
		subscribed++
	}
	h.logger.Info("push subscriptions restored", zap.Int("count", subscribed))
	return subscribed, nil
}
