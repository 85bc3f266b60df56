package relay

import (
	"context"

	"go.uber.org/zap"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/graph"
	"trustlines-relay/internal/metrics"
)

// handleEvent applies one watched event to the mirror and publishes the
// resulting user events.
func (r *Relay) handleEvent(ctx context.Context, ev events.Event) {
	metrics.EventsProcessed.WithLabelValues(ev.Type).Inc()

	switch ev.Kind {
	case events.CurrencyNetwork:
		r.handleNetworkEvent(ctx, ev)
	case events.Escrow:
		switch ev.Type {
		case events.TypeDeposited, events.TypeWithdrawn:
			r.publishProjections(ctx, ev)
		}
	case events.Gateway:
		if ev.Type == events.TypeExchangeRateChanged {
			r.logger.Debug("exchange rate changed", zap.String("gateway", ev.Contract.Hex()), zap.Uint64("block", ev.BlockNumber))
		}
	default:
		metrics.EventsDropped.WithLabelValues("unhandled_kind").Inc()
	}
}

func (r *Relay) handleNetworkEvent(ctx context.Context, ev events.Event) {
	n, ok := r.networks.Lookup(events.CurrencyNetwork, ev.Contract)
	if !ok {
		metrics.EventsDropped.WithLabelValues("untracked_network").Inc()
		r.logger.Error("event for untracked network", zap.String("network", ev.Contract.Hex()), zap.String("type", ev.Type))
		return
	}

	switch ev.Type {
	case events.TypeBalanceUpdate:
		payload, ok := ev.Payload.(events.BalanceUpdatePayload)
		if !ok || ev.To == nil {
			r.dropMalformed(ev)
			return
		}
		applied, err := r.mirror.ApplyBalanceUpdate(ev.Contract, ev.From, *ev.To, payload.Value, ev.Timestamp)
		if !r.checkApplied(ev, applied, err) {
			return
		}
		r.publishDerived(ctx, ev)

	case events.TypeTrustlineUpdate:
		payload, ok := ev.Payload.(events.TrustlinePayload)
		if !ok || ev.To == nil {
			r.dropMalformed(ev)
			return
		}
		applied, err := r.mirror.ApplyTrustlineUpdate(ev.Contract, graph.TrustlineUpdate{
			Creditor:             ev.From,
			Debtor:               *ev.To,
			CreditlineGiven:      payload.CreditlineGiven,
			CreditlineReceived:   payload.CreditlineReceived,
			InterestRateGiven:    payload.InterestRateGiven,
			InterestRateReceived: payload.InterestRateReceived,
			IsFrozen:             payload.IsFrozen,
			Timestamp:            ev.Timestamp,
		})
		if !r.checkApplied(ev, applied, err) {
			return
		}
		r.publishProjections(ctx, ev)
		r.publishDerived(ctx, ev)

	case events.TypeTransfer, events.TypeTrustlineRequest, events.TypeTrustlineRequestCancel:
		r.publishProjections(ctx, ev)

	case events.TypeNetworkFreeze:
		if n.Freeze() {
			r.logger.Info("currency network frozen", zap.String("network", ev.Contract.Hex()))
		}
	}
}

// checkApplied reports whether the mirror accepted the update.
func (r *Relay) checkApplied(ev events.Event, applied bool, err error) bool {
	if err != nil {
		metrics.EventsDropped.WithLabelValues("untracked_network").Inc()
		r.logger.Error("apply event", zap.String("network", ev.Contract.Hex()), zap.String("type", ev.Type), zap.Error(err))
		return false
	}
	if !applied {
		metrics.StaleUpdatesDiscarded.Inc()
		r.logger.Debug("discarding update older than the last full sync",
			zap.String("network", ev.Contract.Hex()),
			zap.String("type", ev.Type),
			zap.Uint64("block", ev.BlockNumber),
		)
		return false
	}
	return true
}

func (r *Relay) dropMalformed(ev events.Event) {
	metrics.EventsDropped.WithLabelValues("malformed").Inc()
	r.logger.Error("malformed event", zap.String("network", ev.Contract.Hex()), zap.String("type", ev.Type), zap.Uint64("block", ev.BlockNumber))
}

func (r *Relay) publishProjections(ctx context.Context, ev events.Event) {
	for _, projected := range ev.Projections() {
		r.hub.Publish(ctx, projected.User, projected)
	}
}

// publishDerived publishes the balance events of the trustline touched by ev.
// They carry the position of the event that caused them.
func (r *Relay) publishDerived(ctx context.Context, ev events.Event) {
	derived, err := r.mirror.DerivedEvents(ev.Contract, ev.From, *ev.To, ev.Timestamp)
	if err != nil {
		r.logger.Error("derive balance events", zap.String("network", ev.Contract.Hex()), zap.Error(err))
		return
	}
	for _, d := range derived {
		d.BlockNumber = ev.BlockNumber
		d.LogIndex = ev.LogIndex
		d.TxHash = ev.TxHash
		r.hub.Publish(ctx, d.User, d)
	}
}
