package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/metrics"
	"trustlines-relay/internal/registry"
)

// RunDiscovery reconciles the tracked contracts with the manifest every
// update interval until ctx is done. A failed pass is retried on the next tick.
func (r *Relay) RunDiscovery(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.UpdateNetworksInterval)
	defer ticker.Stop()
	for {
		if err := r.ReconcileOnce(ctx); err != nil {
			metrics.DiscoveryPasses.WithLabelValues("failed").Inc()
			r.logger.Error("error while loading addresses", zap.Error(err))
		} else {
			metrics.DiscoveryPasses.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReconcileOnce loads the manifest and starts tracking every address not yet
// known. Listeners started by this pass run until ctx is done. Errors of
// individual addresses do not stop the pass; they are joined and returned.
func (r *Relay) ReconcileOnce(ctx context.Context) error {
	m, err := r.manifest.Load()
	if err != nil {
		return err
	}

	var errs []error
	for _, raw := range m.Networks {
		if err := r.addNetwork(ctx, raw); err != nil {
			errs = append(errs, fmt.Errorf("network %s: %w", raw, err))
		}
	}
	if len(m.NetworkShields) > 0 {
		r.logger.Debug("ignoring network shields", zap.Strings("addresses", m.NetworkShields))
	}
	for _, raw := range m.Gateways {
		errs = appendErr(errs, "gateway", raw, r.addContract(ctx, events.Gateway, raw, true))
	}
	for _, raw := range m.Escrows {
		errs = appendErr(errs, "escrow", raw, r.addContract(ctx, events.Escrow, raw, true))
	}
	for _, raw := range m.Exchanges {
		errs = appendErr(errs, "exchange", raw, r.addContract(ctx, events.Exchange, raw, false))
	}
	for _, raw := range m.UnwEth {
		errs = appendErr(errs, "unwEth", raw, r.addContract(ctx, events.UnwEth, raw, false))
	}
	for _, raw := range m.Tokens {
		errs = appendErr(errs, "token", raw, r.addContract(ctx, events.Token, raw, false))
	}
	for _, raw := range m.IdentityFactories {
		_, inserted, err := r.factories.Register(identityFactoryKind, raw, func(common.Address) (struct{}, error) {
			return struct{}{}, nil
		})
		if err != nil {
			errs = appendErr(errs, "identity factory", raw, err)
			continue
		}
		if inserted {
			r.logger.Info("new identity factory", zap.String("address", raw))
		}
	}

	metrics.TrackedInstances.WithLabelValues(string(events.CurrencyNetwork)).Set(float64(r.networks.Len(events.CurrencyNetwork)))
	for _, kind := range []events.ContractKind{events.Gateway, events.Escrow, events.Exchange, events.UnwEth, events.Token} {
		metrics.TrackedInstances.WithLabelValues(string(kind)).Set(float64(r.contracts.Len(kind)))
	}
	return errors.Join(errs...)
}

func appendErr(errs []error, what, raw string, err error) []error {
	if err == nil {
		return errs
	}
	return append(errs, fmt.Errorf("%s %s: %w", what, raw, err))
}

func (r *Relay) addNetwork(ctx context.Context, raw string) error {
	n, inserted, err := r.networks.Register(events.CurrencyNetwork, raw, func(addr common.Address) (*network, error) {
		p, err := r.factory.NewNetworkProxy(addr)
		if err != nil {
			return nil, err
		}
		cfg, frozen, err := p.NetworkConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("read network config: %w", err)
		}
		return &network{TrackedNetwork: registry.NewTrackedNetwork(addr, cfg, frozen), proxy: p}, nil
	})
	if err != nil || !inserted {
		return err
	}

	r.logger.Info("new network", zap.String("address", n.Address.Hex()), zap.Bool("frozen", n.IsFrozen()))
	r.mirror.Add(n.Address, n.Config)
	r.listen(ctx, n.proxy)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.syncLoop(ctx, n)
	}()
	return nil
}

// addContract tracks a non-network contract. Only escrows and gateways have
// events the relay listens to; the others serve queries.
func (r *Relay) addContract(ctx context.Context, kind events.ContractKind, raw string, watch bool) error {
	p, inserted, err := r.contracts.Register(kind, raw, func(addr common.Address) (Proxy, error) {
		return r.factory.NewProxy(addr, kind)
	})
	if err != nil || !inserted {
		return err
	}
	r.logger.Info("new contract", zap.String("kind", string(kind)), zap.String("address", p.Address().Hex()))
	if watch {
		r.listen(ctx, p)
	}
	return nil
}

func (r *Relay) listen(ctx context.Context, p Proxy) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := p.Watch(ctx, r.handleEvent); err != nil && ctx.Err() == nil {
			r.logger.Error("listener stopped",
				zap.String("kind", string(p.Kind())),
				zap.String("address", p.Address().Hex()),
				zap.Error(err),
			)
		}
	}()
}

// syncLoop replaces the mirrored state of n with a fresh snapshot at start and
// then every sync interval.
func (r *Relay) syncLoop(ctx context.Context, n *network) {
	ticker := time.NewTicker(r.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		r.FullSync(ctx, n.Address)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FullSync reads a snapshot of the network and applies it to the mirror.
func (r *Relay) FullSync(ctx context.Context, addr common.Address) {
	n, ok := r.networks.Lookup(events.CurrencyNetwork, addr)
	if !ok {
		r.logger.Error("full sync of untracked network", zap.String("network", addr.Hex()))
		return
	}
	snap, err := n.proxy.Snapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			metrics.FullSyncs.WithLabelValues("failed").Inc()
			r.logger.Error("full sync", zap.String("network", addr.Hex()), zap.Error(err))
		}
		return
	}
	applied, err := r.mirror.ApplyFullSync(addr, snap)
	if err != nil {
		metrics.FullSyncs.WithLabelValues("failed").Inc()
		r.logger.Error("apply full sync", zap.String("network", addr.Hex()), zap.Error(err))
		return
	}
	if !applied {
		metrics.FullSyncs.WithLabelValues("stale").Inc()
		r.logger.Warn("discarding snapshot older than the current sync point",
			zap.String("network", addr.Hex()), zap.Uint64("block", snap.BlockNumber))
		return
	}
	metrics.FullSyncs.WithLabelValues("ok").Inc()
	r.logger.Debug("full sync applied",
		zap.String("network", addr.Hex()),
		zap.Uint64("block", snap.BlockNumber),
		zap.Int("trustlines", len(snap.Accounts)),
	)
}
