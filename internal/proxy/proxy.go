package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"trustlines-relay/internal/chain"
	"trustlines-relay/internal/events"
)

// Backend is the ledger node access a proxy needs. *chain.Client implements it.
type Backend interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config tunes log polling and retries.
type Config struct {
	BatchSize         uint64
	PollInterval      time.Duration
	ReconnectInterval time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = 5000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 3 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// Query selects historical events. An empty Type selects every standard type
// of the contract kind; a non-nil User keeps events the user participates in.
type Query struct {
	Type      string
	User      *common.Address
	FromBlock uint64
}

// Proxy reads and watches the events of one contract instance.
type Proxy struct {
	address common.Address
	kind    events.ContractKind
	backend Backend
	cfg     Config
	logger  *zap.Logger
}

func New(address common.Address, kind events.ContractKind, backend Backend, cfg Config, logger *zap.Logger) (*Proxy, error) {
	if _, err := events.ABI(kind); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		address: address,
		kind:    kind,
		backend: backend,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(zap.String("contract", address.Hex()), zap.String("kind", string(kind))),
	}, nil
}

func (p *Proxy) Address() common.Address {
	return p.address
}

func (p *Proxy) Kind() events.ContractKind {
	return p.kind
}

// Events returns the matching historical events in ledger order.
func (p *Proxy) Events(ctx context.Context, q Query) ([]events.Event, error) {
	eventTypes := events.StandardTypes(p.kind)
	if q.Type != "" {
		if !events.HasType(p.kind, q.Type) {
			return nil, fmt.Errorf("%w: %s on %s", events.ErrUnknownEventKind, q.Type, p.kind)
		}
		eventTypes = []string{q.Type}
	}
	filters, err := p.filters(eventTypes, q.User)
	if err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, nil
	}

	var latest uint64
	err = p.retry(ctx, func(ctx context.Context) error {
		var err error
		latest, err = p.backend.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	if q.FromBlock > latest {
		return nil, nil
	}

	perFilter := make([][]events.Event, 0, len(filters))
	for _, topics := range filters {
		evs, err := p.collect(ctx, q.FromBlock, latest, topics)
		if err != nil {
			return nil, err
		}
		perFilter = append(perFilter, evs)
	}
	return dedup(events.MergeSorted(perFilter...)), nil
}

// filters returns one topic filter per query needed. Without a user all types
// share one filter; with a user each indexed address argument needs its own.
func (p *Proxy) filters(eventTypes []string, user *common.Address) ([][][]common.Hash, error) {
	if user == nil {
		ids := make([]common.Hash, 0, len(eventTypes))
		for _, t := range eventTypes {
			id, err := events.EventID(p.kind, t)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return [][][]common.Hash{{ids}}, nil
	}

	userTopic := common.BytesToHash(user.Bytes())
	var out [][][]common.Hash
	for _, t := range eventTypes {
		id, err := events.EventID(p.kind, t)
		if err != nil {
			return nil, err
		}
		positions, err := events.IndexedAddressPositions(p.kind, t)
		if err != nil {
			return nil, err
		}
		for _, pos := range positions {
			topics := make([][]common.Hash, pos+1)
			topics[0] = []common.Hash{id}
			topics[pos] = []common.Hash{userTopic}
			out = append(out, topics)
		}
	}
	return out, nil
}

func (p *Proxy) collect(ctx context.Context, from, to uint64, topics [][]common.Hash) ([]events.Event, error) {
	ranges, err := chain.SplitRange(from, to, p.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	var out []events.Event
	for _, r := range ranges {
		var logs []types.Log
		err := p.retry(ctx, func(ctx context.Context) error {
			var err error
			logs, err = p.backend.FilterLogs(ctx, r.From, r.To, []common.Address{p.address}, topics)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: %w", r.From, r.To, err)
		}
		evs, err := p.normalize(ctx, logs)
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	events.SortEvents(out)
	return out, nil
}

// normalize converts logs in order, skipping removed logs and events the
// contract kind does not model.
func (p *Proxy) normalize(ctx context.Context, logs []types.Log) ([]events.Event, error) {
	out := make([]events.Event, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		var ts uint64
		err := p.retry(ctx, func(ctx context.Context) error {
			var err error
			ts, err = p.backend.BlockTimestamp(ctx, log.BlockNumber)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("block %d timestamp: %w", log.BlockNumber, err)
		}
		ev, err := events.Normalize(log, p.kind, ts)
		if err != nil {
			if errors.Is(err, events.ErrUnknownEventKind) {
				p.logger.Warn("skipping unknown event", zap.Uint64("block", log.BlockNumber), zap.Uint("logIndex", log.Index), zap.Error(err))
				continue
			}
			p.logger.Error("skipping undecodable event", zap.Uint64("block", log.BlockNumber), zap.Uint("logIndex", log.Index), zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (p *Proxy) retry(ctx context.Context, fn func(context.Context) error) error {
	return chain.WithRetry(ctx, p.cfg.MaxRetries, p.cfg.RetryBackoff, fn)
}

func dedup(evs []events.Event) []events.Event {
	if len(evs) < 2 {
		return evs
	}
	out := evs[:1]
	for _, ev := range evs[1:] {
		last := out[len(out)-1]
		if ev.BlockNumber == last.BlockNumber && ev.LogIndex == last.LogIndex && ev.TxHash == last.TxHash {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Handler receives watched events in ledger order.
type Handler func(ctx context.Context, ev events.Event)

// Watch polls for new logs from the current head on and passes them to handler
// until ctx is done. Node failures are retried after the reconnect interval
// without skipping blocks.
func (p *Proxy) Watch(ctx context.Context, handler Handler) error {
	var next uint64
	for {
		head, err := p.backend.LatestBlockNumber(ctx)
		if err == nil {
			next = head + 1
			break
		}
		p.logger.Warn("watch: cannot reach node", zap.Error(err))
		if !sleep(ctx, p.cfg.ReconnectInterval) {
			return ctx.Err()
		}
	}
	p.logger.Info("watching events", zap.Uint64("fromBlock", next))

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		head, err := p.backend.LatestBlockNumber(ctx)
		if err != nil {
			p.logger.Warn("watch: cannot reach node", zap.Error(err))
			if !sleep(ctx, p.cfg.ReconnectInterval) {
				return ctx.Err()
			}
			continue
		}
		if head < next {
			continue
		}

		evs, err := p.collect(ctx, next, head, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("watch: poll failed", zap.Uint64("from", next), zap.Uint64("to", head), zap.Error(err))
			if !sleep(ctx, p.cfg.ReconnectInterval) {
				return ctx.Err()
			}
			continue
		}
		for _, ev := range evs {
			handler(ctx, ev)
		}
		next = head + 1
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
