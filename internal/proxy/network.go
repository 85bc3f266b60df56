package proxy

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/graph"
)

// NetworkProxy adds the currency network state reads to a Proxy.
type NetworkProxy struct {
	*Proxy
	abi abi.ABI
}

func NewNetwork(address common.Address, backend Backend, cfg Config, logger *zap.Logger) (*NetworkProxy, error) {
	p, err := New(address, events.CurrencyNetwork, backend, cfg, logger)
	if err != nil {
		return nil, err
	}
	parsed, err := events.ABI(events.CurrencyNetwork)
	if err != nil {
		return nil, err
	}
	return &NetworkProxy{Proxy: p, abi: parsed}, nil
}

// NetworkConfig reads the static network settings and the frozen flag.
func (n *NetworkProxy) NetworkConfig(ctx context.Context) (graph.Config, bool, error) {
	var cfg graph.Config

	divisor, err := n.callBigInt(ctx, nil, "capacityImbalanceFeeDivisor")
	if err != nil {
		return cfg, false, err
	}
	cfg.CapacityImbalanceFeeDivisor = divisor.Uint64()

	rate, err := n.callBigInt(ctx, nil, "defaultInterestRate")
	if err != nil {
		return cfg, false, err
	}
	cfg.DefaultInterestRate = rate.Int64()

	if cfg.CustomInterests, err = n.callBool(ctx, nil, "customInterests"); err != nil {
		return cfg, false, err
	}
	if cfg.PreventMediatorInterests, err = n.callBool(ctx, nil, "preventMediatorInterests"); err != nil {
		return cfg, false, err
	}
	frozen, err := n.callBool(ctx, nil, "isNetworkFrozen")
	if err != nil {
		return cfg, false, err
	}
	return cfg, frozen, nil
}

// Snapshot reads every trustline of the network pinned at the latest block.
func (n *NetworkProxy) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	header, err := n.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("latest header: %w", err)
	}
	block := new(big.Int).Set(header.Number)
	snap := graph.Snapshot{BlockNumber: block.Uint64(), Timestamp: header.Time}

	users, err := n.callAddresses(ctx, block, "getUsers")
	if err != nil {
		return graph.Snapshot{}, err
	}

	seen := make(map[[2]common.Address]struct{})
	for _, user := range users {
		friends, err := n.callAddresses(ctx, block, "getFriends", user)
		if err != nil {
			return graph.Snapshot{}, err
		}
		for _, friend := range friends {
			if _, ok := seen[[2]common.Address{friend, user}]; ok {
				continue
			}
			seen[[2]common.Address{user, friend}] = struct{}{}

			account, err := n.account(ctx, block, user, friend)
			if err != nil {
				return graph.Snapshot{}, err
			}
			snap.Accounts = append(snap.Accounts, graph.SnapshotAccount{A: user, B: friend, Account: account})
		}
	}
	n.logger.Debug("network snapshot read",
		zap.Uint64("block", snap.BlockNumber),
		zap.Int("users", len(users)),
		zap.Int("trustlines", len(snap.Accounts)),
	)
	return snap, nil
}

func (n *NetworkProxy) account(ctx context.Context, block *big.Int, a, b common.Address) (graph.Account, error) {
	out, err := n.call(ctx, block, "getAccount", a, b)
	if err != nil {
		return graph.Account{}, err
	}
	if len(out) != 7 {
		return graph.Account{}, fmt.Errorf("getAccount: unexpected output length %d", len(out))
	}

	ints := make([]*big.Int, 0, 6)
	for _, i := range []int{0, 1, 2, 3, 5, 6} {
		v, err := events.AsBigInt(out[i])
		if err != nil {
			return graph.Account{}, fmt.Errorf("getAccount output %d: %w", i, err)
		}
		ints = append(ints, v)
	}
	frozen, ok := out[4].(bool)
	if !ok {
		return graph.Account{}, fmt.Errorf("getAccount output 4: unsupported bool type %T", out[4])
	}
	return graph.Account{
		CreditlineGiven:      ints[0],
		CreditlineReceived:   ints[1],
		InterestRateGiven:    ints[2].Int64(),
		InterestRateReceived: ints[3].Int64(),
		IsFrozen:             frozen,
		MTime:                ints[4].Uint64(),
		Balance:              ints[5],
	}, nil
}

func (n *NetworkProxy) callBigInt(ctx context.Context, block *big.Int, method string, args ...interface{}) (*big.Int, error) {
	out, err := n.single(ctx, block, method, args...)
	if err != nil {
		return nil, err
	}
	v, err := events.AsBigInt(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return v, nil
}

func (n *NetworkProxy) callBool(ctx context.Context, block *big.Int, method string, args ...interface{}) (bool, error) {
	out, err := n.single(ctx, block, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%s: unsupported bool type %T", method, out)
	}
	return v, nil
}

func (n *NetworkProxy) callAddresses(ctx context.Context, block *big.Int, method string, args ...interface{}) ([]common.Address, error) {
	out, err := n.single(ctx, block, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out.([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported address list type %T", method, out)
	}
	return v, nil
}

func (n *NetworkProxy) single(ctx context.Context, block *big.Int, method string, args ...interface{}) (interface{}, error) {
	out, err := n.call(ctx, block, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: unexpected output length %d", method, len(out))
	}
	return out[0], nil
}

func (n *NetworkProxy) call(ctx context.Context, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := n.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &n.address, Data: data}

	var resp []byte
	err = n.retry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = n.backend.CallContract(ctx, msg, block)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := n.abi.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}
