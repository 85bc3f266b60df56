package relay

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/proxy"
)

// ChainFactory builds proxies that read from one ledger node.
type ChainFactory struct {
	Backend proxy.Backend
	Config  proxy.Config
	Logger  *zap.Logger
}

func (f ChainFactory) NewProxy(addr common.Address, kind events.ContractKind) (Proxy, error) {
	p, err := proxy.New(addr, kind, f.Backend, f.Config, f.Logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f ChainFactory) NewNetworkProxy(addr common.Address) (NetworkProxy, error) {
	p, err := proxy.NewNetwork(addr, f.Backend, f.Config, f.Logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}
