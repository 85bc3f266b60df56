package events

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const currencyNetworkABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "_from", "type": "address"},
      {"indexed": true, "name": "_to", "type": "address"},
      {"indexed": false, "name": "_value", "type": "uint256"},
      {"indexed": false, "name": "_extraData", "type": "bytes"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "_creditor", "type": "address"},
      {"indexed": true, "name": "_debtor", "type": "address"},
      {"indexed": false, "name": "_creditlineGiven", "type": "uint256"},
      {"indexed": false, "name": "_creditlineReceived", "type": "uint256"},
      {"indexed": false, "name": "_interestRateGiven", "type": "int256"},
      {"indexed": false, "name": "_interestRateReceived", "type": "int256"},
      {"indexed": false, "name": "_isFrozen", "type": "bool"}
    ],
    "name": "TrustlineUpdateRequest",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "_initiator", "type": "address"},
      {"indexed": true, "name": "_counterparty", "type": "address"}
    ],
    "name": "TrustlineUpdateCancel",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "_creditor", "type": "address"},
      {"indexed": true, "name": "_debtor", "type": "address"},
      {"indexed": false, "name": "_creditlineGiven", "type": "uint256"},
      {"indexed": false, "name": "_creditlineReceived", "type": "uint256"},
      {"indexed": false, "name": "_interestRateGiven", "type": "int256"},
      {"indexed": false, "name": "_interestRateReceived", "type": "int256"},
      {"indexed": false, "name": "_isFrozen", "type": "bool"}
    ],
    "name": "TrustlineUpdate",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "_from", "type": "address"},
      {"indexed": true, "name": "_to", "type": "address"},
      {"indexed": false, "name": "_value", "type": "int256"}
    ],
    "name": "BalanceUpdate",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [],
    "name": "NetworkFreeze",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "capacityImbalanceFeeDivisor",
    "outputs": [{"name": "", "type": "uint16"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "defaultInterestRate",
    "outputs": [{"name": "", "type": "int16"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "customInterests",
    "outputs": [{"name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "preventMediatorInterests",
    "outputs": [{"name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "isNetworkFrozen",
    "outputs": [{"name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getUsers",
    "outputs": [{"name": "", "type": "address[]"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"name": "_user", "type": "address"}],
    "name": "getFriends",
    "outputs": [{"name": "", "type": "address[]"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"name": "_a", "type": "address"},
      {"name": "_b", "type": "address"}
    ],
    "name": "getAccount",
    "outputs": [
      {"name": "creditlineGiven", "type": "uint64"},
      {"name": "creditlineReceived", "type": "uint64"},
      {"name": "interestRateGiven", "type": "int16"},
      {"name": "interestRateReceived", "type": "int16"},
      {"name": "isFrozen", "type": "bool"},
      {"name": "mtime", "type": "uint32"},
      {"name": "balance", "type": "int72"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

const escrowABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "payee", "type": "address"},
      {"indexed": false, "name": "weiAmount", "type": "uint256"}
    ],
    "name": "Deposited",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "payee", "type": "address"},
      {"indexed": false, "name": "weiAmount", "type": "uint256"}
    ],
    "name": "Withdrawn",
    "type": "event"
  }
]`

const gatewayABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "exchangeRateNumerator", "type": "uint256"},
      {"indexed": false, "name": "exchangeRateDenominator", "type": "uint256"}
    ],
    "name": "ExchangeRateChanged",
    "type": "event"
  }
]`

const tokenEventsJSON = `
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "from", "type": "address"},
      {"indexed": true, "name": "to", "type": "address"},
      {"indexed": false, "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "owner", "type": "address"},
      {"indexed": true, "name": "spender", "type": "address"},
      {"indexed": false, "name": "value", "type": "uint256"}
    ],
    "name": "Approval",
    "type": "event"
  }`

const tokenABIJSON = `[` + tokenEventsJSON + `]`

const unwEthABIJSON = `[` + tokenEventsJSON + `,
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "dst", "type": "address"},
      {"indexed": false, "name": "wad", "type": "uint256"}
    ],
    "name": "Deposit",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "src", "type": "address"},
      {"indexed": false, "name": "wad", "type": "uint256"}
    ],
    "name": "Withdrawal",
    "type": "event"
  }
]`

const exchangeABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "maker", "type": "address"},
      {"indexed": false, "name": "taker", "type": "address"},
      {"indexed": true, "name": "feeRecipient", "type": "address"},
      {"indexed": false, "name": "makerToken", "type": "address"},
      {"indexed": false, "name": "takerToken", "type": "address"},
      {"indexed": false, "name": "filledMakerTokenAmount", "type": "uint256"},
      {"indexed": false, "name": "filledTakerTokenAmount", "type": "uint256"},
      {"indexed": false, "name": "paidMakerFee", "type": "uint256"},
      {"indexed": false, "name": "paidTakerFee", "type": "uint256"},
      {"indexed": true, "name": "tokens", "type": "bytes32"},
      {"indexed": false, "name": "orderHash", "type": "bytes32"}
    ],
    "name": "LogFill",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "maker", "type": "address"},
      {"indexed": true, "name": "feeRecipient", "type": "address"},
      {"indexed": false, "name": "makerToken", "type": "address"},
      {"indexed": false, "name": "takerToken", "type": "address"},
      {"indexed": false, "name": "cancelledMakerTokenAmount", "type": "uint256"},
      {"indexed": false, "name": "cancelledTakerTokenAmount", "type": "uint256"},
      {"indexed": true, "name": "tokens", "type": "bytes32"},
      {"indexed": false, "name": "orderHash", "type": "bytes32"}
    ],
    "name": "LogCancel",
    "type": "event"
  }
]`

type parsedABI struct {
	source string
	once   sync.Once
	abi    abi.ABI
	err    error
}

var contractABIs = map[ContractKind]*parsedABI{
	CurrencyNetwork: {source: currencyNetworkABIJSON},
	Escrow:          {source: escrowABIJSON},
	Gateway:         {source: gatewayABIJSON},
	Token:           {source: tokenABIJSON},
	UnwEth:          {source: unwEthABIJSON},
	Exchange:        {source: exchangeABIJSON},
}

// ABI returns the parsed contract ABI for a contract kind.
func ABI(kind ContractKind) (abi.ABI, error) {
	parsed, ok := contractABIs[kind]
	if !ok {
		return abi.ABI{}, fmt.Errorf("%w: contract kind %q", ErrUnknownEventKind, kind)
	}
	parsed.once.Do(func() {
		parsed.abi, parsed.err = abi.JSON(strings.NewReader(parsed.source))
	})
	return parsed.abi, parsed.err
}
