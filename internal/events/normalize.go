package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type builder func(ev *Event, r *fieldReader)

var builders = map[ContractKind]map[string]builder{
	CurrencyNetwork: {
		TypeTransfer: func(ev *Event, r *fieldReader) {
			ev.From, ev.To = r.address("_from"), r.addressPtr("_to")
			ev.Payload = TransferPayload{Value: r.bigInt("_value"), ExtraData: r.bytes("_extraData")}
		},
		TypeTrustlineRequest: buildTrustline,
		TypeTrustlineUpdate:  buildTrustline,
		TypeTrustlineRequestCancel: func(ev *Event, r *fieldReader) {
			ev.From, ev.To = r.address("_initiator"), r.addressPtr("_counterparty")
		},
		TypeBalanceUpdate: func(ev *Event, r *fieldReader) {
			ev.From, ev.To = r.address("_from"), r.addressPtr("_to")
			ev.Payload = BalanceUpdatePayload{Value: r.bigInt("_value")}
		},
		TypeNetworkFreeze: func(*Event, *fieldReader) {},
	},
	Escrow: {
		TypeDeposited: buildAmount("payee", "weiAmount"),
		TypeWithdrawn: buildAmount("payee", "weiAmount"),
	},
	Gateway: {
		TypeExchangeRateChanged: func(ev *Event, r *fieldReader) {
			ev.Payload = ExchangeRatePayload{
				Numerator:   r.bigInt("exchangeRateNumerator"),
				Denominator: r.bigInt("exchangeRateDenominator"),
			}
		},
	},
	Token: {
		TypeTransfer: buildTokenTransfer,
		TypeApproval: buildApproval,
	},
	UnwEth: {
		TypeTransfer:   buildTokenTransfer,
		TypeApproval:   buildApproval,
		TypeDeposit:    buildAmount("dst", "wad"),
		TypeWithdrawal: buildAmount("src", "wad"),
	},
	Exchange: {
		TypeLogFill: func(ev *Event, r *fieldReader) {
			ev.From, ev.To = r.address("maker"), r.addressPtr("taker")
			ev.Payload = FillPayload{
				FeeRecipient:      r.address("feeRecipient"),
				MakerToken:        r.address("makerToken"),
				TakerToken:        r.address("takerToken"),
				FilledMakerAmount: r.bigInt("filledMakerTokenAmount"),
				FilledTakerAmount: r.bigInt("filledTakerTokenAmount"),
				PaidMakerFee:      r.bigInt("paidMakerFee"),
				PaidTakerFee:      r.bigInt("paidTakerFee"),
				OrderHash:         r.hash("orderHash"),
			}
		},
		TypeLogCancel: func(ev *Event, r *fieldReader) {
			ev.From = r.address("maker")
			ev.Payload = CancelPayload{
				FeeRecipient:         r.address("feeRecipient"),
				MakerToken:           r.address("makerToken"),
				TakerToken:           r.address("takerToken"),
				CancelledMakerAmount: r.bigInt("cancelledMakerTokenAmount"),
				CancelledTakerAmount: r.bigInt("cancelledTakerTokenAmount"),
				OrderHash:            r.hash("orderHash"),
			}
		},
	},
}

func buildTrustline(ev *Event, r *fieldReader) {
	ev.From, ev.To = r.address("_creditor"), r.addressPtr("_debtor")
	ev.Payload = TrustlinePayload{
		CreditlineGiven:      r.bigInt("_creditlineGiven"),
		CreditlineReceived:   r.bigInt("_creditlineReceived"),
		InterestRateGiven:    r.int64("_interestRateGiven"),
		InterestRateReceived: r.int64("_interestRateReceived"),
		IsFrozen:             r.boolean("_isFrozen"),
	}
}

func buildTokenTransfer(ev *Event, r *fieldReader) {
	ev.From, ev.To = r.address("from"), r.addressPtr("to")
	ev.Payload = TransferPayload{Value: r.bigInt("value")}
}

func buildApproval(ev *Event, r *fieldReader) {
	ev.From, ev.To = r.address("owner"), r.addressPtr("spender")
	ev.Payload = AmountPayload{Value: r.bigInt("value")}
}

func buildAmount(party, amount string) builder {
	return func(ev *Event, r *fieldReader) {
		ev.From = r.address(party)
		ev.Payload = AmountPayload{Value: r.bigInt(amount)}
	}
}

// Normalize converts a raw log of a contract of the given kind into a domain event.
// Logs whose topic0 is not a supported event of kind fail with ErrUnknownEventKind.
func Normalize(log types.Log, kind ContractKind, timestamp uint64) (Event, error) {
	contractABI, err := ABI(kind)
	if err != nil {
		return Event{}, err
	}
	if len(log.Topics) == 0 {
		return Event{}, fmt.Errorf("%w: log without topics", ErrUnknownEventKind)
	}
	abiEvent, err := contractABI.EventByID(log.Topics[0])
	if err != nil {
		return Event{}, fmt.Errorf("%w: topic0 %s on %s", ErrUnknownEventKind, log.Topics[0].Hex(), kind)
	}
	build, ok := builders[kind][abiEvent.Name]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s on %s", ErrUnknownEventKind, abiEvent.Name, kind)
	}

	fields, err := unpackLog(*abiEvent, log)
	if err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", abiEvent.Name, err)
	}

	ev := Event{
		Contract:    log.Address,
		Kind:        kind,
		Type:        abiEvent.Name,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		TxHash:      log.TxHash,
		Timestamp:   timestamp,
	}
	reader := &fieldReader{fields: fields}
	build(&ev, reader)
	if reader.err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", abiEvent.Name, reader.err)
	}
	return ev, nil
}

// EventID returns the topic0 of an event type on a contract kind.
func EventID(kind ContractKind, eventType string) (common.Hash, error) {
	contractABI, err := ABI(kind)
	if err != nil {
		return common.Hash{}, err
	}
	abiEvent, ok := contractABI.Events[eventType]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s on %s", ErrUnknownEventKind, eventType, kind)
	}
	return abiEvent.ID, nil
}

// IndexedAddressPositions returns the topic positions (1-based) of indexed address
// arguments of an event. A user filter needs one log query per position.
func IndexedAddressPositions(kind ContractKind, eventType string) ([]int, error) {
	contractABI, err := ABI(kind)
	if err != nil {
		return nil, err
	}
	abiEvent, ok := contractABI.Events[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownEventKind, eventType, kind)
	}
	var positions []int
	for i, arg := range indexedArguments(abiEvent.Inputs) {
		if arg.Type.T == abi.AddressTy {
			positions = append(positions, i+1)
		}
	}
	return positions, nil
}

func unpackLog(event abi.Event, log types.Log) (map[string]interface{}, error) {
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}
	fields := make(map[string]interface{}, len(event.Inputs))
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(fields, log.Data); err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}
	return fields, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

// fieldReader reads decoded ABI values by name, keeping the first failure.
type fieldReader struct {
	fields map[string]interface{}
	err    error
}

func (r *fieldReader) value(name string) (interface{}, bool) {
	v, ok := r.fields[name]
	if !ok && r.err == nil {
		r.err = fmt.Errorf("missing field %s", name)
	}
	return v, ok
}

func (r *fieldReader) address(name string) common.Address {
	v, ok := r.value(name)
	if !ok {
		return common.Address{}
	}
	addr, err := AsAddress(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", name, err)
	}
	return addr
}

func (r *fieldReader) addressPtr(name string) *common.Address {
	addr := r.address(name)
	return &addr
}

func (r *fieldReader) bigInt(name string) *big.Int {
	v, ok := r.value(name)
	if !ok {
		return new(big.Int)
	}
	n, err := AsBigInt(v)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("%s: %w", name, err)
		}
		return new(big.Int)
	}
	return n
}

func (r *fieldReader) int64(name string) int64 {
	n := r.bigInt(name)
	if !n.IsInt64() {
		if r.err == nil {
			r.err = fmt.Errorf("%s: int64 overflow: %s", name, n)
		}
		return 0
	}
	return n.Int64()
}

func (r *fieldReader) boolean(name string) bool {
	v, ok := r.value(name)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	if !isBool && r.err == nil {
		r.err = fmt.Errorf("%s: unsupported bool type %T", name, v)
	}
	return b
}

func (r *fieldReader) bytes(name string) []byte {
	v, ok := r.value(name)
	if !ok {
		return nil
	}
	b, isBytes := v.([]byte)
	if !isBytes && r.err == nil {
		r.err = fmt.Errorf("%s: unsupported bytes type %T", name, v)
	}
	return b
}

func (r *fieldReader) hash(name string) common.Hash {
	v, ok := r.value(name)
	if !ok {
		return common.Hash{}
	}
	switch h := v.(type) {
	case [32]byte:
		return common.Hash(h)
	case common.Hash:
		return h
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%s: unsupported bytes32 type %T", name, v)
		}
		return common.Hash{}
	}
}

// AsAddress converts a decoded ABI value into an address.
func AsAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

// AsBigInt converts a decoded ABI integer of any width into a *big.Int.
func AsBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
