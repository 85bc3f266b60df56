package events

import (
	"errors"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrUnknownEventKind is returned for logs that do not map to a supported domain event.
var ErrUnknownEventKind = errors.New("unknown event kind")

// Event is a normalized ledger event. Values are treated as immutable once built.
type Event struct {
	Contract    common.Address
	Kind        ContractKind
	Type        string
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
	Timestamp   uint64

	// From is the first participant. To is nil for single-participant events.
	From common.Address
	To   *common.Address

	// User is only set on per-user projections used for fan-out.
	User common.Address

	Payload Payload
}

// Participants returns the addresses an event concerns.
func (e Event) Participants() []common.Address {
	if e.To == nil {
		if e.From == (common.Address{}) {
			return nil
		}
		return []common.Address{e.From}
	}
	return []common.Address{e.From, *e.To}
}

// ForUser returns a copy of the event bound to user.
func (e Event) ForUser(user common.Address) Event {
	projected := e
	projected.User = user
	return projected
}

// Projections returns one per-user copy for every participant.
func (e Event) Projections() []Event {
	participants := e.Participants()
	out := make([]Event, 0, len(participants))
	for _, p := range participants {
		out = append(out, e.ForUser(p))
	}
	return out
}

// Fields flattens an event into string fields, the representation used by
// transports that cannot carry typed values (push data messages, websocket frames).
func (e Event) Fields() map[string]string {
	fields := map[string]string{
		"type":            e.Type,
		"contractKind":    string(e.Kind),
		"contractAddress": e.Contract.Hex(),
		"blockNumber":     strconv.FormatUint(e.BlockNumber, 10),
		"logIndex":        strconv.FormatUint(uint64(e.LogIndex), 10),
		"timestamp":       strconv.FormatUint(e.Timestamp, 10),
	}
	if e.Kind == CurrencyNetwork {
		fields["networkAddress"] = e.Contract.Hex()
	}
	if e.TxHash != (common.Hash{}) {
		fields["transactionHash"] = e.TxHash.Hex()
	}
	if e.From != (common.Address{}) {
		fields["from"] = e.From.Hex()
	}
	if e.To != nil {
		fields["to"] = e.To.Hex()
	}
	if e.User != (common.Address{}) {
		fields["user"] = e.User.Hex()
	}
	if e.Payload != nil {
		e.Payload.appendFields(fields)
	}
	return fields
}

// Payload is the closed set of type-specific event data.
type Payload interface {
	appendFields(fields map[string]string)
}

// TransferPayload is carried by Transfer events of networks and tokens.
type TransferPayload struct {
	Value     *big.Int
	ExtraData []byte
}

func (p TransferPayload) appendFields(fields map[string]string) {
	fields["amount"] = bigString(p.Value)
	if len(p.ExtraData) > 0 {
		fields["extraData"] = hexutil.Encode(p.ExtraData)
	}
}

// TrustlinePayload is carried by TrustlineUpdate and TrustlineUpdateRequest.
// From is the creditor, To the debtor.
type TrustlinePayload struct {
	CreditlineGiven      *big.Int
	CreditlineReceived   *big.Int
	InterestRateGiven    int64
	InterestRateReceived int64
	IsFrozen             bool
}

func (p TrustlinePayload) appendFields(fields map[string]string) {
	fields["given"] = bigString(p.CreditlineGiven)
	fields["received"] = bigString(p.CreditlineReceived)
	fields["interestRateGiven"] = strconv.FormatInt(p.InterestRateGiven, 10)
	fields["interestRateReceived"] = strconv.FormatInt(p.InterestRateReceived, 10)
	fields["isFrozen"] = strconv.FormatBool(p.IsFrozen)
}

// BalanceUpdatePayload carries the new balance from From's point of view.
type BalanceUpdatePayload struct {
	Value *big.Int
}

func (p BalanceUpdatePayload) appendFields(fields map[string]string) {
	fields["value"] = bigString(p.Value)
}

// AmountPayload is carried by single-amount events (escrow, token approval, wrapping).
type AmountPayload struct {
	Value *big.Int
}

func (p AmountPayload) appendFields(fields map[string]string) {
	fields["amount"] = bigString(p.Value)
}

// ExchangeRatePayload is carried by gateway ExchangeRateChanged events.
type ExchangeRatePayload struct {
	Numerator   *big.Int
	Denominator *big.Int
}

func (p ExchangeRatePayload) appendFields(fields map[string]string) {
	fields["exchangeRateNumerator"] = bigString(p.Numerator)
	fields["exchangeRateDenominator"] = bigString(p.Denominator)
}

// FillPayload is carried by exchange LogFill events. From is the maker, To the taker.
type FillPayload struct {
	FeeRecipient      common.Address
	MakerToken        common.Address
	TakerToken        common.Address
	FilledMakerAmount *big.Int
	FilledTakerAmount *big.Int
	PaidMakerFee      *big.Int
	PaidTakerFee      *big.Int
	OrderHash         common.Hash
}

func (p FillPayload) appendFields(fields map[string]string) {
	fields["feeRecipient"] = p.FeeRecipient.Hex()
	fields["makerToken"] = p.MakerToken.Hex()
	fields["takerToken"] = p.TakerToken.Hex()
	fields["filledMakerAmount"] = bigString(p.FilledMakerAmount)
	fields["filledTakerAmount"] = bigString(p.FilledTakerAmount)
	fields["paidMakerFee"] = bigString(p.PaidMakerFee)
	fields["paidTakerFee"] = bigString(p.PaidTakerFee)
	fields["orderHash"] = p.OrderHash.Hex()
}

// CancelPayload is carried by exchange LogCancel events. From is the maker.
type CancelPayload struct {
	FeeRecipient         common.Address
	MakerToken           common.Address
	TakerToken           common.Address
	CancelledMakerAmount *big.Int
	CancelledTakerAmount *big.Int
	OrderHash            common.Hash
}

func (p CancelPayload) appendFields(fields map[string]string) {
	fields["feeRecipient"] = p.FeeRecipient.Hex()
	fields["makerToken"] = p.MakerToken.Hex()
	fields["takerToken"] = p.TakerToken.Hex()
	fields["cancelledMakerAmount"] = bigString(p.CancelledMakerAmount)
	fields["cancelledTakerAmount"] = bigString(p.CancelledTakerAmount)
	fields["orderHash"] = p.OrderHash.Hex()
}

// BalancePayload is the accrued balance of From towards To.
type BalancePayload struct {
	Value *big.Int
}

func (p BalancePayload) appendFields(fields map[string]string) {
	fields["balance"] = bigString(p.Value)
}

// NetworkBalancePayload is the accrued balance of From over all of its trustlines.
type NetworkBalancePayload struct {
	Value *big.Int
}

func (p NetworkBalancePayload) appendFields(fields map[string]string) {
	fields["balance"] = bigString(p.Value)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
