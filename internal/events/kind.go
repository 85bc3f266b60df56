package events

// ContractKind identifies the contract type an event source belongs to.
type ContractKind string

const (
	CurrencyNetwork ContractKind = "CurrencyNetwork"
	Escrow          ContractKind = "Escrow"
	Gateway         ContractKind = "Gateway"
	Exchange        ContractKind = "Exchange"
	Token           ContractKind = "Token"
	UnwEth          ContractKind = "UnwEth"
)

// Kinds lists every supported contract kind.
var Kinds = []ContractKind{CurrencyNetwork, Escrow, Gateway, Exchange, Token, UnwEth}

// Event type names. Ledger event types equal the contract event names.
const (
	TypeTransfer               = "Transfer"
	TypeTrustlineRequest       = "TrustlineUpdateRequest"
	TypeTrustlineRequestCancel = "TrustlineUpdateCancel"
	TypeTrustlineUpdate        = "TrustlineUpdate"
	TypeBalanceUpdate          = "BalanceUpdate"
	TypeNetworkFreeze          = "NetworkFreeze"
	TypeDeposited              = "Deposited"
	TypeWithdrawn              = "Withdrawn"
	TypeExchangeRateChanged    = "ExchangeRateChanged"
	TypeApproval               = "Approval"
	TypeDeposit                = "Deposit"
	TypeWithdrawal             = "Withdrawal"
	TypeLogFill                = "LogFill"
	TypeLogCancel              = "LogCancel"

	// Derived from mirror state, never emitted by a contract.
	TypeBalance        = "Balance"
	TypeNetworkBalance = "NetworkBalance"
)

var standardTypes = map[ContractKind][]string{
	CurrencyNetwork: {TypeTransfer, TypeTrustlineRequest, TypeTrustlineRequestCancel, TypeTrustlineUpdate},
	Escrow:          {TypeDeposited, TypeWithdrawn},
	Gateway:         {TypeExchangeRateChanged},
	Exchange:        {TypeLogFill, TypeLogCancel},
	Token:           {TypeTransfer, TypeApproval},
	UnwEth:          {TypeTransfer, TypeApproval, TypeDeposit, TypeWithdrawal},
}

// StandardTypes returns the event types queried when a caller asks for "all events" of a kind.
func StandardTypes(kind ContractKind) []string {
	types := standardTypes[kind]
	out := make([]string, len(types))
	copy(out, types)
	return out
}

// HasType reports whether eventType is one of the standard types of kind.
func HasType(kind ContractKind, eventType string) bool {
	for _, t := range standardTypes[kind] {
		if t == eventType {
			return true
		}
	}
	return false
}
