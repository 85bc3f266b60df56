package events

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	network = common.HexToAddress("0x1111111111111111111111111111111111111111")
	alice   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	bob     = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestNormalizeTrustlineUpdate(t *testing.T) {
	networkABI, err := ABI(CurrencyNetwork)
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	data, err := networkABI.Events[TypeTrustlineUpdate].Inputs.NonIndexed().Pack(
		big.NewInt(1000),
		big.NewInt(2000),
		big.NewInt(100),
		big.NewInt(-5),
		true,
	)
	if err != nil {
		t.Fatalf("pack trustline update: %v", err)
	}

	log := buildLog(network, networkABI.Events[TypeTrustlineUpdate].ID, data, []common.Hash{
		topicFromAddress(alice),
		topicFromAddress(bob),
	})

	ev, err := Normalize(log, CurrencyNetwork, 1700000000)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Type != TypeTrustlineUpdate || ev.Kind != CurrencyNetwork {
		t.Fatalf("type mismatch: %s %s", ev.Type, ev.Kind)
	}
	if ev.From != alice || ev.To == nil || *ev.To != bob {
		t.Fatalf("participants mismatch: %v", ev.Participants())
	}
	if ev.BlockNumber != 12345 || ev.LogIndex != 1 || ev.Timestamp != 1700000000 {
		t.Fatalf("position mismatch: %+v", ev)
	}

	payload, ok := ev.Payload.(TrustlinePayload)
	if !ok {
		t.Fatalf("payload type mismatch: %T", ev.Payload)
	}
	if payload.CreditlineGiven.Int64() != 1000 || payload.CreditlineReceived.Int64() != 2000 {
		t.Fatalf("creditlines mismatch: %+v", payload)
	}
	if payload.InterestRateGiven != 100 || payload.InterestRateReceived != -5 || !payload.IsFrozen {
		t.Fatalf("interest mismatch: %+v", payload)
	}

	fields := ev.Fields()
	if fields["networkAddress"] != network.Hex() || fields["given"] != "1000" || fields["isFrozen"] != "true" {
		t.Fatalf("fields mismatch: %v", fields)
	}
}

func TestNormalizeBalanceUpdateNegative(t *testing.T) {
	networkABI, err := ABI(CurrencyNetwork)
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	data, err := networkABI.Events[TypeBalanceUpdate].Inputs.NonIndexed().Pack(big.NewInt(-750))
	if err != nil {
		t.Fatalf("pack balance update: %v", err)
	}

	log := buildLog(network, networkABI.Events[TypeBalanceUpdate].ID, data, []common.Hash{
		topicFromAddress(alice),
		topicFromAddress(bob),
	})

	ev, err := Normalize(log, CurrencyNetwork, 10)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	payload, ok := ev.Payload.(BalanceUpdatePayload)
	if !ok {
		t.Fatalf("payload type mismatch: %T", ev.Payload)
	}
	if payload.Value.Int64() != -750 {
		t.Fatalf("value mismatch: %s", payload.Value)
	}
}

func TestNormalizeSingleParticipant(t *testing.T) {
	escrowABI, err := ABI(Escrow)
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	data, err := escrowABI.Events[TypeDeposited].Inputs.NonIndexed().Pack(big.NewInt(42))
	if err != nil {
		t.Fatalf("pack deposited: %v", err)
	}

	escrow := common.HexToAddress("0x4444444444444444444444444444444444444444")
	log := buildLog(escrow, escrowABI.Events[TypeDeposited].ID, data, []common.Hash{topicFromAddress(alice)})

	ev, err := Normalize(log, Escrow, 10)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.To != nil {
		t.Fatalf("expected single participant, got %v", ev.Participants())
	}
	projections := ev.Projections()
	if len(projections) != 1 || projections[0].User != alice {
		t.Fatalf("projection mismatch: %+v", projections)
	}
	if _, ok := ev.Fields()["networkAddress"]; ok {
		t.Fatalf("escrow event must not carry networkAddress")
	}
}

func TestNormalizeNetworkFreeze(t *testing.T) {
	networkABI, err := ABI(CurrencyNetwork)
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	log := buildLog(network, networkABI.Events[TypeNetworkFreeze].ID, nil, nil)
	ev, err := Normalize(log, CurrencyNetwork, 10)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Type != TypeNetworkFreeze || len(ev.Participants()) != 0 {
		t.Fatalf("freeze mismatch: %+v", ev)
	}
}

func TestNormalizeUnknownEvent(t *testing.T) {
	escrowABI, err := ABI(Escrow)
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	// Escrow topic on a network contract.
	log := buildLog(network, escrowABI.Events[TypeDeposited].ID, nil, []common.Hash{topicFromAddress(alice)})
	if _, err := Normalize(log, CurrencyNetwork, 10); !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind, got %v", err)
	}

	if _, err := Normalize(log, ContractKind("Identity"), 10); !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind for unsupported kind, got %v", err)
	}

	if _, err := Normalize(types.Log{Address: network}, CurrencyNetwork, 10); !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind for log without topics, got %v", err)
	}
}

func TestNormalizeTopicCountMismatch(t *testing.T) {
	networkABI, err := ABI(CurrencyNetwork)
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	data, err := networkABI.Events[TypeBalanceUpdate].Inputs.NonIndexed().Pack(big.NewInt(1))
	if err != nil {
		t.Fatalf("pack balance update: %v", err)
	}
	log := buildLog(network, networkABI.Events[TypeBalanceUpdate].ID, data, []common.Hash{topicFromAddress(alice)})

	_, err = Normalize(log, CurrencyNetwork, 10)
	if err == nil || errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestIndexedAddressPositions(t *testing.T) {
	cases := []struct {
		kind      ContractKind
		eventType string
		want      []int
	}{
		{CurrencyNetwork, TypeTransfer, []int{1, 2}},
		{Escrow, TypeWithdrawn, []int{1}},
		{Exchange, TypeLogFill, []int{1, 2}},
		{Gateway, TypeExchangeRateChanged, nil},
	}
	for _, tc := range cases {
		got, err := IndexedAddressPositions(tc.kind, tc.eventType)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.kind, tc.eventType, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s/%s: got %v want %v", tc.kind, tc.eventType, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s/%s: got %v want %v", tc.kind, tc.eventType, got, tc.want)
			}
		}
	}
}

func buildLog(address common.Address, topic0 common.Hash, data []byte, indexed []common.Hash) types.Log {
	topics := make([]common.Hash, 0, len(indexed)+1)
	topics = append(topics, topic0)
	topics = append(topics, indexed...)

	return types.Log{
		Address:     address,
		Topics:      topics,
		Data:        data,
		BlockNumber: 12345,
		TxHash:      common.HexToHash("0xdef"),
		Index:       1,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
