package transport

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"trustlines-relay/internal/events"
	"trustlines-relay/internal/hub"
)

var alice = common.HexToAddress("0x0000000000000000000000000000000000000001")

func TestStreamDeliversUserEvents(t *testing.T) {
	h := hub.New(nil, nil, nil)
	srv := httptest.NewServer(NewServer(":0", h, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/streams/" + strings.ToLower(alice.Hex())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for len(h.Subscriptions(alice)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	h.Publish(context.Background(), alice, events.Event{
		Kind:        events.CurrencyNetwork,
		Type:        events.TypeTransfer,
		BlockNumber: 7,
		From:        alice,
		User:        alice,
		Payload:     events.TransferPayload{Value: big.NewInt(42)},
	})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var fields map[string]string
	if err := conn.ReadJSON(&fields); err != nil {
		t.Fatalf("read: %v", err)
	}
	if fields["type"] != events.TypeTransfer || fields["amount"] != "42" || fields["blockNumber"] != "7" {
		t.Fatalf("unexpected frame %v", fields)
	}

	conn.Close()
	deadline = time.Now().Add(time.Second)
	for len(h.Subscriptions(alice)) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription not removed after disconnect")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStreamRejectsMalformedAddress(t *testing.T) {
	srv := httptest.NewServer(NewServer(":0", hub.New(nil, nil, nil), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/streams/0x1234")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := httptest.NewServer(NewServer(":0", hub.New(nil, nil, nil), nil).Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
	}
}
