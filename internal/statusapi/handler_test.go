package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/metrics"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawfinalizer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	pendingID   = "0x1111111111111111111111111111111111111111111111111111111111111111"
	processedID = "0x2222222222222222222222222222222222222222222222222222222222222222"
	unknownID   = "0x3333333333333333333333333333333333333333333333333333333333333333"
)

type stubStatus map[withdrawal.ID]withdrawfinalizer.Status

func (s stubStatus) Status(id withdrawal.ID) (withdrawfinalizer.Status, bool) {
	st, ok := s[id]
	return st, ok
}

type failingStore struct{}

func (failingStore) Contains(context.Context, dedup.Set, withdrawal.ID) (bool, error) {
	return false, errors.New("db down")
}

func newTestHandler(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	store := dedup.NewMemoryStore()
	ctx := context.Background()
	if err := store.Add(ctx, dedup.SetPendingToken, pendingID); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, dedup.SetProcessed, processedID); err != nil {
		t.Fatalf("Add: %v", err)
	}
	status := stubStatus{
		pendingID: {
			ID:        pendingID,
			Kind:      withdrawal.KindToken,
			State:     withdrawal.StateSubmitted,
			Attempts:  4,
			FirstSeen: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			LastError: "oracle: status 502",
			L1TxHash:  common.HexToHash("0xabc"),
		},
	}
	return NewHandler(store, status, cfg)
}

func getJSON(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal %s: %v body=%s", path, err, rr.Body.String())
		}
	}
	return rr.Code, body
}

func TestHandler_Healthz(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, Config{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestHandler_PendingWithdrawal(t *testing.T) {
	t.Parallel()

	code, body := getJSON(t, newTestHandler(t, Config{}), "/v1/withdrawals/"+strings.ToUpper(pendingID[2:]))
	if code != http.StatusOK {
		t.Fatalf("status: got %d want 200", code)
	}
	if body["id"] != pendingID || body["set"] != "pending-token" || body["state"] != "submitted" {
		t.Fatalf("body: %v", body)
	}
	if body["attempts"] != float64(4) || body["last_error"] != "oracle: status 502" || body["kind"] != "token" {
		t.Fatalf("body: %v", body)
	}
	if body["l1_tx_hash"] != common.HexToHash("0xabc").Hex() {
		t.Fatalf("l1_tx_hash: %v", body["l1_tx_hash"])
	}
}

func TestHandler_ProcessedAndUnknown(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, Config{})
	_, body := getJSON(t, h, "/v1/withdrawals/"+processedID)
	if body["set"] != "processed" || body["state"] != "finalized" {
		t.Fatalf("processed: %v", body)
	}
	_, body = getJSON(t, h, "/v1/withdrawals/"+unknownID)
	if body["set"] != "unknown" {
		t.Fatalf("unknown: %v", body)
	}
	if _, ok := body["state"]; ok {
		t.Fatalf("unknown id should have no state: %v", body)
	}
}

func TestHandler_InvalidID(t *testing.T) {
	t.Parallel()

	code, body := getJSON(t, newTestHandler(t, Config{}), "/v1/withdrawals/0x1234")
	if code != http.StatusBadRequest || body["error"] != "invalid_id" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestHandler_StoreErrorIsInternal(t *testing.T) {
	t.Parallel()

	h := NewHandler(failingStore{}, nil, Config{})
	code, body := getJSON(t, h, "/v1/withdrawals/"+pendingID)
	if code != http.StatusInternalServerError || body["error"] != "internal" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestHandler_RequiresBearerTokenWhenConfigured(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, Config{AuthToken: "secret"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/withdrawals/"+pendingID, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d want %d", rr.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/withdrawals/"+pendingID, nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status with token: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz should stay open: %d", rr.Code)
	}
}

func TestHandler_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics.New(reg).Finalized("eth", "receipt")

	h := newTestHandler(t, Config{Gatherer: reg})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `withdraw_relayer_finalized_total{kind="eth",via="receipt"} 1`) {
		t.Fatalf("metrics body missing counter:\n%s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	newTestHandler(t, Config{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("metrics without gatherer: %d", rr.Code)
	}
}
