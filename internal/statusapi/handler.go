// Package statusapi is the relayer's operator HTTP surface.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawfinalizer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type SetReader interface {
	Contains(ctx context.Context, set dedup.Set, id withdrawal.ID) (bool, error)
}

type StatusReader interface {
	Status(id withdrawal.ID) (withdrawfinalizer.Status, bool)
}

type Config struct {
	// AuthToken enables bearer-token auth on /v1 routes when set.
	AuthToken string

	// Gatherer backs /metrics. The route is not registered when nil.
	Gatherer prometheus.Gatherer

	// LookupTimeout bounds the store reads of one request. Defaults to 5s.
	LookupTimeout time.Duration
}

func NewHandler(store SetReader, status StatusReader, cfg Config) http.Handler {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /v1/withdrawals/{id}", func(w http.ResponseWriter, r *http.Request) {
		if cfg.AuthToken != "" && !checkBearer(r.Header.Get("Authorization"), cfg.AuthToken) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}

		id, err := withdrawal.ParseID(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_id"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), cfg.LookupTimeout)
		defer cancel()

		out := withdrawalResponse{ID: id.String(), Set: "unknown"}
		for _, set := range dedup.Sets() {
			ok, err := store.Contains(ctx, set, id)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
				return
			}
			if ok {
				out.Set = string(set)
				break
			}
		}

		if status != nil {
			if st, ok := status.Status(id); ok {
				out.State = st.State.String()
				out.Kind = st.Kind.String()
				out.Attempts = st.Attempts
				out.LastError = st.LastError
				if st.L1TxHash != (common.Hash{}) {
					out.L1TxHash = st.L1TxHash.Hex()
				}
				if !st.FirstSeen.IsZero() {
					out.FirstSeen = st.FirstSeen.UTC().Format(time.RFC3339)
				}
			}
		}
		if out.State == "" && out.Set == string(dedup.SetProcessed) {
			out.State = withdrawal.StateFinalized.String()
		}
		if kind, ok := dedup.KindOf(dedup.Set(out.Set)); ok && out.Kind == "" {
			out.Kind = kind.String()
		}

		writeJSON(w, http.StatusOK, out)
	})

	return mux
}

type withdrawalResponse struct {
	ID        string `json:"id"`
	Set       string `json:"set"`
	Kind      string `json:"kind,omitempty"`
	State     string `json:"state,omitempty"`
	Attempts  int    `json:"attempts"`
	FirstSeen string `json:"first_seen,omitempty"`
	L1TxHash  string `json:"l1_tx_hash,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// checkBearer accepts exactly "Bearer <token>".
func checkBearer(header string, wantToken string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix)) == wantToken
}
