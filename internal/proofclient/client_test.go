package proofclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/ethereum/go-ethereum/common"
)

const testID = "0x5a6a8f35ea6fbce9ebc657de70e77bb9b7f2030569f9c6fbf46ba783f913be98"

func newOracle(t *testing.T, body string, status int) (*HTTPClient, *[]string) {
	t.Helper()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s want POST", r.Method)
		}
		if r.URL.Path != "/history/api/txsbyhashes" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		var req struct {
			Txs []string `json:"txs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode req: %v", err)
		}
		seen = append(seen, req.Txs...)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(srv.URL+"/history/", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c, &seen
}

func fetch(t *testing.T, c *HTTPClient, id string) (withdrawal.Claim, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c.FetchClaim(ctx, withdrawal.ID(id))
}

func TestHTTPClient_FetchClaim_Claimable(t *testing.T) {
	t.Parallel()

	c, seen := newOracle(t, `{"errcode":0,"errmsg":"","data":{"results":[{
		"hash":"`+testID+`",
		"claim_info":{
			"claimable":true,
			"from":"0x0000000000000000000000000000000000000aaa",
			"value":"1000000000000000000",
			"nonce":42,
			"message":"0x0102ff",
			"proof":{"batch_index":"77","merkle_proof":"0xabcd"}
		}}]}}`, http.StatusOK)

	// Unprefixed upper-case input is normalized before the call.
	claim, err := fetch(t, c, strings.ToUpper(testID[2:]))
	if err != nil {
		t.Fatalf("FetchClaim: %v", err)
	}
	if len(*seen) != 1 || (*seen)[0] != testID {
		t.Fatalf("request txs: %v", *seen)
	}
	if claim.From != common.HexToAddress("0x0000000000000000000000000000000000000aaa") {
		t.Fatalf("from: %s", claim.From)
	}
	if claim.Value.String() != "1000000000000000000" || claim.MessageNonce.Int64() != 42 || claim.BatchIndex.Int64() != 77 {
		t.Fatalf("numbers: value=%s nonce=%s batch=%s", claim.Value, claim.MessageNonce, claim.BatchIndex)
	}
	if string(claim.Message) != "\x01\x02\xff" || string(claim.MerkleProof) != "\xab\xcd" {
		t.Fatalf("bytes: message=%x proof=%x", claim.Message, claim.MerkleProof)
	}
}

func TestHTTPClient_FetchClaim_NotReady(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty results":     `{"errcode":0,"data":{"results":[]}}`,
		"no claim info":     `{"errcode":0,"data":{"results":[{"hash":"` + testID + `"}]}}`,
		"not claimable":     `{"errcode":0,"data":{"results":[{"claim_info":{"claimable":false,"from":"0x0000000000000000000000000000000000000aaa","value":"1","nonce":"1","message":"0x","proof":{"batch_index":"1","merkle_proof":"0x01"}}}]}}`,
		"string false":      `{"errcode":0,"data":{"results":[{"claim_info":{"claimable":"false"}}]}}`,
		"missing proof":     `{"errcode":0,"data":{"results":[{"claim_info":{"claimable":"true","from":"0x0000000000000000000000000000000000000aaa","value":"1","nonce":"1","message":"0x"}}]}}`,
		"empty merkle":      `{"errcode":0,"data":{"results":[{"claim_info":{"claimable":true,"from":"0x0000000000000000000000000000000000000aaa","value":"1","nonce":"1","message":"0x","proof":{"batch_index":"1","merkle_proof":""}}}]}}`,
		"other hash echoed": `{"errcode":0,"data":{"results":[{"hash":"0x1111111111111111111111111111111111111111111111111111111111111111","claim_info":{"claimable":true}}]}}`,
	}
	for name, body := range cases {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c, _ := newOracle(t, body, http.StatusOK)
			_, err := fetch(t, c, testID)
			if !errors.Is(err, ErrNotReady) {
				t.Fatalf("expected ErrNotReady, got %v", err)
			}
			if errors.Is(err, ErrOracle) {
				t.Fatalf("not-ready must not be an oracle error: %v", err)
			}
		})
	}
}

func TestHTTPClient_FetchClaim_OracleErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"non-2xx", `{"error":"down"}`, http.StatusBadGateway},
		{"malformed json", `{"errcode":0,`, http.StatusOK},
		{"errcode", `{"errcode":40001,"errmsg":"rate limited","data":null}`, http.StatusOK},
		{"missing errcode", `{"data":{"results":[]}}`, http.StatusOK},
		{"bad value", `{"errcode":0,"data":{"results":[{"claim_info":{"claimable":true,"from":"0x0000000000000000000000000000000000000aaa","value":"1.5","nonce":"1","message":"0x","proof":{"batch_index":"1","merkle_proof":"0x01"}}}]}}`, http.StatusOK},
		{"bad proof hex", `{"errcode":0,"data":{"results":[{"claim_info":{"claimable":true,"from":"0x0000000000000000000000000000000000000aaa","value":"1","nonce":"1","message":"0x","proof":{"batch_index":"1","merkle_proof":"0xzz"}}}]}}`, http.StatusOK},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newOracle(t, tc.body, tc.status)
			_, err := fetch(t, c, testID)
			if !errors.Is(err, ErrOracle) {
				t.Fatalf("expected ErrOracle, got %v", err)
			}
		})
	}
}

func TestHTTPClient_FetchClaim_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(url)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if _, err := fetch(t, c, testID); !errors.Is(err, ErrOracle) {
		t.Fatalf("expected ErrOracle, got %v", err)
	}
}

func TestHTTPClient_FetchClaim_ResponseTooLarge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat(" ", 64) + `{"errcode":0}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(srv.URL, WithHTTPClient(srv.Client()), WithMaxResponseBytes(32))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if _, err := fetch(t, c, testID); !errors.Is(err, ErrOracle) {
		t.Fatalf("expected ErrOracle, got %v", err)
	}
}

func TestHTTPClient_FetchClaim_RejectsInvalidID(t *testing.T) {
	t.Parallel()

	c, seen := newOracle(t, `{}`, http.StatusOK)
	if _, err := fetch(t, c, "0x1234"); !errors.Is(err, withdrawal.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if len(*seen) != 0 {
		t.Fatalf("oracle should not be called: %v", *seen)
	}
}

func TestNewHTTPClient_Validates(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"", "  ", "ftp://x", "http://"} {
		if _, err := NewHTTPClient(u); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("NewHTTPClient(%q): expected ErrInvalidConfig, got %v", u, err)
		}
	}
	if _, err := NewHTTPClient("https://bridge.example", WithHTTPClient(nil)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil http client: %v", err)
	}
	if _, err := NewHTTPClient("https://bridge.example", WithMaxResponseBytes(0)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero max bytes: %v", err)
	}
}
