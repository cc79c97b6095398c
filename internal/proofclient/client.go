package proofclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidConfig = errors.New("proofclient: invalid config")
	// ErrNotReady means the oracle has no complete claimable proof for the withdrawal yet.
	ErrNotReady = errors.New("proofclient: claim not ready")
	// ErrOracle covers transport failures, non-2xx statuses, malformed bodies and application error codes.
	ErrOracle = errors.New("proofclient: oracle error")
)

const lookupPath = "/api/txsbyhashes"

// Client fetches L1 claim material for an L2 withdrawal.
type Client interface {
	FetchClaim(ctx context.Context, id withdrawal.ID) (withdrawal.Claim, error)
}

type Option func(*HTTPClient) error

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidConfig)
		}
		c.hc = hc
		return nil
	}
}

func WithMaxResponseBytes(n int64) Option {
	return func(c *HTTPClient) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidConfig)
		}
		c.maxRespBytes = n
		return nil
	}
}

// HTTPClient talks to the bridge history service.
type HTTPClient struct {
	baseURL      *url.URL
	hc           *http.Client
	maxRespBytes int64
}

func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: missing base url", ErrInvalidConfig)
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}

	c := &HTTPClient{
		baseURL:      u,
		hc:           &http.Client{Timeout: 30 * time.Second},
		maxRespBytes: 4 << 20,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type lookupRequest struct {
	Txs []string `json:"txs"`
}

type lookupResponse struct {
	ErrCode *int64 `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	Data    *struct {
		Results []lookupResult `json:"results"`
	} `json:"data"`
}

type lookupResult struct {
	Hash      string     `json:"hash"`
	ClaimInfo *claimInfo `json:"claim_info"`
}

type claimInfo struct {
	Claimable flexBool   `json:"claimable"`
	From      string     `json:"from"`
	Value     flexNumber `json:"value"`
	Nonce     flexNumber `json:"nonce"`
	Message   string     `json:"message"`
	Proof     *struct {
		BatchIndex  flexNumber `json:"batch_index"`
		MerkleProof string     `json:"merkle_proof"`
	} `json:"proof"`
}

// FetchClaim looks up one withdrawal. It returns ErrNotReady until the oracle reports the claim as
// claimable with both proof fields present.
func (c *HTTPClient) FetchClaim(ctx context.Context, id withdrawal.ID) (withdrawal.Claim, error) {
	if c == nil || c.baseURL == nil || c.hc == nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: nil client", ErrInvalidConfig)
	}
	id, err := withdrawal.ParseID(string(id))
	if err != nil {
		return withdrawal.Claim{}, err
	}

	u := *c.baseURL
	u.Path = joinPath(u.Path, lookupPath)

	b, err := json.Marshal(lookupRequest{Txs: []string{id.String()}})
	if err != nil {
		return withdrawal.Claim{}, fmt.Errorf("proofclient: marshal request: %w", err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return withdrawal.Claim{}, fmt.Errorf("proofclient: build request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(r)
	if err != nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: http do: %w", ErrOracle, err)
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, c.maxRespBytes)
	if err != nil {
		return withdrawal.Claim{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return withdrawal.Claim{}, fmt.Errorf("%w: status %d: %s", ErrOracle, resp.StatusCode, msg)
	}

	var out lookupResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: unmarshal response: %v", ErrOracle, err)
	}
	if out.ErrCode == nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: response missing errcode", ErrOracle)
	}
	if *out.ErrCode != 0 {
		return withdrawal.Claim{}, fmt.Errorf("%w: errcode %d: %s", ErrOracle, *out.ErrCode, out.ErrMsg)
	}
	if out.Data == nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: response missing data", ErrOracle)
	}

	res, ok := pickResult(out.Data.Results, id)
	if !ok {
		return withdrawal.Claim{}, fmt.Errorf("%w: no record for %s", ErrNotReady, id)
	}
	return parseClaim(res.ClaimInfo, id)
}

// pickResult prefers the entry whose echoed hash matches id and falls back to the first entry when the
// oracle omits hashes.
func pickResult(results []lookupResult, id withdrawal.ID) (lookupResult, bool) {
	for _, r := range results {
		if strings.TrimSpace(r.Hash) == "" {
			continue
		}
		got, err := withdrawal.ParseID(r.Hash)
		if err == nil && got == id {
			return r, true
		}
	}
	for _, r := range results {
		if strings.TrimSpace(r.Hash) == "" {
			return r, true
		}
	}
	return lookupResult{}, false
}

func parseClaim(ci *claimInfo, id withdrawal.ID) (withdrawal.Claim, error) {
	if ci == nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: %s has no claim info", ErrNotReady, id)
	}
	if !bool(ci.Claimable) {
		return withdrawal.Claim{}, fmt.Errorf("%w: %s not claimable", ErrNotReady, id)
	}
	if ci.Proof == nil || ci.Proof.BatchIndex == "" || strings.TrimSpace(ci.Proof.MerkleProof) == "" {
		return withdrawal.Claim{}, fmt.Errorf("%w: %s missing proof", ErrNotReady, id)
	}

	if !common.IsHexAddress(strings.TrimSpace(ci.From)) {
		return withdrawal.Claim{}, fmt.Errorf("%w: invalid from %q", ErrOracle, ci.From)
	}
	value, err := ci.Value.Int()
	if err != nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: value: %v", ErrOracle, err)
	}
	nonce, err := ci.Nonce.Int()
	if err != nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: nonce: %v", ErrOracle, err)
	}
	batch, err := ci.Proof.BatchIndex.Int()
	if err != nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: batch index: %v", ErrOracle, err)
	}
	msg, err := decodeHex(ci.Message)
	if err != nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: message: %v", ErrOracle, err)
	}
	proof, err := decodeHex(ci.Proof.MerkleProof)
	if err != nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: merkle proof: %v", ErrOracle, err)
	}

	claim := withdrawal.Claim{
		From:         common.HexToAddress(strings.TrimSpace(ci.From)),
		Value:        value,
		MessageNonce: nonce,
		Message:      msg,
		BatchIndex:   batch,
		MerkleProof:  proof,
	}
	if err := claim.Validate(); err != nil {
		return withdrawal.Claim{}, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	return claim, nil
}

// flexBool accepts true, false, "true" and "false".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch strings.ToLower(strings.Trim(s, `"`)) {
	case "true":
		*b = true
	case "false", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid bool %s", s)
	}
	return nil
}

// flexNumber holds a non-negative integer sent either as a JSON string or a JSON number.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*n = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*n = flexNumber(strings.TrimSpace(v))
		return nil
	}
	*n = flexNumber(s)
	return nil
}

func (n flexNumber) Int() (*big.Int, error) {
	s := string(n)
	if s == "" {
		return nil, errors.New("missing")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("not a non-negative decimal: %q", s)
	}
	return v, nil
}

func joinPath(basePath string, suffix string) string {
	if basePath == "" {
		basePath = "/"
	}
	return path.Join(basePath, suffix)
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrOracle, err)
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("%w: response too large", ErrOracle)
	}
	return b, nil
}

func decodeHex(v string) ([]byte, error) {
	s := strings.TrimSpace(v)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return []byte{}, nil
	}
	return hex.DecodeString(s)
}
