package withdrawfinalizer

import (
	"context"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/blobstore"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/eth"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type claimArtifact struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	From        string    `json:"from"`
	Value       string    `json:"value"`
	Nonce       string    `json:"nonce"`
	Message     string    `json:"message"`
	BatchIndex  string    `json:"batch_index"`
	MerkleProof string    `json:"merkle_proof"`
	FetchedAt   time.Time `json:"fetched_at"`
}

type submissionArtifact struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	TxHash    string    `json:"tx_hash"`
	From      string    `json:"from"`
	Nonce     uint64    `json:"nonce"`
	Bridge    string    `json:"bridge"`
	Messenger string    `json:"messenger"`
	GasPrice  string    `json:"gas_price"`
	Calldata  string    `json:"calldata"`
	SentAt    time.Time `json:"sent_at"`
	Replaces  []string  `json:"replaces,omitempty"`
}

// Artifact writes never fail the relay; they are an audit trail only.
func (a *attempt) saveClaim(ctx context.Context, c withdrawal.Claim) {
	if a.f.blobStore == nil {
		return
	}
	doc := claimArtifact{
		ID:          a.id.String(),
		Kind:        a.kind.String(),
		From:        c.From.Hex(),
		Value:       c.Value.String(),
		Nonce:       c.MessageNonce.String(),
		Message:     hexutil.Encode(c.Message),
		BatchIndex:  c.BatchIndex.String(),
		MerkleProof: hexutil.Encode(c.MerkleProof),
		FetchedAt:   a.f.cfg.Now().UTC(),
	}
	if err := blobstore.PutJSON(ctx, a.f.blobStore, blobstore.ClaimKey(a.id), doc); err != nil {
		a.log.Warn("store claim artifact", "err", err)
	}
}

func (a *attempt) saveSubmission(ctx context.Context, s eth.Submission) {
	if a.f.blobStore == nil {
		return
	}
	doc := submissionArtifact{
		ID:        a.id.String(),
		Kind:      a.kind.String(),
		TxHash:    s.TxHash.Hex(),
		From:      s.From.Hex(),
		Nonce:     s.Nonce,
		Bridge:    s.Bridge.Hex(),
		Messenger: s.Messenger.Hex(),
		Calldata:  hexutil.Encode(s.Data),
		SentAt:    s.SentAt.UTC(),
	}
	if s.GasPrice != nil {
		doc.GasPrice = s.GasPrice.String()
	}
	for _, h := range s.Replaces {
		doc.Replaces = append(doc.Replaces, h.Hex())
	}
	if err := blobstore.PutJSON(ctx, a.f.blobStore, blobstore.SubmissionKey(a.id), doc); err != nil {
		a.log.Warn("store submission artifact", "err", err)
	}
}
