package blobstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
)

const contentTypeJSON = "application/json"

// Artifacts live under withdrawals/<id>/.
func ClaimKey(id withdrawal.ID) string      { return "withdrawals/" + id.String() + "/claim.json" }
func SubmissionKey(id withdrawal.ID) string { return "withdrawals/" + id.String() + "/submission.json" }

func PutJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("blobstore: marshal %q: %w", key, err)
	}
	return s.Put(ctx, key, append(b, '\n'), contentTypeJSON)
}

func GetJSON(ctx context.Context, s Store, key string, v any) error {
	obj, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return fmt.Errorf("blobstore: decode %q: %w", key, err)
	}
	return nil
}
