package upload

import (
	"context"
	"fmt"
)

// FingerprintLookup is the slice of the repository the gate needs.
type FingerprintLookup interface {
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
}

// Gate answers whether content was stored before. It only saves blob
// writes; the repository's uniqueness constraint has the final say.
type Gate struct {
	lookup FingerprintLookup
}

func NewGate(lookup FingerprintLookup) *Gate {
	return &Gate{lookup: lookup}
}

func (g *Gate) IsDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	const op = "upload.Gate.IsDuplicate"

	exists, err := g.lookup.ExistsByFingerprint(ctx, fingerprint)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}
