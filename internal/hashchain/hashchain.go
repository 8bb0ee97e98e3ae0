// Package hashchain computes and verifies the hash links between successive
// ledger entries. All functions are pure; persistence lives elsewhere.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"taxledger/internal/domain"
)

// Compute returns the hex sha256 digest of an entry's immutable fields plus
// its previous hash. The serialization is a fixed field order joined by
// newlines, so the digest is stable across platforms.
func Compute(e *domain.LedgerEntry) string {
	parts := []string{
		strconv.FormatInt(e.Sequence, 10),
		string(e.EventType),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Payload),
		e.PreviousHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

// Verify walks entries in order, recomputing every digest and checking the
// previous-hash linkage and sequence contiguity. It fails closed: the first
// mismatch, gap or broken link returns ok=false with the offending index.
// brokenAt is -1 when the chain is intact.
func Verify(entries []domain.LedgerEntry) (ok bool, brokenAt int) {
	prev := domain.GenesisHash
	for i := range entries {
		e := &entries[i]
		if e.Sequence != int64(i)+1 {
			return false, i
		}
		if e.PreviousHash != prev {
			return false, i
		}
		if Compute(e) != e.CurrentHash {
			return false, i
		}
		prev = e.CurrentHash
	}
	return true, -1
}
