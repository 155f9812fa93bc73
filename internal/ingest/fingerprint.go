package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/quarrylabs/kbindex/internal/models"
)

// ComputeFingerprint derives the content identity of a document from its raw
// bytes. Deterministic: the same bytes always hash to the same fingerprint.
func ComputeFingerprint(doc models.SourceDocument, raw []byte) models.Fingerprint {
	sum := sha256.Sum256(raw)
	return models.Fingerprint{
		Collection:  doc.Collection,
		Path:        doc.Path,
		ContentHash: hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(raw)),
		ComputedAt:  time.Now().UTC(),
	}
}

// ShouldProcess reports whether the document needs (re)indexing. False only
// when a previously committed fingerprint exists with the same content hash.
func ShouldProcess(existing *models.Fingerprint, candidate models.Fingerprint) bool {
	return existing == nil || existing.ContentHash != candidate.ContentHash
}
