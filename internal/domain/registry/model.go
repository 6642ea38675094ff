package registry

import (
	"strings"

	"github.com/ehr/medledger/internal/domain/access"
)

// Entry is one registered payload in a patient's ordered data sequence.
type Entry struct {
	PatientID      string           `json:"patient_id"`
	Index          int              `json:"index"`
	ContentHash    string           `json:"content_hash"`
	StoragePointer string           `json:"storage_pointer"`
	Registrant     access.Principal `json:"registrant"`
	RegisteredAt   int64            `json:"registered_at"`
	Active         bool             `json:"active"`
}

// HashRef locates the entry that reserved a content hash.
type HashRef struct {
	PatientID string `json:"patient_id"`
	Index     int    `json:"index"`
}

// NormalizeHash trims, lower-cases and strips a 0x prefix so that the same
// digest always compares equal.
func NormalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimPrefix(h, "0x")
}
