/*
signature.go - Configuration signature computation

PURPOSE:
  A ConfigSignature is the canonical content hash of one split leg's
  ordered participant list. Two certificates sharing a signature carry
  commercially identical structures, which makes the signature the
  principal deduplication key for the whole pipeline.

STABILITY CONTRACT:
  The signature is a pure function of the participant list. It must not
  depend on processing order, map iteration, or any accumulated state:
  the classifier parallelizes per group and relies on signatures being
  reproducible on every worker and every run.

CANONICAL FORM:
  Participants are sorted by (level, broker), percentages are normalized
  to a fixed-exponent decimal string, and the fields are joined with
  unambiguous separators before hashing with SHA-256.
*/
package commission

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// ConfigSignature is the canonical hash of an ordered participant list.
type ConfigSignature string

// ComputeSignature derives the signature for one participant chain.
// The input slice is not modified.
func ComputeSignature(participants []Participant) ConfigSignature {
	chain := make([]Participant, len(participants))
	copy(chain, participants)
	SortParticipants(chain)

	var b strings.Builder
	for _, p := range chain {
		b.WriteString(strconv.Itoa(p.Level))
		b.WriteByte('|')
		b.WriteString(string(p.Broker))
		b.WriteByte('|')
		// Fixed exponent so 70, 70.0 and 70.00 hash identically.
		b.WriteString(p.Percent.StringFixed(4))
		b.WriteByte('|')
		b.WriteString(string(p.Schedule))
		b.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return ConfigSignature(hex.EncodeToString(sum[:]))
}
