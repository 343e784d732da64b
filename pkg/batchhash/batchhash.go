package batchhash

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// TimestampLayout is the ISO-8601 form hashed for each record (UTC, milliseconds).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type Record struct {
	ID        string
	Event     string
	CreatedAt string
}

func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Canonical renders records as "id:event:createdAt" joined by "|".
func Canonical(records []Record) string {
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteString("|")
		}
		b.WriteString(r.ID)
		b.WriteString(":")
		b.WriteString(r.Event)
		b.WriteString(":")
		b.WriteString(r.CreatedAt)
	}
	return b.String()
}

// Sum is the Keccak-256 of the canonical batch string.
func Sum(records []Record) [32]byte {
	return Keccak([]byte(Canonical(records)))
}

func Keccak(data []byte) [32]byte {
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	copy(out[:], h.Sum(nil))
	return out
}

func Hex(sum [32]byte) string {
	return "0x" + hex.EncodeToString(sum[:])
}
