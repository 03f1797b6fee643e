// Package fingerprint builds the tamper-evident content commitments anchored
// on the registry. A fingerprint is SHA-256 over compact JSON with fields in a
// fixed order, hex encoded with a 0x prefix. The byte layout must stay stable:
// auditors replay it from stored rows.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	Prefix = "0x"

	// timestamps match ECMAScript Date.toISOString
	isoLayout = "2006-01-02T15:04:05.000Z"
)

// ISO formats t the way every fingerprinted timestamp is written.
func ISO(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// Proposal is the creation commitment. Title and Text are the canonical
// English forms.
type Proposal struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	CommunityID string `json:"communityId"`
	Category    string `json:"category"`
	CreatedBy   string `json:"createdBy"`
	RegionCode  string `json:"regionCode"`
	Deadline    string `json:"deadline"`
}

// Result is the finalization commitment.
type Result struct {
	ProposalID   string `json:"proposalId"`
	YesCount     int64  `json:"yesCount"`
	NoCount      int64  `json:"noCount"`
	AbstainCount int64  `json:"abstainCount"`
	Status       string `json:"status"`
	FinalizedBy  string `json:"finalizedBy"`
	FinalizedAt  string `json:"finalizedAt"`
}

// StatusUpdate is the commitment for an administrative status change.
// Description is omitted from the payload when empty.
type StatusUpdate struct {
	ProposalID  string `json:"proposalId"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	UpdatedBy   string `json:"updatedBy"`
	UpdatedAt   string `json:"updatedAt"`
}

// Of hashes any of the payload structs above.
func Of(payload any) (string, error) {
	b, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:]), nil
}

// Canonical returns the exact bytes that get hashed.
func Canonical(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode fingerprint payload: %w", err)
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators writes U+2028 and U+2029 raw, as JSON.stringify
// does. encoding/json always escapes them.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 == len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+6 <= len(b) {
			switch string(b[i : i+6]) {
			case `\u2028`:
				out = append(out, "\u2028"...)
				i += 5
				continue
			case `\u2029`:
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		// keep the escape pair together so an escaped backslash is never
		// read as the start of a sequence
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// Bytes32 decodes a 0x-prefixed fingerprint into the registry word.
func Bytes32(fp string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(fp, Prefix))
	if err != nil {
		return out, fmt.Errorf("decode fingerprint: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("fingerprint must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// RegistryKey is the first 64 bits of the id's hex digits, as 16 hex chars.
func RegistryKey(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("registry key: %w", err)
	}
	return hex.EncodeToString(u[:8]), nil
}

// RegistryID interprets a registry key as the registry's numeric id.
func RegistryID(key string) (uint64, error) {
	return strconv.ParseUint(key, 16, 64)
}
