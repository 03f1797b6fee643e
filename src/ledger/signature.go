package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/stake-plus/nexvote/src/types"
)

// signingContext is the sr25519 context wallets use for raw message signing.
var signingContext = []byte("substrate")

// SignedMessage is the payload a voter signs.
func SignedMessage(proposalID string, choice types.Choice, timestamp int64) string {
	return fmt.Sprintf("nexvote:%s:%s:%d", proposalID, choice, timestamp)
}

// decodePublicKey accepts an SS58 address or a 0x-prefixed hex key.
func decodePublicKey(addr string) ([]byte, error) {
	if strings.HasPrefix(addr, "0x") {
		return hex.DecodeString(addr[2:])
	}
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("invalid ss58 address")
	}
	// network ids 0..63 take one byte, 64..16383 take two
	prefixLen := 1
	switch {
	case raw[0] >= 128:
		return nil, fmt.Errorf("invalid ss58 address: reserved prefix")
	case raw[0] >= 64:
		prefixLen = 2
	}
	if len(raw) != prefixLen+32+2 {
		return nil, fmt.Errorf("invalid ss58 address length: %d", len(raw))
	}
	body := raw[:len(raw)-2]
	if !bytes.Equal(ss58Checksum(body), raw[len(raw)-2:]) {
		return nil, fmt.Errorf("invalid ss58 checksum")
	}
	return raw[prefixLen : prefixLen+32], nil
}

// ss58Checksum is the first two bytes of blake2b-512("SS58PRE" || prefix || key).
func ss58Checksum(body []byte) []byte {
	h := blake2b.Sum512(append([]byte("SS58PRE"), body...))
	return h[:2]
}

// VerifySignedMeta checks the sr25519 signature over SignedMessage.
func VerifySignedMeta(proposalID string, choice types.Choice, meta types.SignedMeta) error {
	pub, err := decodePublicKey(meta.PublicKey)
	if err != nil {
		return err
	}
	if len(pub) != 32 {
		return fmt.Errorf("invalid public key length: %d", len(pub))
	}
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(meta.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sigBytes) != 64 {
		return fmt.Errorf("invalid signature length: %d", len(sigBytes))
	}

	var pkRaw [32]byte
	copy(pkRaw[:], pub)
	var sigRaw [64]byte
	copy(sigRaw[:], sigBytes)

	var pk schnorrkel.PublicKey
	if err := pk.Decode(pkRaw); err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	var sig schnorrkel.Signature
	if err := sig.Decode(sigRaw); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	msg := SignedMessage(proposalID, choice, meta.Timestamp)
	ok, err := pk.Verify(&sig, schnorrkel.NewSigningContext(signingContext, []byte(msg)))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
