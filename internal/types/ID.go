package types

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ID is the opaque 32-byte identity used for managers, strategies, pools, mints and treasuries.
// The zero value is the "default key" and is rejected wherever an identity is required.
type ID = solana.PublicKey

// ParseID decodes a base58 identity.
func ParseID(s string) (ID, error) {
	id, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid identity %q: %w", s, err)
	}
	return id, nil
}

// IDFromBytes builds an identity from raw bytes; shorter inputs are left-aligned and zero padded.
func IDFromBytes(b []byte) ID {
	var id ID
	copy(id[:], b)
	return id
}
