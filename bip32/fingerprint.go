// Package bip32 contains the small BIP32 value types that a wallet backup
// stores: key fingerprints and derivation paths. The derivation math itself
// lives in btcutil/hdkeychain, these types only carry and format the values.
package bip32

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

// FingerprintLen is the size in bytes of a BIP32 key fingerprint.
const FingerprintLen = 4

var (
	// ErrInvalidFingerprint is returned when a fingerprint string is not
	// exactly eight hex characters.
	ErrInvalidFingerprint = errors.New("fingerprint must be 8 hex " +
		"characters")
)

// Fingerprint is the first four bytes of the hash160 of a public key. When
// the key is a BIP32 master key, the fingerprint is the handle other wallets
// use to refer to the signer without embedding the key itself.
type Fingerprint [FingerprintLen]byte

// ParseFingerprint parses the canonical eight character hex form of a
// fingerprint. Upper case hex is accepted.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint

	if len(s) != hex.EncodedLen(FingerprintLen) {
		return fp, fmt.Errorf("%w: got %q", ErrInvalidFingerprint, s)
	}

	if _, err := hex.Decode(fp[:], []byte(strings.ToLower(s))); err != nil {
		return fp, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}

	return fp, nil
}

// FingerprintFromPubKey computes the fingerprint of the given serialized
// public key. The caller decides which serialization is hashed, BIP32 uses
// the compressed form while x-only keys hash their 32 byte form.
func FingerprintFromPubKey(serializedKey []byte) Fingerprint {
	var fp Fingerprint
	copy(fp[:], btcutil.Hash160(serializedKey)[:FingerprintLen])

	return fp
}

// FingerprintFromKey computes the fingerprint of a public key using its
// compressed serialization.
func FingerprintFromKey(pub *btcec.PublicKey) Fingerprint {
	return FingerprintFromPubKey(pub.SerializeCompressed())
}

// Uint32 returns the fingerprint as the big endian integer btcwallet uses for
// its MasterKeyFingerprint fields.
func (f Fingerprint) Uint32() uint32 {
	return uint32(f[0])<<24 | uint32(f[1])<<16 | uint32(f[2])<<8 |
		uint32(f[3])
}

// String returns the lowercase hex form of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero returns true if all bytes of the fingerprint are zero.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler. It is also what makes a
// Fingerprint usable as a JSON object key.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	fp, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}

	*f = fp

	return nil
}
