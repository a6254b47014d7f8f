// Package descriptor holds output script descriptors as opaque values. A
// descriptor is kept exactly as written, but the key expressions inside it are
// extracted so that callers can map keys to their master fingerprints and
// check them against a network. Script semantics are not interpreted.
package descriptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/walletbackup/bip32"
)

// ErrEmptyDescriptor is returned when an empty string is parsed as a
// descriptor.
var ErrEmptyDescriptor = errors.New("descriptor must not be empty")

// keyFragments are the descriptor and miniscript fragments whose arguments
// are key expressions. Numeric arguments, such as multisig thresholds, are
// skipped.
var keyFragments = map[string]struct{}{
	"pk":            {},
	"pkh":           {},
	"wpkh":          {},
	"combo":         {},
	"multi":         {},
	"sortedmulti":   {},
	"multi_a":       {},
	"sortedmulti_a": {},
	"tr":            {},
	"rawtr":         {},
	"pk_k":          {},
	"pk_h":          {},
}

// opaqueFragments take arguments that look like keys but aren't: hashes,
// timelocks, raw scripts and addresses.
var opaqueFragments = map[string]struct{}{
	"sha256":    {},
	"hash256":   {},
	"ripemd160": {},
	"hash160":   {},
	"older":     {},
	"after":     {},
	"raw":       {},
	"addr":      {},
}

// Descriptor is an output script descriptor, for example
// wsh(sortedmulti(2,[d34db33f/48'/0'/0'/2']xpub.../<0;1>/*,...)).
type Descriptor struct {
	raw  string
	keys []PublicKey
}

// Parse extracts the key expressions of the given descriptor. The string is
// kept verbatim, including any checksum.
func Parse(s string) (Descriptor, error) {
	if strings.TrimSpace(s) == "" {
		return Descriptor{}, ErrEmptyDescriptor
	}

	keys, err := extractKeys(s)
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{raw: s, keys: keys}, nil
}

// MustParse is like Parse but panics on error. It is intended for tests and
// static descriptors.
func MustParse(s string) Descriptor {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return d
}

// extractKeys walks the descriptor and returns the key expressions in the
// order they appear.
func extractKeys(s string) ([]PublicKey, error) {
	body, _, _ := strings.Cut(s, "#")

	var (
		keys  []PublicKey
		stack []string
		start int
	)

	// leaf handles the argument token that ends at the current delimiter.
	leaf := func(token string) error {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil
		}

		var fragment string
		if len(stack) > 0 {
			fragment = stack[len(stack)-1]
		}
		if _, ok := opaqueFragments[fragment]; ok {
			return nil
		}
		if isIndex(token) {
			return nil
		}

		_, isKeyFragment := keyFragments[fragment]
		if !isKeyFragment && !looksLikeKey(token) {
			return nil
		}

		key, err := ParsePublicKey(token)
		if err != nil {
			return fmt.Errorf("key %d (%q) in %s(): %w",
				len(keys), token, fragment, err)
		}
		keys = append(keys, key)

		return nil
	}

	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '(':
			// Miniscript wrappers prefix the fragment name, as in
			// v:pk(...), so only the part after the last ':' counts.
			name := strings.TrimSpace(body[start:i])
			if idx := strings.LastIndexByte(name, ':'); idx >= 0 {
				name = name[idx+1:]
			}
			stack = append(stack, name)
			start = i + 1

		case ',', '{', '}':
			if err := leaf(body[start:i]); err != nil {
				return nil, err
			}
			start = i + 1

		case ')':
			if err := leaf(body[start:i]); err != nil {
				return nil, err
			}
			if len(stack) == 0 {
				return nil, fmt.Errorf("unbalanced ')' at "+
					"offset %d", i)
			}
			stack = stack[:len(stack)-1]
			start = i + 1
		}
	}

	if len(stack) != 0 {
		return nil, fmt.Errorf("unterminated %s(", stack[len(stack)-1])
	}

	return keys, nil
}

// looksLikeKey returns true for tokens that can only be key expressions.
func looksLikeKey(token string) bool {
	if strings.HasPrefix(token, "[") {
		return true
	}

	for _, prefix := range []string{"xpub", "tpub", "xprv", "tprv"} {
		if strings.HasPrefix(token, prefix) {
			return true
		}
	}

	return false
}

// String returns the descriptor exactly as it was parsed.
func (d Descriptor) String() string {
	return d.raw
}

// IsZero returns true for the zero Descriptor.
func (d Descriptor) IsZero() bool {
	return d.raw == ""
}

// Keys returns the key expressions of the descriptor in order of appearance.
func (d Descriptor) Keys() []PublicKey {
	return d.keys
}

// Fingerprints returns the distinct master fingerprints of the descriptor's
// keys in order of first appearance.
func (d Descriptor) Fingerprints() []bip32.Fingerprint {
	seen := make(map[bip32.Fingerprint]struct{}, len(d.keys))
	fps := make([]bip32.Fingerprint, 0, len(d.keys))
	for _, key := range d.keys {
		fp := key.MasterFingerprint()
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		fps = append(fps, fp)
	}

	return fps
}

// HasFingerprint returns true if any key of the descriptor belongs to the
// master key with the given fingerprint.
func (d Descriptor) HasFingerprint(fp bip32.Fingerprint) bool {
	return d.KeyByFingerprint(fp).IsSome()
}

// KeyByFingerprint returns the first key, in descriptor order, whose master
// fingerprint matches.
func (d Descriptor) KeyByFingerprint(
	fp bip32.Fingerprint) fn.Option[PublicKey] {

	for _, key := range d.keys {
		if key.MasterFingerprint() == fp {
			return fn.Some(key)
		}
	}

	return fn.None[PublicKey]()
}

// HasKey returns true if the descriptor contains the given key expression.
func (d Descriptor) HasKey(key PublicKey) bool {
	for _, k := range d.keys {
		if k.Equal(key) {
			return true
		}
	}

	return false
}

// KeysNotForNet returns the keys that can't be used on the given network.
func (d Descriptor) KeysNotForNet(params *chaincfg.Params) []PublicKey {
	var bad []PublicKey
	for _, key := range d.keys {
		if !key.IsForNet(params) {
			bad = append(bad, key)
		}
	}

	return bad
}

// MarshalText implements encoding.TextMarshaler.
func (d Descriptor) MarshalText() ([]byte, error) {
	if d.raw == "" {
		return nil, ErrEmptyDescriptor
	}

	return []byte(d.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Descriptor) UnmarshalText(text []byte) error {
	desc, err := Parse(string(text))
	if err != nil {
		return err
	}

	*d = desc

	return nil
}
