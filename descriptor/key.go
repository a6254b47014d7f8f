package descriptor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/walletbackup/bip32"
)

// pubKeyBytesLenUncompressed is the length of an uncompressed SEC1 public
// key.
const pubKeyBytesLenUncompressed = 65

var (
	// ErrPrivateKey is returned when a key expression carries private key
	// material. A backup only ever stores public descriptors.
	ErrPrivateKey = errors.New("private keys are not allowed in a " +
		"public descriptor")

	// ErrInvalidKey is returned when a key expression can't be parsed.
	ErrInvalidKey = errors.New("invalid descriptor key")

	// ErrInvalidOrigin is returned when the [fingerprint/path] prefix of a
	// key expression is malformed.
	ErrInvalidOrigin = errors.New("invalid key origin")
)

// KeyOrigin is the optional [fingerprint/path] prefix of a key expression. It
// names the master key the key was derived from and the path used.
type KeyOrigin struct {
	// Fingerprint is the fingerprint of the master key.
	Fingerprint bip32.Fingerprint

	// Path is the derivation path from the master key to this key. It is
	// empty when the key is the master key itself.
	Path bip32.Path
}

// String returns the origin in its bracketed descriptor form.
func (o KeyOrigin) String() string {
	// bip32.Path always starts with m, which origins leave out.
	return "[" + o.Fingerprint.String() +
		strings.TrimPrefix(o.Path.String(), "m") + "]"
}

// PublicKey is a single key expression of an output descriptor: either a bare
// public key or an extended public key with an optional derivation suffix,
// either of which may carry a key origin.
type PublicKey struct {
	origin fn.Option[KeyOrigin]

	// pubKey is the bare public key. For extended keys it is the public
	// key of the extended key itself.
	pubKey *btcec.PublicKey

	// xOnly is set for 32 byte BIP340 keys.
	xOnly bool

	// uncompressed is set for 65 byte legacy keys.
	uncompressed bool

	// extKey is non-nil for extended keys.
	extKey *hdkeychain.ExtendedKey

	// extKeyStr is the base58 form of extKey, kept as given.
	extKeyStr string

	// suffix is the derivation applied below the extended key, for
	// example "/0/*" or "/<0;1>/*".
	suffix string
}

// ParsePublicKey parses a single descriptor key expression.
func ParsePublicKey(s string) (PublicKey, error) {
	var key PublicKey

	body := strings.TrimSpace(s)
	if strings.HasPrefix(body, "[") {
		end := strings.IndexByte(body, ']')
		if end < 0 {
			return key, fmt.Errorf("%w: missing ']' in %q",
				ErrInvalidOrigin, s)
		}

		origin, err := parseOrigin(body[1:end])
		if err != nil {
			return key, err
		}
		key.origin = fn.Some(origin)
		body = body[end+1:]
	}

	if body == "" {
		return key, fmt.Errorf("%w: empty key in %q", ErrInvalidKey, s)
	}

	if raw, err := hex.DecodeString(body); err == nil {
		return key, key.setSingle(raw)
	}

	return key, key.setExtended(body)
}

// parseOrigin parses the inside of a [fingerprint/path] origin.
func parseOrigin(s string) (KeyOrigin, error) {
	var origin KeyOrigin

	fpStr, pathStr, hasPath := strings.Cut(s, "/")

	fp, err := bip32.ParseFingerprint(fpStr)
	if err != nil {
		return origin, fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	origin.Fingerprint = fp

	if !hasPath {
		origin.Path = bip32.Path{}
		return origin, nil
	}

	origin.Path, err = bip32.ParsePath(pathStr)
	if err != nil {
		return origin, fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}

	return origin, nil
}

// setSingle populates the key from raw bare public key bytes.
func (k *PublicKey) setSingle(raw []byte) error {
	var err error
	switch len(raw) {
	case btcec.PubKeyBytesLenCompressed:
		k.pubKey, err = btcec.ParsePubKey(raw)

	case pubKeyBytesLenUncompressed:
		k.pubKey, err = btcec.ParsePubKey(raw)
		k.uncompressed = true

	case schnorr.PubKeyBytesLen:
		k.pubKey, err = schnorr.ParsePubKey(raw)
		k.xOnly = true

	default:
		return fmt.Errorf("%w: public key of %d bytes", ErrInvalidKey,
			len(raw))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return nil
}

// setExtended populates the key from an extended key with an optional
// derivation suffix.
func (k *PublicKey) setExtended(body string) error {
	base, suffix, _ := strings.Cut(body, "/")

	extKey, err := hdkeychain.NewKeyFromString(base)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidKey, base, err)
	}
	if extKey.IsPrivate() {
		return ErrPrivateKey
	}

	k.pubKey, err = extKey.ECPubKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	k.extKey = extKey
	k.extKeyStr = base

	if suffix == "" {
		return nil
	}

	normalized, err := normalizeSuffix(suffix)
	if err != nil {
		return err
	}
	k.suffix = normalized

	return nil
}

// normalizeSuffix checks each level of a derivation suffix and rewrites the
// h/H hardened markers to '.
func normalizeSuffix(suffix string) (string, error) {
	levels := strings.Split(suffix, "/")
	for i, level := range levels {
		hardened := false
		switch {
		case strings.HasSuffix(level, "'"),
			strings.HasSuffix(level, "h"),
			strings.HasSuffix(level, "H"):

			hardened = true
			level = level[:len(level)-1]
		}

		switch {
		case level == "*":

		// Multipath levels, <0;1>, carry a set of indices.
		case strings.HasPrefix(level, "<") &&
			strings.HasSuffix(level, ">"):

			indices := strings.Split(level[1:len(level)-1], ";")
			for _, idx := range indices {
				if !isIndex(idx) {
					return "", fmt.Errorf("%w: bad "+
						"multipath level %q",
						ErrInvalidKey, level)
				}
			}

		case isIndex(level):

		default:
			return "", fmt.Errorf("%w: bad derivation level %q",
				ErrInvalidKey, levels[i])
		}

		if hardened {
			level += "'"
		}
		levels[i] = level
	}

	return "/" + strings.Join(levels, "/"), nil
}

// isIndex returns true if s is a plain decimal child index.
func isIndex(s string) bool {
	if s == "" || len(s) > 10 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}

// Origin returns the key origin, if the expression carried one.
func (k PublicKey) Origin() fn.Option[KeyOrigin] {
	return k.origin
}

// IsExtended returns true if this is an extended public key expression.
func (k PublicKey) IsExtended() bool {
	return k.extKey != nil
}

// PubKey returns the bare public key behind the expression. For extended keys
// this is the key of the extended key itself, before the suffix is applied.
func (k PublicKey) PubKey() *btcec.PublicKey {
	return k.pubKey
}

// MasterFingerprint returns the fingerprint of the master key this key
// belongs to. When an origin is present its fingerprint is used, otherwise
// the key is assumed to be its own master and its fingerprint is computed
// from the public key.
func (k PublicKey) MasterFingerprint() bip32.Fingerprint {
	originFingerprint := fn.MapOption(func(o KeyOrigin) bip32.Fingerprint {
		return o.Fingerprint
	})

	return originFingerprint(k.origin).Alt(k.ownFingerprint()).UnwrapOr(
		bip32.Fingerprint{},
	)
}

// ownFingerprint is the hash160 fingerprint of the key material itself.
// X-only keys are hashed as their even-y compressed form.
func (k PublicKey) ownFingerprint() fn.Option[bip32.Fingerprint] {
	if k.pubKey == nil {
		return fn.None[bip32.Fingerprint]()
	}

	if k.uncompressed {
		return fn.Some(bip32.FingerprintFromPubKey(
			k.pubKey.SerializeUncompressed(),
		))
	}

	return fn.Some(bip32.FingerprintFromKey(k.pubKey))
}

// IsForNet returns true if the key may be used on the given network. Bare
// keys carry no network and are valid everywhere, extended keys are checked
// against the network's BIP32 version bytes.
func (k PublicKey) IsForNet(params *chaincfg.Params) bool {
	if k.extKey == nil {
		return true
	}

	return k.extKey.IsForNet(params)
}

// String returns the canonical key expression: lowercase origin fingerprint,
// ' as the hardened marker and the key material as parsed.
func (k PublicKey) String() string {
	var b strings.Builder
	k.origin.WhenSome(func(o KeyOrigin) {
		b.WriteString(o.String())
	})

	switch {
	case k.extKey != nil:
		b.WriteString(k.extKeyStr)
		b.WriteString(k.suffix)

	case k.pubKey == nil:

	case k.xOnly:
		b.WriteString(hex.EncodeToString(
			schnorr.SerializePubKey(k.pubKey),
		))

	case k.uncompressed:
		b.WriteString(hex.EncodeToString(
			k.pubKey.SerializeUncompressed(),
		))

	default:
		b.WriteString(hex.EncodeToString(
			k.pubKey.SerializeCompressed(),
		))
	}

	return b.String()
}

// Equal reports whether both expressions are the same canonical key.
func (k PublicKey) Equal(other PublicKey) bool {
	return k.String() == other.String()
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	if k.pubKey == nil {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	key, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}

	*k = key

	return nil
}
