package bip32

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const (
	// MaxHardenedValue is the largest index that may carry a hardened
	// marker.
	MaxHardenedValue = math.MaxUint32 - hdkeychain.HardenedKeyStart
)

var (
	// ErrNullPath is returned when an empty string is parsed as a path.
	ErrNullPath = errors.New("derivation path must not be empty")

	// ErrMalformedPath is returned when a path contains empty elements.
	ErrMalformedPath = errors.New("path must not start or end with a " +
		"'/' and can optionally start with 'm/' for absolute paths")
)

// Path is a BIP32 derivation path in its binary form, one uint32 per level
// with hardened levels offset by hdkeychain.HardenedKeyStart.
type Path []uint32

// ParsePath converts a derivation path string to its binary representation.
// Both the m/ prefixed absolute form and the bare relative form are accepted,
// and hardened levels may be marked with ', h or H. A lone "m" denotes the
// empty path of the master key itself.
func ParsePath(strPath string) (Path, error) {
	strPath = strings.TrimSpace(strPath)
	switch strPath {
	case "":
		return nil, ErrNullPath

	case "m":
		return Path{}, nil
	}

	elems := strings.Split(strPath, "/")
	if strings.TrimSpace(elems[0]) == "m" {
		elems = elems[1:]
	}

	path := make(Path, 0, len(elems))
	for _, elem := range elems {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			return nil, ErrMalformedPath
		}

		var value uint32
		if strings.HasSuffix(elem, "'") || strings.HasSuffix(elem, "h") ||
			strings.HasSuffix(elem, "H") {

			value = hdkeychain.HardenedKeyStart
			elem = strings.TrimSpace(elem[:len(elem)-1])
		}

		// Only plain decimal indices are valid in a BIP32 path.
		bigval, ok := new(big.Int).SetString(elem, 10)
		if !ok {
			return nil, fmt.Errorf("invalid elem '%s' in path", elem)
		}

		max := math.MaxUint32 - value
		if bigval.Sign() < 0 || bigval.Cmp(big.NewInt(int64(max))) > 0 {
			if value == 0 {
				return nil, fmt.Errorf("elem %v must be in "+
					"range [0, %d]", bigval, max)
			}

			return nil, fmt.Errorf("elem %v must be in hardened "+
				"range [0, %d]", bigval, max)
		}
		value += uint32(bigval.Uint64())

		path = append(path, value)
	}

	return path, nil
}

// String converts a binary derivation path to its canonical representation,
// always prefixed with m and with hardened levels marked by '.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("m")

	for _, component := range p {
		hardened := component >= hdkeychain.HardenedKeyStart
		if hardened {
			component -= hdkeychain.HardenedKeyStart
		}

		fmt.Fprintf(&b, "/%d", component)
		if hardened {
			b.WriteString("'")
		}
	}

	return b.String()
}

// IsHardened returns true if every level of the path is hardened. BIP85
// derivations are required to be fully hardened.
func (p Path) IsHardened() bool {
	for _, component := range p {
		if component < hdkeychain.HardenedKeyStart {
			return false
		}
	}

	return true
}

// Equal reports whether both paths have the same levels.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}

	return true
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	path, err := ParsePath(string(text))
	if err != nil {
		return err
	}

	*p = path

	return nil
}
