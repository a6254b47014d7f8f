package backup

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/walletbackup/bip32"
)

// ErrUnknownTag is returned when an enumeration tag isn't part of its closed
// set. Unlike proprietary data, enumerations never tolerate unknown values.
var ErrUnknownTag = errors.New("unknown tag")

// KeyRole is the part a key plays in the account's spending policy.
type KeyRole uint8

const (
	// KeyRoleMain is a key used in the normal spending condition.
	KeyRoleMain KeyRole = iota

	// KeyRoleRecovery is a key used to recover funds when the main keys
	// are lost.
	KeyRoleRecovery

	// KeyRoleInheritance is a key that inherits the coins if the main
	// user disappears.
	KeyRoleInheritance

	// KeyRoleCosigning is a key that cosigns spends to enforce a policy.
	KeyRoleCosigning
)

var keyRoleTags = []string{"Main", "Recovery", "Inheritance", "Cosigning"}

// String returns the wire tag of the role.
func (r KeyRole) String() string {
	return tagString(keyRoleTags, uint8(r))
}

// ParseKeyRole parses a role tag.
func ParseKeyRole(s string) (KeyRole, error) {
	idx, err := parseTag(keyRoleTags, "key role", s)
	return KeyRole(idx), err
}

// MarshalText implements encoding.TextMarshaler.
func (r KeyRole) MarshalText() ([]byte, error) {
	return marshalTag(keyRoleTags, "key role", uint8(r))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *KeyRole) UnmarshalText(text []byte) error {
	role, err := ParseKeyRole(string(text))
	if err != nil {
		return err
	}
	*r = role

	return nil
}

// KeyType is the custody relationship between the wallet user and a key.
type KeyType uint8

const (
	// KeyTypeInternal is a key held by the main user.
	KeyTypeInternal KeyType = iota

	// KeyTypeExternal is a key held by heirs or friends.
	KeyTypeExternal

	// KeyTypeThirdParty is a key held by a service the user pays for.
	KeyTypeThirdParty
)

var keyTypeTags = []string{"Internal", "External", "ThirdParty"}

// String returns the wire tag of the key type.
func (t KeyType) String() string {
	return tagString(keyTypeTags, uint8(t))
}

// ParseKeyType parses a key type tag.
func ParseKeyType(s string) (KeyType, error) {
	idx, err := parseTag(keyTypeTags, "key type", s)
	return KeyType(idx), err
}

// MarshalText implements encoding.TextMarshaler.
func (t KeyType) MarshalText() ([]byte, error) {
	return marshalTag(keyTypeTags, "key type", uint8(t))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *KeyType) UnmarshalText(text []byte) error {
	typ, err := ParseKeyType(string(text))
	if err != nil {
		return err
	}
	*t = typ

	return nil
}

// KeyStatus is the lifecycle state of a key.
type KeyStatus uint8

const (
	// KeyStatusActive is a key in use.
	KeyStatusActive KeyStatus = iota

	// KeyStatusInactive is a key that is kept but not expected to sign.
	KeyStatusInactive

	// KeyStatusRevoked is a key that must no longer be trusted.
	KeyStatusRevoked
)

var keyStatusTags = []string{"Active", "Inactive", "Revoked"}

// String returns the wire tag of the status.
func (s KeyStatus) String() string {
	return tagString(keyStatusTags, uint8(s))
}

// ParseKeyStatus parses a key status tag.
func ParseKeyStatus(s string) (KeyStatus, error) {
	idx, err := parseTag(keyStatusTags, "key status", s)
	return KeyStatus(idx), err
}

// MarshalText implements encoding.TextMarshaler.
func (s KeyStatus) MarshalText() ([]byte, error) {
	return marshalTag(keyStatusTags, "key status", uint8(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *KeyStatus) UnmarshalText(text []byte) error {
	status, err := ParseKeyStatus(string(text))
	if err != nil {
		return err
	}
	*s = status

	return nil
}

func tagString(tags []string, idx uint8) string {
	if int(idx) >= len(tags) {
		return fmt.Sprintf("unknown(%d)", idx)
	}

	return tags[idx]
}

func parseTag(tags []string, kind, s string) (uint8, error) {
	for i, tag := range tags {
		if tag == s {
			return uint8(i), nil
		}
	}

	return 0, fmt.Errorf("%w: %q is not a %s", ErrUnknownTag, s, kind)
}

func marshalTag(tags []string, kind string, idx uint8) ([]byte, error) {
	if int(idx) >= len(tags) {
		return nil, fmt.Errorf("%w: %s %d", ErrUnknownTag, kind, idx)
	}

	return []byte(tags[idx]), nil
}

// Key is the metadata attached to one signer of an account. It is keyed by
// the signer's BIP32 master fingerprint.
type Key struct {
	// Key is the master fingerprint of the signer.
	Key bip32.Fingerprint

	// Alias is an optional human readable name.
	Alias *string

	// Role is the optional spending policy role of the key.
	Role *KeyRole

	// KeyType is the optional custody relationship.
	KeyType *KeyType

	// Status is the optional lifecycle state.
	Status *KeyStatus

	// BIP85DerivationPath is set when the key was itself derived from
	// another seed via BIP85. A nil path means absent.
	BIP85DerivationPath bip32.Path
}

// NewKey returns a Key for the given fingerprint with no metadata.
func NewKey(fp bip32.Fingerprint) Key {
	return Key{Key: fp}
}
