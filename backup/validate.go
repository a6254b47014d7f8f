package backup

import (
	"fmt"

	"github.com/lightningnetwork/walletbackup/bip32"
	"github.com/lightningnetwork/walletbackup/descriptor"
)

// NetworkMismatchError is returned by Validate when a descriptor key can't be
// used on the network of the backup.
type NetworkMismatchError struct {
	// Account is the index of the offending account.
	Account int

	// Key is the key expression that doesn't belong to the network.
	Key descriptor.PublicKey

	// Network is the network of the backup.
	Network Network
}

// Error implements the error interface.
func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("account %d: key %v is not valid for network %v",
		e.Account, e.Key, e.Network)
}

// KeyMismatchError is returned by Validate when a key map entry is stored
// under an identifier other than its own key.
type KeyMismatchError struct {
	// Account is the index of the offending account.
	Account int

	// ID is the identifier the entry is stored under.
	ID string

	// Key is the identifier the entry carries.
	Key string
}

// Error implements the error interface.
func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("account %d: key entry %s carries key %s",
		e.Account, e.ID, e.Key)
}

// Validate checks the invariants of the backup that decoding alone doesn't
// enforce. Stale key entries are allowed and only logged.
func (b *Backup) Validate() error {
	params := b.Network.Params()

	for i := range b.Accounts {
		acct := &b.Accounts[i]

		if acct.Descriptor.IsZero() {
			return fmt.Errorf("account %d: %w", i,
				descriptor.ErrEmptyDescriptor)
		}

		if bad := acct.Descriptor.KeysNotForNet(params); len(bad) > 0 {
			return &NetworkMismatchError{
				Account: i,
				Key:     bad[0],
				Network: b.Network,
			}
		}

		for fp, key := range acct.Keys {
			if fp != key.Key {
				return &KeyMismatchError{
					Account: i,
					ID:      fp.String(),
					Key:     key.Key.String(),
				}
			}

			err := validateBIP85Path(key.BIP85DerivationPath)
			if err != nil {
				return fmt.Errorf("account %d: key %v: %w", i,
					fp, err)
			}
		}

		for _, fp := range acct.StaleKeys() {
			log.Warnf("Account %d has metadata for key %v which "+
				"its descriptor doesn't use", i, fp)
		}
	}

	return nil
}

func validateBIP85Path(path bip32.Path) error {
	if path == nil || path.IsHardened() {
		return nil
	}

	return fmt.Errorf("bip85 derivation path %v must be fully hardened",
		path)
}
