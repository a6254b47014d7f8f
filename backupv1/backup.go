// Package backupv1 implements the first generation of the wallet backup
// format. It differs from the latest generation mainly in how the key map is
// keyed: by the full descriptor public key instead of the master fingerprint.
// It is kept to read old documents and to write documents for consumers that
// only understand the first generation.
package backupv1

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/descriptor"
	"github.com/lightningnetwork/walletbackup/labels"
)

// Version is the schema generation implemented by this package.
const Version uint32 = 1

// ErrNotV1 is returned when a document of another generation is handed to
// this package.
var ErrNotV1 = errors.New("document is not a version 1 backup")

// Backup is the root envelope of a first generation backup.
type Backup struct {
	// Version is set when the document carried an explicit version field.
	// Documents of this generation usually don't.
	Version *uint32

	// Name is an optional name of the wallet.
	Name *string

	// Accounts are the accounts of the wallet.
	Accounts []Account

	// Network is the network every account descriptor must be valid for.
	Network backup.Network

	// Proprietary holds application specific data.
	Proprietary backup.Proprietary
}

// Account is a first generation account.
type Account struct {
	// Name is an optional account name.
	Name *string

	// Descriptor is the output script descriptor of the account.
	Descriptor descriptor.Descriptor

	// Timestamp is the unix time in seconds of the account's birthday.
	Timestamp *uint64

	// Keys holds the metadata of the account's keys, keyed by the
	// canonical text of the descriptor public key.
	Keys map[string]Key

	// Labels are the BIP329 labels of the account.
	Labels *labels.Set

	// Transactions are historical transactions of the account.
	Transactions []backup.Transaction

	// PSBTs are in-flight partially signed transactions.
	PSBTs []backup.PSBT

	// Proprietary holds application specific data.
	Proprietary backup.Proprietary
}

// Key is the metadata of one descriptor key.
type Key struct {
	// Key is the descriptor public key the metadata belongs to.
	Key descriptor.PublicKey

	// Alias is an optional human readable name.
	Alias *string

	// Role is the optional spending policy role of the key.
	Role *backup.KeyRole

	// KeyType is the optional custody relationship.
	KeyType *backup.KeyType
}

// NewAccount returns an account for the descriptor with every optional field
// absent.
func NewAccount(desc descriptor.Descriptor) Account {
	return Account{Descriptor: desc}
}

// SetKey stores key under its canonical identifier, replacing any previous
// entry.
func (a *Account) SetKey(key Key) {
	if a.Keys == nil {
		a.Keys = make(map[string]Key)
	}

	a.Keys[key.Key.String()] = key
}

// PopulateKeys adds a bare entry for every descriptor key that doesn't have
// one yet and returns the number of entries added.
func (a *Account) PopulateKeys() int {
	var added int
	for _, pub := range a.Descriptor.Keys() {
		if _, ok := a.Keys[pub.String()]; ok {
			continue
		}

		a.SetKey(Key{Key: pub})
		added++
	}

	return added
}

// StaleKeys returns the identifiers of key entries that the descriptor
// doesn't reference, sorted.
func (a *Account) StaleKeys() []string {
	var stale []string
	for id, key := range a.Keys {
		if !a.Descriptor.HasKey(key.Key) {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)

	return stale
}

// Validate checks the invariants of the backup that decoding alone doesn't
// enforce. It reports the same error types as the latest generation.
func (b *Backup) Validate() error {
	params := b.Network.Params()

	for i := range b.Accounts {
		acct := &b.Accounts[i]

		if acct.Descriptor.IsZero() {
			return fmt.Errorf("account %d: %w", i,
				descriptor.ErrEmptyDescriptor)
		}

		if bad := acct.Descriptor.KeysNotForNet(params); len(bad) > 0 {
			return &backup.NetworkMismatchError{
				Account: i,
				Key:     bad[0],
				Network: b.Network,
			}
		}

		for id, key := range acct.Keys {
			if id != key.Key.String() {
				return &backup.KeyMismatchError{
					Account: i,
					ID:      id,
					Key:     key.Key.String(),
				}
			}
		}

		for _, id := range acct.StaleKeys() {
			log.Warnf("Account %d has metadata for key %v which "+
				"its descriptor doesn't use", i, id)
		}
	}

	return nil
}
