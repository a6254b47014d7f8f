// Package backup implements the latest generation of the wallet backup
// format: a JSON document holding every account of a wallet, the metadata of
// the keys that can sign for it and enough history to restore the wallet
// without its original signing device.
package backup

import (
	"sort"

	"github.com/lightningnetwork/walletbackup/bip32"
	"github.com/lightningnetwork/walletbackup/descriptor"
	"github.com/lightningnetwork/walletbackup/labels"
)

// Version is the schema generation implemented by this package.
const Version uint32 = 2

// Backup is the root envelope of a wallet backup.
type Backup struct {
	// Name is an optional name of the wallet.
	Name *string

	// Description is an optional free text description of the wallet.
	Description *string

	// Accounts are the accounts of the wallet in the order they were
	// added.
	Accounts []Account

	// Network is the network every account descriptor must be valid for.
	Network Network

	// Proprietary holds application specific data.
	Proprietary Proprietary
}

// New returns an empty backup for the given network.
func New(network Network) *Backup {
	return &Backup{Network: network}
}

// AccountByName returns the index of the first account with the given name.
func (b *Backup) AccountByName(name string) (int, bool) {
	for i := range b.Accounts {
		if b.Accounts[i].Name != nil && *b.Accounts[i].Name == name {
			return i, true
		}
	}

	return 0, false
}

// Account is one output script descriptor of the wallet along with its key
// metadata and history.
type Account struct {
	// Name is an optional account name.
	Name *string

	// Description is an optional free text description.
	Description *string

	// Descriptor is the output script descriptor of the account.
	Descriptor descriptor.Descriptor

	// Active is false for accounts kept only for their history.
	Active bool

	// ReceiveIndex is the last used receive address index.
	ReceiveIndex *uint32

	// ChangeIndex is the last used change address index.
	ChangeIndex *uint32

	// Timestamp is the unix time in seconds of the account's birthday.
	Timestamp *uint64

	// Keys holds the metadata of the account's signers, keyed by master
	// fingerprint.
	Keys map[bip32.Fingerprint]Key

	// Labels are the BIP329 labels of the account.
	Labels *labels.Set

	// Transactions are historical transactions of the account.
	Transactions []Transaction

	// PSBTs are in-flight partially signed transactions.
	PSBTs []PSBT

	// Mnemonic is the optional seed phrase of a single signer wallet.
	Mnemonic *Mnemonic

	// Proprietary holds application specific data.
	Proprietary Proprietary
}

// NewAccount returns an active account for the descriptor with every
// optional field absent.
func NewAccount(desc descriptor.Descriptor) Account {
	return Account{
		Descriptor: desc,
		Active:     true,
	}
}

// PopulateKeys adds a bare entry for every master fingerprint referenced by
// the descriptor that doesn't have one yet. It returns the number of entries
// added.
func (a *Account) PopulateKeys() int {
	if a.Keys == nil {
		a.Keys = make(map[bip32.Fingerprint]Key)
	}

	var added int
	for _, fp := range a.Descriptor.Fingerprints() {
		if _, ok := a.Keys[fp]; ok {
			continue
		}

		a.Keys[fp] = NewKey(fp)
		added++
	}

	return added
}

// StaleKeys returns the fingerprints of the key entries that no descriptor
// key belongs to, in ascending order.
func (a *Account) StaleKeys() []bip32.Fingerprint {
	var stale []bip32.Fingerprint
	for fp := range a.Keys {
		if !a.Descriptor.HasFingerprint(fp) {
			stale = append(stale, fp)
		}
	}

	sortFingerprints(stale)

	return stale
}

// SortedKeys returns the key entries in encoding order.
func (a *Account) SortedKeys() []Key {
	fps := make([]bip32.Fingerprint, 0, len(a.Keys))
	for fp := range a.Keys {
		fps = append(fps, fp)
	}
	sortFingerprints(fps)

	keys := make([]Key, 0, len(fps))
	for _, fp := range fps {
		keys = append(keys, a.Keys[fp])
	}

	return keys
}

func sortFingerprints(fps []bip32.Fingerprint) {
	sort.Slice(fps, func(i, j int) bool {
		return fps[i].String() < fps[j].String()
	})
}
