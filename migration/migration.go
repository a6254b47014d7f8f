// Package migration converts wallet backups between the generations of the
// backup format and loads documents of any known generation.
package migration

import (
	"fmt"
	"sort"

	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/backupv1"
	"github.com/lightningnetwork/walletbackup/bip32"
	"github.com/lightningnetwork/walletbackup/descriptor"
)

// FingerprintCollisionError is returned by Upgrade when two keys of an
// account share a master fingerprint but carry different metadata.
type FingerprintCollisionError struct {
	// Account is the index of the offending account.
	Account int

	// Fingerprint is the shared master fingerprint.
	Fingerprint bip32.Fingerprint

	// Keys are the identifiers of the colliding entries.
	Keys [2]string
}

// Error implements the error interface.
func (e *FingerprintCollisionError) Error() string {
	return fmt.Sprintf("account %d: keys %s and %s share fingerprint %v "+
		"but carry different metadata", e.Account, e.Keys[0],
		e.Keys[1], e.Fingerprint)
}

// UnresolvedFingerprintError is returned by Downgrade when no descriptor key
// of an account belongs to the fingerprint of a key entry.
type UnresolvedFingerprintError struct {
	// Account is the index of the offending account.
	Account int

	// Fingerprint is the fingerprint that couldn't be resolved.
	Fingerprint bip32.Fingerprint
}

// Error implements the error interface.
func (e *UnresolvedFingerprintError) Error() string {
	return fmt.Sprintf("account %d: no descriptor key has master "+
		"fingerprint %v", e.Account, e.Fingerprint)
}

// Upgrade converts a first generation backup to the latest model. Every key
// entry is re-keyed by the master fingerprint of its key. Accounts are
// active and the fields unknown to the first generation are absent.
func Upgrade(old *backupv1.Backup) (*backup.Backup, error) {
	b := &backup.Backup{
		Name:        old.Name,
		Accounts:    make([]backup.Account, 0, len(old.Accounts)),
		Network:     old.Network,
		Proprietary: old.Proprietary,
	}

	for i := range old.Accounts {
		acct, err := upgradeAccount(i, &old.Accounts[i])
		if err != nil {
			return nil, err
		}
		b.Accounts = append(b.Accounts, acct)
	}

	log.Debugf("Upgraded v1 backup with %d accounts", len(b.Accounts))

	return b, nil
}

func upgradeAccount(idx int, old *backupv1.Account) (backup.Account, error) {
	acct := backup.NewAccount(old.Descriptor)
	acct.Name = old.Name
	acct.Timestamp = old.Timestamp
	acct.Labels = old.Labels
	acct.Transactions = old.Transactions
	acct.PSBTs = old.PSBTs
	acct.Proprietary = old.Proprietary

	if len(old.Keys) == 0 {
		return acct, nil
	}

	// Walk the entries in a fixed order so a collision is always
	// reported the same way.
	ids := make([]string, 0, len(old.Keys))
	for id := range old.Keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	acct.Keys = make(map[bip32.Fingerprint]backup.Key, len(ids))
	upgradedFrom := make(map[bip32.Fingerprint]string, len(ids))
	for _, id := range ids {
		oldKey := old.Keys[id]
		fp := oldKey.Key.MasterFingerprint()

		key := backup.Key{
			Key:     fp,
			Alias:   oldKey.Alias,
			Role:    oldKey.Role,
			KeyType: oldKey.KeyType,
		}

		if prev, ok := acct.Keys[fp]; ok {
			if !sameMetadata(prev, key) {
				return backup.Account{},
					&FingerprintCollisionError{
						Account:     idx,
						Fingerprint: fp,
						Keys: [2]string{
							upgradedFrom[fp], id,
						},
					}
			}

			log.Debugf("Account %d: merged key %s into %v", idx, id,
				fp)

			continue
		}

		acct.Keys[fp] = key
		upgradedFrom[fp] = id
	}

	return acct, nil
}

func sameMetadata(a, b backup.Key) bool {
	return equalPtr(a.Alias, b.Alias) && equalPtr(a.Role, b.Role) &&
		equalPtr(a.KeyType, b.KeyType)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

// Downgrade converts a backup to the first generation. The conversion is
// lossy: fields the first generation can't hold are dropped and logged.
// Every key entry is re-keyed by the first descriptor key carrying its
// fingerprint.
func Downgrade(b *backup.Backup) (*backupv1.Backup, error) {
	old := &backupv1.Backup{
		Name:        b.Name,
		Accounts:    make([]backupv1.Account, 0, len(b.Accounts)),
		Network:     b.Network,
		Proprietary: b.Proprietary,
	}

	if b.Description != nil {
		log.Warnf("Dropping backup description on downgrade")
	}

	for i := range b.Accounts {
		acct, err := downgradeAccount(i, &b.Accounts[i])
		if err != nil {
			return nil, err
		}
		old.Accounts = append(old.Accounts, acct)
	}

	log.Debugf("Downgraded backup with %d accounts to v1",
		len(old.Accounts))

	return old, nil
}

func downgradeAccount(idx int, acct *backup.Account) (backupv1.Account,
	error) {

	logDropped(idx, acct)

	old := backupv1.NewAccount(acct.Descriptor)
	old.Name = acct.Name
	old.Timestamp = acct.Timestamp
	old.Labels = acct.Labels
	old.Transactions = acct.Transactions
	old.PSBTs = acct.PSBTs
	old.Proprietary = acct.Proprietary

	for _, key := range acct.SortedKeys() {
		pub, err := resolveFingerprint(idx, acct.Descriptor, key.Key)
		if err != nil {
			return backupv1.Account{}, err
		}

		if key.Status != nil {
			log.Warnf("Account %d: dropping status %v of key %v",
				idx, *key.Status, key.Key)
		}
		if key.BIP85DerivationPath != nil {
			log.Warnf("Account %d: dropping bip85 derivation path "+
				"of key %v", idx, key.Key)
		}

		old.SetKey(backupv1.Key{
			Key:     pub,
			Alias:   key.Alias,
			Role:    key.Role,
			KeyType: key.KeyType,
		})
	}

	return old, nil
}

func resolveFingerprint(idx int, desc descriptor.Descriptor,
	fp bip32.Fingerprint) (descriptor.PublicKey, error) {

	return desc.KeyByFingerprint(fp).UnwrapOrErr(
		&UnresolvedFingerprintError{Account: idx, Fingerprint: fp},
	)
}

func logDropped(idx int, acct *backup.Account) {
	dropped := []struct {
		field   string
		present bool
	}{
		{"description", acct.Description != nil},
		{"inactive flag", !acct.Active},
		{"receive_index", acct.ReceiveIndex != nil},
		{"change_index", acct.ChangeIndex != nil},
		{"bip39_mnemonic", acct.Mnemonic != nil},
	}

	for _, d := range dropped {
		if d.present {
			log.Warnf("Account %d: dropping %s on downgrade", idx,
				d.field)
		}
	}
}
