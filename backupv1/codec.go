package backupv1

import (
	"encoding/json"
	"fmt"

	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/descriptor"
	"github.com/lightningnetwork/walletbackup/labels"
)

type backupJSON struct {
	Version     *uint32            `json:"version,omitempty"`
	Name        *string            `json:"name,omitempty"`
	Accounts    []accountJSON      `json:"accounts"`
	Network     backup.Network     `json:"network"`
	Proprietary backup.Proprietary `json:"proprietary,omitempty"`
}

type accountJSON struct {
	Name         *string               `json:"name,omitempty"`
	Descriptor   descriptor.Descriptor `json:"descriptor"`
	Timestamp    *uint64               `json:"timestamp,omitempty"`
	Keys         map[string]keyJSON    `json:"keys,omitempty"`
	Labels       *labels.Set           `json:"labels,omitempty"`
	Transactions []backup.Transaction  `json:"transactions,omitempty"`
	PSBTs        []backup.PSBT         `json:"psbts,omitempty"`
	Proprietary  backup.Proprietary    `json:"proprietary,omitempty"`
}

type keyJSON struct {
	Key     descriptor.PublicKey `json:"key"`
	Alias   *string              `json:"alias,omitempty"`
	Role    *backup.KeyRole      `json:"role,omitempty"`
	KeyType *backup.KeyType      `json:"key_type,omitempty"`
}

// Encode returns the compact JSON document of the backup.
func Encode(b *Backup) ([]byte, error) {
	return encode(b, false)
}

// EncodeIndent returns the JSON document of the backup indented with two
// spaces.
func EncodeIndent(b *Backup) ([]byte, error) {
	return encode(b, true)
}

func encode(b *Backup, indent bool) ([]byte, error) {
	if b.Version != nil && *b.Version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrNotV1, *b.Version)
	}

	doc := backupJSON{
		Version:     b.Version,
		Name:        b.Name,
		Accounts:    make([]accountJSON, 0, len(b.Accounts)),
		Network:     b.Network,
		Proprietary: b.Proprietary,
	}

	for i := range b.Accounts {
		a := &b.Accounts[i]

		acct := accountJSON{
			Name:         a.Name,
			Descriptor:   a.Descriptor,
			Timestamp:    a.Timestamp,
			Labels:       backup.EncodableLabels(a.Labels),
			Transactions: a.Transactions,
			PSBTs:        a.PSBTs,
			Proprietary:  a.Proprietary,
		}

		if len(a.Keys) > 0 {
			acct.Keys = make(map[string]keyJSON, len(a.Keys))
		}
		for id, key := range a.Keys {
			acct.Keys[id] = keyJSON{
				Key:     key.Key,
				Alias:   key.Alias,
				Role:    key.Role,
				KeyType: key.KeyType,
			}
		}

		doc.Accounts = append(doc.Accounts, acct)
	}

	data, err := backup.EncodeJSON(&doc, indent)
	if err != nil {
		return nil, fmt.Errorf("unable to encode v1 backup: %w", err)
	}

	return data, nil
}

type backupDoc struct {
	Version     *uint32            `json:"version"`
	Name        *string            `json:"name"`
	Accounts    []json.RawMessage  `json:"accounts"`
	Network     *string            `json:"network"`
	Proprietary backup.Proprietary `json:"proprietary"`
}

type accountDoc struct {
	Name         *string                    `json:"name"`
	Descriptor   *string                    `json:"descriptor"`
	Timestamp    *uint64                    `json:"timestamp"`
	Keys         map[string]json.RawMessage `json:"keys"`
	Labels       json.RawMessage            `json:"labels"`
	Transactions []json.RawMessage          `json:"transactions"`
	PSBTs        []json.RawMessage          `json:"psbts"`
	Proprietary  backup.Proprietary         `json:"proprietary"`
}

type keyDoc struct {
	Key     *string `json:"key"`
	Alias   *string `json:"alias"`
	Role    *string `json:"role"`
	KeyType *string `json:"key_type"`
}

// Decode decodes a first generation document. Every failure is a
// *backup.ParseError and no partial backup is returned.
func Decode(data []byte) (*Backup, error) {
	var doc backupDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, backup.WrapJSONError("", err)
	}

	if doc.Version != nil && *doc.Version != Version {
		return nil, backup.NewParseError("version", fmt.Errorf(
			"%w: version %d", ErrNotV1, *doc.Version))
	}

	network, err := backup.DecodeNetwork("network", doc.Network)
	if err != nil {
		return nil, err
	}

	if doc.Accounts == nil {
		return nil, backup.NewParseError("accounts",
			backup.ErrMissingField)
	}

	b := &Backup{
		Version:     doc.Version,
		Name:        doc.Name,
		Accounts:    make([]Account, 0, len(doc.Accounts)),
		Network:     network,
		Proprietary: doc.Proprietary,
	}

	for i, raw := range doc.Accounts {
		acct, err := decodeAccount(backup.IndexPath("accounts", i), raw)
		if err != nil {
			return nil, err
		}
		b.Accounts = append(b.Accounts, acct)
	}

	log.Debugf("Decoded v1 backup on %v with %d accounts", b.Network,
		len(b.Accounts))

	return b, nil
}

func decodeAccount(path string, raw json.RawMessage) (Account, error) {
	var doc accountDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Account{}, backup.WrapJSONError(path, err)
	}

	desc, err := backup.DecodeDescriptor(
		backup.JoinPath(path, "descriptor"), doc.Descriptor,
	)
	if err != nil {
		return Account{}, err
	}

	acct := Account{
		Name:        doc.Name,
		Descriptor:  desc,
		Timestamp:   doc.Timestamp,
		Proprietary: doc.Proprietary,
	}

	if len(doc.Keys) > 0 {
		acct.Keys = make(map[string]Key, len(doc.Keys))
	}
	for id, rawKey := range doc.Keys {
		keyPath := backup.JoinPath(backup.JoinPath(path, "keys"), id)

		pub, err := descriptor.ParsePublicKey(id)
		if err != nil {
			return Account{}, backup.NewParseError(keyPath, err)
		}

		canonical := pub.String()
		if _, ok := acct.Keys[canonical]; ok {
			return Account{}, backup.NewParseError(keyPath,
				fmt.Errorf("%w: %v", backup.ErrDuplicateKey,
					canonical))
		}

		key, err := decodeKey(keyPath, rawKey)
		if err != nil {
			return Account{}, err
		}
		acct.Keys[canonical] = key
	}

	acct.Labels, err = backup.DecodeLabels(
		backup.JoinPath(path, "labels"), doc.Labels,
	)
	if err != nil {
		return Account{}, err
	}

	acct.Transactions, err = backup.DecodeTransactions(
		backup.JoinPath(path, "transactions"), doc.Transactions,
	)
	if err != nil {
		return Account{}, err
	}

	acct.PSBTs, err = backup.DecodePSBTs(
		backup.JoinPath(path, "psbts"), doc.PSBTs,
	)
	if err != nil {
		return Account{}, err
	}

	return acct, nil
}

func decodeKey(path string, raw json.RawMessage) (Key, error) {
	var doc keyDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Key{}, backup.WrapJSONError(path, err)
	}

	keyPath := backup.JoinPath(path, "key")
	if doc.Key == nil {
		return Key{}, backup.NewParseError(keyPath,
			backup.ErrMissingField)
	}

	pub, err := descriptor.ParsePublicKey(*doc.Key)
	if err != nil {
		return Key{}, backup.NewParseError(keyPath, err)
	}

	key := Key{
		Key:   pub,
		Alias: doc.Alias,
	}

	key.Role, err = backup.DecodeKeyRole(
		backup.JoinPath(path, "role"), doc.Role,
	)
	if err != nil {
		return Key{}, err
	}

	key.KeyType, err = backup.DecodeKeyType(
		backup.JoinPath(path, "key_type"), doc.KeyType,
	)
	if err != nil {
		return Key{}, err
	}

	return key, nil
}
