package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/lightningnetwork/walletbackup/bip32"
	"github.com/lightningnetwork/walletbackup/descriptor"
	"github.com/lightningnetwork/walletbackup/labels"
)

var (
	// ErrMissingField is returned when a required field is absent or null.
	ErrMissingField = errors.New("missing required field")

	// ErrNotLatestVersion is returned when a document of an older schema
	// generation is handed to the latest decoder.
	ErrNotLatestVersion = errors.New("document is not of the latest " +
		"version")

	// ErrUnknownVersion is returned for documents newer than any version
	// known to this package.
	ErrUnknownVersion = errors.New("unknown backup version")

	// ErrDuplicateKey is returned when two entries of a key map resolve to
	// the same identifier.
	ErrDuplicateKey = errors.New("duplicate key entry")
)

// ParseError is returned for a document that can't be decoded. Path locates
// the offending value, e.g. accounts[0].keys.a1b2c3d4.role.
type ParseError struct {
	Path string
	Err  error
}

// NewParseError wraps err with the path it occurred at. An error that already
// is a ParseError is returned unchanged.
func NewParseError(path string, err error) error {
	var pErr *ParseError
	if errors.As(err, &pErr) {
		return err
	}

	return &ParseError{Path: path, Err: err}
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid backup document: %v", e.Err)
	}

	return fmt.Sprintf("invalid backup document at %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// JoinPath appends a field name to a document path.
func JoinPath(path, field string) string {
	if path == "" {
		return field
	}

	return path + "." + field
}

// IndexPath appends a sequence index to a document path.
func IndexPath(path string, idx int) string {
	return path + "[" + strconv.Itoa(idx) + "]"
}

// WrapJSONError turns an error of encoding/json into a ParseError, refining
// path with the field a type error names.
func WrapJSONError(path string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		path = JoinPath(path, typeErr.Field)
	}

	return NewParseError(path, err)
}

// EncodeJSON encodes v without HTML escaping, compact or indented by two
// spaces. The trailing newline of the json encoder is stripped.
func EncodeJSON(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// PeekVersion reads the version field of a document without decoding the
// rest of it. An absent version is reported as 0.
func PeekVersion(data []byte) (uint32, error) {
	var doc struct {
		Version *uint32 `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, WrapJSONError("", err)
	}

	if doc.Version == nil {
		return 0, nil
	}

	return *doc.Version, nil
}

// backupJSON is the encoded form of a Backup. Field order is the order of the
// document.
type backupJSON struct {
	Version     uint32        `json:"version"`
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Accounts    []accountJSON `json:"accounts"`
	Network     Network       `json:"network"`
	Proprietary Proprietary   `json:"proprietary,omitempty"`
}

type accountJSON struct {
	Name         *string                       `json:"name,omitempty"`
	Description  *string                       `json:"description,omitempty"`
	Descriptor   descriptor.Descriptor         `json:"descriptor"`
	Active       bool                          `json:"active"`
	ReceiveIndex *uint32                       `json:"receive_index,omitempty"`
	ChangeIndex  *uint32                       `json:"change_index,omitempty"`
	Timestamp    *uint64                       `json:"timestamp,omitempty"`
	Keys         map[bip32.Fingerprint]keyJSON `json:"keys,omitempty"`
	Labels       *labels.Set                   `json:"labels,omitempty"`
	Transactions []Transaction                 `json:"transactions,omitempty"`
	PSBTs        []PSBT                        `json:"psbts,omitempty"`
	Mnemonic     *Mnemonic                     `json:"bip39_mnemonic,omitempty"`
	Proprietary  Proprietary                   `json:"proprietary,omitempty"`
}

type keyJSON struct {
	Key       bip32.Fingerprint `json:"key"`
	Alias     *string           `json:"alias,omitempty"`
	Role      *KeyRole          `json:"role,omitempty"`
	KeyType   *KeyType          `json:"key_type,omitempty"`
	Status    *KeyStatus        `json:"key_status,omitempty"`
	BIP85Path *bip32.Path       `json:"bip85_derivation_path,omitempty"`
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
	doc := backupJSON{
		Version:     Version,
		Name:        b.Name,
		Description: b.Description,
		Accounts:    make([]accountJSON, 0, len(b.Accounts)),
		Network:     b.Network,
		Proprietary: b.Proprietary,
	}

	for i := range b.Accounts {
		acct := encodeAccount(&b.Accounts[i])
		doc.Accounts = append(doc.Accounts, acct)
	}

	data, err := EncodeJSON(&doc, indent)
	if err != nil {
		return nil, fmt.Errorf("unable to encode backup: %w", err)
	}

	return data, nil
}

func encodeAccount(a *Account) accountJSON {
	acct := accountJSON{
		Name:         a.Name,
		Description:  a.Description,
		Descriptor:   a.Descriptor,
		Active:       a.Active,
		ReceiveIndex: a.ReceiveIndex,
		ChangeIndex:  a.ChangeIndex,
		Timestamp:    a.Timestamp,
		Labels:       EncodableLabels(a.Labels),
		Transactions: a.Transactions,
		PSBTs:        a.PSBTs,
		Mnemonic:     a.Mnemonic,
		Proprietary:  a.Proprietary,
	}

	if len(a.Keys) > 0 {
		acct.Keys = make(map[bip32.Fingerprint]keyJSON, len(a.Keys))
		for fp, key := range a.Keys {
			k := keyJSON{
				Key:     key.Key,
				Alias:   key.Alias,
				Role:    key.Role,
				KeyType: key.KeyType,
				Status:  key.Status,
			}
			if key.BIP85DerivationPath != nil {
				path := key.BIP85DerivationPath
				k.BIP85Path = &path
			}
			acct.Keys[fp] = k
		}
	}

	return acct
}

// EncodableLabels returns a label set that encodes as a JSON array, never as
// null.
func EncodableLabels(set *labels.Set) *labels.Set {
	if set == nil || *set != nil {
		return set
	}

	empty := labels.Set{}

	return &empty
}

// backupDoc is the decoded shape of a document before validation of its
// values. Values that need a path aware error are kept as text.
type backupDoc struct {
	Version     *uint32           `json:"version"`
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Accounts    []json.RawMessage `json:"accounts"`
	Network     *string           `json:"network"`
	Proprietary Proprietary       `json:"proprietary"`
}

type accountDoc struct {
	Name         *string                    `json:"name"`
	Description  *string                    `json:"description"`
	Descriptor   *string                    `json:"descriptor"`
	Active       *bool                      `json:"active"`
	ReceiveIndex *uint32                    `json:"receive_index"`
	ChangeIndex  *uint32                    `json:"change_index"`
	Timestamp    *uint64                    `json:"timestamp"`
	Keys         map[string]json.RawMessage `json:"keys"`
	Labels       json.RawMessage            `json:"labels"`
	Transactions []json.RawMessage          `json:"transactions"`
	PSBTs        []json.RawMessage          `json:"psbts"`
	Mnemonic     *string                    `json:"bip39_mnemonic"`
	Proprietary  Proprietary                `json:"proprietary"`
}

type keyDoc struct {
	Key       *string `json:"key"`
	Alias     *string `json:"alias"`
	Role      *string `json:"role"`
	KeyType   *string `json:"key_type"`
	Status    *string `json:"key_status"`
	BIP85Path *string `json:"bip85_derivation_path"`
}

// Decode decodes a document of the latest version. Every failure is a
// *ParseError and no partial backup is returned.
func Decode(data []byte) (*Backup, error) {
	var doc backupDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, WrapJSONError("", err)
	}

	switch {
	case doc.Version == nil || *doc.Version < Version:
		return nil, NewParseError("version", ErrNotLatestVersion)

	case *doc.Version > Version:
		return nil, NewParseError("version", fmt.Errorf("%w: %d",
			ErrUnknownVersion, *doc.Version))
	}

	network, err := DecodeNetwork("network", doc.Network)
	if err != nil {
		return nil, err
	}

	if doc.Accounts == nil {
		return nil, NewParseError("accounts", ErrMissingField)
	}

	b := &Backup{
		Name:        doc.Name,
		Description: doc.Description,
		Accounts:    make([]Account, 0, len(doc.Accounts)),
		Network:     network,
		Proprietary: doc.Proprietary,
	}

	for i, raw := range doc.Accounts {
		path := IndexPath("accounts", i)

		acct, err := decodeAccount(path, raw)
		if err != nil {
			return nil, err
		}
		b.Accounts = append(b.Accounts, acct)
	}

	log.Debugf("Decoded backup on %v with %d accounts", b.Network,
		len(b.Accounts))

	return b, nil
}

func decodeAccount(path string, raw json.RawMessage) (Account, error) {
	var doc accountDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Account{}, WrapJSONError(path, err)
	}

	desc, err := DecodeDescriptor(JoinPath(path, "descriptor"),
		doc.Descriptor)
	if err != nil {
		return Account{}, err
	}

	if doc.Active == nil {
		return Account{}, NewParseError(JoinPath(path, "active"),
			ErrMissingField)
	}

	acct := Account{
		Name:         doc.Name,
		Description:  doc.Description,
		Descriptor:   desc,
		Active:       *doc.Active,
		ReceiveIndex: doc.ReceiveIndex,
		ChangeIndex:  doc.ChangeIndex,
		Timestamp:    doc.Timestamp,
		Proprietary:  doc.Proprietary,
	}

	if len(doc.Keys) > 0 {
		acct.Keys = make(map[bip32.Fingerprint]Key, len(doc.Keys))
	}
	for id, rawKey := range doc.Keys {
		keyPath := JoinPath(JoinPath(path, "keys"), id)

		fp, err := bip32.ParseFingerprint(id)
		if err != nil {
			return Account{}, NewParseError(keyPath, err)
		}
		if _, ok := acct.Keys[fp]; ok {
			return Account{}, NewParseError(keyPath, fmt.Errorf(
				"%w: %v", ErrDuplicateKey, fp))
		}

		key, err := decodeKey(keyPath, rawKey)
		if err != nil {
			return Account{}, err
		}
		acct.Keys[fp] = key
	}

	acct.Labels, err = DecodeLabels(JoinPath(path, "labels"), doc.Labels)
	if err != nil {
		return Account{}, err
	}

	acct.Transactions, err = DecodeTransactions(
		JoinPath(path, "transactions"), doc.Transactions,
	)
	if err != nil {
		return Account{}, err
	}

	acct.PSBTs, err = DecodePSBTs(JoinPath(path, "psbts"), doc.PSBTs)
	if err != nil {
		return Account{}, err
	}

	if doc.Mnemonic != nil {
		mnemonic, err := NewMnemonic(*doc.Mnemonic)
		if err != nil {
			return Account{}, NewParseError(
				JoinPath(path, "bip39_mnemonic"), err,
			)
		}
		acct.Mnemonic = &mnemonic
	}

	return acct, nil
}

func decodeKey(path string, raw json.RawMessage) (Key, error) {
	var doc keyDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Key{}, WrapJSONError(path, err)
	}

	if doc.Key == nil {
		return Key{}, NewParseError(JoinPath(path, "key"),
			ErrMissingField)
	}
	fp, err := bip32.ParseFingerprint(*doc.Key)
	if err != nil {
		return Key{}, NewParseError(JoinPath(path, "key"), err)
	}

	key := Key{
		Key:   fp,
		Alias: doc.Alias,
	}

	key.Role, err = DecodeKeyRole(JoinPath(path, "role"), doc.Role)
	if err != nil {
		return Key{}, err
	}

	key.KeyType, err = DecodeKeyType(
		JoinPath(path, "key_type"), doc.KeyType,
	)
	if err != nil {
		return Key{}, err
	}

	if doc.Status != nil {
		status, err := ParseKeyStatus(*doc.Status)
		if err != nil {
			statusPath := JoinPath(path, "key_status")
			return Key{}, NewParseError(statusPath, err)
		}
		key.Status = &status
	}

	if doc.BIP85Path != nil {
		bip85Path, err := bip32.ParsePath(*doc.BIP85Path)
		if err != nil {
			return Key{}, NewParseError(
				JoinPath(path, "bip85_derivation_path"), err,
			)
		}
		key.BIP85DerivationPath = bip85Path
	}

	return key, nil
}

// DecodeNetwork decodes the required network field.
func DecodeNetwork(path string, s *string) (Network, error) {
	if s == nil {
		return 0, NewParseError(path, ErrMissingField)
	}

	network, err := ParseNetwork(*s)
	if err != nil {
		return 0, NewParseError(path, err)
	}

	return network, nil
}

// DecodeDescriptor decodes the required descriptor field of an account.
func DecodeDescriptor(path string, s *string) (descriptor.Descriptor, error) {
	if s == nil {
		return descriptor.Descriptor{}, NewParseError(path,
			ErrMissingField)
	}

	desc, err := descriptor.Parse(*s)
	if err != nil {
		return descriptor.Descriptor{}, NewParseError(path, err)
	}

	return desc, nil
}

// DecodeKeyRole decodes an optional role tag.
func DecodeKeyRole(path string, s *string) (*KeyRole, error) {
	if s == nil {
		return nil, nil
	}

	role, err := ParseKeyRole(*s)
	if err != nil {
		return nil, NewParseError(path, err)
	}

	return &role, nil
}

// DecodeKeyType decodes an optional key type tag.
func DecodeKeyType(path string, s *string) (*KeyType, error) {
	if s == nil {
		return nil, nil
	}

	typ, err := ParseKeyType(*s)
	if err != nil {
		return nil, NewParseError(path, err)
	}

	return &typ, nil
}

// DecodeLabels decodes an optional label set. A null set is absent.
func DecodeLabels(path string, raw json.RawMessage) (*labels.Set, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	set := labels.Set{}
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, WrapJSONError(path, err)
	}

	return &set, nil
}

// DecodeTransactions decodes a sequence of transactions, each either hex
// encoded or in its structured form.
func DecodeTransactions(path string,
	txs []json.RawMessage) ([]Transaction, error) {

	if len(txs) == 0 {
		return nil, nil
	}

	decoded := make([]Transaction, 0, len(txs))
	for i, raw := range txs {
		tx, err := decodeTransaction(IndexPath(path, i), raw)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, tx)
	}

	return decoded, nil
}

// DecodePSBTs decodes a sequence of PSBTs, each either base64 encoded or in
// its structured form.
func DecodePSBTs(path string, packets []json.RawMessage) ([]PSBT, error) {
	if len(packets) == 0 {
		return nil, nil
	}

	decoded := make([]PSBT, 0, len(packets))
	for i, raw := range packets {
		packet, err := decodePSBT(IndexPath(path, i), raw)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, packet)
	}

	return decoded, nil
}
