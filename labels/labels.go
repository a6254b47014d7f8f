// Package labels contains the BIP329 label set stored alongside each account
// of a wallet backup. Labels annotate wallet objects (transactions,
// addresses, keys, outputs) with free text and are carried through the backup
// unchanged.
package labels

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcwallet/wtxmgr"
)

// Type is the kind of wallet object a label refers to.
type Type string

const (
	// TypeTx labels a transaction by its txid.
	TypeTx Type = "tx"

	// TypeAddr labels an address.
	TypeAddr Type = "addr"

	// TypePubKey labels a public key.
	TypePubKey Type = "pubkey"

	// TypeInput labels a transaction input by its outpoint.
	TypeInput Type = "input"

	// TypeOutput labels a transaction output by its outpoint.
	TypeOutput Type = "output"

	// TypeXPub labels an extended public key.
	TypeXPub Type = "xpub"
)

var (
	// ErrUnknownType is returned when a label carries a type outside of
	// the BIP329 set.
	ErrUnknownType = errors.New("unknown label type")

	// ErrEmptyRef is returned when a label doesn't reference anything.
	ErrEmptyRef = errors.New("label ref must not be empty")

	// ErrSpendableNotOutput is returned when the spendable flag is set on
	// a label that isn't an output label.
	ErrSpendableNotOutput = errors.New("spendable is only valid on " +
		"output labels")
)

// Validate returns an error if t is not one of the BIP329 types.
func (t Type) Validate() error {
	switch t {
	case TypeTx, TypeAddr, TypePubKey, TypeInput, TypeOutput, TypeXPub:
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, string(t))
	}
}

// Label is a single BIP329 record. Fields other than the ones modelled here,
// such as height, fee or keypath, are kept verbatim in Extra.
type Label struct {
	// Type is the kind of object referenced by Ref. Types outside of the
	// BIP329 set are kept as they are and only rejected by Validate.
	Type Type

	// Ref identifies the labelled object: a txid, an address, a hex public
	// key, an outpoint or an extended key.
	Ref string

	// Label is the user's annotation.
	Label *string

	// Origin is the optional key origin of the descriptor the object
	// belongs to, e.g. wpkh([d34db33f/84'/0'/0']).
	Origin *string

	// Spendable marks whether an output may be spent. It is only valid on
	// output labels.
	Spendable *bool

	// Extra holds the compacted JSON of every other field of the record,
	// keyed by field name.
	Extra map[string]json.RawMessage
}

// labelJSON is the encoded form of the modelled fields of a Label.
type labelJSON struct {
	Type      Type    `json:"type"`
	Ref       string  `json:"ref"`
	Label     *string `json:"label,omitempty"`
	Origin    *string `json:"origin,omitempty"`
	Spendable *bool   `json:"spendable,omitempty"`
}

// labelFields are the JSON names of the fields of labelJSON.
var labelFields = map[string]struct{}{
	"type":      {},
	"ref":       {},
	"label":     {},
	"origin":    {},
	"spendable": {},
}

// MarshalJSON writes the modelled fields followed by the extra fields in
// ascending name order.
func (l Label) MarshalJSON() ([]byte, error) {
	known, err := marshalJSON(labelJSON{
		Type:      l.Type,
		Ref:       l.Ref,
		Label:     l.Label,
		Origin:    l.Origin,
		Spendable: l.Spendable,
	})
	if err != nil {
		return nil, err
	}

	if len(l.Extra) == 0 {
		return known, nil
	}

	names := make([]string, 0, len(l.Extra))
	for name := range l.Extra {
		if _, ok := labelFields[name]; ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.Write(known[:len(known)-1])
	for _, name := range names {
		encodedName, err := marshalJSON(name)
		if err != nil {
			return nil, err
		}

		buf.WriteByte(',')
		buf.Write(encodedName)
		buf.WriteByte(':')
		if err := json.Compact(&buf, l.Extra[name]); err != nil {
			return nil, fmt.Errorf("label field %v: %w", name, err)
		}
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a record without judging its content.
func (l *Label) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}

	var known labelJSON
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*l = Label{
		Type:      known.Type,
		Ref:       known.Ref,
		Label:     known.Label,
		Origin:    known.Origin,
		Spendable: known.Spendable,
	}

	for name, value := range fields {
		if _, ok := labelFields[name]; ok {
			continue
		}

		var compacted bytes.Buffer
		if err := json.Compact(&compacted, value); err != nil {
			return err
		}

		if l.Extra == nil {
			l.Extra = make(map[string]json.RawMessage)
		}
		l.Extra[name] = compacted.Bytes()
	}

	return nil
}

// marshalJSON encodes v without escaping HTML characters.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Validate checks a single label against the BIP329 rules.
func (l *Label) Validate() error {
	if err := l.Type.Validate(); err != nil {
		return err
	}

	if l.Ref == "" {
		return ErrEmptyRef
	}

	if l.Spendable != nil && l.Type != TypeOutput {
		return ErrSpendableNotOutput
	}

	return nil
}

// ValidateLimit checks that the label text fits the wallet's transaction
// label limit, which labels imported into a wallet must honour.
func (l *Label) ValidateLimit() error {
	if l.Label != nil && len(*l.Label) > wtxmgr.TxLabelLimit {
		return fmt.Errorf("label length: %v exceeds limit of %v",
			len(*l.Label), wtxmgr.TxLabelLimit)
	}

	return nil
}

// Set is an ordered collection of labels. It encodes as a JSON array.
type Set []Label

// Validate validates every label of the set.
func (s Set) Validate() error {
	for i := range s {
		if err := s[i].Validate(); err != nil {
			return fmt.Errorf("label %d: %w", i, err)
		}
	}

	return nil
}

// ValidateLimit checks every label of the set against the wallet's label
// length limit.
func (s Set) ValidateLimit() error {
	for i := range s {
		if err := s[i].ValidateLimit(); err != nil {
			return fmt.Errorf("label %d: %w", i, err)
		}
	}

	return nil
}

// Lookup returns the first label of the given type that references ref.
func (s Set) Lookup(typ Type, ref string) (Label, bool) {
	for _, l := range s {
		if l.Type == typ && l.Ref == ref {
			return l, true
		}
	}

	return Label{}, false
}

// Merge returns a new set holding s followed by every label of other whose
// (type, ref) pair isn't in s yet. Existing labels win.
func (s Set) Merge(other Set) Set {
	merged := make(Set, 0, len(s)+len(other))
	merged = append(merged, s...)

	for _, l := range other {
		if _, ok := merged.Lookup(l.Type, l.Ref); ok {
			continue
		}
		merged = append(merged, l)
	}

	return merged
}

// ReadJSONL reads a BIP329 export file: one JSON label per line. Blank lines
// are skipped.
func ReadJSONL(r io.Reader) (Set, error) {
	var set Set

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var l Label
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		set = append(set, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return set, nil
}

// WriteJSONL writes the set in the BIP329 export file format.
func (s Set) WriteJSONL(w io.Writer) error {
	for i := range s {
		line, err := s[i].MarshalJSON()
		if err != nil {
			return err
		}

		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}

	return nil
}
