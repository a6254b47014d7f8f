package backup

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/walletbackup/bip32"
)

// Documents written by rust-bitcoin's serde support store transactions and
// PSBTs field by field instead of as a single hex or base64 string. Both forms
// are read, only the string form is written.

var (
	// ErrUnsupportedField is returned for a field of a structured
	// transaction or PSBT that can't be carried into its binary encoding.
	ErrUnsupportedField = errors.New("unsupported field")

	// ErrNoInputs is returned for a structured transaction without
	// inputs, which has no unambiguous consensus encoding.
	ErrNoInputs = errors.New("transaction has no inputs")
)

// xpubLen is the length of a serialized extended key without its checksum.
const xpubLen = 78

// globalXPubType is the BIP174 key type of a global extended public key.
const globalXPubType = 0x01

// jsonObject is a JSON object split into its fields. Fields are removed as
// they are read so that leftovers can be reported.
type jsonObject map[string]json.RawMessage

func parseObject(path string, raw json.RawMessage) (jsonObject, error) {
	var obj jsonObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, WrapJSONError(path, err)
	}
	if obj == nil {
		return nil, NewParseError(path, ErrMissingField)
	}

	return obj, nil
}

// take decodes and removes the named field. It reports whether the field was
// present and not null.
func (o jsonObject) take(path, name string, v any) (bool, error) {
	raw, ok := o[name]
	delete(o, name)
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		return false, nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, WrapJSONError(JoinPath(path, name), err)
	}

	return true, nil
}

// takeRequired is take for a field that must be present.
func (o jsonObject) takeRequired(path, name string, v any) error {
	ok, err := o.take(path, name, v)
	if err != nil {
		return err
	}
	if !ok {
		return NewParseError(JoinPath(path, name), ErrMissingField)
	}

	return nil
}

// takeHex decodes and removes a hex string field.
func (o jsonObject) takeHex(path, name string) ([]byte, bool, error) {
	var s string
	ok, err := o.take(path, name, &s)
	if err != nil || !ok {
		return nil, false, err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false, NewParseError(JoinPath(path, name), err)
	}

	return b, true, nil
}

// done returns an error for the first remaining field that holds data.
func (o jsonObject) done(path string) error {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if isEmptyJSON(o[name]) {
			continue
		}

		return NewParseError(JoinPath(path, name), ErrUnsupportedField)
	}

	return nil
}

// isEmptyJSON reports whether raw is null, an empty array or an empty object.
func isEmptyJSON(raw json.RawMessage) bool {
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, raw); err != nil {
		return false
	}

	switch compacted.String() {
	case "null", "[]", "{}":
		return true
	}

	return false
}

// isJSONObject reports whether raw holds a JSON object.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodePair splits a two element JSON array, the form serde gives map
// entries with non-string keys.
func decodePair(path string, raw json.RawMessage) (json.RawMessage,
	json.RawMessage, error) {

	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, nil, WrapJSONError(path, err)
	}
	if len(pair) != 2 {
		return nil, nil, NewParseError(path, fmt.Errorf("expected a "+
			"key and value pair, got %d elements", len(pair)))
	}

	return pair[0], pair[1], nil
}

// decodeTransaction decodes a transaction in either its hex or its
// structured form.
func decodeTransaction(path string, raw json.RawMessage) (Transaction, error) {
	if isJSONObject(raw) {
		msgTx, err := decodeTxObject(path, raw)
		if err != nil {
			return Transaction{}, err
		}

		tx, err := NewTransaction(msgTx)
		if err != nil {
			return Transaction{}, NewParseError(path, err)
		}

		return tx, nil
	}

	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Transaction{}, WrapJSONError(path, err)
	}
	if s == nil {
		return Transaction{}, NewParseError(path, ErrEmptyTransaction)
	}

	tx, err := ParseTransaction(*s)
	if err != nil {
		return Transaction{}, NewParseError(path, err)
	}

	return tx, nil
}

// decodeTxObject builds a transaction from its version, lock_time, input and
// output fields.
func decodeTxObject(path string, raw json.RawMessage) (*wire.MsgTx, error) {
	obj, err := parseObject(path, raw)
	if err != nil {
		return nil, err
	}

	var (
		version  int32
		lockTime uint32
		inputs   []json.RawMessage
		outputs  []json.RawMessage
	)
	if err := obj.takeRequired(path, "version", &version); err != nil {
		return nil, err
	}
	if err := obj.takeRequired(path, "lock_time", &lockTime); err != nil {
		return nil, err
	}
	if err := obj.takeRequired(path, "input", &inputs); err != nil {
		return nil, err
	}
	if err := obj.takeRequired(path, "output", &outputs); err != nil {
		return nil, err
	}
	if err := obj.done(path); err != nil {
		return nil, err
	}

	if len(inputs) == 0 {
		return nil, NewParseError(JoinPath(path, "input"), ErrNoInputs)
	}

	tx := wire.NewMsgTx(version)
	tx.LockTime = lockTime

	for i, rawIn := range inputs {
		inPath := IndexPath(JoinPath(path, "input"), i)

		txIn, err := decodeTxInObject(inPath, rawIn)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(txIn)
	}

	for i, rawOut := range outputs {
		outPath := IndexPath(JoinPath(path, "output"), i)

		txOut, err := decodeTxOutObject(outPath, rawOut)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(txOut)
	}

	return tx, nil
}

func decodeTxInObject(path string, raw json.RawMessage) (*wire.TxIn, error) {
	obj, err := parseObject(path, raw)
	if err != nil {
		return nil, err
	}

	var rawOutPoint json.RawMessage
	err = obj.takeRequired(path, "previous_output", &rawOutPoint)
	if err != nil {
		return nil, err
	}
	outPoint, err := decodeOutPoint(
		JoinPath(path, "previous_output"), rawOutPoint,
	)
	if err != nil {
		return nil, err
	}

	sigScript, _, err := obj.takeHex(path, "script_sig")
	if err != nil {
		return nil, err
	}

	sequence := uint32(wire.MaxTxInSequenceNum)
	if _, err := obj.take(path, "sequence", &sequence); err != nil {
		return nil, err
	}

	witness, err := decodeWitness(path, obj, "witness")
	if err != nil {
		return nil, err
	}

	if err := obj.done(path); err != nil {
		return nil, err
	}

	txIn := wire.NewTxIn(outPoint, sigScript, witness)
	txIn.Sequence = sequence

	return txIn, nil
}

// decodeOutPoint accepts both the txid:vout string and the object form of an
// outpoint.
func decodeOutPoint(path string, raw json.RawMessage) (*wire.OutPoint, error) {
	if !isJSONObject(raw) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, WrapJSONError(path, err)
		}

		outPoint, err := wire.NewOutPointFromString(s)
		if err != nil {
			return nil, NewParseError(path, err)
		}

		return outPoint, nil
	}

	obj, err := parseObject(path, raw)
	if err != nil {
		return nil, err
	}

	var (
		txid string
		vout uint32
	)
	if err := obj.takeRequired(path, "txid", &txid); err != nil {
		return nil, err
	}
	if err := obj.takeRequired(path, "vout", &vout); err != nil {
		return nil, err
	}
	if err := obj.done(path); err != nil {
		return nil, err
	}

	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, NewParseError(JoinPath(path, "txid"), err)
	}

	return wire.NewOutPoint(hash, vout), nil
}

func decodeTxOutObject(path string, raw json.RawMessage) (*wire.TxOut, error) {
	obj, err := parseObject(path, raw)
	if err != nil {
		return nil, err
	}

	var value uint64
	if err := obj.takeRequired(path, "value", &value); err != nil {
		return nil, err
	}
	if value > btcutil.MaxSatoshi {
		return nil, NewParseError(JoinPath(path, "value"),
			fmt.Errorf("value %d exceeds the maximum of %d", value,
				int64(btcutil.MaxSatoshi)))
	}

	pkScript, ok, err := obj.takeHex(path, "script_pubkey")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewParseError(JoinPath(path, "script_pubkey"),
			ErrMissingField)
	}

	if err := obj.done(path); err != nil {
		return nil, err
	}

	return wire.NewTxOut(int64(value), pkScript), nil
}

// decodeWitness decodes and removes a witness stack stored as an array of
// hex strings.
func decodeWitness(path string, obj jsonObject,
	name string) (wire.TxWitness, error) {

	var items []string
	ok, err := obj.take(path, name, &items)
	if err != nil || !ok {
		return nil, err
	}

	witness := make(wire.TxWitness, 0, len(items))
	for i, item := range items {
		b, err := hex.DecodeString(item)
		if err != nil {
			return nil, NewParseError(
				IndexPath(JoinPath(path, name), i), err,
			)
		}
		witness = append(witness, b)
	}

	return witness, nil
}

// decodePSBT decodes a PSBT in either its base64 or its structured form.
func decodePSBT(path string, raw json.RawMessage) (PSBT, error) {
	if isJSONObject(raw) {
		packet, err := decodePSBTObject(path, raw)
		if err != nil {
			return PSBT{}, err
		}

		wrapped, err := NewPSBT(packet)
		if err != nil {
			return PSBT{}, NewParseError(path, err)
		}

		return wrapped, nil
	}

	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return PSBT{}, WrapJSONError(path, err)
	}
	if s == nil {
		return PSBT{}, NewParseError(path, ErrEmptyPSBT)
	}

	packet, err := ParsePSBT(*s)
	if err != nil {
		return PSBT{}, NewParseError(path, err)
	}

	return packet, nil
}

// decodePSBTObject builds a version 0 packet from the structured form. The
// global and per map proprietary and unknown entries as well as the taproot
// script path fields are only accepted when empty.
func decodePSBTObject(path string, raw json.RawMessage) (*psbt.Packet, error) {
	obj, err := parseObject(path, raw)
	if err != nil {
		return nil, err
	}

	var rawTx json.RawMessage
	if err := obj.takeRequired(path, "unsigned_tx", &rawTx); err != nil {
		return nil, err
	}
	tx, err := decodeTxObject(JoinPath(path, "unsigned_tx"), rawTx)
	if err != nil {
		return nil, err
	}

	var version uint32
	if _, err := obj.take(path, "version", &version); err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, NewParseError(JoinPath(path, "version"),
			fmt.Errorf("%w: psbt version %d", ErrUnsupportedField,
				version))
	}

	var xpubs []json.RawMessage
	if _, err := obj.take(path, "xpub", &xpubs); err != nil {
		return nil, err
	}

	var inputs, outputs []json.RawMessage
	if err := obj.takeRequired(path, "inputs", &inputs); err != nil {
		return nil, err
	}
	if err := obj.takeRequired(path, "outputs", &outputs); err != nil {
		return nil, err
	}
	if err := obj.done(path); err != nil {
		return nil, err
	}

	if len(inputs) != len(tx.TxIn) || len(outputs) != len(tx.TxOut) {
		return nil, NewParseError(path, fmt.Errorf("psbt has %d "+
			"inputs and %d outputs for a transaction with %d and "+
			"%d", len(inputs), len(outputs), len(tx.TxIn),
			len(tx.TxOut)))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, NewParseError(JoinPath(path, "unsigned_tx"), err)
	}

	for i, rawXPub := range xpubs {
		xpubPath := IndexPath(JoinPath(path, "xpub"), i)

		unknown, err := decodeGlobalXPub(xpubPath, rawXPub)
		if err != nil {
			return nil, err
		}
		packet.Unknowns = append(packet.Unknowns, unknown)
	}

	for i, rawIn := range inputs {
		inPath := IndexPath(JoinPath(path, "inputs"), i)

		err := decodePSBTInput(inPath, rawIn, &packet.Inputs[i])
		if err != nil {
			return nil, err
		}
	}

	for i, rawOut := range outputs {
		outPath := IndexPath(JoinPath(path, "outputs"), i)

		err := decodePSBTOutput(outPath, rawOut, &packet.Outputs[i])
		if err != nil {
			return nil, err
		}
	}

	return packet, nil
}

// decodeGlobalXPub turns an xpub entry into the raw key-value pair the packet
// carries it as.
func decodeGlobalXPub(path string, raw json.RawMessage) (*psbt.Unknown,
	error) {

	rawKey, rawSource, err := decodePair(path, raw)
	if err != nil {
		return nil, err
	}

	var encoded string
	if err := json.Unmarshal(rawKey, &encoded); err != nil {
		return nil, WrapJSONError(path, err)
	}
	if _, err := hdkeychain.NewKeyFromString(encoded); err != nil {
		return nil, NewParseError(path, err)
	}

	// NewKeyFromString checked the checksum that trails the payload.
	payload := base58.Decode(encoded)[:xpubLen]

	fingerprint, derivation, err := decodeKeySource(path, rawSource)
	if err != nil {
		return nil, err
	}

	return &psbt.Unknown{
		Key: append([]byte{globalXPubType}, payload...),
		Value: psbt.SerializeBIP32Derivation(
			fingerprint, derivation,
		),
	}, nil
}

// decodeKeySource decodes a [fingerprint, path] pair into the little endian
// fingerprint and the path of a BIP174 derivation.
func decodeKeySource(path string, raw json.RawMessage) (uint32, []uint32,
	error) {

	var source []string
	if err := json.Unmarshal(raw, &source); err != nil {
		return 0, nil, WrapJSONError(path, err)
	}
	if len(source) != 2 {
		return 0, nil, NewParseError(path, fmt.Errorf("expected a "+
			"fingerprint and path, got %d elements", len(source)))
	}

	fp, err := bip32.ParseFingerprint(source[0])
	if err != nil {
		return 0, nil, NewParseError(path, err)
	}

	var derivation bip32.Path
	if source[1] != "" {
		derivation, err = bip32.ParsePath(source[1])
		if err != nil {
			return 0, nil, NewParseError(path, err)
		}
	}

	return binary.LittleEndian.Uint32(fp[:]), derivation, nil
}

// decodeDerivations decodes and removes a [[pubkey, key source]] field.
func decodeDerivations(path string, obj jsonObject,
	name string) ([]*psbt.Bip32Derivation, error) {

	var entries []json.RawMessage
	ok, err := obj.take(path, name, &entries)
	if err != nil || !ok {
		return nil, err
	}

	derivations := make([]*psbt.Bip32Derivation, 0, len(entries))
	for i, entry := range entries {
		entryPath := IndexPath(JoinPath(path, name), i)

		rawKey, rawSource, err := decodePair(entryPath, entry)
		if err != nil {
			return nil, err
		}

		var pubKeyHex string
		if err := json.Unmarshal(rawKey, &pubKeyHex); err != nil {
			return nil, WrapJSONError(entryPath, err)
		}
		pubKey, err := hex.DecodeString(pubKeyHex)
		if err != nil {
			return nil, NewParseError(entryPath, err)
		}

		fp, derivation, err := decodeKeySource(entryPath, rawSource)
		if err != nil {
			return nil, err
		}

		derivations = append(derivations, &psbt.Bip32Derivation{
			PubKey:               pubKey,
			MasterKeyFingerprint: fp,
			Bip32Path:            derivation,
		})
	}

	return derivations, nil
}

func decodePSBTInput(path string, raw json.RawMessage,
	in *psbt.PInput) error {

	obj, err := parseObject(path, raw)
	if err != nil {
		return err
	}

	var rawUtxo json.RawMessage
	ok, err := obj.take(path, "non_witness_utxo", &rawUtxo)
	if err != nil {
		return err
	}
	if ok {
		in.NonWitnessUtxo, err = decodeTxObject(
			JoinPath(path, "non_witness_utxo"), rawUtxo,
		)
		if err != nil {
			return err
		}
	}

	rawUtxo = nil
	ok, err = obj.take(path, "witness_utxo", &rawUtxo)
	if err != nil {
		return err
	}
	if ok {
		in.WitnessUtxo, err = decodeTxOutObject(
			JoinPath(path, "witness_utxo"), rawUtxo,
		)
		if err != nil {
			return err
		}
	}

	var sigs map[string]string
	if _, err := obj.take(path, "partial_sigs", &sigs); err != nil {
		return err
	}
	pubKeys := make([]string, 0, len(sigs))
	for pubKey := range sigs {
		pubKeys = append(pubKeys, pubKey)
	}
	sort.Strings(pubKeys)
	for _, pubKeyHex := range pubKeys {
		sigPath := JoinPath(JoinPath(path, "partial_sigs"), pubKeyHex)

		pubKey, err := hex.DecodeString(pubKeyHex)
		if err != nil {
			return NewParseError(sigPath, err)
		}
		sig, err := hex.DecodeString(sigs[pubKeyHex])
		if err != nil {
			return NewParseError(sigPath, err)
		}

		in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
			PubKey:    pubKey,
			Signature: sig,
		})
	}

	var sighash uint32
	if _, err := obj.take(path, "sighash_type", &sighash); err != nil {
		return err
	}
	in.SighashType = txscript.SigHashType(sighash)

	scripts := []struct {
		name   string
		script *[]byte
	}{
		{"redeem_script", &in.RedeemScript},
		{"witness_script", &in.WitnessScript},
		{"final_script_sig", &in.FinalScriptSig},
		{"tap_internal_key", &in.TaprootInternalKey},
	}
	for _, field := range scripts {
		*field.script, _, err = obj.takeHex(path, field.name)
		if err != nil {
			return err
		}
	}

	finalWitness, err := decodeWitness(path, obj, "final_script_witness")
	if err != nil {
		return err
	}
	if finalWitness != nil {
		var buf bytes.Buffer
		if err := psbt.WriteTxWitness(&buf, finalWitness); err != nil {
			return NewParseError(
				JoinPath(path, "final_script_witness"), err,
			)
		}
		in.FinalScriptWitness = buf.Bytes()
	}

	in.Bip32Derivation, err = decodeDerivations(
		path, obj, "bip32_derivation",
	)
	if err != nil {
		return err
	}

	return obj.done(path)
}

func decodePSBTOutput(path string, raw json.RawMessage,
	out *psbt.POutput) error {

	obj, err := parseObject(path, raw)
	if err != nil {
		return err
	}

	scripts := []struct {
		name   string
		script *[]byte
	}{
		{"redeem_script", &out.RedeemScript},
		{"witness_script", &out.WitnessScript},
		{"tap_internal_key", &out.TaprootInternalKey},
	}
	for _, field := range scripts {
		*field.script, _, err = obj.takeHex(path, field.name)
		if err != nil {
			return err
		}
	}

	out.Bip32Derivation, err = decodeDerivations(
		path, obj, "bip32_derivation",
	)
	if err != nil {
		return err
	}

	return obj.done(path)
}
