package backup

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/walletbackup/bip32"
	"github.com/stretchr/testify/require"
)

// testXPub is the master key of the first BIP32 test vector.
const testXPub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhe" +
	"PY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

// txObject returns the structured form of testTx.
func txObject(t *testing.T, lockTime uint32) string {
	t.Helper()

	msg := testTx(t, lockTime).MsgTx()
	in := msg.TxIn[0]

	return fmt.Sprintf(`{"version":2,"lock_time":%d,"input":[`+
		`{"previous_output":"%v","script_sig":"","sequence":%d,`+
		`"witness":["0102"]}],"output":[{"value":50000,`+
		`"script_pubkey":"0014"}]}`, lockTime, in.PreviousOutPoint,
		in.Sequence)
}

func TestStructuredTransaction(t *testing.T) {
	t.Parallel()

	want := testTx(t, 7)

	tx, err := decodeTransaction("tx", []byte(txObject(t, 7)))
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), tx.Bytes())
	require.Equal(t, want.TxHash(), tx.TxHash())

	// Outpoints may also be written as an object.
	hash := chainhash.Hash{1}
	doc := strings.Replace(txObject(t, 7),
		`"`+wire.NewOutPoint(&hash, 0).String()+`"`,
		`{"txid":"`+hash.String()+`","vout":0}`, 1)
	tx, err = decodeTransaction("tx", []byte(doc))
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), tx.Bytes())

	// The sequence defaults to final and the witness to empty.
	doc = `{"version":1,"lock_time":0,"input":[{"previous_output":"` +
		hash.String() + `:3"}],"output":[]}`
	tx, err = decodeTransaction("tx", []byte(doc))
	require.NoError(t, err)
	require.EqualValues(t, wire.MaxTxInSequenceNum,
		tx.MsgTx().TxIn[0].Sequence)
	require.False(t, tx.MsgTx().HasWitness())
}

func TestStructuredDecodeErrors(t *testing.T) {
	t.Parallel()

	hash := chainhash.Hash{1}
	input := `{"previous_output":"` + hash.String() + `:0"}`
	txDoc := func(in, out string) string {
		return `{"version":2,"lock_time":0,"input":[` + in +
			`],"output":[` + out + `]}`
	}
	psbtDoc := func(extra, in string) string {
		return `{"unsigned_tx":` + txDoc(input, "") + extra +
			`,"inputs":[` + in + `],"outputs":[]}`
	}

	tests := []struct {
		name string
		psbt bool
		doc  string
		path string
		err  error
	}{{
		name: "null transaction",
		doc:  `null`,
		path: "tx",
		err:  ErrEmptyTransaction,
	}, {
		name: "missing version",
		doc:  `{"lock_time":0,"input":[],"output":[]}`,
		path: "tx.version",
		err:  ErrMissingField,
	}, {
		name: "unknown transaction field",
		doc: `{"version":2,"lock_time":0,"input":[` + input +
			`],"output":[],"weight":4}`,
		path: "tx.weight",
		err:  ErrUnsupportedField,
	}, {
		name: "no inputs",
		doc:  txDoc("", ""),
		path: "tx.input",
		err:  ErrNoInputs,
	}, {
		name: "bad outpoint",
		doc:  txDoc(`{"previous_output":"nothex:0"}`, ""),
		path: "tx.input[0].previous_output",
	}, {
		name: "bad witness",
		doc: txDoc(`{"previous_output":"`+hash.String()+`:0",`+
			`"witness":["00","zz"]}`, ""),
		path: "tx.input[0].witness[1]",
	}, {
		name: "value above supply",
		doc: txDoc(input,
			`{"value":2100000000000001,"script_pubkey":""}`),
		path: "tx.output[0].value",
	}, {
		name: "missing script",
		doc:  txDoc(input, `{"value":1}`),
		path: "tx.output[0].script_pubkey",
		err:  ErrMissingField,
	}, {
		name: "psbt version 2",
		psbt: true,
		doc:  psbtDoc(`,"version":2`, `{}`),
		path: "p.version",
		err:  ErrUnsupportedField,
	}, {
		name: "psbt input count",
		psbt: true,
		doc:  psbtDoc("", ""),
		path: "p",
	}, {
		name: "psbt taproot signature",
		psbt: true,
		doc:  psbtDoc("", `{"tap_key_sig":"aa"}`),
		path: "p.inputs[0].tap_key_sig",
		err:  ErrUnsupportedField,
	}, {
		name: "psbt global unknown",
		psbt: true,
		doc: psbtDoc(`,"unknown":[[{"type_value":5,"key":[]},"00"]]`,
			`{}`),
		path: "p.unknown",
		err:  ErrUnsupportedField,
	}, {
		name: "psbt bad key source",
		psbt: true,
		doc: psbtDoc("", `{"bip32_derivation":[["`+genPubKey+
			`",["751e76e8"]]]}`),
		path: "p.inputs[0].bip32_derivation[0]",
	}, {
		name: "null psbt",
		psbt: true,
		doc:  `null`,
		path: "p",
		err:  ErrEmptyPSBT,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var err error
			if tc.psbt {
				_, err = decodePSBT("p", []byte(tc.doc))
			} else {
				_, err = decodeTransaction("tx", []byte(tc.doc))
			}

			var pErr *ParseError
			require.True(t, errors.As(err, &pErr), spew.Sdump(err))
			require.Equal(t, tc.path, pErr.Path)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestStructuredPSBT(t *testing.T) {
	t.Parallel()

	prevOut := wire.NewOutPoint(&chainhash.Hash{2}, 1)
	packet, err := psbt.New(
		[]*wire.OutPoint{prevOut},
		[]*wire.TxOut{wire.NewTxOut(21_000, []byte{0x51})},
		2, 0, []uint32{wire.MaxTxInSequenceNum},
	)
	require.NoError(t, err)

	fp, err := bip32.ParseFingerprint(genFingerprint)
	require.NoError(t, err)
	pubKey, err := hex.DecodeString(genPubKey)
	require.NoError(t, err)
	path, err := bip32.ParsePath("m/84'/0'/0'/0/0")
	require.NoError(t, err)

	witnessScript := append([]byte{0x00, 0x14}, make([]byte, 20)...)
	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(60_000, witnessScript)
	packet.Inputs[0].SighashType = txscript.SigHashAll
	packet.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               pubKey,
		MasterKeyFingerprint: binary.LittleEndian.Uint32(fp[:]),
		Bip32Path:            path,
	}}
	packet.Outputs[0].RedeemScript = []byte{0x51}

	xpubPath, err := bip32.ParsePath("m/0'")
	require.NoError(t, err)
	packet.Unknowns = append(packet.Unknowns, &psbt.Unknown{
		Key: append([]byte{0x01}, base58.Decode(testXPub)[:78]...),
		Value: psbt.SerializeBIP32Derivation(
			binary.LittleEndian.Uint32(fp[:]), xpubPath,
		),
	})

	want, err := NewPSBT(packet)
	require.NoError(t, err)

	doc := `{"unsigned_tx":{"version":2,"lock_time":0,"input":[` +
		`{"previous_output":"` + prevOut.String() + `",` +
		`"script_sig":"","sequence":4294967295,"witness":[]}],` +
		`"output":[{"value":21000,"script_pubkey":"51"}]},` +
		`"version":0,` +
		`"xpub":[["` + testXPub + `",["` + genFingerprint +
		`","m/0'"]]],` +
		`"proprietary":[],"unknown":[],` +
		`"inputs":[{"non_witness_utxo":null,` +
		`"witness_utxo":{"value":60000,"script_pubkey":"` +
		hex.EncodeToString(witnessScript) + `"},` +
		`"partial_sigs":{},"sighash_type":1,"redeem_script":null,` +
		`"witness_script":null,"bip32_derivation":[["` + genPubKey +
		`",["` + genFingerprint + `","m/84'/0'/0'/0/0"]]],` +
		`"final_script_sig":null,"final_script_witness":null,` +
		`"ripemd160_preimages":{},"sha256_preimages":{},` +
		`"hash160_preimages":{},"hash256_preimages":{},` +
		`"tap_key_sig":null,"tap_script_sigs":[],"tap_scripts":[],` +
		`"tap_key_origins":[],"tap_internal_key":null,` +
		`"tap_merkle_root":null,"proprietary":[],"unknown":[]}],` +
		`"outputs":[{"redeem_script":"51","witness_script":null,` +
		`"bip32_derivation":[],"tap_internal_key":null,` +
		`"tap_tree":null,"tap_key_origins":[],"proprietary":[],` +
		`"unknown":[]}]}`

	decoded, err := decodePSBT("p", []byte(doc))
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), decoded.Bytes())
	require.EqualValues(t, 60_000,
		decoded.Packet().Inputs[0].WitnessUtxo.Value)

	// The base64 form still decodes to the same packet.
	text, err := want.MarshalText()
	require.NoError(t, err)
	decoded, err = decodePSBT("p", []byte(`"`+string(text)+`"`))
	require.NoError(t, err)
	require.True(t, bytes.Equal(want.Bytes(), decoded.Bytes()))
}

// TestStructuredDocument asserts that structured transactions and PSBTs in a
// document are read and written back in their string form.
func TestStructuredDocument(t *testing.T) {
	t.Parallel()

	tx := testTx(t, 3)
	txHex, err := tx.MarshalText()
	require.NoError(t, err)

	packet := testPSBT(t, 21_000)
	psbtText, err := packet.MarshalText()
	require.NoError(t, err)

	psbtObject := `{"unsigned_tx":{"version":2,"lock_time":0,"input":[` +
		`{"previous_output":"` +
		wire.NewOutPoint(&chainhash.Hash{2}, 1).String() +
		`"}],"output":[{"value":21000,"script_pubkey":"51"}]},` +
		`"inputs":[{}],"outputs":[{}]}`

	doc := `{"version":2,"network":"bitcoin","accounts":[` +
		`{"descriptor":"wpkh(` + genPubKey + `)","active":true,` +
		`"transactions":[` + txObject(t, 3) + `,"` + string(txHex) +
		`"],"psbts":[` + psbtObject + `]}]}`

	b, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, b.Accounts[0].Transactions, 2)
	require.Equal(t, tx.Bytes(), b.Accounts[0].Transactions[0].Bytes())
	require.Equal(t, packet.Bytes(), b.Accounts[0].PSBTs[0].Bytes())

	data, err := Encode(b)
	require.NoError(t, err)
	require.Contains(t, string(data), `"transactions":["`+string(txHex)+
		`","`+string(txHex)+`"],"psbts":["`+string(psbtText)+`"]`)
}
