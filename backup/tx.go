package backup

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrEmptyTransaction is returned when a nil or empty transaction is
	// stored in a backup.
	ErrEmptyTransaction = errors.New("transaction must not be empty")

	// ErrEmptyPSBT is returned when a nil or empty PSBT is stored in a
	// backup.
	ErrEmptyPSBT = errors.New("psbt must not be empty")
)

// Transaction is a historical transaction of an account. The backup stores
// the exact consensus bytes it was given and re-emits them unchanged, as lower
// case hex.
type Transaction struct {
	raw []byte
	tx  *wire.MsgTx
}

// NewTransaction builds a Transaction from a decoded transaction.
func NewTransaction(tx *wire.MsgTx) (Transaction, error) {
	if tx == nil {
		return Transaction{}, ErrEmptyTransaction
	}

	var b bytes.Buffer
	if err := tx.Serialize(&b); err != nil {
		return Transaction{}, err
	}

	return Transaction{raw: b.Bytes(), tx: tx.Copy()}, nil
}

// ParseTransaction decodes a transaction from its hex consensus encoding.
func ParseTransaction(s string) (Transaction, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Transaction{}, fmt.Errorf("invalid transaction hex: %w",
			err)
	}
	if len(raw) == 0 {
		return Transaction{}, ErrEmptyTransaction
	}

	r := bytes.NewReader(raw)
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(r); err != nil {
		return Transaction{}, fmt.Errorf("invalid transaction: %w",
			err)
	}
	if r.Len() != 0 {
		return Transaction{}, fmt.Errorf("invalid transaction: %d "+
			"trailing bytes", r.Len())
	}

	return Transaction{raw: raw, tx: tx}, nil
}

// MsgTx returns a copy of the decoded transaction.
func (t Transaction) MsgTx() *wire.MsgTx {
	if t.tx == nil {
		return nil
	}

	return t.tx.Copy()
}

// TxHash returns the txid of the transaction.
func (t Transaction) TxHash() chainhash.Hash {
	if t.tx == nil {
		return chainhash.Hash{}
	}

	return t.tx.TxHash()
}

// Bytes returns the consensus encoding of the transaction.
func (t Transaction) Bytes() []byte {
	return append([]byte(nil), t.raw...)
}

// MarshalText implements encoding.TextMarshaler.
func (t Transaction) MarshalText() ([]byte, error) {
	if len(t.raw) == 0 {
		return nil, ErrEmptyTransaction
	}

	return []byte(hex.EncodeToString(t.raw)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Transaction) UnmarshalText(text []byte) error {
	tx, err := ParseTransaction(string(text))
	if err != nil {
		return err
	}
	*t = tx

	return nil
}

// PSBT is an in-flight partially signed transaction of an account. Like
// Transaction it keeps the exact serialized packet and re-emits it as
// standard base64.
type PSBT struct {
	raw    []byte
	packet *psbt.Packet
}

// NewPSBT builds a PSBT from a decoded packet.
func NewPSBT(packet *psbt.Packet) (PSBT, error) {
	if packet == nil {
		return PSBT{}, ErrEmptyPSBT
	}

	var b bytes.Buffer
	if err := packet.Serialize(&b); err != nil {
		return PSBT{}, err
	}

	return ParsePSBTBytes(b.Bytes())
}

// ParsePSBT decodes a PSBT from its base64 encoding.
func ParsePSBT(s string) (PSBT, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PSBT{}, fmt.Errorf("invalid psbt base64: %w", err)
	}

	return ParsePSBTBytes(raw)
}

// ParsePSBTBytes decodes a PSBT from its binary BIP174 serialization.
func ParsePSBTBytes(raw []byte) (PSBT, error) {
	if len(raw) == 0 {
		return PSBT{}, ErrEmptyPSBT
	}

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return PSBT{}, fmt.Errorf("invalid psbt: %w", err)
	}

	return PSBT{raw: append([]byte(nil), raw...), packet: packet}, nil
}

// Packet returns the decoded packet. Callers must not modify it, parse the
// bytes again instead.
func (p PSBT) Packet() *psbt.Packet {
	return p.packet
}

// Bytes returns the BIP174 serialization of the PSBT.
func (p PSBT) Bytes() []byte {
	return append([]byte(nil), p.raw...)
}

// MarshalText implements encoding.TextMarshaler.
func (p PSBT) MarshalText() ([]byte, error) {
	if len(p.raw) == 0 {
		return nil, ErrEmptyPSBT
	}

	return []byte(base64.StdEncoding.EncodeToString(p.raw)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PSBT) UnmarshalText(text []byte) error {
	packet, err := ParsePSBT(string(text))
	if err != nil {
		return err
	}
	*p = packet

	return nil
}
