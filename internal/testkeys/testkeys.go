// Package testkeys derives deterministic BIP32 keys and descriptors for use in
// tests. Nothing here is safe for real funds.
package testkeys

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/walletbackup/bip32"
)

// AccountPath is the BIP48 P2WSH multisig account path the test keys are
// derived at, without the coin type level which depends on the network.
var AccountPath = []uint32{
	hdkeychain.HardenedKeyStart + 48,
	hdkeychain.HardenedKeyStart + 0,
	hdkeychain.HardenedKeyStart + 2,
}

// Signer is a deterministic test master key.
type Signer struct {
	// Master is the master private key.
	Master *hdkeychain.ExtendedKey

	// Fingerprint is the fingerprint of the master key.
	Fingerprint bip32.Fingerprint

	// Path is the account path the account key was derived at.
	Path bip32.Path

	// AccountXPub is the base58 extended public key of the account.
	AccountXPub string

	// MasterXPub is the base58 extended public key of the master key.
	MasterXPub string
}

// NewSigner derives the signer with the given index for the network.
func NewSigner(index int, params *chaincfg.Params) (*Signer, error) {
	seed := sha256.Sum256([]byte(fmt.Sprintf("walletbackup-%d", index)))

	master, err := hdkeychain.NewMaster(seed[:], params)
	if err != nil {
		return nil, err
	}

	masterPub, err := master.ECPubKey()
	if err != nil {
		return nil, err
	}
	masterNeutered, err := master.Neuter()
	if err != nil {
		return nil, err
	}

	coinType := uint32(1)
	if params.Net == chaincfg.MainNetParams.Net {
		coinType = 0
	}
	path := bip32.Path{
		AccountPath[0], hdkeychain.HardenedKeyStart + coinType,
		AccountPath[1], AccountPath[2],
	}

	key := master
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, err
		}
	}
	accountPub, err := key.Neuter()
	if err != nil {
		return nil, err
	}

	return &Signer{
		Master:      master,
		Fingerprint: bip32.FingerprintFromKey(masterPub),
		Path:        path,
		AccountXPub: accountPub.String(),
		MasterXPub:  masterNeutered.String(),
	}, nil
}

// MustSigner is NewSigner for tests that can't recover from a failure.
func MustSigner(index int, params *chaincfg.Params) *Signer {
	s, err := NewSigner(index, params)
	if err != nil {
		panic(err)
	}

	return s
}

// KeyExpr returns the signer's account key as a descriptor key expression
// with origin and a receive/change multipath suffix.
func (s *Signer) KeyExpr() string {
	return "[" + s.Fingerprint.String() +
		strings.TrimPrefix(s.Path.String(), "m") + "]" +
		s.AccountXPub + "/<0;1>/*"
}

// SortedMulti returns a wsh(sortedmulti(...)) descriptor over the given
// signers.
func SortedMulti(threshold int, signers ...*Signer) string {
	exprs := make([]string, 0, len(signers))
	for _, s := range signers {
		exprs = append(exprs, s.KeyExpr())
	}

	return fmt.Sprintf("wsh(sortedmulti(%d,%s))", threshold,
		strings.Join(exprs, ","))
}

// Signers derives count consecutive signers starting at index first.
func Signers(first, count int, params *chaincfg.Params) []*Signer {
	signers := make([]*Signer, count)
	for i := range signers {
		signers[i] = MustSigner(first+i, params)
	}

	return signers
}
