package backup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/walletbackup/bip32"
	"github.com/vulpemventures/go-bip39"
)

// ErrInvalidMnemonic is returned for a phrase that isn't a valid BIP39
// mnemonic of the English word list.
var ErrInvalidMnemonic = errors.New("invalid bip39 mnemonic")

// Mnemonic is a BIP39 mnemonic phrase. The phrase is checksum validated on
// construction and normalized to single spaces between words.
type Mnemonic struct {
	phrase string
}

// NewMnemonic validates the words and the checksum of phrase and returns the
// mnemonic.
func NewMnemonic(phrase string) (Mnemonic, error) {
	normalized := strings.Join(strings.Fields(phrase), " ")
	if normalized == "" {
		return Mnemonic{}, ErrInvalidMnemonic
	}

	// Only decoding the entropy checks the checksum word.
	if _, err := bip39.EntropyFromMnemonic(normalized); err != nil {
		return Mnemonic{}, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	return Mnemonic{phrase: normalized}, nil
}

// GenerateMnemonic returns a new random mnemonic with the given entropy size
// in bits (128 to 256, a multiple of 32).
func GenerateMnemonic(bitSize int) (Mnemonic, error) {
	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return Mnemonic{}, err
	}

	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Mnemonic{}, err
	}

	return NewMnemonic(phrase)
}

// Phrase returns the space separated words.
func (m Mnemonic) Phrase() string {
	return m.phrase
}

// Words returns the individual words of the phrase.
func (m Mnemonic) Words() []string {
	return strings.Fields(m.phrase)
}

// String keeps the phrase out of log output.
func (m Mnemonic) String() string {
	return "<redacted mnemonic>"
}

// Seed derives the BIP39 seed with the given passphrase.
func (m Mnemonic) Seed(passphrase string) ([]byte, error) {
	return bip39.NewSeedWithErrorChecking(m.phrase, passphrase)
}

// MasterFingerprint derives the master key of the seed and returns its
// fingerprint. The fingerprint doesn't depend on the network.
func (m Mnemonic) MasterFingerprint(passphrase string) (bip32.Fingerprint,
	error) {

	seed, err := m.Seed(passphrase)
	if err != nil {
		return bip32.Fingerprint{}, err
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return bip32.Fingerprint{}, err
	}

	pub, err := master.ECPubKey()
	if err != nil {
		return bip32.Fingerprint{}, err
	}

	return bip32.FingerprintFromKey(pub), nil
}

// MarshalText implements encoding.TextMarshaler.
func (m Mnemonic) MarshalText() ([]byte, error) {
	if m.phrase == "" {
		return nil, ErrInvalidMnemonic
	}

	return []byte(m.phrase), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mnemonic) UnmarshalText(text []byte) error {
	mnemonic, err := NewMnemonic(string(text))
	if err != nil {
		return err
	}
	*m = mnemonic

	return nil
}
