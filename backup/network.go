package backup

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// ErrUnknownNetwork is returned when a network tag or chain parameter set
// isn't one of the four networks a backup may apply to.
var ErrUnknownNetwork = errors.New("unknown network")

// Network is the Bitcoin network a backup applies to.
type Network uint8

const (
	// Mainnet is the Bitcoin main network. It is tagged "bitcoin" on the
	// wire, following the network names of the rust-bitcoin ecosystem
	// that produced the first backups.
	Mainnet Network = iota

	// Testnet is testnet3.
	Testnet

	// Signet is the default signet.
	Signet

	// Regtest is the local regression test network.
	Regtest
)

// String returns the wire tag of the network.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "bitcoin"
	case Testnet:
		return "testnet"
	case Signet:
		return "signet"
	case Regtest:
		return "regtest"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(n))
	}
}

// ParseNetwork parses a network tag. Besides the wire tags, "mainnet" is
// accepted as an alias of "bitcoin".
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "bitcoin", "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "signet":
		return Signet, nil
	case "regtest":
		return Regtest, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
	}
}

// Params returns the chain parameters of the network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case Testnet:
		return &chaincfg.TestNet3Params
	case Signet:
		return &chaincfg.SigNetParams
	case Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// NetworkFromParams maps chain parameters back to a Network.
func NetworkFromParams(params *chaincfg.Params) (Network, error) {
	switch params.Net {
	case wire.MainNet:
		return Mainnet, nil
	case wire.TestNet3:
		return Testnet, nil
	case chaincfg.SigNetParams.Net:
		return Signet, nil
	case wire.TestNet:
		return Regtest, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownNetwork, params.Name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (n Network) MarshalText() ([]byte, error) {
	if n > Regtest {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNetwork, uint8(n))
	}

	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Network) UnmarshalText(text []byte) error {
	net, err := ParseNetwork(string(text))
	if err != nil {
		return err
	}

	*n = net

	return nil
}
