package backupv1

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/descriptor"
	"github.com/lightningnetwork/walletbackup/internal/testkeys"
	"github.com/stretchr/testify/require"
)

const genPubKey = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func strPtr(s string) *string { return &s }

func multisigAccount(t *testing.T) Account {
	t.Helper()

	signers := testkeys.Signers(0, 3, &chaincfg.TestNet3Params)
	desc, err := descriptor.Parse(testkeys.SortedMulti(2, signers...))
	require.NoError(t, err)

	return NewAccount(desc)
}

func TestEmptyBackup(t *testing.T) {
	t.Parallel()

	b := &Backup{Network: backup.Mainnet}

	data, err := Encode(b)
	require.NoError(t, err)
	require.Equal(t, `{"accounts":[],"network":"bitcoin"}`, string(data))

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Nil(t, decoded.Version)

	// An explicit version 1 is kept.
	decoded, err = Decode([]byte(`{"version":1,"accounts":[],` +
		`"network":"mainnet"}`))
	require.NoError(t, err)
	require.NotNil(t, decoded.Version)

	data, err = Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, `{"version":1,"accounts":[],"network":"bitcoin"}`,
		string(data))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	acct := multisigAccount(t)
	require.Equal(t, 3, acct.PopulateKeys())

	role, typ := backup.KeyRoleCosigning, backup.KeyTypeExternal
	first := acct.Descriptor.Keys()[0]
	acct.SetKey(Key{
		Key: first, Alias: strPtr("bob"), Role: &role, KeyType: &typ,
	})
	ts := uint64(1_650_000_000)
	acct.Timestamp = &ts
	acct.Name = strPtr("shared")

	b := &Backup{
		Name:     strPtr("legacy"),
		Accounts: []Account{acct},
		Network:  backup.Testnet,
	}
	require.NoError(t, b.Validate())

	data, err := EncodeIndent(b)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.NoError(t, decoded.Validate())

	again, err := EncodeIndent(decoded)
	require.NoError(t, err)
	require.Equal(t, string(data), string(again))

	got := decoded.Accounts[0].Keys[first.String()]
	require.Equal(t, "bob", *got.Alias)
	require.Equal(t, role, *got.Role)
	require.Equal(t, typ, *got.KeyType)
	require.True(t, got.Key.Equal(first))
	require.Empty(t, decoded.Accounts[0].StaleKeys())
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		path string
		err  error
	}{{
		name: "v2 document",
		doc:  `{"version":2,"accounts":[],"network":"bitcoin"}`,
		path: "version",
		err:  ErrNotV1,
	}, {
		name: "missing network",
		doc:  `{"accounts":[]}`,
		path: "network",
		err:  backup.ErrMissingField,
	}, {
		name: "bad key id",
		doc: `{"network":"bitcoin","accounts":[{"descriptor":"wpkh(` +
			genPubKey + `)","keys":{"nokey":{"key":"nokey"}}}]}`,
		path: "accounts[0].keys.nokey",
		err:  descriptor.ErrInvalidKey,
	}, {
		name: "unknown key type",
		doc: `{"network":"bitcoin","accounts":[{"descriptor":"wpkh(` +
			genPubKey + `)","keys":{"` + genPubKey + `":{"key":"` +
			genPubKey + `","key_type":"Bank"}}}]}`,
		path: "accounts[0].keys." + genPubKey + ".key_type",
		err:  backup.ErrUnknownTag,
	}, {
		name: "missing descriptor",
		doc:  `{"network":"bitcoin","accounts":[{}]}`,
		path: "accounts[0].descriptor",
		err:  backup.ErrMissingField,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b, err := Decode([]byte(tc.doc))
			require.Nil(t, b)

			var pErr *backup.ParseError
			require.True(t, errors.As(err, &pErr), err)
			require.Equal(t, tc.path, pErr.Path)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	b := &Backup{
		Accounts: []Account{multisigAccount(t)},
		Network:  backup.Mainnet,
	}

	var netErr *backup.NetworkMismatchError
	require.ErrorAs(t, b.Validate(), &netErr)

	b.Network = backup.Signet
	require.NoError(t, b.Validate())

	// An entry filed under another key's identifier.
	keys := b.Accounts[0].Descriptor.Keys()
	b.Accounts[0].Keys = map[string]Key{
		keys[0].String(): {Key: keys[1]},
	}

	var keyErr *backup.KeyMismatchError
	require.ErrorAs(t, b.Validate(), &keyErr)
	require.Equal(t, keys[0].String(), keyErr.ID)

	// A key of another descriptor is stale but allowed.
	stale, err := descriptor.ParsePublicKey(genPubKey)
	require.NoError(t, err)
	b.Accounts[0].Keys = nil
	b.Accounts[0].SetKey(Key{Key: stale})
	require.NoError(t, b.Validate())
	require.Equal(t, []string{genPubKey}, b.Accounts[0].StaleKeys())
}
