package migration

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/backupv1"
	"github.com/lightningnetwork/walletbackup/bip32"
	"github.com/lightningnetwork/walletbackup/descriptor"
	"github.com/lightningnetwork/walletbackup/internal/testkeys"
	"github.com/lightningnetwork/walletbackup/labels"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func strPtr(s string) *string { return &s }

func rolePtr(r backup.KeyRole) *backup.KeyRole { return &r }

func typePtr(t backup.KeyType) *backup.KeyType { return &t }

// multisigV1 returns a 2-of-3 testnet v1 backup with metadata on every key.
func multisigV1(t *testing.T) *backupv1.Backup {
	t.Helper()

	signers := testkeys.Signers(0, 3, &chaincfg.TestNet3Params)
	desc, err := descriptor.Parse(testkeys.SortedMulti(2, signers...))
	require.NoError(t, err)

	acct := backupv1.NewAccount(desc)
	aliases := []string{"alice", "bob", "carol"}
	for i, pub := range desc.Keys() {
		acct.SetKey(backupv1.Key{
			Key:     pub,
			Alias:   strPtr(aliases[i]),
			Role:    rolePtr(backup.KeyRoleMain),
			KeyType: typePtr(backup.KeyTypeInternal),
		})
	}
	ts := uint64(1_600_000_000)
	acct.Timestamp = &ts
	acct.Name = strPtr("vault")

	return &backupv1.Backup{
		Name:        strPtr("family"),
		Accounts:    []backupv1.Account{acct},
		Network:     backup.Testnet,
		Proprietary: backup.Proprietary{"x": json.RawMessage(`[1]`)},
	}
}

func TestDetectVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		doc     string
		version uint32
		err     error
	}{
		{`{"accounts":[],"network":"bitcoin"}`, 1, nil},
		{`{"version":1}`, 1, nil},
		{`{"version":2}`, 2, nil},
		{`{"version":3}`, 0, ErrUnknownVersion},
		{`{"version":"2"}`, 0, nil},
		{`nope`, 0, nil},
	}

	for _, tc := range tests {
		version, err := DetectVersion([]byte(tc.doc))
		if tc.version != 0 {
			require.NoError(t, err, tc.doc)
			require.Equal(t, tc.version, version, tc.doc)
			continue
		}

		require.Error(t, err, tc.doc)
		if tc.err != nil {
			require.ErrorIs(t, err, tc.err, tc.doc)
			continue
		}

		var pErr *backup.ParseError
		require.True(t, errors.As(err, &pErr), tc.doc)
	}

	require.Equal(t, backup.Version, LatestVersion())
}

func TestUpgrade(t *testing.T) {
	t.Parallel()

	old := multisigV1(t)

	b, err := Upgrade(old)
	require.NoError(t, err)
	require.NoError(t, b.Validate())

	require.Equal(t, old.Name, b.Name)
	require.Nil(t, b.Description)
	require.Equal(t, old.Network, b.Network)
	require.Equal(t, old.Proprietary, b.Proprietary)
	require.Len(t, b.Accounts, 1)

	acct := b.Accounts[0]
	require.True(t, acct.Active)
	require.Nil(t, acct.ReceiveIndex)
	require.Nil(t, acct.ChangeIndex)
	require.Nil(t, acct.Mnemonic)
	require.Equal(t, old.Accounts[0].Timestamp, acct.Timestamp)
	require.Len(t, acct.Keys, 3)

	for _, pub := range acct.Descriptor.Keys() {
		want := old.Accounts[0].Keys[pub.String()]
		got, ok := acct.Keys[pub.MasterFingerprint()]
		require.True(t, ok)
		require.Equal(t, pub.MasterFingerprint(), got.Key)
		require.Equal(t, want.Alias, got.Alias)
		require.Equal(t, want.Role, got.Role)
		require.Equal(t, want.KeyType, got.KeyType)
		require.Nil(t, got.Status)
		require.Nil(t, got.BIP85DerivationPath)
	}

	// Upgrading the same document again yields the same result.
	again, err := Upgrade(old)
	require.NoError(t, err)
	first, err := backup.Encode(b)
	require.NoError(t, err)
	second, err := backup.Encode(again)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

// sameSignerV1 returns a v1 account whose two keys share one master key.
func sameSignerV1(t *testing.T, aliasA, aliasB string) *backupv1.Backup {
	t.Helper()

	s := testkeys.MustSigner(7, &chaincfg.TestNet3Params)
	origin := "[" + s.Fingerprint.String() +
		strings.TrimPrefix(s.Path.String(), "m") + "]"
	desc, err := descriptor.Parse("wsh(multi(1," + origin + s.AccountXPub +
		"/0/*," + origin + s.AccountXPub + "/1/*))")
	require.NoError(t, err)

	acct := backupv1.NewAccount(desc)
	keys := desc.Keys()
	require.Len(t, keys, 2)
	acct.SetKey(backupv1.Key{Key: keys[0], Alias: strPtr(aliasA)})
	acct.SetKey(backupv1.Key{Key: keys[1], Alias: strPtr(aliasB)})

	return &backupv1.Backup{
		Accounts: []backupv1.Account{acct},
		Network:  backup.Testnet,
	}
}

func TestUpgradeCollision(t *testing.T) {
	t.Parallel()

	// Identical metadata merges into one entry.
	b, err := Upgrade(sameSignerV1(t, "same", "same"))
	require.NoError(t, err)
	require.Len(t, b.Accounts[0].Keys, 1)

	// Differing metadata can't be merged.
	_, err = Upgrade(sameSignerV1(t, "receive", "change"))

	var collision *FingerprintCollisionError
	require.ErrorAs(t, err, &collision)
	require.Zero(t, collision.Account)
	require.NotEqual(t, collision.Keys[0], collision.Keys[1])
}

func TestDowngrade(t *testing.T) {
	t.Parallel()

	old := multisigV1(t)
	b, err := Upgrade(old)
	require.NoError(t, err)

	// Fill in every field the first generation can't hold.
	acct := &b.Accounts[0]
	fps := acct.Descriptor.Fingerprints()
	revoked := backup.KeyStatusRevoked
	key := acct.Keys[fps[0]]
	key.Status = &revoked
	key.BIP85DerivationPath = bip32.Path{0x80000053}
	acct.Keys[fps[0]] = key

	idx := uint32(5)
	mnemonic, err := backup.NewMnemonic("abandon abandon abandon " +
		"abandon abandon abandon abandon abandon abandon abandon " +
		"abandon about")
	require.NoError(t, err)
	acct.Description = strPtr("drop me")
	acct.ReceiveIndex = &idx
	acct.ChangeIndex = &idx
	acct.Mnemonic = &mnemonic
	b.Description = strPtr("drop me too")

	down, err := Downgrade(b)
	require.NoError(t, err)
	require.NoError(t, down.Validate())

	// The key map is the one of the original document.
	require.Equal(t, len(old.Accounts[0].Keys), len(down.Accounts[0].Keys))
	for id, want := range old.Accounts[0].Keys {
		got, ok := down.Accounts[0].Keys[id]
		require.True(t, ok, id)
		require.True(t, want.Key.Equal(got.Key))
		require.Equal(t, want.Alias, got.Alias)
		require.Equal(t, want.Role, got.Role)
		require.Equal(t, want.KeyType, got.KeyType)
	}

	data, err := Encode(b, backupv1.Version)
	require.NoError(t, err)
	for _, field := range []string{
		`"version"`, `"description"`, `"active"`, `"receive_index"`,
		`"change_index"`, `"bip39_mnemonic"`, `"key_status"`,
		`"bip85_derivation_path"`,
	} {
		require.NotContains(t, string(data), field)
	}

	version, err := DetectVersion(data)
	require.NoError(t, err)
	require.Equal(t, backupv1.Version, version)

	// The first generation can be read back and matches the original.
	want, err := backupv1.Encode(old)
	require.NoError(t, err)
	require.Equal(t, string(want), string(data))
}

func TestDowngradeUnresolvable(t *testing.T) {
	t.Parallel()

	b, err := Upgrade(multisigV1(t))
	require.NoError(t, err)

	lost := bip32.Fingerprint{0xde, 0xad, 0xbe, 0xef}
	b.Accounts[0].Keys[lost] = backup.NewKey(lost)

	_, err = Downgrade(b)

	var unresolved *UnresolvedFingerprintError
	require.ErrorAs(t, err, &unresolved)
	require.Equal(t, lost, unresolved.Fingerprint)
	require.Contains(t, err.Error(), "deadbeef")

	_, err = Encode(b, backupv1.Version)
	require.ErrorAs(t, err, &unresolved)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	old := multisigV1(t)
	v1Doc, err := backupv1.Encode(old)
	require.NoError(t, err)

	loaded, err := Load(v1Doc)
	require.NoError(t, err)

	upgraded, err := Upgrade(old)
	require.NoError(t, err)

	want, err := backup.Encode(upgraded)
	require.NoError(t, err)
	got, err := backup.Encode(loaded)
	require.NoError(t, err)
	require.Equal(t, string(want), string(got))

	// Loading the latest version is a plain decode.
	v2Doc, err := Encode(upgraded, backup.Version)
	require.NoError(t, err)
	reloaded, err := Load(v2Doc)
	require.NoError(t, err)
	got, err = backup.Encode(reloaded)
	require.NoError(t, err)
	require.Equal(t, string(v2Doc), string(got))

	// Newer documents are refused.
	_, err = Load([]byte(`{"version":9,"accounts":[],"network":"bitcoin"}`))
	require.ErrorIs(t, err, ErrUnknownVersion)

	_, err = Encode(upgraded, 9)
	require.ErrorIs(t, err, ErrUnknownVersion)

	// Validation runs after the upgrade.
	old.Network = backup.Mainnet
	mainnetDoc, err := backupv1.Encode(old)
	require.NoError(t, err)
	_, err = Load(mainnetDoc)

	var netErr *backup.NetworkMismatchError
	require.ErrorAs(t, err, &netErr)
}

// TestLoadV1KeyMismatch asserts that a v1 entry stored under the identifier
// of another key is refused instead of being upgraded.
func TestLoadV1KeyMismatch(t *testing.T) {
	t.Parallel()

	old := multisigV1(t)
	keys := old.Accounts[0].Keys

	ids := make([]string, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	keys[ids[0]], keys[ids[1]] = keys[ids[1]], keys[ids[0]]

	doc, err := backupv1.Encode(old)
	require.NoError(t, err)

	_, err = Load(doc)

	var keyErr *backup.KeyMismatchError
	require.ErrorAs(t, err, &keyErr)
	require.Equal(t, ids[0], keyErr.ID)

	// Upgrading directly still succeeds, keyed by the entries' own keys.
	_, err = Upgrade(old)
	require.NoError(t, err)
}

// TestLoadKeepsLabels asserts that labels are carried through an upgrade
// whatever their length or type.
func TestLoadKeepsLabels(t *testing.T) {
	t.Parallel()

	old := multisigV1(t)
	long := strings.Repeat("a", 600)
	old.Accounts[0].Labels = &labels.Set{
		{Type: labels.TypeTx, Ref: "aa", Label: &long},
		{Type: "utxo", Ref: "bb:0"},
	}

	doc, err := backupv1.Encode(old)
	require.NoError(t, err)

	loaded, err := Load(doc)
	require.NoError(t, err)
	require.Equal(t, old.Accounts[0].Labels, loaded.Accounts[0].Labels)
}

func TestEncodeIndent(t *testing.T) {
	t.Parallel()

	b, err := Upgrade(multisigV1(t))
	require.NoError(t, err)

	for _, version := range []uint32{backupv1.Version, backup.Version} {
		data, err := EncodeIndent(b, version)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(string(data), "{\n  \""))

		loaded, err := Load(data)
		require.NoError(t, err, spew.Sdump(string(data)))
		require.Len(t, loaded.Accounts, 1)
	}
}

// TestMigrationProperties checks the upgrade and downgrade laws over
// arbitrary first generation key maps.
func TestMigrationProperties(t *testing.T) {
	signers := testkeys.Signers(20, 4, &chaincfg.TestNet3Params)
	desc, err := descriptor.Parse(testkeys.SortedMulti(2, signers...))
	require.NoError(t, err)
	pubs := desc.Keys()

	roles := []backup.KeyRole{
		backup.KeyRoleMain, backup.KeyRoleRecovery,
		backup.KeyRoleInheritance, backup.KeyRoleCosigning,
	}
	types := []backup.KeyType{
		backup.KeyTypeInternal, backup.KeyTypeExternal,
		backup.KeyTypeThirdParty,
	}

	rapid.Check(t, func(t *rapid.T) {
		acct := backupv1.NewAccount(desc)
		for _, pub := range pubs {
			if !rapid.Bool().Draw(t, "has_key") {
				continue
			}

			key := backupv1.Key{Key: pub}
			key.Alias = rapid.Ptr(
				rapid.StringN(0, 8, -1), true,
			).Draw(t, "alias")
			key.Role = rapid.Ptr(
				rapid.SampledFrom(roles), true,
			).Draw(t, "role")
			key.KeyType = rapid.Ptr(
				rapid.SampledFrom(types), true,
			).Draw(t, "type")
			acct.SetKey(key)
		}

		old := &backupv1.Backup{
			Accounts: []backupv1.Account{acct},
			Network:  backup.Testnet,
		}
		old.Name = rapid.Ptr(
			rapid.StringN(0, 8, -1), true,
		).Draw(t, "name")

		upgraded, err := Upgrade(old)
		require.NoError(t, err)

		// Load(Encode(Upgrade(D))) == Upgrade(D).
		doc, err := Encode(upgraded, backup.Version)
		require.NoError(t, err)
		loaded, err := Load(doc)
		require.NoError(t, err)
		again, err := backup.Encode(loaded)
		require.NoError(t, err)
		require.Equal(t, string(doc), string(again))

		// Downgrade(Upgrade(D)) reproduces D.
		down, err := Downgrade(upgraded)
		require.NoError(t, err)

		want, err := backupv1.Encode(old)
		require.NoError(t, err)
		got, err := backupv1.Encode(down)
		require.NoError(t, err)
		require.Equal(t, string(want), string(got))
	})
}
