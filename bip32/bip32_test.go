package bip32

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/stretchr/testify/require"
)

const h = hdkeychain.HardenedKeyStart

func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		output Path
		err    error
	}{
		// Plain absolute derivation paths.
		{"m/84'/0'/0'/0", Path{h + 84, h, h, 0}, nil},
		{"m/84'/0'/0'/128", Path{h + 84, h, h, 128}, nil},
		{"m/2147483732/2147483648/2147483648/0", Path{h + 84, h, h, 0}, nil},

		// Alternative hardened markers.
		{"m/84h/1H/0'", Path{h + 84, h + 1, h}, nil},

		// BIP85 style path.
		{"m/83696968'/39'/0'/12'/0'", Path{h + 83696968, h + 39, h, h + 12, h}, nil},

		// Whitespace is tolerated around elements.
		{" m / 84 ' / 0'", Path{h + 84, h}, nil},

		// Relative derivation paths.
		{"84'/0'/0/0", Path{h + 84, h, 0, 0}, nil},
		{"0", Path{0}, nil},

		// The master key itself.
		{"m", Path{}, nil},

		// Invalid derivation paths.
		{"", nil, ErrNullPath},
		{"m/", nil, ErrMalformedPath},
		{"/84'/0'", nil, ErrMalformedPath},
		{"m//0", nil, ErrMalformedPath},
	}
	for _, tt := range tests {
		path, err := ParsePath(tt.input)
		if tt.err != nil {
			require.ErrorIs(t, err, tt.err, tt.input)
			continue
		}

		require.NoError(t, err, tt.input)
		require.Equal(t, tt.output, path, tt.input)
	}
}

func TestParsePathRange(t *testing.T) {
	t.Parallel()

	// Overflowing and negative values carry dynamic messages.
	for _, input := range []string{"m/2147483648'", "m/-1", "m/0x10", "m/a"} {
		_, err := ParsePath(input)
		require.Error(t, err, input)
	}
}

func TestPathString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "m", Path{}.String())
	require.Equal(t, "m/84'/0'/0'/1/5", Path{h + 84, h, h, 1, 5}.String())

	require.True(t, Path{h + 83696968, h}.IsHardened())
	require.False(t, Path{h + 84, 0}.IsHardened())
}

func TestPathJSON(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		Path Path `json:"path"`
	}

	raw, err := json.Marshal(wrapper{Path: Path{h + 83696968, h + 32, h}})
	require.NoError(t, err)
	require.JSONEq(t, `{"path":"m/83696968'/32'/0'"}`, string(raw))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"path":"83696968h/32h/0h"}`), &w))
	require.True(t, w.Path.Equal(Path{h + 83696968, h + 32, h}))
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	fp, err := ParseFingerprint("D34DB33F")
	require.NoError(t, err)
	require.Equal(t, Fingerprint{0xd3, 0x4d, 0xb3, 0x3f}, fp)
	require.Equal(t, "d34db33f", fp.String())
	require.Equal(t, uint32(0xd34db33f), fp.Uint32())
	require.False(t, fp.IsZero())

	for _, bad := range []string{"", "d34db3", "d34db33f00", "zz4db33f"} {
		_, err := ParseFingerprint(bad)
		require.ErrorIs(t, err, ErrInvalidFingerprint, bad)
	}

	// Fingerprints are usable as JSON object keys.
	m := map[Fingerprint]int{fp: 1}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"d34db33f":1}`, string(raw))

	var decoded map[Fingerprint]int
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, m, decoded)
}
