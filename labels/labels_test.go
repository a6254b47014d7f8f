package labels

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/stretchr/testify/require"
)

const txid = "f91d0a8a78462bc59398f2c5d7a84fcff491c26ba54c4833478b202796c8aafd"

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func TestLabelValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		label Label
		err   error
	}{{
		name:  "tx label",
		label: Label{Type: TypeTx, Ref: txid, Label: strPtr("rent")},
	}, {
		name: "spendable output",
		label: Label{
			Type: TypeOutput, Ref: txid + ":0",
			Spendable: boolPtr(false),
		},
	}, {
		name:  "unknown type",
		label: Label{Type: "utxo", Ref: txid},
		err:   ErrUnknownType,
	}, {
		name:  "empty ref",
		label: Label{Type: TypeAddr},
		err:   ErrEmptyRef,
	}, {
		name: "spendable on tx",
		label: Label{
			Type: TypeTx, Ref: txid, Spendable: boolPtr(true),
		},
		err: ErrSpendableNotOutput,
	}}

	for _, tc := range tests {
		err := tc.label.Validate()
		if tc.err == nil {
			require.NoError(t, err, tc.name)
			continue
		}
		require.ErrorIs(t, err, tc.err, tc.name)
	}

	long := Label{
		Type: TypeTx, Ref: txid,
		Label: strPtr(strings.Repeat("a", wtxmgr.TxLabelLimit+1)),
	}
	require.NoError(t, long.Validate())
	require.Error(t, long.ValidateLimit())
	require.Error(t, Set{long}.ValidateLimit())

	fits := Label{
		Type: TypeTx, Ref: txid,
		Label: strPtr(strings.Repeat("a", wtxmgr.TxLabelLimit)),
	}
	require.NoError(t, fits.ValidateLimit())
}

func TestSetJSON(t *testing.T) {
	t.Parallel()

	doc := `[{"type":"tx","ref":"` + txid + `","label":"rent",` +
		`"origin":"wpkh([d34db33f/84'/0'/0'])"},` +
		`{"type":"output","ref":"` + txid + `:1","spendable":false}]`

	var set Set
	require.NoError(t, json.Unmarshal([]byte(doc), &set))
	require.Len(t, set, 2)
	require.NoError(t, set.Validate())

	out, err := json.Marshal(set)
	require.NoError(t, err)
	require.Equal(t, doc, string(out))

	// Unknown label types decode and are only rejected by Validate.
	err = json.Unmarshal([]byte(`[{"type":"utxo","ref":"x"}]`), &set)
	require.NoError(t, err)
	require.Equal(t, Type("utxo"), set[0].Type)
	require.ErrorIs(t, set.Validate(), ErrUnknownType)
}

func TestLabelExtraFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		out   string
		extra map[string]string
	}{{
		name: "no extras",
		in:   `{"type":"tx","ref":"aa","label":"x"}`,
		out:  `{"type":"tx","ref":"aa","label":"x"}`,
	}, {
		name: "extras sorted after known fields",
		in: `{"keypath":"/1/2","type":"tx","height":800000,` +
			`"ref":"aa","label":"x"}`,
		out: `{"type":"tx","ref":"aa","label":"x",` +
			`"height":800000,"keypath":"/1/2"}`,
		extra: map[string]string{
			"height":  `800000`,
			"keypath": `"/1/2"`,
		},
	}, {
		name: "nested values compacted",
		in: `{"type":"output","ref":"aa:0","spendable":true,` +
			`"fmv": { "USD" : 1.5 }}`,
		out: `{"type":"output","ref":"aa:0","spendable":true,` +
			`"fmv":{"USD":1.5}}`,
		extra: map[string]string{
			"fmv": `{"USD":1.5}`,
		},
	}, {
		name: "html characters kept",
		in:   `{"type":"tx","ref":"aa","note":"<a&b>"}`,
		out:  `{"type":"tx","ref":"aa","note":"<a&b>"}`,
		extra: map[string]string{
			"note": `"<a&b>"`,
		},
	}}

	for _, tc := range tests {
		var l Label
		require.NoError(t, json.Unmarshal([]byte(tc.in), &l), tc.name)

		if tc.extra == nil {
			require.Nil(t, l.Extra, tc.name)
		}
		require.Len(t, l.Extra, len(tc.extra), tc.name)
		for name, value := range tc.extra {
			require.Equal(t, value, string(l.Extra[name]), tc.name)
		}

		out, err := l.MarshalJSON()
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.out, string(out), tc.name)

		var buf bytes.Buffer
		require.NoError(t, Set{l}.WriteJSONL(&buf), tc.name)
		require.Equal(t, tc.out+"\n", buf.String(), tc.name)
	}
}

func TestJSONL(t *testing.T) {
	t.Parallel()

	input := `{"type":"tx","ref":"` + txid + `","label":"rent"}

{"type":"addr","ref":"bc1q34aq5drpuwy3wgl9lhup9892qp6svr8ldzyy7c","label":"donations"}
`
	set, err := ReadJSONL(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, set, 2)

	l, ok := set.Lookup(TypeAddr, "bc1q34aq5drpuwy3wgl9lhup9892qp6svr8ldzyy7c")
	require.True(t, ok)
	require.Equal(t, "donations", *l.Label)

	var buf bytes.Buffer
	require.NoError(t, set.WriteJSONL(&buf))

	again, err := ReadJSONL(&buf)
	require.NoError(t, err)
	require.Equal(t, set, again)

	_, err = ReadJSONL(strings.NewReader("{\"type\":\"tx\"}\n"))
	require.ErrorIs(t, err, ErrEmptyRef)

	_, err = ReadJSONL(strings.NewReader("not json\n"))
	require.ErrorContains(t, err, "line 1")
}

func TestMerge(t *testing.T) {
	t.Parallel()

	a := Set{{Type: TypeTx, Ref: txid, Label: strPtr("old")}}
	b := Set{
		{Type: TypeTx, Ref: txid, Label: strPtr("new")},
		{Type: TypeAddr, Ref: "addr", Label: strPtr("other")},
	}

	merged := a.Merge(b)
	require.Len(t, merged, 2)
	require.Equal(t, "old", *merged[0].Label)
	require.Equal(t, TypeAddr, merged[1].Type)

	// The receivers are left untouched.
	require.Len(t, a, 1)
}
