package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueDecodesEveryVariant(t *testing.T) {
	v, err := Parse([]byte(`{"a":null,"b":true,"c":12,"d":1.5,"e":"x","f":[1,"two",{"g":false}]}`))
	require.NoError(t, err)

	assert.Equal(t, KindObject, v.Kind())
	assert.True(t, v.Has("a"))
	assert.Equal(t, KindNull, v.Get("a").Kind())

	b, ok := v.Get("b").AsBool()
	assert.True(t, ok)
	assert.True(t, b)

	n, ok := v.Get("c").AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)

	_, ok = v.Get("d").AsInt()
	assert.False(t, ok)
	assert.Equal(t, "x", v.Str("e"))

	arr, ok := v.Get("f").AsArray()
	require.True(t, ok)
	require.Len(t, arr, 3)
	assert.Equal(t, KindObject, arr[2].Kind())
	assert.Equal(t, KindNull, v.Get("missing").Kind())
}

func TestValueEncodesWithSortedKeys(t *testing.T) {
	v := Object(map[string]Value{
		"z": Int(1),
		"a": Array(String("q\"uote"), Bool(false), Null()),
		"m": Float(0.25),
	})
	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":["q\"uote",false,null],"m":0.25,"z":1}`, string(b))
}

func TestValueKeepsLargeIntegers(t *testing.T) {
	v, err := Parse([]byte(`{"id":1719812345678901}`))
	require.NoError(t, err)
	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1719812345678901}`, string(b))
}

func TestFromAny(t *testing.T) {
	type account struct {
		Address string `json:"address"`
		Network string `json:"network"`
	}
	v, err := FromAny(map[string]any{
		"account": account{Address: "0xabc", Network: "Ethereum"},
		"value":   "1.5",
		"n":       json.Number("7"),
		"list":    []any{int64(1), nil},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", v.Get("account").Str("address"))

	n, ok := v.Get("n").AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	var back struct {
		Account account `json:"account"`
	}
	require.NoError(t, v.Decode(&back))
	assert.Equal(t, "Ethereum", back.Account.Network)

	nilPtr, err := FromAny((*account)(nil))
	require.NoError(t, err)
	assert.True(t, nilPtr.IsZero())
}

func TestToAny(t *testing.T) {
	v, err := Parse([]byte(`{"s":"x","i":3,"f":2.5,"o":{"k":[true]}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"s": "x",
		"i": int64(3),
		"f": 2.5,
		"o": map[string]any{"k": []any{true}},
	}, v.ToAny())
}

func TestZeroValueIsOmitted(t *testing.T) {
	b, err := json.Marshal(Body{Command: CmdGetClipboard, State: StateSuccess})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"get_clipboard","state":"SUCCESS"}`, string(b))
}
