package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	data, err := Marshal("hello world")
	require.NoError(t, err)

	var out interface{}
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, "hello world", out)
}

func TestMapRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"subject": "weekly report",
		"urgent":  true,
		"retry":   int64(3),
	}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out interface{}
	require.NoError(t, Unmarshal(data, &out))

	decoded, ok := out.(map[string]interface{})
	require.True(t, ok, "expected map[string]interface{}, got %T", out)
	require.Equal(t, "weekly report", decoded["subject"])
	require.Equal(t, true, decoded["urgent"])
	require.EqualValues(t, 3, decoded["retry"])
}

func TestNestedRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"tags": []interface{}{"a", "b"},
		"meta": map[string]interface{}{"depth": int64(2)},
	}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, Unmarshal(data, &out))

	tags, ok := out["tags"].([]interface{})
	require.True(t, ok, "expected []interface{}, got %T", out["tags"])
	require.Equal(t, []interface{}{"a", "b"}, tags)

	meta, ok := out["meta"].(map[string]interface{})
	require.True(t, ok, "expected nested map, got %T", out["meta"])
	require.EqualValues(t, 2, meta["depth"])
}

func TestStructToLooseMap(t *testing.T) {
	type payload struct {
		Subject string `msgpack:"subject"`
		Count   int    `msgpack:"count"`
	}

	data, err := Marshal(payload{Subject: "hi", Count: 7})
	require.NoError(t, err)

	var out interface{}
	require.NoError(t, Unmarshal(data, &out))

	decoded, ok := out.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "hi", decoded["subject"])
	require.EqualValues(t, 7, decoded["count"])
}

func TestUnmarshalGarbage(t *testing.T) {
	var out interface{}
	require.Error(t, Unmarshal([]byte{0xc1}, &out))
}
