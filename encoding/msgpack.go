// Package encoding provides centralized serialization for message contents
// and stored records. ALL msgpack operations MUST go through this package so
// every storage driver round-trips payloads identically.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
//
// Type Preservation: when decoding into interface{}, msgpack strings decode
// as Go strings (not []byte). Contents sent as a string must come back as a
// string from every driver, or the round-trip contract breaks.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
// When decoding into interface{}, strings are preserved as Go strings
// (not []byte), and maps decode as map[string]interface{}.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
