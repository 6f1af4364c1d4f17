// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR wire codec used for all protocol
// structures: handshake messages, channel frames, and tool envelopes.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The same
// logical value always produces identical bytes, which matters for the
// handshake transcript: both peers must serialize the transcript
// identically to derive the same session keys.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Tool inputs decode into any-typed values (map[string]any).
		// The CBOR default for an any-typed map target is
		// map[interface{}]interface{}, which encoding/json cannot
		// re-serialize when building upstream request bodies. Force
		// string-keyed maps; struct field decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value. Used to delay decoding of
// tool inputs until the dispatcher knows which tool is being invoked.
type RawMessage = cbor.RawMessage
