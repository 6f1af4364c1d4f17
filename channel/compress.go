// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression tags, prefixed to the plaintext before sealing. Protocol
// constants; changing them breaks frame compatibility.
const (
	// compressionNone marks an uncompressed payload.
	compressionNone byte = 0

	// compressionZstd marks a zstd-compressed payload. Tool
	// envelopes are JSON-shaped text, where zstd earns its CPU cost.
	compressionZstd byte = 2
)

// compressThreshold is the minimum payload size worth compressing.
// Envelope overhead dominates below this.
const compressThreshold = 1024

var zstdEncoder *zstd.Encoder
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("channel: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("channel: zstd decoder initialization failed: " + err.Error())
	}
}

// compress prefixes plaintext with a compression tag, compressing
// payloads at or above the threshold. Compression happens before
// encryption; ciphertext does not compress.
func compress(plaintext []byte) []byte {
	if len(plaintext) < compressThreshold {
		return append([]byte{compressionNone}, plaintext...)
	}
	compressed := zstdEncoder.EncodeAll(plaintext, []byte{compressionZstd})
	// Incompressible payloads can grow; keep the smaller form.
	if len(compressed) >= len(plaintext)+1 {
		return append([]byte{compressionNone}, plaintext...)
	}
	return compressed
}

// decompress reverses compress. The payload has already been
// authenticated by the AEAD open.
func decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	switch payload[0] {
	case compressionNone:
		return payload[1:], nil
	case compressionZstd:
		return zstdDecoder.DecodeAll(payload[1:], nil)
	default:
		return nil, fmt.Errorf("unknown compression tag %d", payload[0])
	}
}
