package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Source blobs compress well (typically 4-6x) and are only read on the
// split path, so they are stored zstd-compressed. Encoder and decoder are
// stateless in EncodeAll/DecodeAll mode and safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("zstd encoder init: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd decoder init: %v", err))
	}
}

// compressContent compresses source text for storage.
func compressContent(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/3))
}

// decompressContent restores source text from its stored form.
func decompressContent(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress content: %w", err)
	}
	return out, nil
}
