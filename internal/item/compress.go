package item

import "github.com/klauspost/compress/zstd"

// Shared codec instances; EncodeAll/DecodeAll are safe for concurrent use.
// Construction with default options cannot fail.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// CompressBytes compresses data with zstd
func CompressBytes(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// DecompressBytes restores zstd-compressed data
func DecompressBytes(data []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(data, nil)
}
