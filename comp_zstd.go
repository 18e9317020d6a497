package squashfs

import (
	"github.com/klauspost/compress/zstd"
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdCompress(in []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(in, make([]byte, 0, len(in))), nil
}

func zstdDecompress(in []byte, rawSize int) ([]byte, error) {
	return zstdDecoder.DecodeAll(in, make([]byte, 0, rawSize))
}

func init() {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		panic(err)
	}
	zstdEncoder = enc

	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	zstdDecoder = dec

	RegisterCompHandler(ZSTD, &CompHandler{
		Compress:   zstdCompress,
		Decompress: zstdDecompress,
	})
}
