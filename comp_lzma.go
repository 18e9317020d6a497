package squashfs

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

func lzmaCompress(in []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := lzma.NewWriter(&out)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func lzmaDecompress(in []byte, rawSize int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}

	out := bytes.NewBuffer(make([]byte, 0, rawSize))
	if _, err := io.Copy(out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func init() {
	RegisterCompHandler(LZMA, &CompHandler{
		Compress:   lzmaCompress,
		Decompress: lzmaDecompress,
	})
}
