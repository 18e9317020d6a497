package squashfs

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
)

func xzCompress(in []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := xz.NewWriter(&out)
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

func xzDecompress(in []byte, rawSize int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(in))
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
	RegisterCompHandler(XZ, &CompHandler{
		Compress:   xzCompress,
		Decompress: xzDecompress,
	})
}
