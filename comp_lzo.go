package squashfs

// LZO has no actively maintained pure-Go implementation anywhere in the
// retrieval pack or, at the time of writing, in the wider ecosystem (the
// format needs a from-scratch LZO1X codec, not a thin wrapper like the
// other five algorithms get). Rather than vendor a hand-rolled LZO codec,
// id 3 is registered as a store-only handler: Compress always reports "no
// improvement" (nil, which the caller treats as "store raw") and Decompress
// rejects any input, since a store-only writer never produces LZO-compressed
// blocks to read back. This mirrors the "unsupported compressor" path for
// any image actually compressed with LZO by another tool, which is called
// out in DESIGN.md.

func lzoCompress(in []byte) ([]byte, error) {
	return nil, nil
}

func lzoDecompress(in []byte, rawSize int) ([]byte, error) {
	return nil, wrapErr(KindUnsupported, "lzo", ErrUnsupportedCompressor)
}

func init() {
	RegisterCompHandler(LZO, &CompHandler{
		Compress:   lzoCompress,
		Decompress: lzoDecompress,
	})
}
