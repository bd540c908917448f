package ship

import (
	"fmt"
	"io"

	"github.com/devrev/groove/internal/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses shipped blobs. Every blob starts with one byte naming
// its codec, so readers never need to be told which one was used.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
)

func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none", "":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return CodecNone, errors.Unsupported(fmt.Sprintf("unknown codec %q", name))
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// NewWriter writes the codec header to w and returns a writer that
// compresses into it. Close flushes the stream but leaves w open.
func (c Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	if _, err := w.Write([]byte{byte(c)}); err != nil {
		return nil, err
	}
	switch c {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	}
	return nil, errors.Unsupported("cannot write with " + c.String())
}

// NewReader consumes the codec header of r and returns the decompressed
// stream
func NewReader(r io.Reader) (io.ReadCloser, Codec, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, CodecNone, errors.CorruptedData("blob has no codec header", err)
	}
	c := Codec(hdr[0])
	switch c {
	case CodecNone:
		return io.NopCloser(r), c, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, c, errors.CorruptedData("invalid zstd stream", err)
		}
		return zstdReadCloser{dec}, c, nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), c, nil
	}
	return nil, c, errors.CorruptedData(fmt.Sprintf("blob has unknown codec byte %d", hdr[0]), nil)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct{ dec *zstd.Decoder }

func (z zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z zstdReadCloser) Close() error {
	z.dec.Close()
	return nil
}
