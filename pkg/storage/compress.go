package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies how a snapshot section's payload is stored on disk,
// per the section-table entry format in spec.md §4.1/§6.
type Compression uint32

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionGzip
	CompressionDeflate
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionGzip:
		return "gzip"
	case CompressionDeflate:
		return "deflate"
	default:
		return fmt.Sprintf("compression(%d)", uint32(c))
	}
}

// compressMinSize is the threshold below which a section is stored
// uncompressed even if a codec is requested, per spec.md §4.4 step 3
// ("optionally zstd-compressed if size exceeds a threshold and compression
// reduces size").
const compressMinSize = 256

// compressSection compresses payload with codec, unless payload is smaller
// than compressMinSize or compression doesn't actually reduce its size — in
// either case it falls back to CompressionNone and returns payload as-is.
func compressSection(payload []byte, codec Compression) (Compression, []byte, error) {
	if codec == CompressionNone || len(payload) < compressMinSize {
		return CompressionNone, payload, nil
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	var err error

	switch codec {
	case CompressionZstd:
		w, err = zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionGzip:
		w, err = gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	case CompressionDeflate:
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
	default:
		return CompressionNone, nil, &FormatError{Reason: fmt.Sprintf("unknown compression codec %d", codec)}
	}
	if err != nil {
		return CompressionNone, nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return CompressionNone, nil, err
	}
	if err := w.Close(); err != nil {
		return CompressionNone, nil, err
	}

	if buf.Len() >= len(payload) {
		// Compression didn't help; store raw rather than pay decode cost
		// for nothing.
		return CompressionNone, payload, nil
	}
	return codec, buf.Bytes(), nil
}

// decompressSection reverses compressSection. uncompressedSize is used to
// preallocate the output buffer; it is not trusted beyond that (the reader
// still consumes exactly what the codec produces).
func decompressSection(data []byte, codec Compression, uncompressedSize uint32) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &IntegrityError{Reason: "zstd section: " + err.Error()}
		}
		defer r.Close()
		out := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, &IntegrityError{Reason: "zstd section truncated: " + err.Error()}
		}
		return buf.Bytes(), nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &IntegrityError{Reason: "gzip section: " + err.Error()}
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, &IntegrityError{Reason: "gzip section truncated: " + err.Error()}
		}
		return out, nil
	case CompressionDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, &IntegrityError{Reason: "deflate section truncated: " + err.Error()}
		}
		return out, nil
	default:
		return nil, &FormatError{Reason: fmt.Sprintf("unknown compression codec %d", codec)}
	}
}
