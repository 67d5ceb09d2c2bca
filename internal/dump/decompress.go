// Package dump reads the remote torrent dump: it undoes optional gzip
// compression and turns the text into a stream of records.
package dump

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
)

const readBufferSize = 64 << 10

var gzipMagic = []byte{0x1f, 0x8b}

// DecodeError reports a payload that claims to be compressed but cannot be
// decoded (bad header, checksum mismatch, truncated stream).
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decoding dump: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decompress returns a stream of the uncompressed dump. Gzip input is
// detected by its magic bytes and decoded on the fly; anything else is
// passed through unchanged. Errors coming from r itself are returned as-is,
// decoder failures as *DecodeError.
//
// Closing the returned reader releases the decoder only; r stays owned by
// the caller.
func Decompress(r io.Reader) (io.ReadCloser, error) {
	src := &sourceReader{r: r}
	br := bufio.NewReaderSize(src, readBufferSize)

	head, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return nil, err
	}
	if !bytes.Equal(head, gzipMagic) {
		return io.NopCloser(br), nil
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, src.classify(err)
	}
	return &gzipStream{zr: zr, src: src}, nil
}

// sourceReader remembers the last failure of the wrapped reader so decoder
// errors can be told apart from transport errors.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

func (s *sourceReader) classify(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	if s.err != nil && errors.Is(err, s.err) {
		return err
	}
	return &DecodeError{Err: err}
}

type gzipStream struct {
	zr  *gzip.Reader
	src *sourceReader
}

func (g *gzipStream) Read(p []byte) (int, error) {
	n, err := g.zr.Read(p)
	return n, g.src.classify(err)
}

func (g *gzipStream) Close() error {
	return g.zr.Close()
}
