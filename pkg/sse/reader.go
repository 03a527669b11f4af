package sse

import (
	"io"

	"github.com/pkg/errors"
)

const readChunkSize = 4096

// Reader pulls frames out of an io.Reader, typically an HTTP response body.
type Reader struct {
	r       io.Reader
	dec     *Decoder
	pending []Frame
	chunk   []byte
	err     error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:     r,
		dec:   NewDecoder(),
		chunk: make([]byte, readChunkSize),
	}
}

// Decoder exposes the underlying decoder, e.g. to tune MaxFrameSize.
func (r *Reader) Decoder() *Decoder {
	return r.dec
}

// Next returns the next complete frame. It returns io.EOF once the
// underlying reader is exhausted; a trailing incomplete frame is discarded.
func (r *Reader) Next() (Frame, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.pending = append(r.pending, r.dec.Feed(r.chunk[:n])...)
		}
		if err != nil {
			r.dec.Flush()
			if err == io.EOF {
				r.err = io.EOF
			} else {
				r.err = errors.Wrap(err, "reading stream")
			}
		}
	}
	f := r.pending[0]
	r.pending = r.pending[1:]
	return f, nil
}
