// Package sse turns a stream of arbitrary byte chunks into complete JSON
// frames. It understands server-sent events (`event:`/`data:` lines separated
// by blank lines), newline-delimited JSON and bare concatenated JSON objects.
//
// Chunk boundaries carry no meaning: a frame may be split over many chunks and
// a chunk may hold many frames.
package sse

import (
	"bytes"

	"github.com/rs/zerolog/log"
)

// DefaultMaxFrameSize bounds how many bytes an unterminated frame may buffer
// before it is dropped.
const DefaultMaxFrameSize = 1 << 20

// Frame is one complete top-level JSON object, as raw bytes.
type Frame []byte

// typeOpener starts every typed event frame. Seen where a nested object
// cannot start, it means the frame being buffered was cut off.
var typeOpener = []byte(`{"type"`)

type Decoder struct {
	MaxFrameSize int

	buf      []byte
	depth    int
	inString bool
	escaped  bool
	// skipping is set after an oversized frame; everything up to the next
	// blank line is discarded.
	skipping    bool
	prevNewline bool
	// last is the last non-whitespace byte buffered.
	last byte
	// opener is 1 + the offset in buf of a '{' that may start a new typed
	// frame, 0 if there is none.
	opener int

	frames  int
	dropped int
}

func NewDecoder() *Decoder {
	return &Decoder{MaxFrameSize: DefaultMaxFrameSize}
}

// Feed consumes a chunk and returns every frame it completed. Returned frames
// do not alias the decoder's buffer.
func (d *Decoder) Feed(chunk []byte) []Frame {
	var out []Frame
	for _, b := range chunk {
		if d.blankLine(b) {
			if d.depth > 0 {
				log.Debug().Int("buffered", len(d.buf)).Msg("Dropping unterminated frame at blank line")
				d.drop()
			}
			d.skipping = false
			continue
		}
		if d.skipping {
			continue
		}

		if d.depth == 0 {
			if b == '{' {
				d.buf = append(d.buf[:0], b)
				d.depth = 1
				d.last = b
			}
			continue
		}

		wasInString, prev := d.inString, d.last
		d.buf = append(d.buf, b)
		if b != ' ' && b != '\t' && b != '\r' && b != '\n' {
			d.last = b
		}
		if b == '{' && (wasInString || (prev != ':' && prev != ',' && prev != '[')) {
			d.opener = len(d.buf)
		}

		switch {
		case d.inString:
			switch {
			case d.escaped:
				d.escaped = false
			case b == '\\':
				d.escaped = true
			case b == '"':
				d.inString = false
			}
		case b == '"':
			d.inString = true
		case b == '{':
			d.depth++
		case b == '}':
			d.depth--
			if d.depth == 0 {
				frame := make(Frame, len(d.buf))
				copy(frame, d.buf)
				out = append(out, frame)
				d.frames++
				d.reset()
				continue
			}
		}

		if d.opener > 0 && len(d.buf)-d.opener+1 == len(typeOpener) {
			if bytes.Equal(d.buf[d.opener-1:], typeOpener) {
				d.resync()
			}
			d.opener = 0
		}

		limit := d.MaxFrameSize
		if limit <= 0 {
			limit = DefaultMaxFrameSize
		}
		if len(d.buf) > limit {
			log.Warn().Int("max_frame_size", limit).Msg("Dropping oversized frame")
			d.drop()
			d.skipping = true
		}
	}
	return out
}

// Flush discards any partially buffered frame, e.g. at end of input. It
// reports whether something was dropped.
func (d *Decoder) Flush() bool {
	if d.depth == 0 {
		return false
	}
	d.drop()
	return true
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Frames returns the number of frames emitted so far.
func (d *Decoder) Frames() int {
	return d.frames
}

// Dropped returns the number of incomplete frames that were discarded.
func (d *Decoder) Dropped() int {
	return d.dropped
}

func (d *Decoder) blankLine(b byte) bool {
	switch b {
	case '\r':
		return false
	case '\n':
		blank := d.prevNewline
		d.prevNewline = true
		return blank
	default:
		d.prevNewline = false
		return false
	}
}

func (d *Decoder) drop() {
	d.dropped++
	d.reset()
}

func (d *Decoder) reset() {
	d.buf = d.buf[:0]
	d.depth = 0
	d.inString = false
	d.escaped = false
	d.last = 0
	d.opener = 0
}

// resync drops the buffered frame up to the typed frame opener that was just
// read and continues with the new frame, right after its "type" key.
func (d *Decoder) resync() {
	log.Debug().Int("buffered", len(d.buf)-len(typeOpener)).Msg("Dropping unterminated frame at new frame opener")
	d.drop()
	d.buf = append(d.buf, typeOpener...)
	d.depth = 1
	d.last = '"'
}
