package stream

import (
	"errors"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Decoder turns a sequence of byte chunks into UTF-8 text.
// Bytes of a character split across chunks are held back until the rest arrives,
// so chunk boundaries never have to line up with character boundaries.
// Ill-formed bytes are replaced with U+FFFD.
type Decoder struct {
	t       transform.Transformer
	pending []byte
}

// NewDecoder returns a decoder with no buffered bytes.
func NewDecoder() *Decoder {
	return &Decoder{t: runes.ReplaceIllFormed()}
}

// Decode consumes chunk and returns every character that is now complete.
// The result is empty when the chunk only extends an unfinished character.
func (d *Decoder) Decode(chunk []byte) string {
	if len(chunk) == 0 {
		return ""
	}
	src := append(d.pending, chunk...)
	out, rest := d.transform(src, false)
	d.pending = append(d.pending[:0:0], rest...)
	return out
}

// Flush returns whatever is left at end of stream, replacing an unfinished
// trailing sequence with U+FFFD.
func (d *Decoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	out, _ := d.transform(d.pending, true)
	d.pending = nil
	return out
}

// Pending reports how many bytes are held back.
func (d *Decoder) Pending() int {
	return len(d.pending)
}

func (d *Decoder) transform(src []byte, atEOF bool) (string, []byte) {
	// every ill-formed byte can grow into a 3-byte replacement character
	dst := make([]byte, 3*len(src)+utf8Max)
	var out []byte
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]
		switch {
		case err == nil:
			return string(out), nil
		case errors.Is(err, transform.ErrShortSrc):
			return string(out), src
		case errors.Is(err, transform.ErrShortDst) && (nDst > 0 || nSrc > 0):
			continue
		default:
			// Transformer made no progress; pass the remainder through untouched.
			return string(append(out, src...)), nil
		}
	}
}

const utf8Max = 4
