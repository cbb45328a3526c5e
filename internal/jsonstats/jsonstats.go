// Package jsonstats frames the compact ASCII JSON stats objects sent over
// the radio: a printable object whose closing brace has its high bit set to
// mark the end of the text, followed by a 7-bit CRC byte.
package jsonstats

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/opentrv/trv-hub/internal/frame"
)

const (
	// MaxLength is the largest JSON stats text accepted for transmission,
	// excluding the trailing CRC byte.
	MaxLength = 54
	// MaxSecureLength is the tighter limit when the object must fit a
	// secure frame body alongside its two leading status bytes.
	MaxSecureLength = 30

	// CRCInit seeds the stats CRC with the leading '{', which is then
	// skipped during the CRC computation itself.
	CRCInit = byte('{')
)

var (
	ErrNotObject    = errors.New("jsonstats: text is not a JSON object")
	ErrTooLong      = errors.New("jsonstats: text too long")
	ErrNotPrintable = errors.New("jsonstats: non-printable byte")
	ErrBadCRC       = errors.New("jsonstats: CRC mismatch")
)

// AdjustForTXAndComputeCRC prepares a JSON stats object for transmission in
// place: it validates the printable-ASCII object form, sets the high bit on
// the closing '}' as the end-of-text marker, and returns the CRC byte to
// append. The input "{}" yields the bytes '{', '}'|0x80 and CRC 0x38.
func AdjustForTXAndComputeCRC(buf []byte) (byte, error) {
	if len(buf) < 2 || buf[0] != '{' {
		return 0, ErrNotObject
	}
	if len(buf) > MaxLength {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLong, len(buf))
	}
	for i, b := range buf[:len(buf)-1] {
		if b < 32 || b > 126 {
			return 0, fmt.Errorf("%w: 0x%02x at %d", ErrNotPrintable, b, i)
		}
	}
	if buf[len(buf)-1] != '}' {
		return 0, ErrNotObject
	}
	buf[len(buf)-1] |= 0x80

	crc := CRCInit
	for _, b := range buf[1:] {
		crc = frame.CRC7Update(crc, b)
	}
	return crc, nil
}

// CheckCRC validates a received stats frame produced by
// AdjustForTXAndComputeCRC: buf holds the adjusted text followed by the CRC
// byte. Returns the text with the end marker cleared back to '}'.
func CheckCRC(buf []byte) ([]byte, error) {
	if len(buf) < 3 || buf[0] != '{' {
		return nil, ErrNotObject
	}
	text := buf[: len(buf)-1 : len(buf)-1]
	if text[len(text)-1] != '}'|0x80 {
		return nil, ErrNotObject
	}
	crc := CRCInit
	for _, b := range text[1:] {
		crc = frame.CRC7Update(crc, b)
	}
	if crc != buf[len(buf)-1] {
		return nil, fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrBadCRC, buf[len(buf)-1], crc)
	}
	out := make([]byte, len(text))
	copy(out, text)
	out[len(out)-1] = '}'
	return out, nil
}

// Builder assembles a compact stats object field by field, in insertion
// order, the way the valve firmware emits them: short quoted keys and bare
// integer values, no whitespace.
type Builder struct {
	buf []byte
	max int
}

// NewBuilder starts an object with the synthetic sender-ID field "@" and
// sequence field "+". max bounds the final text length (MaxLength or
// MaxSecureLength).
func NewBuilder(id string, seq uint8, max int) *Builder {
	b := &Builder{max: max}
	b.buf = append(b.buf, `{"@":"`...)
	b.buf = append(b.buf, id...)
	b.buf = append(b.buf, `","+":`...)
	b.buf = strconv.AppendUint(b.buf, uint64(seq), 10)
	return b
}

// Add appends one integer-valued field. Fields that would overflow the
// length budget are dropped and reported via the return value so the caller
// can rotate them into the next frame.
func (b *Builder) Add(key string, value int) bool {
	need := len(b.buf) + len(key) + 4 + lenInt(value) + 1 // ,"k":v plus closing }
	if need > b.max {
		return false
	}
	b.buf = append(b.buf, ',', '"')
	b.buf = append(b.buf, key...)
	b.buf = append(b.buf, '"', ':')
	b.buf = strconv.AppendInt(b.buf, int64(value), 10)
	return true
}

// Bytes closes the object and returns the text, ready for
// AdjustForTXAndComputeCRC.
func (b *Builder) Bytes() []byte {
	return append(b.buf, '}')
}

func lenInt(v int) int {
	return len(strconv.Itoa(v))
}
