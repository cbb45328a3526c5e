package frame

import "fmt"

// Header is the parsed leading portion of a small frame:
//
//	fl    frame length, excluding itself (4..63)
//	type  frame kind; high bit set for the secure variant
//	seqIl high nibble sequence mod 16, low nibble ID length (0..8)
//	id    preshared-ID prefix (0..8 bytes)
//	bl    body length
//
// The trailer length is implied: fl+1 minus header and body.
type Header struct {
	FrameLen uint8 // fl
	TypeByte uint8 // kind | optional SecureFlag
	SeqIl    uint8
	ID       [MaxIDLen]byte
	BodyLen  uint8
}

// Kind returns the frame kind with the secure bit stripped.
func (h *Header) Kind() Type { return Type(h.TypeByte & 0x7f) }

// IsSecure reports whether the secure variant bit is set.
func (h *Header) IsSecure() bool { return h.TypeByte&SecureFlag != 0 }

// Seq returns the 4-bit sequence number.
func (h *Header) Seq() uint8 { return h.SeqIl >> 4 }

// IDLen returns the transmitted ID prefix length.
func (h *Header) IDLen() int { return int(h.SeqIl & 0x0f) }

// Len returns the encoded header length: fl, type, seqIl, id, bl.
func (h *Header) Len() int { return 4 + h.IDLen() }

// TrailerLen returns the implied trailer length for this header.
func (h *Header) TrailerLen() int {
	return int(h.FrameLen) + 1 - h.Len() - int(h.BodyLen)
}

// Encode validates the frame parameters and writes the header into buf,
// filling in h as it goes. Returns the number of header bytes written.
func (h *Header) Encode(buf []byte, typ Type, secure bool, seq uint8, id []byte, bodyLen, trailerLen int) (int, error) {
	if !typ.IsValid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidType, uint8(typ))
	}
	if len(id) > MaxIDLen {
		return 0, ErrIDTooLong
	}
	if bodyLen < 0 || bodyLen > MaxBodyLen {
		return 0, ErrBodyTooLong
	}
	// Trailer of 0 is impossible; 0xff would allow an all-0xff frame to
	// parse, so both are rejected up front.
	if trailerLen < 1 || trailerLen > SecureTrailerLen {
		return 0, ErrInvalidTrailer
	}

	fl := 3 + len(id) + bodyLen + trailerLen
	if fl > MaxSmallFrameLen {
		return 0, fmt.Errorf("%w: fl=%d", ErrFrameTooLong, fl)
	}
	hl := 4 + len(id)
	if len(buf) < hl {
		return 0, ErrBufferTooSmall
	}

	h.FrameLen = uint8(fl)
	h.TypeByte = uint8(typ)
	if secure {
		h.TypeByte |= SecureFlag
	}
	h.SeqIl = (seq << 4) | uint8(len(id))
	copy(h.ID[:], id)
	h.BodyLen = uint8(bodyLen)

	buf[0] = h.FrameLen
	buf[1] = h.TypeByte
	buf[2] = h.SeqIl
	copy(buf[3:], id)
	buf[3+len(id)] = h.BodyLen
	return hl, nil
}

// Decode parses and sanity-checks a frame header from buf, which must start
// at the fl byte and contain the whole frame. Returns the header length.
// The checks are cheap and run before any crypto so that obviously damaged
// or hostile frames are dropped early.
func (h *Header) Decode(buf []byte) (int, error) {
	// Minimum sane frame: fl + type + seqIl + bl + 1-byte trailer.
	if len(buf) < 5 {
		return 0, ErrBufferTooSmall
	}
	fl := buf[0]
	if fl < MinFrameLen {
		return 0, fmt.Errorf("%w: fl=%d too short", ErrHeaderInvalid, fl)
	}
	if fl > MaxSmallFrameLen {
		return 0, fmt.Errorf("%w: fl=%d too long", ErrHeaderInvalid, fl)
	}
	if int(fl)+1 > len(buf) {
		return 0, fmt.Errorf("%w: frame truncated", ErrHeaderInvalid)
	}
	if !Type(buf[1]).IsValid() {
		return 0, fmt.Errorf("%w: type 0x%02x", ErrInvalidType, buf[1])
	}
	seqIl := buf[2]
	il := int(seqIl & 0x0f)
	if il > MaxIDLen {
		return 0, fmt.Errorf("%w: ID length %d", ErrHeaderInvalid, il)
	}
	hl := 4 + il
	if hl > int(fl) {
		return 0, fmt.Errorf("%w: header exceeds frame", ErrHeaderInvalid)
	}

	bl := buf[3+il]
	tl := int(fl) + 1 - hl - int(bl)
	if tl < 1 {
		return 0, fmt.Errorf("%w: no room for trailer", ErrHeaderInvalid)
	}
	secure := buf[1]&SecureFlag != 0
	if !secure {
		if tl != NonSecureTrailerLen {
			return 0, fmt.Errorf("%w: non-secure trailer length %d", ErrInvalidTrailer, tl)
		}
		// The CRC trailer byte is never 0x00 or 0xff, which also rejects
		// frames of all-zeros or all-ones.
		if t := buf[fl]; t == 0x00 || t == 0xff {
			return 0, fmt.Errorf("%w: trailer byte 0x%02x", ErrInvalidTrailer, t)
		}
	} else {
		if tl != SecureTrailerLen {
			return 0, fmt.Errorf("%w: secure trailer length %d", ErrInvalidTrailer, tl)
		}
		// Format/auth indicator always has the high bit set.
		if buf[fl]&0x80 == 0 {
			return 0, fmt.Errorf("%w: indicator byte 0x%02x", ErrInvalidTrailer, buf[fl])
		}
	}

	h.FrameLen = fl
	h.TypeByte = buf[1]
	h.SeqIl = seqIl
	h.ID = [MaxIDLen]byte{}
	copy(h.ID[:], buf[3:3+il])
	h.BodyLen = bl
	return hl, nil
}
