package frame

import "fmt"

// EncodeNonSecure writes a complete non-secure small frame (header, plain
// body, CRC trailer) into buf and returns the total frame size in bytes.
func EncodeNonSecure(buf []byte, typ Type, seq uint8, id, body []byte) (int, error) {
	var h Header
	hl, err := h.Encode(buf, typ, false, seq, id, len(body), NonSecureTrailerLen)
	if err != nil {
		return 0, err
	}
	fl := int(h.FrameLen)
	if len(buf) < fl+1 {
		return 0, ErrBufferTooSmall
	}
	copy(buf[hl:], body)
	buf[fl] = computeNonSecureCRC(buf[:hl+len(body)])
	return fl + 1, nil
}

// DecodeNonSecure validates the header and CRC of a non-secure frame and
// fills fd with the plain body. Returns the total frame size consumed.
func DecodeNonSecure(fd *FrameData, buf []byte) (int, error) {
	hl, err := fd.Header.Decode(buf)
	if err != nil {
		return 0, err
	}
	if fd.Header.IsSecure() {
		return 0, fmt.Errorf("%w: secure frame on non-secure path", ErrHeaderInvalid)
	}
	fl := int(fd.Header.FrameLen)
	bl := int(fd.Header.BodyLen)
	if crc := computeNonSecureCRC(buf[:hl+bl]); crc != buf[fl] {
		return 0, fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrCRCMismatch, buf[fl], crc)
	}
	if bl > SecureBodySize {
		return 0, ErrBodyTooLong
	}
	copy(fd.Body[:], buf[hl:hl+bl])
	fd.BodyLen = bl
	fd.Raw = buf[:fl+1]
	copy(fd.SenderID[:], fd.Header.ID[:fd.Header.IDLen()])
	return fl + 1, nil
}

// EncodeAlive writes a minimal non-secure alive/beacon frame with no body.
func EncodeAlive(buf []byte, seq uint8, id []byte) (int, error) {
	return EncodeNonSecure(buf, TypeAlive, seq, id, nil)
}
