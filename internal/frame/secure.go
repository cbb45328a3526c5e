package frame

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Secure frames carry a body padded to exactly SecureBodySize bytes and a
// 23-byte trailer: the 16-byte GCM tag, the 6-byte message counter used in
// the nonce, and a format indicator byte with the high bit set.
//
// The 12-byte nonce is the first 6 bytes of the sender's full node ID
// followed by the 6-byte counter, so the transmitted frame only needs to
// carry an ID prefix long enough to disambiguate the sender.

const trailerIndicator byte = 0x80

// padBody lays out a plaintext into a fixed 32-byte body: plaintext, zero
// fill, and the plaintext length in the final byte.
func padBody(dst *[SecureBodySize]byte, plain []byte) error {
	if len(plain) == 0 || len(plain) > MaxSecureBodyLen {
		return fmt.Errorf("%w: plaintext length %d", ErrBodyTooLong, len(plain))
	}
	copy(dst[:], plain)
	for i := len(plain); i < SecureBodySize-1; i++ {
		dst[i] = 0
	}
	dst[SecureBodySize-1] = byte(len(plain))
	return nil
}

// unpadBody recovers the plaintext length from a decrypted 32-byte body.
func unpadBody(body []byte) (int, error) {
	if len(body) != SecureBodySize {
		return 0, ErrPaddingInvalid
	}
	n := int(body[SecureBodySize-1])
	if n == 0 || n > MaxSecureBodyLen {
		return 0, fmt.Errorf("%w: stated length %d", ErrPaddingInvalid, n)
	}
	return n, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("frame: key must be %d bytes, got %d", KeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("frame: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("frame: GCM init: %w", err)
	}
	return gcm, nil
}

// EncodeSecure writes a complete secure small frame into buf: padded and
// encrypted body, authenticated header, counter and tag in the trailer.
// The caller supplies the 12-byte IV (leading 6 ID bytes plus the TX
// counter); the frame's 4-bit sequence number is taken from the low nibble
// of the final IV byte so receivers can cross-check it. Bodies may be empty
// (an alive frame), in which case only the header is authenticated.
// Returns the total frame size in bytes.
func EncodeSecure(buf []byte, typ Type, id []byte, body []byte, iv [IVLen]byte, key []byte) (int, error) {
	bl := 0
	if len(body) > 0 {
		bl = SecureBodySize
	}
	seq := iv[IVLen-1] & 0x0f

	var h Header
	hl, err := h.Encode(buf, typ, true, seq, id, bl, SecureTrailerLen)
	if err != nil {
		return 0, err
	}
	fl := int(h.FrameLen)
	if len(buf) < fl+1 {
		return 0, ErrBufferTooSmall
	}

	gcm, err := newGCM(key)
	if err != nil {
		return 0, err
	}

	// Header bytes (fl through bl) are the authenticated additional data.
	aad := buf[:hl]
	if bl > 0 {
		var padded [SecureBodySize]byte
		if err := padBody(&padded, body); err != nil {
			return 0, err
		}
		sealed := gcm.Seal(nil, iv[:], padded[:], aad)
		copy(buf[hl:hl+bl], sealed[:bl])
		copy(buf[hl+bl:], sealed[bl:]) // 16-byte tag
	} else {
		tag := gcm.Seal(nil, iv[:], nil, aad)
		copy(buf[hl:], tag)
	}
	copy(buf[hl+bl+GCMTagLen:], iv[IVLen-CounterLen:])
	buf[fl] = trailerIndicator
	return fl + 1, nil
}

// decodeSecureRaw authenticates and decrypts the body of a secure frame
// whose header h has already been decoded from buf. The IV must already be
// reconstructed from the full sender ID and the trailer counter.
func decodeSecureRaw(h *Header, buf []byte, iv [IVLen]byte, key []byte, out *[SecureBodySize]byte) (int, error) {
	if !h.IsSecure() {
		return 0, ErrNotSecure
	}
	hl := h.Len()
	bl := int(h.BodyLen)
	if bl != 0 && bl != SecureBodySize {
		return 0, fmt.Errorf("%w: secure body length %d", ErrHeaderInvalid, bl)
	}
	// The frame's sequence number must match the counter it claims.
	if h.Seq() != iv[IVLen-1]&0x0f {
		return 0, fmt.Errorf("%w: sequence/counter mismatch", ErrAuthFailed)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return 0, err
	}
	aad := buf[:hl]
	// Ciphertext and tag are contiguous, which is the layout gcm.Open wants.
	ctAndTag := buf[hl : hl+bl+GCMTagLen]
	plain, err := gcm.Open(nil, iv[:], ctAndTag, aad)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if bl == 0 {
		return 0, nil
	}
	n, err := unpadBody(plain)
	if err != nil {
		return 0, err
	}
	copy(out[:], plain)
	return n, nil
}

// DecodeSecure runs the full safe receive path for one secure frame:
// header validation, sender association lookup, strict monotonic counter
// check, authenticated decryption, and only then the counter update. On
// success fd holds the sender's full ID and the recovered plaintext body.
func DecodeSecure(fd *FrameData, buf []byte, getKey KeyFunc, nodes NodeStore) error {
	if _, err := fd.Header.Decode(buf); err != nil {
		return err
	}
	if !fd.Header.IsSecure() {
		return ErrNotSecure
	}

	id, ok := nodes.LookupID(fd.Header.ID[:fd.Header.IDLen()])
	if !ok {
		return ErrUnknownSender
	}

	key, ok := getKey()
	if !ok {
		return ErrKeyMissing
	}

	// Counter lives in the trailer just before the indicator byte.
	fl := int(fd.Header.FrameLen)
	var counter [CounterLen]byte
	copy(counter[:], buf[fl-CounterLen:fl])

	last, err := nodes.LastCounter(id)
	if err != nil {
		return fmt.Errorf("frame: counter load: %w", err)
	}
	if !CounterGreater(counter, last) {
		return ErrCounterReplay
	}

	var iv [IVLen]byte
	copy(iv[:CounterLen], id[:CounterLen])
	copy(iv[CounterLen:], counter[:])

	n, err := decodeSecureRaw(&fd.Header, buf, iv, key[:], &fd.Body)
	if err != nil {
		return err
	}

	// Persist the counter only once the frame has fully authenticated, so
	// a forgery can never burn counter space.
	if err := nodes.UpdateCounter(id, counter); err != nil {
		return fmt.Errorf("frame: counter update: %w", err)
	}

	fd.SenderID = id
	fd.BodyLen = n
	fd.Raw = buf[:fl+1]
	return nil
}
