// Package frame implements the small-frame wire format used on the radio
// link between valve nodes and the hub: length-prefixed headers, CRC-protected
// non-secure frames, and AES-128-GCM authenticated secure frames with
// replay-protected message counters.
package frame

import "errors"

// Wire format limits
const (
	MinFrameLen       = 4  // Smallest legal fl value
	MaxSmallFrameLen  = 63 // Largest legal fl value for a small frame
	MaxIDLen          = 8  // Preshared-ID prefix length limit
	MaxBodyLen        = 251
	SecureBodySize    = 32 // Secure frame bodies are padded to exactly this
	MaxSecureBodyLen  = 30 // Largest plaintext that fits the padded body
	SecureTrailerLen  = 23 // tag(16) + counter(6) + indicator(1)
	NonSecureTrailerLen = 1
	GCMTagLen         = 16
	CounterLen        = 6
	IVLen             = 12
	KeyLen            = 16
)

// Type identifies the frame kind carried in the low 7 bits of the type byte.
// The high bit marks the secure variant.
type Type uint8

const (
	TypeNone               Type = 0    // Reserved, never valid on the wire
	TypeAlive              Type = '!'  // Alive/beacon frame
	TypeBasicSensorOrValve Type = 'O'  // Basic sensor or valve report
	TypeInvalidHigh        Type = 0x7f // This and above are invalid kinds

	// SecureFlag is OR'd into the type byte for secure frames.
	SecureFlag uint8 = 0x80
)

// IsValid reports whether the low 7 bits name a legal frame kind.
func (t Type) IsValid() bool {
	kind := t & 0x7f
	return kind != TypeNone && kind < TypeInvalidHigh
}

// Errors surfaced by the codec. Receive-path callers branch on these to
// decide whether a failure is hostile (replay, bad tag) or just noise.
var (
	ErrBufferTooSmall    = errors.New("frame: buffer too small")
	ErrInvalidType       = errors.New("frame: invalid frame type")
	ErrIDTooLong         = errors.New("frame: ID longer than 8 bytes")
	ErrFrameTooLong      = errors.New("frame: frame exceeds small-frame limit")
	ErrInvalidTrailer    = errors.New("frame: invalid trailer")
	ErrHeaderInvalid     = errors.New("frame: invalid header")
	ErrBodyTooLong       = errors.New("frame: body too long")
	ErrNotSecure         = errors.New("frame: not a secure frame")
	ErrCRCMismatch       = errors.New("frame: CRC mismatch")
	ErrKeyMissing        = errors.New("frame: building key unavailable")
	ErrUnknownSender     = errors.New("frame: sender ID not associated")
	ErrCounterReplay     = errors.New("frame: message counter replay")
	ErrAuthFailed        = errors.New("frame: authentication failed")
	ErrPaddingInvalid    = errors.New("frame: invalid body padding")
	ErrCounterOverflow   = errors.New("frame: message counter exhausted")
)

// FrameData carries everything recovered from one received frame. It is
// reused across receptions so the receive path does not allocate per frame.
type FrameData struct {
	Header   Header
	SenderID [MaxIDLen]byte   // Full node ID after association lookup
	Body     [SecureBodySize]byte
	BodyLen  int              // Decrypted (or plain) body length
	Raw      []byte           // The frame as received, fl byte first
}

// Reset clears per-frame state before reuse.
func (fd *FrameData) Reset() {
	fd.Header = Header{}
	fd.SenderID = [MaxIDLen]byte{}
	fd.BodyLen = 0
	fd.Raw = nil
}

// KeyFunc supplies the 16-byte primary building key. It returns false when
// no key has been provisioned.
type KeyFunc func() ([KeyLen]byte, bool)

// NodeStore resolves sender-ID prefixes to full node IDs and persists the
// per-node monotonic RX message counter.
type NodeStore interface {
	// LookupID expands a transmitted ID prefix (0..8 bytes) to the full
	// 8-byte node ID of an associated sender.
	LookupID(prefix []byte) ([MaxIDLen]byte, bool)
	// LastCounter returns the highest counter accepted from the node.
	LastCounter(id [MaxIDLen]byte) ([CounterLen]byte, error)
	// UpdateCounter records a newly accepted counter. Called only after a
	// frame has fully authenticated.
	UpdateCounter(id [MaxIDLen]byte, c [CounterLen]byte) error
}

// CounterGreater reports whether a > b under big-endian lexicographic order.
func CounterGreater(a, b [CounterLen]byte) bool {
	for i := 0; i < CounterLen; i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// IncrementCounter advances a 6-byte counter in place. Returns
// ErrCounterOverflow when the counter space is exhausted, at which point the
// key must be retired.
func IncrementCounter(c *[CounterLen]byte) error {
	for i := CounterLen - 1; i >= 0; i-- {
		c[i]++
		if c[i] != 0 {
			return nil
		}
	}
	// Wrapped to all-zero: undo and refuse.
	for i := range c {
		c[i] = 0xff
	}
	return ErrCounterOverflow
}
