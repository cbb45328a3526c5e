package frame

// CRC-7/5B (polynomial 0x37, aka 0x6e left-justified) as used for non-secure
// frame trailers and JSON stats framing. Bitwise form; frames are short
// enough that a lookup table is not worth its footprint.

// CRC7Init is the initialisation value for non-secure frame CRCs. A non-zero
// init catches leading-zero corruption.
const CRC7Init byte = 0x7f

// CRC7Update folds one byte into a running CRC-7/5B value.
func CRC7Update(crc, datum byte) byte {
	for mask := byte(0x80); mask != 0; mask >>= 1 {
		bit := (crc & 0x40) != 0
		if datum&mask != 0 {
			bit = !bit
		}
		crc <<= 1
		if bit {
			crc ^= 0x37
		}
	}
	return crc & 0x7f
}

// computeNonSecureCRC computes the 1-byte trailer CRC over the header and
// body of a non-secure frame (the fl byte through the last body byte).
// A zero result is replaced by 0x80 so the trailer byte is never 0x00.
func computeNonSecureCRC(buf []byte) byte {
	crc := CRC7Init
	for _, b := range buf {
		crc = CRC7Update(crc, b)
	}
	if crc == 0 {
		return 0x80
	}
	return crc
}
