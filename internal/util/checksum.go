package util

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/devrev/groove/internal/errors"
)

// Page tables and schema blobs carry a trailing CRC32 (Castagnoli) so a
// torn page or a truncated mapped file is detected before decoding.

// ChecksumSize is the length of the trailer appended by AppendChecksum
const ChecksumSize = 4

var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum computes a CRC32 checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum validates data against an expected checksum
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}

// AppendChecksum appends the little-endian checksum of buf to buf.
// Format: [data][checksum (4 bytes)]
func AppendChecksum(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, ComputeChecksum(buf))
}

// SplitChecksum separates the payload from its trailer without validating it
func SplitChecksum(buf []byte) (payload []byte, stored uint32, ok bool) {
	if len(buf) < ChecksumSize {
		return nil, 0, false
	}
	n := len(buf) - ChecksumSize
	return buf[:n], binary.LittleEndian.Uint32(buf[n:]), true
}

// VerifyAndStripChecksum validates the trailer and returns the payload,
// which aliases buf
func VerifyAndStripChecksum(buf []byte) ([]byte, error) {
	payload, stored, ok := SplitChecksum(buf)
	if !ok {
		return nil, errors.CorruptedData("buffer is shorter than its checksum", nil)
	}
	if actual := ComputeChecksum(payload); actual != stored {
		return nil, errors.ChecksumFailed(stored, actual)
	}
	return payload, nil
}
