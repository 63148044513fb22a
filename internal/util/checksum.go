// Package util holds small, stateless helpers shared by the filter
// pipeline and storage backends that don't warrant their own package.
package util

import (
	"encoding/binary"
	"hash/crc32"
)

const checksumSize = 4

var ieeeTable = crc32.MakeTable(crc32.IEEE)

// ComputeChecksum returns the CRC32 (IEEE polynomial) of data.
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, ieeeTable)
}

// ValidateChecksum reports whether data's CRC32 matches expected.
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}

// AppendChecksum returns data with its CRC32 appended as a trailing
// little-endian uint32, the wire format ChecksumFilter writes to storage.
func AppendChecksum(data []byte) []byte {
	out := make([]byte, len(data)+checksumSize)
	copy(out, data)
	binary.LittleEndian.PutUint32(out[len(data):], ComputeChecksum(data))
	return out
}

// ValidateAndStripChecksum splits dataWithChecksum into its payload and
// trailing checksum, reporting whether the checksum is valid. A buffer
// shorter than checksumSize is never valid.
func ValidateAndStripChecksum(dataWithChecksum []byte) (payload []byte, valid bool) {
	if len(dataWithChecksum) < checksumSize {
		return nil, false
	}
	split := len(dataWithChecksum) - checksumSize
	payload = dataWithChecksum[:split]
	expected := binary.LittleEndian.Uint32(dataWithChecksum[split:])
	return payload, ValidateChecksum(payload, expected)
}
