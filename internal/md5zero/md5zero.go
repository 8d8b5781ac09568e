// Package md5zero computes MD5 digests over a byte region with an embedded
// digest field treated as zeros, the verification shape both the header
// and extent checksums share.
package md5zero

import "crypto/md5"

// Checker is a thin facade over MD5 computation shared by the header and
// extent decoders. When Skip is set, Verify always succeeds but the caller
// is still expected to have consumed the digest bytes from the stream for
// position bookkeeping.
type Checker struct {
	Skip bool
}

// Sum computes the MD5 of data, with the bytes in data[fieldOffset:fieldOffset+16]
// treated as zero instead of their actual value. It does not mutate data.
func Sum(data []byte, fieldOffset int) [16]byte {
	h := md5.New()
	h.Write(data[:fieldOffset])
	var zero [16]byte
	h.Write(zero[:])
	h.Write(data[fieldOffset+16:])
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SumParts computes the MD5 of header followed by payload, with the 16
// bytes at header[fieldOffset:fieldOffset+16] treated as zero. This is the
// two-range form the extent decoder uses: header region, then the extent
// payload, without ever buffering a second copy of either.
func SumParts(header []byte, fieldOffset int, payload []byte) [16]byte {
	h := md5.New()
	h.Write(header[:fieldOffset])
	var zero [16]byte
	h.Write(zero[:])
	h.Write(header[fieldOffset+16:])
	h.Write(payload)
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Verify reports whether computed equals expected, unless Skip is set in
// which case it always reports true.
func (c *Checker) Verify(expected, computed [16]byte) bool {
	if c.Skip {
		return true
	}
	return expected == computed
}
