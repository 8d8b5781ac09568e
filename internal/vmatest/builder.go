// Package vmatest builds synthetic VMA archives in memory for the test
// suites of internal/header, internal/extent, and the root package's
// round-trip tests. It is the inverse of the decoders it exercises.
package vmatest

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"

	"github.com/bgrewell/vma-kit/internal/consts"
)

// DeviceSpec describes one device-table entry to embed in a built header.
type DeviceSpec struct {
	ID   uint8
	Name string
	Size uint64
}

// ConfigSpec describes one config blob to embed in a built header.
type ConfigSpec struct {
	Name string
	Data []byte
}

type blobBuilder struct {
	buf     bytes.Buffer
	offsets map[string]uint32
}

func newBlobBuilder() *blobBuilder {
	b := &blobBuilder{offsets: make(map[string]uint32)}
	// Entry 0 is always present and empty.
	b.buf.Write([]byte{0, 0})
	return b
}

// add appends a (2-byte length)(bytes) entry and returns its offset,
// reusing an existing entry if the exact bytes were already added.
func (b *blobBuilder) add(data []byte) uint32 {
	key := string(data)
	if off, ok := b.offsets[key]; ok {
		return off
	}
	off := uint32(b.buf.Len())
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	b.buf.Write(lenBuf[:])
	b.buf.Write(data)
	b.offsets[key] = off
	return off
}

// HeaderOptions tweaks the header BuildHeader produces, for exercising
// failure paths in tests.
type HeaderOptions struct {
	CorruptByteOffset int // if >=0, flips one bit at this header offset after the MD5 is computed
	BadMagic          bool
	BadVersion        bool
}

// BuildHeader constructs a HeaderSize-byte archive header embedding the
// given devices and configs, with a correct MD5.
func BuildHeader(devices []DeviceSpec, configs []ConfigSpec, opts HeaderOptions) []byte {
	buf := make([]byte, consts.HeaderSize)

	magic := consts.ArchiveMagic
	if opts.BadMagic {
		magic[0] ^= 0xFF
	}
	copy(buf[consts.HdrOffMagic:], magic[:])

	version := uint32(consts.SupportedVersion)
	if opts.BadVersion {
		version = 99
	}
	binary.BigEndian.PutUint32(buf[consts.HdrOffVersion:], version)

	// UUID and ctime are not load-bearing for the decoder's invariants;
	// fixed values keep tests deterministic.
	for i := 0; i < consts.HdrUUIDLen; i++ {
		buf[consts.HdrOffUUID+i] = byte(i)
	}
	binary.BigEndian.PutUint64(buf[consts.HdrOffCtime:], 1700000000)

	bb := newBlobBuilder()

	deviceSlotSize := 12
	deviceTableOff := consts.HdrOffDeviceTable
	for _, d := range devices {
		nameOff := bb.add([]byte(d.Name))
		slotOff := deviceTableOff + int(d.ID)*deviceSlotSize
		binary.BigEndian.PutUint64(buf[slotOff:], d.Size)
		binary.BigEndian.PutUint32(buf[slotOff+8:], nameOff)
	}

	configNameTableOffset := deviceTableOff + consts.MaxDeviceSlots*deviceSlotSize
	off := configNameTableOffset
	for _, c := range configs {
		nameOff := bb.add([]byte(c.Name))
		dataOff := bb.add(c.Data)
		binary.BigEndian.PutUint32(buf[off:], nameOff)
		binary.BigEndian.PutUint32(buf[off+4:], dataOff)
		off += 8
	}
	// Terminating zero name-offset is implicit: the rest of buf is
	// zero-initialized already.

	blobBytes := bb.buf.Bytes()
	blobBufferOffset := uint32(off + 8) // leave room for the terminator pair
	binary.BigEndian.PutUint32(buf[consts.HdrOffBlobBufferOffset:], blobBufferOffset)
	binary.BigEndian.PutUint32(buf[consts.HdrOffBlobBufferSize:], uint32(len(blobBytes)))
	copy(buf[blobBufferOffset:], blobBytes)

	// Compute the header MD5 with the MD5 field zeroed, then embed it.
	h := md5.New()
	h.Write(buf[:consts.HdrOffMD5])
	var zero [consts.HdrMD5Len]byte
	h.Write(zero[:])
	h.Write(buf[consts.HdrOffMD5+consts.HdrMD5Len:])
	sum := h.Sum(nil)
	copy(buf[consts.HdrOffMD5:], sum)

	if opts.CorruptByteOffset >= 0 {
		buf[opts.CorruptByteOffset] ^= 0x01
	}

	return buf
}

// ClusterSpec describes one cluster placement to embed in a built extent.
// A nil/empty Data with Mask == 0 produces an "all absent" cluster (the
// spec's all-zero marker). A non-zero Mask with Data holding exactly
// popcount(Mask)*Block bytes produces a partially-present cluster.
type ClusterSpec struct {
	DeviceID     uint8
	LogicalIndex uint32
	Mask         uint16
	Data         []byte
}

// ExtentOptions tweaks the extent BuildExtent produces.
type ExtentOptions struct {
	CorruptPayloadByte int // if >=0, flips one bit at this payload byte offset after the MD5 is computed
	BadMagic           bool
}

// BuildExtent constructs one extent for the given clusters: the fixed
// ExtentHeaderSize-byte header (magic, mask table, md5, padding), followed
// by the terminator-delimited cluster-descriptor table, followed by the
// payload. The MD5 covers the fixed header (with the MD5 field zeroed)
// concatenated with the payload, matching internal/extent's verification.
func BuildExtent(clusters []ClusterSpec, opts ExtentOptions) []byte {
	header := make([]byte, consts.ExtentHeaderSize)

	magic := consts.ExtentMagic
	if opts.BadMagic {
		magic[0] ^= 0xFF
	}
	copy(header[0:4], magic[:])

	if len(clusters) > consts.ExtentMaxClusters {
		panic("vmatest: too many clusters for one extent")
	}

	maskTableOff := 6
	for i, c := range clusters {
		binary.BigEndian.PutUint16(header[maskTableOff+i*2:], c.Mask)
	}

	md5Off := maskTableOff + consts.ExtentMaxClusters*2

	var descs bytes.Buffer
	for _, c := range clusters {
		var entry [8]byte
		binary.BigEndian.PutUint32(entry[0:4], uint32(c.DeviceID))
		binary.BigEndian.PutUint32(entry[4:8], c.LogicalIndex)
		descs.Write(entry[:])
	}
	if len(clusters) < consts.ExtentMaxClusters {
		var terminator [8]byte // device-id 0 marks the end
		descs.Write(terminator[:])
	}

	var payload bytes.Buffer
	for _, c := range clusters {
		if c.Mask == 0 {
			continue
		}
		payload.Write(c.Data)
	}
	payloadBytes := payload.Bytes()

	// The MD5 is computed over the original payload, then the bytes
	// actually written are corrupted afterward, so the embedded digest
	// genuinely no longer matches (exercising the checksum-mismatch path
	// rather than an accidentally-consistent corruption).
	h := md5.New()
	h.Write(header[:md5Off])
	var zero [16]byte
	h.Write(zero[:])
	h.Write(header[md5Off+16:])
	h.Write(payloadBytes)
	sum := h.Sum(nil)
	copy(header[md5Off:], sum)

	if opts.CorruptPayloadByte >= 0 && opts.CorruptPayloadByte < len(payloadBytes) {
		payloadBytes[opts.CorruptPayloadByte] ^= 0x01
	}

	out := make([]byte, 0, len(header)+descs.Len()+len(payloadBytes))
	out = append(out, header...)
	out = append(out, descs.Bytes()...)
	out = append(out, payloadBytes...)
	return out
}

// FullClusterData returns Cluster bytes all set to fill, with a full mask.
func FullClusterData(fill byte) (mask uint16, data []byte) {
	data = bytes.Repeat([]byte{fill}, consts.Cluster)
	return 0xFFFF, data
}
