// Package extent implements the ExtentDecoder: parsing of one cluster
// extent at a time from the archive stream into a list of cluster
// placements, verifying the extent's embedded MD5 along the way.
package extent

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/bgrewell/vma-kit/internal/bytesource"
	"github.com/bgrewell/vma-kit/internal/consts"
	"github.com/bgrewell/vma-kit/internal/logging"
	"github.com/bgrewell/vma-kit/internal/md5zero"
	"github.com/bgrewell/vma-kit/internal/vmaerr"
)

// maskTableOffset is where the per-cluster block-presence masks begin,
// right after the 4-byte magic and 2-byte reserved field.
const maskTableOffset = 6

// md5Offset is where the stored extent MD5 begins within the fixed
// ExtentHeaderSize header.
const md5Offset = maskTableOffset + consts.ExtentMaxClusters*2

// descriptorEntrySize is the on-disk width of one cluster descriptor: a
// 4-byte device-id followed by a 4-byte logical cluster index.
const descriptorEntrySize = 8

// ClusterPlacement is a decoded instruction to write (or skip, for
// all-zero clusters) one cluster of one device.
type ClusterPlacement struct {
	DeviceID     uint8
	LogicalIndex uint32
	// AllZero is true when the cluster's mask has no set bits: the writer
	// may elide the write entirely since the pre-sized sparse file already
	// reads as zero there.
	AllZero bool
	// Data holds exactly consts.Cluster bytes when AllZero is false; any
	// block not present in the mask is zero-filled.
	Data []byte
}

// DeviceClusterCount maps a device-id to its declared cluster count, used
// to validate that every descriptor addresses a cluster index in range.
type DeviceClusterCount map[uint8]uint32

// Decode reads exactly one extent from src: its fixed header, its
// terminator-delimited cluster-descriptor table, and its payload. It
// returns the decoded placements, or a fatal error (bad magic, checksum
// mismatch, unknown device, truncation). The stored extent MD5 is checked
// against the computed one but is not returned to the caller.
func Decode(src *bytesource.ByteSource, checker *md5zero.Checker, deviceClusters DeviceClusterCount, log *logging.Logger) ([]ClusterPlacement, error) {
	if log == nil {
		log = logging.DefaultLogger()
	}
	startOffset := src.Cursor()

	header, err := src.Read(consts.ExtentHeaderSize)
	if err != nil {
		return nil, &vmaerr.IoError{Offset: startOffset, Err: err}
	}

	var magic [4]byte
	copy(magic[:], header[0:4])
	if magic != consts.ExtentMagic {
		return nil, &vmaerr.FormatError{Context: fmt.Sprintf("bad extent magic at offset %d: % x", startOffset, magic)}
	}

	var storedMD5 [16]byte
	copy(storedMD5[:], header[md5Offset:md5Offset+16])

	descriptors, err := readDescriptors(src)
	if err != nil {
		return nil, err
	}
	n := len(descriptors)

	masks := make([]uint16, n)
	for i := 0; i < n; i++ {
		off := maskTableOffset + i*2
		masks[i] = binary.BigEndian.Uint16(header[off : off+2])
	}

	payloadBlocks := 0
	maskSets := make([]*bitset.BitSet, n)
	for i, m := range masks {
		bs := bitset.New(consts.BlocksPerCluster)
		for bit := uint(0); bit < consts.BlocksPerCluster; bit++ {
			if m&(1<<bit) != 0 {
				bs.Set(bit)
			}
		}
		maskSets[i] = bs
		payloadBlocks += int(bs.Count())
	}

	payloadSize := payloadBlocks * consts.Block
	payload, err := src.Read(payloadSize)
	if err != nil {
		return nil, &vmaerr.IoError{Offset: src.Cursor(), Err: err}
	}

	computed := md5zero.SumParts(header, md5Offset, payload)
	if !checker.Verify(storedMD5, computed) {
		return nil, &vmaerr.ChecksumError{Region: fmt.Sprintf("extent at offset %d", startOffset), Expected: storedMD5, Computed: computed}
	}

	placements := make([]ClusterPlacement, 0, n)
	payloadOff := 0
	for i, d := range descriptors {
		clusterCount, ok := deviceClusters[d.deviceID]
		if !ok {
			return nil, &vmaerr.FormatError{Context: fmt.Sprintf("extent at offset %d: unknown device id %d", startOffset, d.deviceID)}
		}
		if d.logicalIndex >= clusterCount {
			return nil, &vmaerr.FormatError{Context: fmt.Sprintf("extent at offset %d: device %d cluster index %d out of range (count %d)", startOffset, d.deviceID, d.logicalIndex, clusterCount)}
		}

		bs := maskSets[i]
		if bs.Count() == 0 {
			placements = append(placements, ClusterPlacement{DeviceID: d.deviceID, LogicalIndex: d.logicalIndex, AllZero: true})
			continue
		}

		buf := make([]byte, consts.Cluster)
		for block := uint(0); block < consts.BlocksPerCluster; block++ {
			if !bs.Test(block) {
				continue
			}
			if payloadOff+consts.Block > len(payload) {
				return nil, &vmaerr.FormatError{Context: fmt.Sprintf("extent at offset %d: payload shorter than mask indicates", startOffset)}
			}
			copy(buf[int(block)*consts.Block:], payload[payloadOff:payloadOff+consts.Block])
			payloadOff += consts.Block
		}
		placements = append(placements, ClusterPlacement{DeviceID: d.deviceID, LogicalIndex: d.logicalIndex, Data: buf})
	}

	log.Trace("extent decoded", "offset", startOffset, "clusters", n, "payloadBytes", payloadSize)
	return placements, nil
}

type descriptor struct {
	deviceID     uint8
	logicalIndex uint32
}

// readDescriptors reads the cluster-descriptor table immediately
// following the fixed extent header: 8-byte entries until a device-id of
// zero terminates the list, or EXTENT_MAX_CLUSTERS entries have been read.
func readDescriptors(src *bytesource.ByteSource) ([]descriptor, error) {
	var out []descriptor
	for len(out) < consts.ExtentMaxClusters {
		entry, err := src.Read(descriptorEntrySize)
		if err != nil {
			return nil, &vmaerr.IoError{Offset: src.Cursor(), Err: err}
		}
		deviceID := binary.BigEndian.Uint32(entry[0:4])
		if deviceID == 0 {
			return out, nil
		}
		logicalIndex := binary.BigEndian.Uint32(entry[4:8])
		out = append(out, descriptor{deviceID: uint8(deviceID), logicalIndex: logicalIndex})
	}
	return out, nil
}
