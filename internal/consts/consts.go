// Package consts holds the fixed geometry of the VMA container format.
package consts

const (
	// Cluster is the logical unit size of a disk image, in bytes.
	Cluster = 65536

	// Block is the sub-cluster granularity used by the extent bitmap, in
	// bytes. Each cluster is exactly BlocksPerCluster blocks.
	Block = 4096

	// BlocksPerCluster is the number of Block-sized chunks in one Cluster.
	BlocksPerCluster = Cluster / Block

	// HeaderSize is the fixed size of the archive header region.
	HeaderSize = 12288

	// ExtentHeaderSize is the fixed size of a single extent header.
	ExtentHeaderSize = 512

	// ExtentMaxClusters is the maximum number of logical clusters a single
	// extent header can describe.
	ExtentMaxClusters = 59

	// MaxDeviceSlots is the number of device table slots in the header;
	// slot 0 is reserved.
	MaxDeviceSlots = 256
)

// Header field offsets, big-endian throughout (see the wire format in the
// project specification).
const (
	HdrOffMagic            = 0x00
	HdrOffVersion          = 0x04
	HdrOffUUID             = 0x08
	HdrOffCtime            = 0x18
	HdrOffMD5              = 0x20
	HdrOffBlobBufferOffset = 0x30
	HdrOffBlobBufferSize   = 0x34
	HdrOffDeviceTable      = 0x38

	HdrMagicLen = 4
	HdrUUIDLen  = 16
	HdrMD5Len   = 16
)

// ArchiveMagic is the fixed 4-byte literal identifying a VMA container.
var ArchiveMagic = [4]byte{'V', 'M', 'A', 0x00}

// ExtentMagic is the fixed 4-byte literal identifying an extent header,
// distinct from ArchiveMagic.
var ExtentMagic = [4]byte{'V', 'M', 'A', 0x45}

// SupportedVersion is the only archive version this decoder accepts.
const SupportedVersion = 1
