// Package header implements the HeaderDecoder: parsing of the fixed-size
// VMA archive header into an ArchiveDescriptor, its device table, its
// config blob list, and verification of the header's embedded MD5.
package header

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bgrewell/vma-kit/internal/consts"
	"github.com/bgrewell/vma-kit/internal/logging"
	"github.com/bgrewell/vma-kit/internal/md5zero"
	"github.com/bgrewell/vma-kit/internal/vmaerr"
)

// deviceSlotSize is the on-disk width of one device-table slot: an 8-byte
// size followed by a 4-byte name-blob offset.
const deviceSlotSize = 12

// configNameTableOffset is the offset, within the header region, at which
// the device table ends and the config-name table begins.
const configNameTableOffset = consts.HdrOffDeviceTable + consts.MaxDeviceSlots*deviceSlotSize

// DeviceEntry describes one virtual disk declared by the archive header.
type DeviceEntry struct {
	ID           uint8
	Name         string
	SizeBytes    uint64
	ClusterCount uint32
}

// ConfigBlob is a named configuration payload extracted verbatim to disk.
type ConfigBlob struct {
	Name string
	Data []byte
}

// ArchiveDescriptor is the immutable result of a successful header parse.
type ArchiveDescriptor struct {
	Magic   [4]byte
	Version uint32
	UUID    uuid.UUID
	Ctime   time.Time
	MD5     [16]byte

	// Devices is keyed by device-id, populated-slots only.
	Devices map[uint8]*DeviceEntry
	Configs []ConfigBlob
}

// Decode parses HeaderSize bytes of header region and returns the
// resulting ArchiveDescriptor. checker controls whether the embedded MD5
// is enforced (checker.Skip == true bypasses the check but the digest is
// still read for position bookkeeping by the caller).
func Decode(data []byte, checker *md5zero.Checker, log *logging.Logger) (*ArchiveDescriptor, error) {
	if log == nil {
		log = logging.DefaultLogger()
	}
	if len(data) != consts.HeaderSize {
		return nil, &vmaerr.FormatError{Context: fmt.Sprintf("header region must be %d bytes, got %d", consts.HeaderSize, len(data))}
	}

	var desc ArchiveDescriptor
	copy(desc.Magic[:], data[consts.HdrOffMagic:consts.HdrOffMagic+consts.HdrMagicLen])
	if desc.Magic != consts.ArchiveMagic {
		return nil, &vmaerr.FormatError{Context: fmt.Sprintf("bad archive magic: % x", desc.Magic)}
	}

	desc.Version = binary.BigEndian.Uint32(data[consts.HdrOffVersion : consts.HdrOffVersion+4])
	if desc.Version != consts.SupportedVersion {
		return nil, &vmaerr.FormatError{Context: fmt.Sprintf("unsupported archive version %d", desc.Version)}
	}

	copy(desc.UUID[:], data[consts.HdrOffUUID:consts.HdrOffUUID+consts.HdrUUIDLen])

	ctimeSecs := binary.BigEndian.Uint64(data[consts.HdrOffCtime : consts.HdrOffCtime+8])
	desc.Ctime = time.Unix(int64(ctimeSecs), 0).UTC()

	copy(desc.MD5[:], data[consts.HdrOffMD5:consts.HdrOffMD5+consts.HdrMD5Len])

	computed := md5zero.Sum(data, consts.HdrOffMD5)
	if !checker.Verify(desc.MD5, computed) {
		return nil, &vmaerr.ChecksumError{Region: "header", Expected: desc.MD5, Computed: computed}
	}

	blobOffset := binary.BigEndian.Uint32(data[consts.HdrOffBlobBufferOffset : consts.HdrOffBlobBufferOffset+4])
	blobSize := binary.BigEndian.Uint32(data[consts.HdrOffBlobBufferSize : consts.HdrOffBlobBufferSize+4])
	if int(blobOffset)+int(blobSize) > len(data) {
		return nil, &vmaerr.FormatError{Context: "blob buffer extends beyond header region"}
	}
	blobBuffer := data[blobOffset : blobOffset+blobSize]

	devices, err := parseDeviceTable(data, blobBuffer, log)
	if err != nil {
		return nil, err
	}
	desc.Devices = devices

	configs, err := parseConfigNameTable(data, blobBuffer, devices, log)
	if err != nil {
		return nil, err
	}
	desc.Configs = configs

	log.Debug("header parsed", "uuid", desc.UUID.String(), "devices", len(desc.Devices), "configs", len(desc.Configs))
	return &desc, nil
}

func parseDeviceTable(data, blobBuffer []byte, log *logging.Logger) (map[uint8]*DeviceEntry, error) {
	devices := make(map[uint8]*DeviceEntry)
	for slot := 1; slot < consts.MaxDeviceSlots; slot++ {
		off := consts.HdrOffDeviceTable + slot*deviceSlotSize
		size := binary.BigEndian.Uint64(data[off : off+8])
		if size == 0 {
			continue
		}
		nameOffset := binary.BigEndian.Uint32(data[off+8 : off+12])
		name, err := readBlobEntry(blobBuffer, nameOffset)
		if err != nil {
			return nil, fmt.Errorf("device slot %d: %w", slot, err)
		}
		clusterCount := uint32((size + consts.Cluster - 1) / consts.Cluster)
		dev := &DeviceEntry{
			ID:           uint8(slot),
			Name:         string(name),
			SizeBytes:    size,
			ClusterCount: clusterCount,
		}
		devices[dev.ID] = dev
		log.Trace("device table entry", "id", dev.ID, "name", dev.Name, "size", dev.SizeBytes, "clusters", dev.ClusterCount)
	}
	return devices, nil
}

func parseConfigNameTable(data, blobBuffer []byte, devices map[uint8]*DeviceEntry, log *logging.Logger) ([]ConfigBlob, error) {
	deviceNames := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		deviceNames[d.Name] = struct{}{}
	}

	var configs []ConfigBlob
	off := configNameTableOffset
	for off+8 <= len(data) {
		nameOffset := binary.BigEndian.Uint32(data[off : off+4])
		if nameOffset == 0 {
			break
		}
		dataOffset := binary.BigEndian.Uint32(data[off+4 : off+8])
		off += 8

		name, err := readBlobEntry(blobBuffer, nameOffset)
		if err != nil {
			return nil, fmt.Errorf("config name table: %w", err)
		}
		if _, isDevice := deviceNames[string(name)]; isDevice {
			continue
		}
		payload, err := readBlobEntry(blobBuffer, dataOffset)
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", name, err)
		}
		configs = append(configs, ConfigBlob{Name: string(name), Data: payload})
		log.Trace("config blob", "name", string(name), "bytes", len(payload))
	}
	return configs, nil
}

// readBlobEntry reads a (2-byte big-endian length)(bytes) entry from the
// blob buffer at the given relative offset, returning a copy.
func readBlobEntry(blobBuffer []byte, offset uint32) ([]byte, error) {
	if int(offset)+2 > len(blobBuffer) {
		return nil, fmt.Errorf("blob offset %d out of range", offset)
	}
	length := binary.BigEndian.Uint16(blobBuffer[offset : offset+2])
	start := int(offset) + 2
	end := start + int(length)
	if end > len(blobBuffer) {
		return nil, fmt.Errorf("blob entry at offset %d (length %d) out of range", offset, length)
	}
	out := make([]byte, length)
	copy(out, blobBuffer[start:end])
	return out, nil
}
