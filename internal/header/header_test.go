package header

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bgrewell/vma-kit/internal/md5zero"
	"github.com/bgrewell/vma-kit/internal/vmaerr"
	"github.com/bgrewell/vma-kit/internal/vmatest"
)

func TestDecodeValidHeader(t *testing.T) {
	raw := vmatest.BuildHeader(
		[]vmatest.DeviceSpec{{ID: 1, Name: "scsi0", Size: 131072}},
		[]vmatest.ConfigSpec{{Name: "qemu-server.conf", Data: []byte("cores: 2\n")}},
		vmatest.HeaderOptions{CorruptByteOffset: -1},
	)

	desc, err := Decode(raw, &md5zero.Checker{}, nil)
	require.NoError(t, err)
	require.Len(t, desc.Devices, 1)
	require.Equal(t, "scsi0", desc.Devices[1].Name)
	require.EqualValues(t, 131072, desc.Devices[1].SizeBytes)
	require.EqualValues(t, 2, desc.Devices[1].ClusterCount)

	require.Len(t, desc.Configs, 1)
	require.Equal(t, "qemu-server.conf", desc.Configs[0].Name)
	require.Equal(t, []byte("cores: 2\n"), desc.Configs[0].Data)
}

func TestDecodeTwoDevices(t *testing.T) {
	raw := vmatest.BuildHeader(
		[]vmatest.DeviceSpec{
			{ID: 1, Name: "scsi0", Size: 65536},
			{ID: 2, Name: "scsi1", Size: 65536},
		},
		nil,
		vmatest.HeaderOptions{CorruptByteOffset: -1},
	)

	desc, err := Decode(raw, &md5zero.Checker{}, nil)
	require.NoError(t, err)
	require.Len(t, desc.Devices, 2)
	require.Equal(t, "scsi0", desc.Devices[1].Name)
	require.Equal(t, "scsi1", desc.Devices[2].Name)
}

func TestDecodeBadMagic(t *testing.T) {
	raw := vmatest.BuildHeader(nil, nil, vmatest.HeaderOptions{CorruptByteOffset: -1, BadMagic: true})
	_, err := Decode(raw, &md5zero.Checker{}, nil)
	var fe *vmaerr.FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDecodeBadVersion(t *testing.T) {
	raw := vmatest.BuildHeader(nil, nil, vmatest.HeaderOptions{CorruptByteOffset: -1, BadVersion: true})
	_, err := Decode(raw, &md5zero.Checker{}, nil)
	var fe *vmaerr.FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDecodeChecksumMismatch(t *testing.T) {
	raw := vmatest.BuildHeader(
		[]vmatest.DeviceSpec{{ID: 1, Name: "scsi0", Size: 65536}},
		nil,
		vmatest.HeaderOptions{CorruptByteOffset: 12287},
	)
	_, err := Decode(raw, &md5zero.Checker{}, nil)
	var ce *vmaerr.ChecksumError
	require.ErrorAs(t, err, &ce)
}

func TestDecodeChecksumSkipped(t *testing.T) {
	raw := vmatest.BuildHeader(
		[]vmatest.DeviceSpec{{ID: 1, Name: "scsi0", Size: 65536}},
		nil,
		vmatest.HeaderOptions{CorruptByteOffset: 12287},
	)
	desc, err := Decode(raw, &md5zero.Checker{Skip: true}, nil)
	require.NoError(t, err)
	require.Len(t, desc.Devices, 1)
}

func TestDecodeWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, 100), &md5zero.Checker{}, nil)
	var fe *vmaerr.FormatError
	require.ErrorAs(t, err, &fe)
}
