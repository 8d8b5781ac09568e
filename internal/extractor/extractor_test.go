package extractor

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bgrewell/vma-kit/internal/consts"
	"github.com/bgrewell/vma-kit/internal/vmaerr"
	"github.com/bgrewell/vma-kit/internal/vmatest"
)

func buildArchive(t *testing.T, devices []vmatest.DeviceSpec, configs []vmatest.ConfigSpec, extents [][]vmatest.ClusterSpec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.vma")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write(vmatest.BuildHeader(devices, configs, vmatest.HeaderOptions{CorruptByteOffset: -1}))
	require.NoError(t, err)
	for _, clusters := range extents {
		_, err = f.Write(vmatest.BuildExtent(clusters, vmatest.ExtentOptions{CorruptPayloadByte: -1}))
		require.NoError(t, err)
	}
	return path
}

func TestRunExtractsSingleDeviceAndConfig(t *testing.T) {
	mask, data := vmatest.FullClusterData(0x5A)
	archivePath := buildArchive(t,
		[]vmatest.DeviceSpec{{ID: 1, Name: "scsi0", Size: 2 * consts.Cluster}},
		[]vmatest.ConfigSpec{{Name: "qemu-server.conf", Data: []byte("cores: 1\n")}},
		[][]vmatest.ClusterSpec{
			{
				{DeviceID: 1, LogicalIndex: 0, Mask: mask, Data: data},
				{DeviceID: 1, LogicalIndex: 1, Mask: 0},
			},
		},
	)

	outDir := t.TempDir()
	stats, err := Run(Config{
		SourcePath: archivePath,
		OutputDir:  outDir,
		Overwrite:  true,
	})
	require.NoError(t, err)
	require.Len(t, stats.Devices, 1)
	require.Equal(t, []string{"qemu-server.conf"}, stats.ConfigsWritten)

	raw, err := os.ReadFile(filepath.Join(outDir, "scsi0.raw"))
	require.NoError(t, err)
	require.Len(t, raw, 2*consts.Cluster)
	require.Equal(t, bytes.Repeat([]byte{0x5A}, consts.Cluster), raw[:consts.Cluster])
	require.Equal(t, make([]byte, consts.Cluster), raw[consts.Cluster:])

	conf, err := os.ReadFile(filepath.Join(outDir, "qemu-server.conf"))
	require.NoError(t, err)
	require.Equal(t, "cores: 1\n", string(conf))
}

func TestRunRejectsExistingOutputWithoutOverwrite(t *testing.T) {
	mask, data := vmatest.FullClusterData(0x1)
	archivePath := buildArchive(t,
		[]vmatest.DeviceSpec{{ID: 1, Name: "scsi0", Size: consts.Cluster}},
		nil,
		[][]vmatest.ClusterSpec{{{DeviceID: 1, LogicalIndex: 0, Mask: mask, Data: data}}},
	)

	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "scsi0.raw"), []byte("existing"), 0644))

	_, err := Run(Config{SourcePath: archivePath, OutputDir: outDir, Overwrite: false})
	var re *vmaerr.ResourceError
	require.ErrorAs(t, err, &re)
}

func TestRunPropagatesChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.vma")
	f, err := os.Create(path)
	require.NoError(t, err)
	raw := vmatest.BuildHeader(
		[]vmatest.DeviceSpec{{ID: 1, Name: "scsi0", Size: consts.Cluster}},
		nil,
		vmatest.HeaderOptions{CorruptByteOffset: 12287},
	)
	_, err = f.Write(raw)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Run(Config{SourcePath: path, OutputDir: t.TempDir(), Overwrite: true})
	var ce *vmaerr.ChecksumError
	require.ErrorAs(t, err, &ce)
}

func TestRunCreatesFileForZeroExtentDevice(t *testing.T) {
	const size = uint64(1 << 30) // 1 GiB, no extents ever reference it
	archivePath := buildArchive(t,
		[]vmatest.DeviceSpec{{ID: 1, Name: "scsi0", Size: size}},
		nil,
		nil,
	)

	outDir := t.TempDir()
	stats, err := Run(Config{SourcePath: archivePath, OutputDir: outDir, Overwrite: true})
	require.NoError(t, err)
	require.Len(t, stats.Devices, 1)
	require.Equal(t, "scsi0", stats.Devices[0].Name)
	require.Equal(t, size, stats.Devices[0].SizeBytes)

	info, err := os.Stat(filepath.Join(outDir, "scsi0.raw"))
	require.NoError(t, err)
	require.EqualValues(t, size, info.Size())
}

func TestRunTwoDevicesInterleavedExtent(t *testing.T) {
	mask0, data0 := vmatest.FullClusterData(0x11)
	mask1, data1 := vmatest.FullClusterData(0x22)
	archivePath := buildArchive(t,
		[]vmatest.DeviceSpec{
			{ID: 1, Name: "scsi0", Size: consts.Cluster},
			{ID: 2, Name: "scsi1", Size: consts.Cluster},
		},
		nil,
		[][]vmatest.ClusterSpec{
			{
				{DeviceID: 2, LogicalIndex: 0, Mask: mask1, Data: data1},
				{DeviceID: 1, LogicalIndex: 0, Mask: mask0, Data: data0},
			},
		},
	)

	outDir := t.TempDir()
	stats, err := Run(Config{SourcePath: archivePath, OutputDir: outDir, Overwrite: true, WorkerCount: 4})
	require.NoError(t, err)
	require.Len(t, stats.Devices, 2)

	raw0, err := os.ReadFile(filepath.Join(outDir, "scsi0.raw"))
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0x11}, consts.Cluster), raw0)

	raw1, err := os.ReadFile(filepath.Join(outDir, "scsi1.raw"))
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0x22}, consts.Cluster), raw1)
}
