package vma_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	vma "github.com/bgrewell/vma-kit"
	"github.com/bgrewell/vma-kit/internal/consts"
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

func TestExtractRoundTripMinimalArchive(t *testing.T) {
	mask, data := vmatest.FullClusterData(0x7)
	archivePath := buildArchive(t,
		[]vmatest.DeviceSpec{{ID: 1, Name: "scsi0", Size: consts.Cluster}},
		nil,
		[][]vmatest.ClusterSpec{{{DeviceID: 1, LogicalIndex: 0, Mask: mask, Data: data}}},
	)

	outDir := t.TempDir()
	stats, err := vma.Extract(archivePath, outDir, vma.WithOverwrite(true))
	require.NoError(t, err)
	require.Len(t, stats.Devices, 1)
	require.EqualValues(t, consts.Cluster, stats.Devices[0].SizeBytes)

	raw, err := os.ReadFile(filepath.Join(outDir, "scsi0.raw"))
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0x7}, consts.Cluster), raw)
}

func TestExtractSkipHashIgnoresCorruption(t *testing.T) {
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

	_, err = vma.Extract(path, t.TempDir(), vma.WithOverwrite(true))
	var ce *vma.ChecksumError
	require.ErrorAs(t, err, &ce)

	_, err = vma.Extract(path, t.TempDir(), vma.WithOverwrite(true), vma.WithSkipHash(true))
	require.NoError(t, err)
}

func TestExtractIdempotentSecondRun(t *testing.T) {
	mask, data := vmatest.FullClusterData(0x3)
	archivePath := buildArchive(t,
		[]vmatest.DeviceSpec{{ID: 1, Name: "scsi0", Size: consts.Cluster}},
		nil,
		[][]vmatest.ClusterSpec{{{DeviceID: 1, LogicalIndex: 0, Mask: mask, Data: data}}},
	)

	outDir := t.TempDir()
	_, err := vma.Extract(archivePath, outDir, vma.WithOverwrite(true))
	require.NoError(t, err)
	_, err = vma.Extract(archivePath, outDir, vma.WithOverwrite(true))
	require.NoError(t, err)
}

func TestExtractExitCodeMapping(t *testing.T) {
	require.Equal(t, 0, vma.ExitCode(nil))
	require.Equal(t, 2, vma.ExitCode(&vma.ChecksumError{}))
	require.Equal(t, 3, vma.ExitCode(&vma.FormatError{Context: "bad"}))
	require.Equal(t, 3, vma.ExitCode(&vma.ConflictError{}))
	require.Equal(t, 4, vma.ExitCode(&vma.IoError{}))
}
