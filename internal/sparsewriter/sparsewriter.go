// Package sparsewriter implements the per-device SparseWriter: a scoped
// writer that places clusters at their logical offset in an output image,
// preserving holes for clusters that are never written.
package sparsewriter

import (
	"crypto/md5"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bgrewell/vma-kit/internal/consts"
	"github.com/bgrewell/vma-kit/internal/logging"
	"github.com/bgrewell/vma-kit/internal/vmaerr"
)

// zeroClusterSum is the MD5 of a Cluster-sized all-zero buffer, used so an
// "all-zero" placement and an explicit all-zero-bytes placement for the
// same index are recognized as identical writes rather than a conflict.
var zeroClusterSum = md5.Sum(make([]byte, consts.Cluster))

// Writer owns one device's output file. It is safe for concurrent use by
// multiple WritePool workers: writes are serialized by mu, so distinct
// devices proceed fully in parallel while writes to the same device do
// not interleave.
type Writer struct {
	mu           sync.Mutex
	file         *os.File
	path         string
	deviceID     uint8
	deviceName   string
	size         int64
	seen         map[uint32][16]byte
	bytesWritten *int64
	ownWritten   int64
	log          *logging.Logger
}

// Open creates (or truncates) the output file at path and sets its length
// to size, creating a sparse file on platforms that support it. On
// platforms where Truncate allocates the full length eagerly, the file is
// still correct, just not sparse; Open does not detect or report that
// case.
func Open(path string, deviceID uint8, deviceName string, size int64, bytesWritten *int64, log *logging.Logger) (*Writer, error) {
	if log == nil {
		log = logging.DefaultLogger()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, &vmaerr.ResourceError{Path: path, Err: err}
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, &vmaerr.ResourceError{Path: path, Err: err}
	}
	if bytesWritten == nil {
		bytesWritten = new(int64)
	}
	log.Debug("sparse writer opened", "device", deviceName, "path", path, "size", size)
	return &Writer{
		file:         f,
		path:         path,
		deviceID:     deviceID,
		deviceName:   deviceName,
		size:         size,
		seen:         make(map[uint32][16]byte),
		bytesWritten: bytesWritten,
		log:          log,
	}, nil
}

// Place writes (or, for an all-zero cluster, conceptually records) the
// cluster at logicalIndex. data must be either nil (all-zero) or exactly
// consts.Cluster bytes. Re-placing the same index with byte-identical
// content is a no-op; re-placing with different content is a
// vmaerr.ConflictError.
func (w *Writer) Place(logicalIndex uint32, data []byte) error {
	var sum [16]byte
	if data == nil {
		sum = zeroClusterSum
	} else {
		if len(data) != consts.Cluster {
			return fmt.Errorf("sparsewriter: placement for device %q cluster %d has %d bytes, want %d", w.deviceName, logicalIndex, len(data), consts.Cluster)
		}
		sum = md5.Sum(data)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.seen[logicalIndex]; ok {
		if existing != sum {
			return &vmaerr.ConflictError{DeviceID: w.deviceID, DeviceName: w.deviceName, LogicalClusterIdx: logicalIndex}
		}
		return nil
	}
	w.seen[logicalIndex] = sum

	if data == nil {
		// The pre-sized sparse file already reads as zero here; no write
		// needed, and no hole is punched in already-allocated blocks.
		return nil
	}

	offset := int64(logicalIndex) * consts.Cluster
	n, err := w.file.WriteAt(data, offset)
	if err != nil {
		return &vmaerr.IoError{Offset: offset, Err: err}
	}
	if n != len(data) {
		return &vmaerr.IoError{Offset: offset, Err: fmt.Errorf("short write: wrote %d of %d bytes", n, len(data))}
	}
	atomic.AddInt64(w.bytesWritten, int64(n))
	atomic.AddInt64(&w.ownWritten, int64(n))
	return nil
}

// BytesWritten returns the number of payload bytes this writer has
// written so far, for per-device progress reporting.
func (w *Writer) BytesWritten() int64 {
	return atomic.LoadInt64(&w.ownWritten)
}

// Name returns the device name this writer was opened for.
func (w *Writer) Name() string {
	return w.deviceName
}

// Finalize flushes, confirms/restores the exact declared length (trimming
// any tail written past a device size that wasn't a multiple of Cluster),
// and closes the file.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		return &vmaerr.IoError{Err: err}
	}
	if err := w.file.Truncate(w.size); err != nil {
		return &vmaerr.ResourceError{Path: w.path, Err: err}
	}
	if err := w.file.Close(); err != nil {
		return &vmaerr.IoError{Err: err}
	}
	w.log.Debug("sparse writer finalized", "device", w.deviceName, "path", w.path)
	return nil
}

// Size returns the device's declared logical size in bytes.
func (w *Writer) Size() int64 {
	return w.size
}

// DeviceID returns the device-id this writer was opened for.
func (w *Writer) DeviceID() uint8 {
	return w.deviceID
}
