// Package extractor implements the Extractor orchestrator: the single
// producer that drives a ByteSource through the header and extent
// streams, fans decoded placements out to a WritePool, and finalizes
// every device's SparseWriter.
package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bgrewell/vma-kit/internal/bytesource"
	"github.com/bgrewell/vma-kit/internal/consts"
	"github.com/bgrewell/vma-kit/internal/extent"
	"github.com/bgrewell/vma-kit/internal/header"
	"github.com/bgrewell/vma-kit/internal/logging"
	"github.com/bgrewell/vma-kit/internal/md5zero"
	"github.com/bgrewell/vma-kit/internal/sparsewriter"
	"github.com/bgrewell/vma-kit/internal/vmaerr"
	"github.com/bgrewell/vma-kit/internal/writepool"
)

// DeviceProgress is a point-in-time snapshot of one open device writer.
type DeviceProgress struct {
	Name         string
	BytesWritten int64
	SizeBytes    uint64
}

// ProgressFunc mirrors the teacher's ExtractionProgressCallback shape,
// adapted to whole-archive byte counters instead of per-file ones, and
// extended with a per-device breakdown.
type ProgressFunc func(bytesRead, bytesWritten int64, elapsed time.Duration, devices []DeviceProgress)

// Config carries everything the orchestrator needs for one extraction
// run. It is assembled by the root package from its Options.
type Config struct {
	SourcePath      string
	OutputDir       string
	SkipHash        bool
	WorkerCount     int
	QueueMultiplier int
	Overwrite       bool
	Progress        ProgressFunc
	Logger          *logging.Logger
}

// DeviceStats summarizes one extracted device image.
type DeviceStats struct {
	Name      string
	SizeBytes uint64
}

// Stats summarizes a completed (or aborted) extraction run.
type Stats struct {
	BytesRead      int64
	BytesWritten   int64
	Devices        []DeviceStats
	ConfigsWritten []string
	Elapsed        time.Duration
}

// Run drives one full extraction following the Start -> HeaderRead ->
// ConfigsWritten -> Streaming -> Draining -> Finalizing -> Done state
// machine. Any fatal error transitions to Aborting: the submission side
// is closed, the pool is joined best-effort, and the error is returned
// with whatever Stats had accumulated so far.
func Run(cfg Config) (Stats, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}
	start := time.Now()

	var bytesRead, bytesWritten int64
	stats := Stats{}

	// Start -> HeaderRead
	src, err := bytesource.Open(cfg.SourcePath, &bytesRead)
	if err != nil {
		return stats, &vmaerr.ResourceError{Path: cfg.SourcePath, Err: err}
	}
	defer src.Close()

	checker := &md5zero.Checker{Skip: cfg.SkipHash}

	headerBytes, err := src.Read(consts.HeaderSize)
	if err != nil {
		return stats, err
	}
	desc, err := header.Decode(headerBytes, checker, log)
	if err != nil {
		return stats, err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return stats, &vmaerr.ResourceError{Path: cfg.OutputDir, Err: err}
	}

	// HeaderRead -> ConfigsWritten
	for _, c := range desc.Configs {
		path := filepath.Join(cfg.OutputDir, c.Name)
		if err := writeConfigFile(path, c.Data, cfg.Overwrite); err != nil {
			return stats, err
		}
		stats.ConfigsWritten = append(stats.ConfigsWritten, c.Name)
		log.Debug("config written", "name", c.Name, "bytes", len(c.Data))
	}

	deviceClusters := make(extent.DeviceClusterCount, len(desc.Devices))
	for id, d := range desc.Devices {
		deviceClusters[id] = d.ClusterCount
	}

	// ConfigsWritten -> Streaming: create the pool.
	pool := writepool.New(
		writepool.WithWorkerCount(cfg.WorkerCount),
		writepool.WithQueueMultiplier(cfg.QueueMultiplier),
		writepool.WithLogger(log),
	)

	writers := &deviceWriters{
		byID: make(map[uint8]*sparsewriter.Writer, len(desc.Devices)),
	}

	// Every declared device gets its output file created and sized now,
	// even one that never receives a single extent, so a zero-extent
	// device still produces an exactly-sized raw image instead of being
	// silently absent from the output directory.
	for _, dev := range desc.Devices {
		if _, err := writers.getOrCreate(cfg.OutputDir, dev, &bytesWritten, log, cfg.Overwrite); err != nil {
			pool.Close()
			writers.finalizeAll(log)
			stats.BytesRead = bytesRead
			stats.BytesWritten = bytesWritten
			stats.Elapsed = time.Since(start)
			return stats, err
		}
	}

	abort := func(cause error) (Stats, error) {
		poolErr := pool.Close()
		writers.finalizeAll(log)
		stats.BytesRead = bytesRead
		stats.BytesWritten = bytesWritten
		stats.Elapsed = time.Since(start)
		if cause != nil {
			return stats, cause
		}
		return stats, poolErr
	}

	lastEmit := start
	emit := func() {
		if cfg.Progress == nil {
			return
		}
		now := time.Now()
		if now.Sub(lastEmit) < time.Second {
			return
		}
		lastEmit = now
		cfg.Progress(bytesRead, bytesWritten, now.Sub(start), writers.snapshot())
	}

	// Streaming
	for {
		atEOF, err := src.AtEOF()
		if err != nil {
			return abort(err)
		}
		if atEOF {
			break
		}

		placements, err := extent.Decode(src, checker, deviceClusters, log)
		if err != nil {
			return abort(err)
		}

		for _, p := range placements {
			dev, ok := desc.Devices[p.DeviceID]
			if !ok {
				return abort(&vmaerr.FormatError{Context: fmt.Sprintf("placement references unknown device id %d", p.DeviceID)})
			}
			w, err := writers.getOrCreate(cfg.OutputDir, dev, &bytesWritten, log, cfg.Overwrite)
			if err != nil {
				return abort(err)
			}
			placement := p
			pool.Submit(func() error {
				return w.Place(placement.LogicalIndex, placement.Data)
			})
		}

		if err := pool.Err(); err != nil {
			return abort(err)
		}
		emit()
	}

	// Draining: close submission and join.
	if err := pool.Close(); err != nil {
		writers.finalizeAll(log)
		stats.BytesRead = bytesRead
		stats.BytesWritten = bytesWritten
		stats.Elapsed = time.Since(start)
		return stats, err
	}

	// Finalizing -> Done
	if err := writers.finalizeAll(log); err != nil {
		stats.BytesRead = bytesRead
		stats.BytesWritten = bytesWritten
		stats.Elapsed = time.Since(start)
		return stats, err
	}

	for _, d := range desc.Devices {
		stats.Devices = append(stats.Devices, DeviceStats{Name: d.Name, SizeBytes: d.SizeBytes})
	}
	stats.BytesRead = bytesRead
	stats.BytesWritten = bytesWritten
	stats.Elapsed = time.Since(start)
	if cfg.Progress != nil {
		cfg.Progress(bytesRead, bytesWritten, stats.Elapsed, writers.snapshot())
	}
	log.Info("extraction complete", "devices", len(stats.Devices), "bytesWritten", bytesWritten, "elapsed", stats.Elapsed)
	return stats, nil
}

func writeConfigFile(path string, data []byte, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return &vmaerr.ResourceError{Path: path, Err: err}
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return &vmaerr.IoError{Err: err}
	}
	return nil
}

// deviceWriters holds one SparseWriter per device. Run opens a writer for
// every declared device before streaming begins; getOrCreate returns that
// existing writer for later placements and opens one only for a device
// that has none yet.
type deviceWriters struct {
	mu   sync.Mutex
	byID map[uint8]*sparsewriter.Writer
}

func (d *deviceWriters) getOrCreate(outputDir string, dev *header.DeviceEntry, bytesWritten *int64, log *logging.Logger, overwrite bool) (*sparsewriter.Writer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.byID[dev.ID]; ok {
		return w, nil
	}
	path := filepath.Join(outputDir, dev.Name+".raw")
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, &vmaerr.ResourceError{Path: path, Err: fmt.Errorf("already exists")}
		}
	}
	w, err := sparsewriter.Open(path, dev.ID, dev.Name, int64(dev.SizeBytes), bytesWritten, log)
	if err != nil {
		return nil, err
	}
	d.byID[dev.ID] = w
	return w, nil
}

// snapshot returns a per-device progress breakdown for every writer
// opened so far.
func (d *deviceWriters) snapshot() []DeviceProgress {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeviceProgress, 0, len(d.byID))
	for _, w := range d.byID {
		out = append(out, DeviceProgress{Name: w.Name(), BytesWritten: w.BytesWritten(), SizeBytes: uint64(w.Size())})
	}
	return out
}

// finalizeAll finalizes every opened writer, returning the first error
// encountered but still attempting every writer so a failure on one
// device doesn't leave another's file unflushed.
func (d *deviceWriters) finalizeAll(log *logging.Logger) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for id, w := range d.byID {
		if err := w.Finalize(); err != nil {
			log.Error(err, "finalize failed", "deviceID", id)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
