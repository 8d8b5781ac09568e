// Package vma extracts Proxmox VE VMA backup archives into per-device
// raw disk images and their associated configuration files.
package vma

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/bgrewell/vma-kit/internal/extractor"
	"github.com/bgrewell/vma-kit/internal/logging"
)

// DeviceProgress is a point-in-time snapshot of one open device writer.
type DeviceProgress struct {
	Name         string
	BytesWritten int64
	SizeBytes    uint64
}

// ProgressCallback is invoked at most once per wall-clock second while an
// extraction is running, with a breakdown of bytes written per device
// opened so far.
type ProgressCallback func(bytesRead, bytesWritten int64, elapsed time.Duration, devices []DeviceProgress)

// Options holds the configuration for one Extract call.
type Options struct {
	skipHash        bool
	workerCount     int
	queueMultiplier int
	overwrite       bool
	progress        ProgressCallback
	logger          logr.Logger
}

// Option represents a function that modifies Options.
type Option func(*Options)

// WithSkipHash disables MD5 verification of the header and every extent.
// Digest bytes are still consumed from the stream for position
// bookkeeping; only the comparison is skipped.
func WithSkipHash(skip bool) Option {
	return func(o *Options) {
		o.skipHash = skip
	}
}

// WithWorkerCount sets the number of concurrent cluster-writing workers.
// Zero or unset means auto: runtime.NumCPU with a minimum of 2.
func WithWorkerCount(n int) Option {
	return func(o *Options) {
		o.workerCount = n
	}
}

// WithQueueMultiplier sets the write job queue's bound as a multiple of
// the worker count. Defaults to 4.
func WithQueueMultiplier(n int) Option {
	return func(o *Options) {
		o.queueMultiplier = n
	}
}

// WithProgress sets a callback invoked at most once per second with
// cumulative byte counters and elapsed time.
func WithProgress(callback ProgressCallback) Option {
	return func(o *Options) {
		o.progress = callback
	}
}

// WithLogger sets the logger used for the extraction.
func WithLogger(logger logr.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

// WithOverwrite sets whether an existing `<name>.raw` or config file in
// the output directory may be overwritten. Defaults to false.
func WithOverwrite(overwrite bool) Option {
	return func(o *Options) {
		o.overwrite = overwrite
	}
}

// DeviceStats summarizes one extracted device image.
type DeviceStats struct {
	Name      string
	SizeBytes uint64
}

// Stats summarizes a completed extraction.
type Stats struct {
	BytesRead      int64
	BytesWritten   int64
	Devices        []DeviceStats
	ConfigsWritten []string
	Elapsed        time.Duration
}

// Extract reads the VMA archive at sourcePath and writes each device's
// image and every config blob into outputDir, creating it if necessary.
//
// On a fatal error (bad magic, checksum mismatch, conflicting cluster,
// unknown device-id, short read, or an I/O failure), Extract returns
// whatever Stats had accumulated so far alongside the error; output
// files already written are left on disk for inspection.
func Extract(sourcePath, outputDir string, opts ...Option) (Stats, error) {
	options := Options{
		workerCount:     0,
		queueMultiplier: 4,
		logger:          logr.Discard(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	var progressFn extractor.ProgressFunc
	if options.progress != nil {
		cb := options.progress
		progressFn = func(bytesRead, bytesWritten int64, elapsed time.Duration, devices []extractor.DeviceProgress) {
			out := make([]DeviceProgress, len(devices))
			for i, d := range devices {
				out[i] = DeviceProgress{Name: d.Name, BytesWritten: d.BytesWritten, SizeBytes: d.SizeBytes}
			}
			cb(bytesRead, bytesWritten, elapsed, out)
		}
	}

	result, err := extractor.Run(extractor.Config{
		SourcePath:      sourcePath,
		OutputDir:       outputDir,
		SkipHash:        options.skipHash,
		WorkerCount:     options.workerCount,
		QueueMultiplier: options.queueMultiplier,
		Overwrite:       options.overwrite,
		Progress:        progressFn,
		Logger:          logging.NewLogger(options.logger),
	})

	stats := Stats{
		BytesRead:      result.BytesRead,
		BytesWritten:   result.BytesWritten,
		ConfigsWritten: result.ConfigsWritten,
		Elapsed:        result.Elapsed,
	}
	for _, d := range result.Devices {
		stats.Devices = append(stats.Devices, DeviceStats{Name: d.Name, SizeBytes: d.SizeBytes})
	}
	return stats, err
}
