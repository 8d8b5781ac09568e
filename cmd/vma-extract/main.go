package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/bgrewell/usage"

	vma "github.com/bgrewell/vma-kit"
	"github.com/bgrewell/vma-kit/internal/logging"
	"github.com/bgrewell/vma-kit/internal/progress"
)

func main() {
	u := usage.NewUsage(
		usage.WithApplicationName("vma-extract"),
		usage.WithApplicationDescription("vma-extract reads a Proxmox VE VMA backup archive and writes each device's raw disk image and configuration files to an output directory."),
	)

	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	verbose := u.AddBooleanOption("v", "verbose", false, "Enable debug logging", "", nil)
	trace := u.AddBooleanOption("", "vv", false, "Enable trace logging", "", nil)
	skipHash := u.AddBooleanOption("", "skip-hash", false, "Skip MD5 verification of the header and every extent", "", nil)
	overwrite := u.AddBooleanOption("", "overwrite", false, "Allow overwriting existing files in the output directory", "", nil)
	quiet := u.AddBooleanOption("q", "quiet", false, "Suppress the progress line", "", nil)
	outputDir := u.AddStringOption("o", "output", "./extracted", "Output directory for extracted device images and configs", "", nil)
	workers := u.AddIntOption("w", "workers", 0, "Number of concurrent write workers (0 = auto)", "", nil)
	queueMultiplier := u.AddIntOption("", "queue-multiplier", 4, "Write job queue size, as a multiple of the worker count", "", nil)
	archivePath := u.AddArgument(1, "archive-path", "Path to the .vma file to extract", "")

	parsed := u.Parse()
	if !parsed {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}
	if *help {
		u.PrintUsage()
		os.Exit(0)
	}
	if archivePath == nil || *archivePath == "" {
		u.PrintError(fmt.Errorf("path to a .vma archive must be provided"))
		os.Exit(1)
	}

	log := logging.NewSimpleLogger(os.Stderr, verbosityFor(*verbose, *trace), true)

	opts := []vma.Option{
		vma.WithLogger(log),
		vma.WithSkipHash(*skipHash),
		vma.WithOverwrite(*overwrite),
		vma.WithWorkerCount(*workers),
		vma.WithQueueMultiplier(*queueMultiplier),
	}

	var reporter *progress.Reporter
	var bytesRead, bytesWritten int64
	if !*quiet {
		reporter = progress.New(0, &bytesRead, &bytesWritten)
		reporter.Start()
		opts = append(opts, vma.WithProgress(func(read, written int64, _ time.Duration, _ []vma.DeviceProgress) {
			atomic.StoreInt64(&bytesRead, read)
			atomic.StoreInt64(&bytesWritten, written)
		}))
	}

	stats, err := vma.Extract(*archivePath, *outputDir, opts...)
	if reporter != nil {
		if err != nil {
			reporter.Stop("extraction failed")
		} else {
			reporter.Stop("extraction complete")
		}
	}
	if err != nil {
		u.PrintError(err)
		os.Exit(vma.ExitCode(err))
	}

	fmt.Printf("Extraction completed successfully to '%s'.\n", *outputDir)
	fmt.Printf("Devices extracted: %d\n", len(stats.Devices))
	for _, d := range stats.Devices {
		fmt.Printf("  %s: %d bytes\n", d.Name, d.SizeBytes)
	}
	fmt.Printf("Configs written: %d\n", len(stats.ConfigsWritten))
	for _, c := range stats.ConfigsWritten {
		fmt.Printf("  %s\n", c)
	}
	fmt.Printf("Bytes read: %d, bytes written: %d, elapsed: %s\n", stats.BytesRead, stats.BytesWritten, stats.Elapsed)
}

func verbosityFor(verbose, trace bool) int {
	switch {
	case trace:
		return logging.LEVEL_TRACE
	case verbose:
		return logging.LEVEL_DEBUG
	default:
		return logging.LEVEL_INFO
	}
}
