// Package progress reports extraction progress once per second, either as
// an animated terminal spinner or, when the output writer (stderr by
// default) is not a tty, as plain status lines.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/theckman/yacspin"
	"golang.org/x/term"

	"github.com/bgrewell/vma-kit/internal/logging"
)

// Options configures a Reporter.
type Options struct {
	Writer     io.Writer
	Interval   time.Duration
	ForcePlain bool
	Logger     *logging.Logger
}

// Option modifies Options.
type Option func(*Options)

// WithWriter sets the output stream. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *Options) { o.Writer = w }
}

// WithInterval overrides the default one-second reporting cadence.
func WithInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Interval = d
		}
	}
}

// WithForcePlain disables the spinner even when the writer is a tty,
// useful for CI logs that shouldn't receive carriage-return redraws.
func WithForcePlain(plain bool) Option {
	return func(o *Options) { o.ForcePlain = plain }
}

// WithLogger attaches a Logger for diagnostic output.
func WithLogger(log *logging.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// Reporter polls two atomic counters (bytes read from the archive, bytes
// written to device images) once per Interval and renders a status line.
type Reporter struct {
	bytesRead    *int64
	bytesWritten *int64
	totalBytes   int64

	interval time.Duration
	writer   io.Writer
	plain    bool
	log      *logging.Logger

	spinner *yacspin.Spinner

	stop chan struct{}
	done chan struct{}
}

// New creates a Reporter that will track bytesRead and bytesWritten
// against totalBytes (the sum of every device's declared size; 0 if
// unknown, in which case only absolute counts are shown).
func New(totalBytes int64, bytesRead, bytesWritten *int64, opts ...Option) *Reporter {
	o := Options{
		Writer:   os.Stderr,
		Interval: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}

	r := &Reporter{
		bytesRead:    bytesRead,
		bytesWritten: bytesWritten,
		totalBytes:   totalBytes,
		interval:     o.Interval,
		writer:       o.Writer,
		log:          log,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	r.plain = o.ForcePlain || !isTerminal(o.Writer)
	if !r.plain {
		spinner, err := yacspin.New(yacspin.Config{
			Frequency:       100 * time.Millisecond,
			CharSet:         yacspin.CharSets[9],
			Suffix:          " extracting",
			SuffixAutoColon: true,
			Writer:          o.Writer,
			StopCharacter:   "✓",
			StopColors:      []string{"fgGreen"},
		})
		if err != nil {
			log.Debug("spinner unavailable, falling back to plain output", "error", err)
			r.plain = true
		} else {
			r.spinner = spinner
		}
	}

	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Start begins the once-per-interval reporting loop in the background.
func (r *Reporter) Start() {
	if r.spinner != nil {
		_ = r.spinner.Start()
	}
	go r.loop()
}

// Stop halts the reporting loop and, for the spinner variant, leaves a
// final resolved line with msg.
func (r *Reporter) Stop(msg string) {
	close(r.stop)
	<-r.done
	if r.spinner != nil {
		r.spinner.StopMessage(msg)
		_ = r.spinner.Stop()
		return
	}
	fmt.Fprintln(r.writer, msg)
}

func (r *Reporter) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.render()
		}
	}
}

func (r *Reporter) render() {
	read := atomic.LoadInt64(r.bytesRead)
	written := atomic.LoadInt64(r.bytesWritten)

	var line string
	if r.totalBytes > 0 {
		pct := float64(written) / float64(r.totalBytes) * 100
		line = fmt.Sprintf("read %s, written %s (%.1f%%)", humanBytes(read), humanBytes(written), pct)
	} else {
		line = fmt.Sprintf("read %s, written %s", humanBytes(read), humanBytes(written))
	}

	if r.spinner != nil {
		r.spinner.Message(line)
		return
	}
	fmt.Fprintln(r.writer, line)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
