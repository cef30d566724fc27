// Package bootlog is the simulator's stand-in for the UART side channel
// spec.md §6/§7 writes boot diagnostics through. Grounded on
// hybrid/logger.go's leveled package-level logger
// (Debug/Info/Error/Fatal backed by *log.Logger), retargeted from
// stdout/stderr at a FakeUART -- a byte-at-a-time writer matching a real
// UART's TX-register contract -- with a fallback writer for when the
// primary is busy, mirroring §7's "best-effort diagnostic write via a
// fallback UART path."
package bootlog

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/shenjiangwei/kpalloc/ksync"
	"github.com/shenjiangwei/kpalloc/memmap"
)

// LogLevel is the logging verbosity threshold, identical in shape to
// hybrid/logger.go's LogLevel.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelFatal
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

var currentLevel = LogLevelInfo

var (
	debugLogger *log.Logger
	infoLogger  *log.Logger
	errorLogger *log.Logger
	fatalLogger *log.Logger
)

func init() {
	resetLoggers(os.Stdout, os.Stdout, os.Stderr, os.Stderr)
}

func resetLoggers(debugW, infoW, errorW, fatalW io.Writer) {
	debugLogger = log.New(debugW, "[DEBUG] ", 0)
	infoLogger = log.New(infoW, "[INFO] ", 0)
	errorLogger = log.New(errorW, "[ERROR] ", 0)
	fatalLogger = log.New(fatalW, "[FATAL] ", 0)
}

// SetLevel sets the minimum level that reaches the sink.
func SetLevel(l LogLevel) { currentLevel = l }

// SetOutput redirects every level to w, the boot simulator's hook for
// pointing diagnostics at a FakeUART instead of the host's stdout.
func SetOutput(w io.Writer) { resetLoggers(w, w, w, w) }

func Debug(format string, v ...interface{}) {
	if currentLevel >= LogLevelDebug {
		debugLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Info(format string, v ...interface{}) {
	if currentLevel >= LogLevelInfo {
		infoLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Error(format string, v ...interface{}) {
	if currentLevel >= LogLevelError {
		errorLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Fatal logs and then panics -- there is no os.Exit in a kernel boot
// path; spec.md §7 kind 1/2 failures are fatal panics, never a process
// exit code.
func Fatal(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if currentLevel >= LogLevelFatal {
		fatalLogger.Output(2, msg)
	}
	panic(msg)
}

// FakeUART is a buffered stand-in for a memory-mapped UART's transmit
// register: writes land byte by byte, exactly as a real TX register
// would accept them one at a time, and a held lock (another hart mid
// write) makes WriteByte spin until it is released and TryWriteByte
// report false.
type FakeUART struct {
	buf *ksync.Spinlock[bytes.Buffer]
}

// NewFakeUART returns an empty FakeUART.
func NewFakeUART() *FakeUART {
	return &FakeUART{buf: ksync.NewSpinlock(bytes.Buffer{})}
}

// WriteByte pushes a single byte through the simulated TX register.
func (u *FakeUART) WriteByte(b byte) error {
	g := u.buf.Lock()
	defer g.Unlock()
	return g.Value().WriteByte(b)
}

// TryWriteByte attempts WriteByte without blocking, reporting false if
// the register is currently held by another writer.
func (u *FakeUART) TryWriteByte(b byte) bool {
	g, ok := u.buf.TryLock()
	if !ok {
		return false
	}
	defer g.Unlock()
	_ = g.Value().WriteByte(b)
	return true
}

// Write implements io.Writer by pushing p through WriteByte one byte at
// a time.
func (u *FakeUART) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := u.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// String returns everything transmitted so far.
func (u *FakeUART) String() string {
	g := u.buf.Lock()
	defer g.Unlock()
	return g.Value().String()
}

// BestEffortWriter writes to a primary FakeUART when it can acquire the
// register without blocking, and to fallback otherwise -- the
// diagnostic-write-never-stalls-the-allocator path spec.md §7 requires.
type BestEffortWriter struct {
	Primary  *FakeUART
	Fallback io.Writer
}

func (w *BestEffortWriter) Write(p []byte) (int, error) {
	n := 0
	for _, b := range p {
		if w.Primary.TryWriteByte(b) {
			n++
			continue
		}
		if _, err := w.Fallback.Write([]byte{b}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Summary writes the boot-time physical memory map and frame allocator
// state through the package logger, matching the line shapes spec.md §6
// requires: each region's bounds and KiB size, total frame count, and
// the frame allocator's order count and free-list bitmap.
func Summary(mm *memmap.PhysicalMemoryMap, orders uint8, bitmap uint64) {
	Info("ram:      %s (%d KiB)", mm.Ram, mm.Ram.KiB())
	Info("kernel:   %s (%d KiB)", mm.Kernel, mm.Kernel.KiB())
	Info("framePool:%s (%d KiB)", mm.FramePool, mm.FramePool.KiB())
	Info("metadata: %s (%d KiB)", mm.FrameAllocatorMetadata, mm.FrameAllocatorMetadata.KiB())
	Info("free:     %s (%d KiB)", mm.FreeMemory, mm.FreeMemory.KiB())
	Info("frames:   %d", mm.NumFrames)
	Info("FrameAllocator initialized: orders=%d bitmap=%0*b", orders, int(orders), bitmap)
}
