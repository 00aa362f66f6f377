// Package kfmt provides the logging facade used by the kernel memory
// management code. Log records are buffered in a ring buffer until an output
// sink is attached with SetOutputSink.
package kfmt

import (
	"fmt"
	"io"
	gosync "sync"

	"github.com/phuslu/log"
)

var (
	sinkMu gosync.Mutex

	// rootMu guards rootLogger. It is never held while a record is written
	// so sinkWriter may take sinkMu freely.
	rootMu gosync.RWMutex

	// earlyPrintBuffer is a ring buffer that stores log output before an
	// output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where log records are sent. If set to nil,
	// then the output is redirected to the earlyPrintBuffer.
	outputSink io.Writer

	rootLogger = log.Logger{
		Level: log.InfoLevel,
		Writer: &log.ConsoleWriter{
			ColorOutput:    false,
			EndWithMessage: true,
			Writer:         sinkWriter{},
		},
	}
)

// sinkWriter forwards writes to the active output sink or to the early ring
// buffer if no sink is attached.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}
	return outputSink.Write(p)
}

// SetOutputSink sets the default target for log records to w and copies any
// data accumulated in the earlyPrintBuffer to it. Passing nil redirects the
// output back to the ring buffer.
func SetOutputSink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	outputSink = w
	if w == nil {
		return
	}
	if lost := earlyPrintBuffer.Dropped(); lost > 0 {
		_, _ = fmt.Fprintf(w, "kfmt: %d bytes of early output were overwritten\n", lost)
	}
	_, _ = io.Copy(w, &earlyPrintBuffer)
	earlyPrintBuffer.Reset()
}

// SetLevel sets the minimum level of records emitted by Printf and by loggers
// obtained via Logger after the call.
func SetLevel(level log.Level) {
	rootMu.Lock()
	rootLogger.Level = level
	rootMu.Unlock()
}

func root() log.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return rootLogger
}

// ParseLevel parses a level name (trace, debug, info, warn, error) and
// applies it. Unknown names select the info level.
func ParseLevel(name string) {
	SetLevel(log.ParseLevel(name))
}

// Logger returns a logger whose records carry the name of the module that
// emits them.
func Logger(module string) *log.Logger {
	l := root()
	l.Context = log.NewContext(nil).Str("module", module).Value()
	return &l
}

// Printf emits an info record without a module tag.
func Printf(format string, args ...interface{}) {
	l := root()
	l.Info().Msgf(format, args...)
}
