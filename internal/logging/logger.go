package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type Logger struct {
	// Tag used to filter and classify log messages.
	Tag string

	// Level set with WithLevel. Nil means "follow the default level".
	level *Level

	// Destination shared by all derived loggers, so that SetDestination on
	// the root logger redirects everything.
	out *destination
}

type destination struct {
	// Mutex to prevent messages from different goroutines from interleaving.
	sync.Mutex
	w io.Writer
}

// Write to stderr by default.
var DefaultLogger = &Logger{out: &destination{w: os.Stderr}}

// SetDestination overrides the destination for this logger and every logger
// derived from the same root.
func (log *Logger) SetDestination(w io.Writer) {
	log.out.Lock()
	log.out.w = w
	log.out.Unlock()
}

// WithTag derives a new logger with the given tag. The level is looked up
// from LOGLEVEL directives on every call, so directives applied later still
// take effect.
func (log *Logger) WithTag(tag string) *Logger {
	return &Logger{Tag: tag, level: log.level, out: log.out}
}

// WithLevel derives a logger pinned to the given level. Tag directives still
// override it.
func (log *Logger) WithLevel(level Level) *Logger {
	return &Logger{Tag: log.Tag, level: &level, out: log.out}
}

// Level returns the effective level of this logger.
func (log *Logger) Level() Level {
	return determineLevel(log.Tag, log.level)
}

// Enabled reports whether a message at the given level would be written.
func (log *Logger) Enabled(level Level) bool {
	return level <= log.Level()
}

// Wrapper for []byte that implements io.Writer. Simpler and cheaper than
// bytes.Buffer.
type buffer []byte

func (b *buffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (b *buffer) writeByte(c byte) {
	*b = append(*b, c)
}

// A global buffer pool, shared across all loggers. Initial capacity is 256 to
// accommodate *most* log lines.
var bufPool = sync.Pool{
	New: func() interface{} {
		return make(buffer, 0, 256)
	},
}

// Log a message at the given level. Include the file and line number from
// 'calldepth' steps up the call stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if !log.Enabled(level) {
		return
	}

	buf := bufPool.Get().(buffer)
	defer func() { bufPool.Put(buf[:0]) }()

	headerColor.Fprint(&buf, time.Now().Format(timestampFormat))

	// Get the caller of Error()/Warn()/Info()/etc.
	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}
	level.color().Fprintf(&buf, " %c/%s[%s:%d] ", level.letter(), log.Tag, filepath.Base(file), line)

	fmt.Fprintf(&buf, format, a...)

	if n := len(format); n == 0 || format[n-1] != '\n' {
		buf.writeByte('\n')
	}

	log.out.Lock()
	_, err := log.out.w.Write(buf)
	log.out.Unlock()
	if err != nil {
		// Nowhere left to report it.
		fmt.Fprintf(os.Stderr, "logging: write failed: %v\n", err)
	}
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}

func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}
