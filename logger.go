package cmdrunner

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// gatedWriter drops debug events unless debug is on.
type gatedWriter struct {
	w     io.Writer
	debug *atomic.Bool
}

func (g gatedWriter) Write(p []byte) (int, error) {
	return g.w.Write(p)
}

func (g gatedWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l <= zerolog.DebugLevel && !g.debug.Load() {
		return len(p), nil
	}
	return g.w.Write(p)
}

// newLogger opens <dataDir>/logs/ccr.log, truncating it, and returns a
// logger writing to it and, when console is set, to stdout.
func newLogger(dataDir string, console bool, debug *atomic.Bool) (zerolog.Logger, io.Closer, error) {
	dir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerolog.Nop(), nil, errors.Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(filepath.Join(dir, "ccr.log"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, errors.Wrap(err, "open log file")
	}

	var out io.Writer = f
	if console {
		out = zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime})
	}
	log := zerolog.New(gatedWriter{w: out, debug: debug}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
	return log, f, nil
}
