package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger
)

const logFlags = log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

var levels = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

func init() {
	Configure(os.Stdout, "info")
}

// Configure points every logger at w and silences those below level
// (debug, info, warn or error). Call it before any goroutine starts logging.
func Configure(w io.Writer, level string) {
	min, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		min = levels["info"]
	}

	out := func(l int) io.Writer {
		if l < min {
			return io.Discard
		}
		return w
	}

	Debug = log.New(out(0), "DEBUG: ", logFlags)
	Info = log.New(out(1), "INFO: ", logFlags)
	Warn = log.New(out(2), "WARN: ", logFlags)
	Error = log.New(out(3), "ERROR: ", logFlags)
}
