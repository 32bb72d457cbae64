package ui

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/gustycube/certprobe/internal/types"
)

// InteractiveLogger keeps a progress line on stderr while results stream to
// stdout, clearing it before anything else is printed.
type InteractiveLogger struct {
	logger       *zap.SugaredLogger
	mu           sync.Mutex
	lastLine     string
	output       io.Writer
	stats        *Stats
	showProgress bool
}

// NewInteractiveLogger creates a new interactive logger. Progress is only drawn
// when stderr is a terminal.
func NewInteractiveLogger(logger *zap.SugaredLogger, showProgress bool) *InteractiveLogger {
	return &InteractiveLogger{
		logger:       logger,
		output:       os.Stderr,
		stats:        NewStats(),
		showProgress: showProgress && IsTerminal(os.Stderr),
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SetTotal sets the number of hosts for the progress bar
func (il *InteractiveLogger) SetTotal(total int) {
	il.stats.SetTotal(int64(total))
}

// Clear removes the progress line so other output starts on a clean line.
func (il *InteractiveLogger) Clear() {
	il.mu.Lock()
	defer il.mu.Unlock()
	il.clearLine()
}

// Observe records a finished host and redraws the progress line.
func (il *InteractiveLogger) Observe(res types.Result) {
	il.stats.Observe(res)
	if !il.showProgress {
		return
	}
	il.mu.Lock()
	defer il.mu.Unlock()
	il.clearLine()
	il.lastLine = il.stats.GetProgressBar()
	io.WriteString(il.output, il.lastLine+"\r")
}

// LogWarn logs a warning message, clearing progress first
func (il *InteractiveLogger) LogWarn(message string, args ...interface{}) {
	il.mu.Lock()
	defer il.mu.Unlock()
	il.clearLine()
	il.logger.Warnw(message, args...)
}

// clearLine clears the current line. Caller holds mu.
func (il *InteractiveLogger) clearLine() {
	if il.lastLine != "" {
		spaces := strings.Repeat(" ", len([]rune(il.lastLine)))
		io.WriteString(il.output, "\r"+spaces+"\r")
		il.lastLine = ""
	}
}

// Finish completes progress tracking and logs the summary
func (il *InteractiveLogger) Finish() {
	il.mu.Lock()
	defer il.mu.Unlock()

	il.stats.Finish()
	il.clearLine()
	il.logger.Infow(il.stats.Summary())
}

// GetStats returns the current statistics
func (il *InteractiveLogger) GetStats() *Stats {
	return il.stats
}

// Sync syncs the underlying logger
func (il *InteractiveLogger) Sync() error {
	return il.logger.Sync()
}
