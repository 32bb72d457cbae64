package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gustycube/certprobe/internal/format"
	"github.com/gustycube/certprobe/internal/types"
)

// Writer handles formatted output. It is safe to call from the runner's emit
// callback and from signal handlers at the same time.
type Writer struct {
	formatter format.Formatter
	w         *bufio.Writer
	mu        sync.Mutex
	written   int
}

// NewWriter creates a new output writer
func NewWriter(formatName string, w io.Writer, color bool) (*Writer, error) {
	f, err := format.ParseFormat(formatName)
	if err != nil {
		return nil, fmt.Errorf("unsupported format: %s", formatName)
	}
	fm, err := format.GetFormatter(f, map[string]interface{}{"color": color})
	if err != nil {
		return nil, err
	}
	return &Writer{formatter: fm, w: bufio.NewWriter(w)}, nil
}

// NewStdoutWriter creates a writer for stdout
func NewStdoutWriter(formatName string, color bool) (*Writer, error) {
	return NewWriter(formatName, os.Stdout, color)
}

// WriteResult formats res and writes it through immediately so results appear
// as they complete.
func (w *Writer) WriteResult(res types.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Formatting happens under the lock so a CSV header always comes first.
	data, err := w.formatter.Format(res)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	w.written++
	return w.w.Flush()
}

// Written returns how many results went out.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Flush flushes any buffered data
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}
