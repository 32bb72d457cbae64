package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gustycube/certprobe/internal/types"
)

func failure(i int) types.Result {
	host := fmt.Sprintf("h%d.example", i)
	return types.Failure(host, host, 443, "timeout", errors.New("i/o timeout"), time.Now())
}

func TestNewWriter_UnknownFormat(t *testing.T) {
	if _, err := NewWriter("xml", &bytes.Buffer{}, false); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestWriter_JSONL(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter("jsonl", &buf, false)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := w.WriteResult(failure(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var res types.Result
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			t.Fatalf("line %d is not JSON: %v", i, err)
		}
		if res.Input != fmt.Sprintf("h%d.example", i) {
			t.Errorf("line %d out of order: %s", i, res.Input)
		}
	}
	if w.Written() != 3 {
		t.Errorf("expected 3 written, got %d", w.Written())
	}
}

func TestWriter_ConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter("panel", &buf, false)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.WriteResult(failure(i))
		}(i)
	}
	wg.Wait()

	out := buf.String()
	if got := strings.Count(out, "╭"); got != 20 {
		t.Errorf("expected 20 panels, got %d", got)
	}
	// Every panel must close before the next opens.
	depth := 0
	for _, r := range out {
		switch r {
		case '╭':
			depth++
		case '╯':
			depth--
		}
		if depth > 1 || depth < 0 {
			t.Fatal("panels interleaved")
		}
	}
}
