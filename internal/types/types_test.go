package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gustycube/certprobe/internal/validity"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func cert(days int) *CertificateRecord {
	return &CertificateRecord{Host: "h.example", Port: 443, NotAfter: now.Add(time.Duration(days)*24*time.Hour + time.Minute)}
}

func TestSuccess(t *testing.T) {
	r := Success("https://h.example/", cert(12), now)
	if !r.OK() {
		t.Fatal("expected OK result")
	}
	if r.RemainingDays != 12 || r.Class != validity.ClassWarning {
		t.Errorf("got (%d, %s), want (12, WARNING)", r.RemainingDays, r.Class)
	}
	if r.Host != "h.example" || r.Port != 443 || r.Input != "https://h.example/" {
		t.Errorf("unexpected identity %+v", r)
	}
}

func TestFailure_OmitsClass(t *testing.T) {
	r := Failure("bad", "bad", 443, "timeout", errors.New("timed out"), now)
	if r.OK() {
		t.Fatal("failure must not be OK")
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"class"`) {
		t.Errorf("failure JSON should not carry a class: %s", data)
	}
}

func TestTallyAndHealthy(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		counts  map[string]int
		healthy bool
	}{
		{name: "empty", results: nil, counts: map[string]int{}, healthy: true},
		{
			name:    "valid only",
			results: []Result{Success("a", cert(100), now), Success("b", cert(3), now), Success("c", cert(3), now)},
			counts:  map[string]int{"OK": 1, "CRITICAL": 2},
			healthy: true,
		},
		{
			name:    "expired",
			results: []Result{Success("a", cert(100), now), Success("b", cert(-2), now)},
			counts:  map[string]int{"OK": 1, "EXPIRED": 1},
			healthy: false,
		},
		{
			name:    "failed",
			results: []Result{Failure("x", "x", 443, "timeout", errors.New("t"), now), Success("b", cert(40), now)},
			counts:  map[string]int{"FAILED": 1, "OK": 1},
			healthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tally(tt.results)
			if len(got) != len(tt.counts) {
				t.Errorf("Tally() = %v, want %v", got, tt.counts)
			}
			for k, v := range tt.counts {
				if got[k] != v {
					t.Errorf("Tally()[%s] = %d, want %d", k, got[k], v)
				}
			}
			if Healthy(tt.results) != tt.healthy {
				t.Errorf("Healthy() = %v, want %v", !tt.healthy, tt.healthy)
			}
		})
	}
}
