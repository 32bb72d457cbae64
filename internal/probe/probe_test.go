package probe

import (
	"context"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gustycube/certprobe/internal/testcert"
	"github.com/gustycube/certprobe/internal/tlsinfo"
	"github.com/gustycube/certprobe/internal/types"
	"github.com/gustycube/certprobe/internal/validity"
)

// fakeFetcher answers from a table keyed by host and counts calls.
type fakeFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	expiry map[string]time.Duration
	fail   map[string]tlsinfo.Kind
	delay  func(host string) time.Duration
	block  string
}

func newFake() *fakeFetcher {
	return &fakeFetcher{
		calls:  make(map[string]int),
		expiry: make(map[string]time.Duration),
		fail:   make(map[string]tlsinfo.Kind),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, host string, port int) (*types.CertificateRecord, error) {
	f.mu.Lock()
	f.calls[host]++
	f.mu.Unlock()

	if host == f.block {
		<-ctx.Done()
		return nil, &tlsinfo.ProbeError{Kind: tlsinfo.KindCanceled, Host: host, Port: port, Err: ctx.Err()}
	}
	if f.delay != nil {
		time.Sleep(f.delay(host))
	}
	if kind, ok := f.fail[host]; ok {
		return nil, &tlsinfo.ProbeError{Kind: kind, Host: host, Port: port, Err: errors.New("fake failure")}
	}
	left, ok := f.expiry[host]
	if !ok {
		left = 90 * 24 * time.Hour
	}
	now := time.Now().UTC()
	return &types.CertificateRecord{
		Host:               host,
		Port:               port,
		SubjectCommonName:  host,
		IssuerOrganization: "Fake Org",
		IssuerCommonName:   "Fake CA",
		ProtocolVersion:    "TLSv1.3",
		NotBefore:          now.Add(-24 * time.Hour),
		NotAfter:           now.Add(left),
	}, nil
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) count(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[host]
}

func TestRun_EmptyList(t *testing.T) {
	f := newFake()
	r := New(f, Options{}, nil)

	emitted := 0
	results, err := r.Run(context.Background(), nil, func(types.Result) { emitted++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil results, got %v", results)
	}
	if emitted != 0 || f.total() != 0 {
		t.Errorf("expected no emissions or fetches, got %d emitted, %d fetched", emitted, f.total())
	}
}

func TestRun_FailureIsolated(t *testing.T) {
	f := newFake()
	f.fail["b.example"] = tlsinfo.KindConnectionRefused
	f.expiry["c.example"] = 5*24*time.Hour + time.Hour
	r := New(f, Options{}, nil)

	input := []string{"https://a.example/login", "b.example", "c.example:8443", "d.example"}
	var emitted []string
	results, err := r.Run(context.Background(), input, func(res types.Result) {
		emitted = append(emitted, res.Input)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != len(input) {
		t.Fatalf("expected %d results, got %d", len(input), len(results))
	}
	for i, res := range results {
		if res.Input != input[i] || emitted[i] != input[i] {
			t.Errorf("result %d is for %q (emitted %q), want %q", i, res.Input, emitted[i], input[i])
		}
	}

	if results[1].OK() || results[1].ErrorKind != tlsinfo.KindConnectionRefused.String() {
		t.Errorf("expected b.example to fail with connection refused, got %+v", results[1])
	}
	for _, i := range []int{0, 2, 3} {
		if !results[i].OK() {
			t.Errorf("expected result %d to succeed, got %s", i, results[i].Error)
		}
	}

	if results[0].Host != "a.example" || results[0].Port != 443 {
		t.Errorf("expected normalized a.example:443, got %s:%d", results[0].Host, results[0].Port)
	}
	if results[2].Port != 8443 {
		t.Errorf("expected explicit port 8443, got %d", results[2].Port)
	}
	if results[2].Class != validity.ClassCritical || results[2].RemainingDays != 5 {
		t.Errorf("expected (5, CRITICAL), got (%d, %s)", results[2].RemainingDays, results[2].Class)
	}
}

func TestRun_InvalidHostDoesNotStopBatch(t *testing.T) {
	f := newFake()
	r := New(f, Options{}, nil)

	results, err := r.Run(context.Background(), []string{"a.example", "bad.example:99999", "c.example"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[1].ErrorKind != KindInvalidInput {
		t.Errorf("expected invalid input failure, got %+v", results[1])
	}
	if f.count("bad.example") != 0 {
		t.Error("invalid host must not be probed")
	}
	if !results[0].OK() || !results[2].OK() {
		t.Error("neighbours of an invalid host should still succeed")
	}
}

func TestRun_ConcurrentKeepsOrder(t *testing.T) {
	f := newFake()
	f.delay = func(host string) time.Duration {
		// Earlier hosts finish last.
		n, _ := strconv.Atoi(host[1:2])
		return time.Duration(10-n) * 5 * time.Millisecond
	}
	f.fail["h3.example"] = tlsinfo.KindTimeout
	r := New(f, Options{Concurrency: 4}, nil)

	var input []string
	for i := 0; i < 8; i++ {
		input = append(input, fmt.Sprintf("h%d.example", i))
	}

	results, err := r.Run(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(input) {
		t.Fatalf("expected %d results, got %d", len(input), len(results))
	}
	for i, res := range results {
		if res.Input != input[i] {
			t.Errorf("result %d is %s, want %s", i, res.Input, input[i])
		}
		if (i == 3) == res.OK() {
			t.Errorf("unexpected outcome for %s: %+v", res.Input, res)
		}
	}
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	f := &flakyFetcher{failures: 2, kind: tlsinfo.KindTimeout}
	r := New(f, Options{Retries: 3, RetryInterval: time.Millisecond}, nil)

	results, err := r.Run(context.Background(), []string{"flaky.example"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !results[0].OK() {
		t.Fatalf("expected success after retries, got %s", results[0].Error)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRun_NoRetryByDefault(t *testing.T) {
	f := &flakyFetcher{failures: 1, kind: tlsinfo.KindConnectionRefused}
	r := New(f, Options{}, nil)

	results, _ := r.Run(context.Background(), []string{"flaky.example"}, nil)
	if results[0].OK() {
		t.Fatal("expected failure without retries")
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestRun_PermanentFailureNotRetried(t *testing.T) {
	f := &flakyFetcher{failures: 5, kind: tlsinfo.KindHostnameMismatch}
	r := New(f, Options{Retries: 3, RetryInterval: time.Millisecond}, nil)

	results, _ := r.Run(context.Background(), []string{"mismatch.example"}, nil)
	if results[0].ErrorKind != tlsinfo.KindHostnameMismatch.String() {
		t.Errorf("unexpected result %+v", results[0])
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestCheckOne_RateLimitPastDeadlineIsTimeout(t *testing.T) {
	f := newFake()
	r := New(f, Options{RatePerHost: 0.001}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if res := r.CheckOne(ctx, "slow.example"); !res.OK() {
		t.Fatalf("first probe should pass the limiter: %+v", res)
	}
	res := r.CheckOne(ctx, "slow.example:443")
	if res.ErrorKind != tlsinfo.KindTimeout.String() {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, tlsinfo.KindTimeout)
	}
	if ctx.Err() != nil {
		t.Fatal("context should still be live")
	}
	if got := f.count("slow.example"); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
}

func TestCheckOne_RateLimitCanceled(t *testing.T) {
	f := newFake()
	r := New(f, Options{RatePerHost: 0.001}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.CheckOne(ctx, "slow.example")
	cancel()
	if res := r.CheckOne(ctx, "slow.example"); res.ErrorKind != tlsinfo.KindCanceled.String() {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, tlsinfo.KindCanceled)
	}
}

func TestRun_CancelStopsBatch(t *testing.T) {
	f := newFake()
	f.block = "b.example"
	r := New(f, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var emitted []string
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results, err := r.Run(ctx, []string{"a.example", "b.example", "c.example", "d.example"}, func(res types.Result) {
		emitted = append(emitted, res.Input)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation was not prompt")
	}
	if len(results) != 1 || results[0].Input != "a.example" {
		t.Errorf("expected only a.example to be reported, got %+v", results)
	}
	if len(emitted) != 1 {
		t.Errorf("expected one emission, got %v", emitted)
	}
	if f.count("c.example") != 0 || f.count("d.example") != 0 {
		t.Error("hosts after cancellation must not be probed")
	}
}

type flakyFetcher struct {
	calls    atomic.Int32
	failures int32
	kind     tlsinfo.Kind
}

func (f *flakyFetcher) Fetch(ctx context.Context, host string, port int) (*types.CertificateRecord, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, &tlsinfo.ProbeError{Kind: f.kind, Host: host, Port: port, Err: errors.New("flaky")}
	}
	return &types.CertificateRecord{
		Host: host, Port: port, SubjectCommonName: host,
		IssuerOrganization: "Org", IssuerCommonName: "CA",
		NotAfter: time.Now().Add(60 * 24 * time.Hour),
	}, nil
}

func TestRun_EndToEnd(t *testing.T) {
	ca := testcert.NewAuthority(t, pkix.Name{Organization: []string{"E2E Authority"}, CommonName: "E2E CA"})
	cert := ca.Issue(t, testcert.Leaf{
		Subject:  pkix.Name{CommonName: "soon.example"},
		IPs:      []net.IP{net.ParseIP("127.0.0.1")},
		NotAfter: time.Now().Add(5*24*time.Hour + 2*time.Hour),
	})
	live := testcert.Serve(t, cert)
	dead := testcert.ClosedPort(t)

	prober := tlsinfo.New(2*time.Second, 443)
	prober.RootCAs = ca.Pool
	r := New(prober, Options{}, nil)

	input := []string{
		fmt.Sprintf("127.0.0.1:%d", dead),
		fmt.Sprintf("https://127.0.0.1:%d/health", live),
	}
	results, err := r.Run(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ErrorKind != tlsinfo.KindConnectionRefused.String() {
		t.Errorf("expected connection refused for closed port, got %+v", results[0])
	}
	if !results[1].OK() {
		t.Fatalf("expected live endpoint to succeed, got %s", results[1].Error)
	}
	if results[1].Class != validity.ClassCritical || results[1].RemainingDays != 5 {
		t.Errorf("expected (5, CRITICAL), got (%d, %s)", results[1].RemainingDays, results[1].Class)
	}
	if results[1].Cert.IssuerOrganization != "E2E Authority" {
		t.Errorf("unexpected issuer %s", results[1].Cert.IssuerOrganization)
	}
}
