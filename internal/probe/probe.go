package probe

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gustycube/certprobe/internal/hosts"
	"github.com/gustycube/certprobe/internal/metrics"
	"github.com/gustycube/certprobe/internal/rate"
	"github.com/gustycube/certprobe/internal/tlsinfo"
	"github.com/gustycube/certprobe/internal/types"
)

// KindInvalidInput marks hosts that could not be normalized.
const KindInvalidInput = "invalid_input"

// Fetcher retrieves the certificate for one endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, host string, port int) (*types.CertificateRecord, error)
}

type Options struct {
	DefaultPort   int
	Concurrency   int
	Retries       int
	RetryInterval time.Duration
	RatePerHost   float64
}

type Runner struct {
	fetcher Fetcher
	opts    Options
	ratelim *rate.PerHost
	log     *zap.SugaredLogger
	now     func() time.Time
}

func New(f Fetcher, opts Options, log *zap.SugaredLogger) *Runner {
	if opts.DefaultPort <= 0 {
		opts.DefaultPort = tlsinfo.DefaultPort
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{
		fetcher: f, opts: opts, ratelim: rate.New(opts.RatePerHost, 1), log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

type indexed struct {
	idx  int
	res  types.Result
	skip bool
}

// Run probes hosts and hands each result to emit in input order. One bad host
// never stops the batch. When ctx is canceled no further hosts are started and
// Run returns the results emitted so far together with ctx.Err().
func (r *Runner) Run(ctx context.Context, hostList []string, emit func(types.Result)) ([]types.Result, error) {
	results := make([]types.Result, 0, len(hostList))
	if len(hostList) == 0 {
		return results, nil
	}

	tr := otel.Tracer("certprobe/probe")
	ctx, span := tr.Start(ctx, "Run", trace.WithAttributes(attribute.Int("hosts", len(hostList))))
	defer span.End()

	workers := r.opts.Concurrency
	if workers > len(hostList) {
		workers = len(hostList)
	}

	type job struct {
		idx   int
		input string
	}
	jobs := make(chan job)
	done := make(chan indexed, len(hostList))

	go func() {
		defer close(jobs)
		for i, h := range hostList {
			select {
			case jobs <- job{idx: i, input: h}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					done <- indexed{idx: j.idx, skip: true}
					continue
				}
				res := r.CheckOne(ctx, j.input)
				// A probe cut short by cancellation has no outcome to report.
				skip := ctx.Err() != nil && res.ErrorKind == tlsinfo.KindCanceled.String()
				done <- indexed{idx: j.idx, res: res, skip: skip}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	pending := make(map[int]indexed)
	next := 0
	stopped := false
	for it := range done {
		if stopped {
			continue
		}
		pending[it.idx] = it
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if p.skip {
				stopped = true
				break
			}
			next++
			results = append(results, p.res)
			if emit != nil {
				emit(p.res)
			}
		}
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, ctx.Err()
}

// CheckOne normalizes, probes and classifies a single host entry.
func (r *Runner) CheckOne(ctx context.Context, input string) types.Result {
	start := time.Now()
	ep, err := hosts.Normalize(input, r.opts.DefaultPort)
	if err != nil {
		metrics.ProbesTotal.WithLabelValues(KindInvalidInput).Inc()
		r.log.Debugw("invalid host", "input", input, "err", err)
		return types.Failure(input, input, 0, KindInvalidInput, err, r.now())
	}

	tr := otel.Tracer("certprobe/probe")
	ctx, span := tr.Start(ctx, "CheckOne", trace.WithAttributes(attribute.String("endpoint", ep.Address())))
	defer span.End()

	if err := r.ratelim.Wait(ctx, ep.Host); err != nil {
		// Wait also fails early when the next slot lies past the deadline.
		kind := tlsinfo.KindTimeout
		if ctx.Err() != nil {
			kind = tlsinfo.KindCanceled
		}
		pe := &tlsinfo.ProbeError{Kind: kind, Host: ep.Host, Port: ep.Port, Err: err}
		return types.Failure(input, ep.Host, ep.Port, pe.Kind.String(), pe, r.now())
	}

	var rec *types.CertificateRecord
	var lastErr error
	op := func() error {
		rec, lastErr = r.fetcher.Fetch(ctx, ep.Host, ep.Port)
		if lastErr == nil {
			return nil
		}
		if !tlsinfo.KindOf(lastErr).Transient() {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.RetryInterval
	notify := func(err error, wait time.Duration) {
		metrics.RetriesTotal.Inc()
		r.log.Debugw("retrying probe", "endpoint", ep.Address(), "wait", wait, "err", err)
	}
	_ = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.opts.Retries)), ctx), notify)

	elapsed := time.Since(start)
	metrics.ProbeDuration.Observe(elapsed.Seconds())
	if lastErr != nil && ctx.Err() != nil {
		lastErr = &tlsinfo.ProbeError{Kind: tlsinfo.KindCanceled, Host: ep.Host, Port: ep.Port, Err: ctx.Err()}
	}

	if lastErr != nil {
		kind := tlsinfo.KindOf(lastErr)
		metrics.ProbesTotal.WithLabelValues(kind.String()).Inc()
		span.RecordError(lastErr)
		r.log.Debugw("probe failed", "endpoint", ep.Address(), "kind", kind, "err", lastErr)
		res := types.Failure(input, ep.Host, ep.Port, kind.String(), lastErr, r.now())
		res.Duration = elapsed
		return res
	}

	res := types.Success(input, rec, r.now())
	res.Host, res.Port = ep.Host, ep.Port
	res.Duration = elapsed
	metrics.ProbesTotal.WithLabelValues(res.Class.String()).Inc()
	metrics.ObserveCert(ep.Host, ep.Port, res.RemainingDays)
	span.SetAttributes(
		attribute.String("class", res.Class.String()),
		attribute.Int("remaining_days", res.RemainingDays),
	)
	r.log.Debugw("probe ok", "endpoint", ep.Address(), "class", res.Class, "remaining_days", res.RemainingDays)
	return res
}
