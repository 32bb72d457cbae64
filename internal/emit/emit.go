package emit

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gustycube/certprobe/internal/types"
)

// Emitter posts finished run reports to an ingest endpoint.
type Emitter struct {
	ingest     string
	client     *http.Client
	interval   time.Duration
	maxElapsed time.Duration
}

func NewEmitter(ingest, mtlsCert, mtlsKey string) (*Emitter, error) {
	tr := &http.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}
	if mtlsCert != "" && mtlsKey != "" {
		cert, err := tls.LoadX509KeyPair(mtlsCert, mtlsKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tr.TLSClientConfig.Certificates = []tls.Certificate{cert}
	}
	return &Emitter{
		ingest:     ingest,
		client:     &http.Client{Transport: tr, Timeout: 20 * time.Second},
		interval:   500 * time.Millisecond,
		maxElapsed: 30 * time.Second,
	}, nil
}

// Send posts the report, retrying server errors and transport failures with
// exponential backoff. Client errors (4xx) are not retried.
func (e *Emitter) Send(ctx context.Context, r types.Report, log *zap.SugaredLogger) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(r); err != nil {
		return err
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.ingest, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("bad status: %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("bad status: %d", resp.StatusCode)
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.interval
	bo.MaxElapsedTime = e.maxElapsed
	notify := func(err error, wait time.Duration) {
		log.Warnw("ingest failed, retrying", "err", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return fmt.Errorf("post report to %s: %w", e.ingest, err)
	}
	log.Infow("report ingested", "run", r.Run, "results", len(r.Results))
	return nil
}
