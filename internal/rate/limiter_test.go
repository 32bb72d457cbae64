package rate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPerHost_Allow(t *testing.T) {
	limiter := New(10.0, 5) // 10 per second, burst of 5

	for i := 0; i < 5; i++ {
		if !limiter.Allow("host1") {
			t.Errorf("expected Allow to return true for burst request %d", i+1)
		}
	}

	if limiter.Allow("host1") {
		t.Error("expected Allow to return false after burst exhausted")
	}

	// Different host should have its own limit
	if !limiter.Allow("host2") {
		t.Error("expected Allow to return true for different host")
	}
}

func TestPerHost_Wait(t *testing.T) {
	limiter := New(100.0, 1) // 100 per second, burst of 1
	ctx := context.Background()

	start := time.Now()
	if err := limiter.Wait(ctx, "host1"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.Wait(ctx, "host1"); err != nil {
		t.Fatal(err)
	}
	duration := time.Since(start)

	// Second wait should have delayed approximately 10ms (1/100 second)
	if duration < 5*time.Millisecond {
		t.Errorf("expected Wait to delay, got %v", duration)
	}
}

func TestPerHost_WaitCanceled(t *testing.T) {
	limiter := New(0.1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.Wait(ctx, "host1"); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := limiter.Wait(ctx, "host1"); err == nil {
		t.Error("expected Wait to fail on canceled context")
	}
}

func TestPerHost_Disabled(t *testing.T) {
	limiter := New(0, 0)
	if limiter.Enabled() {
		t.Fatal("expected zero rate to disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !limiter.Allow("host1") {
			t.Fatal("disabled limiter must always allow")
		}
	}

	var nilLimiter *PerHost
	if err := nilLimiter.Wait(context.Background(), "host1"); err != nil {
		t.Errorf("nil limiter should not block, got %v", err)
	}
}

func TestPerHost_Concurrent(t *testing.T) {
	limiter := New(1000.0, 10)
	var wg sync.WaitGroup
	allowed := 0
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("concurrent-host") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if allowed == 0 {
		t.Error("expected some requests to be allowed")
	}
	if allowed > 15 { // Some tolerance for timing
		t.Errorf("expected rate limiting to apply, but %d requests were allowed", allowed)
	}
}

func TestPerHost_MultipleHosts(t *testing.T) {
	limiter := New(10.0, 2)
	hosts := []string{"host1", "host2", "host3"}

	for _, host := range hosts {
		allowed := 0
		for i := 0; i < 5; i++ {
			if limiter.Allow(host) {
				allowed++
			}
		}
		if allowed != 2 {
			t.Errorf("expected 2 requests allowed for %s, got %d", host, allowed)
		}
	}
}
