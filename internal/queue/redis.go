package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis list of host entries. Leased items move to a
// processing list until they are acknowledged.
type RedisQueue struct {
	cli      *redis.Client
	queueKey string
	procKey  string
	leaseTTL time.Duration
}

type item struct {
	Host    string `json:"host"`
	TS      int64  `json:"ts"`
	Attempt int    `json:"attempt"`
}

func NewRedis(addr, key string, lease time.Duration) (*RedisQueue, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return &RedisQueue{cli: cli, queueKey: key, procKey: key + ":processing", leaseTTL: lease}, nil
}

// Ping checks the connection; used by the health endpoint.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.cli.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error { return q.cli.Close() }

// Lease blocks up to the lease TTL for the next host. An empty host with a nil
// error means the queue stayed empty.
func (q *RedisQueue) Lease(ctx context.Context) (string, func() error, error) {
	res, err := q.cli.BRPopLPush(ctx, q.queueKey, q.procKey, q.leaseTTL).Result()
	if errors.Is(err, redis.Nil) {
		return "", func() error { return nil }, nil
	}
	if err != nil {
		return "", func() error { return err }, err
	}
	return q.decode(ctx, res)
}

func (q *RedisQueue) decode(ctx context.Context, raw string) (string, func() error, error) {
	ack := func() error {
		return q.cli.LRem(ctx, q.procKey, 1, raw).Err()
	}
	var it item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		// Unreadable entries are dropped so they do not wedge the queue.
		_ = ack()
		return "", func() error { return nil }, fmt.Errorf("decode queue item: %w", err)
	}
	return it.Host, ack, nil
}

// Drain takes every host currently queued, oldest first, acknowledging each
// one as it goes. It does not wait for new items.
func (q *RedisQueue) Drain(ctx context.Context) ([]string, error) {
	var hosts []string
	for {
		res, err := q.cli.RPopLPush(ctx, q.queueKey, q.procKey).Result()
		if errors.Is(err, redis.Nil) {
			return hosts, nil
		}
		if err != nil {
			return hosts, err
		}
		host, ack, err := q.decode(ctx, res)
		if err != nil {
			continue
		}
		if err := ack(); err != nil {
			return hosts, err
		}
		hosts = append(hosts, host)
	}
}

// Seed pushes a host into the queue
func (q *RedisQueue) Seed(ctx context.Context, host string) error {
	b, _ := json.Marshal(item{Host: host, TS: time.Now().UTC().Unix(), Attempt: 0})
	return q.cli.LPush(ctx, q.queueKey, string(b)).Err()
}
