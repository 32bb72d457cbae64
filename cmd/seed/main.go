package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gustycube/certprobe/internal/hosts"
	"github.com/gustycube/certprobe/internal/queue"
)

func main() {
	var file string
	var list string
	var addr string
	var key string
	flag.StringVar(&file, "file", "", "host list file (.json, .yaml, .yml or .xml)")
	flag.StringVar(&list, "hosts", "", "comma-separated hosts")
	flag.StringVar(&addr, "redis", "127.0.0.1:6379", "redis addr")
	flag.StringVar(&key, "key", "certprobe:queue", "redis queue key")
	flag.Parse()
	if file == "" && list == "" {
		fmt.Fprintln(os.Stderr, "missing -file or -hosts")
		os.Exit(2)
	}

	entries := hosts.Parse(list)
	if file != "" {
		fromFile, err := hosts.Load(file)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		entries = append(entries, fromFile...)
	}

	q, err := queue.NewRedis(addr, key, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redis:", err)
		os.Exit(1)
	}
	defer q.Close()

	ctx := context.Background()
	seeded := 0
	for _, h := range entries {
		if _, err := hosts.Normalize(h, 443); err != nil {
			fmt.Fprintln(os.Stderr, "skipping", h+":", err)
			continue
		}
		if err := q.Seed(ctx, h); err != nil {
			fmt.Fprintln(os.Stderr, "seed:", err)
			os.Exit(1)
		}
		seeded++
	}
	fmt.Println("seeded", seeded, "hosts into", key)
}
