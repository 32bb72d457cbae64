package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gustycube/certprobe/internal/config"
	"github.com/gustycube/certprobe/internal/emit"
	"github.com/gustycube/certprobe/internal/health"
	"github.com/gustycube/certprobe/internal/hosts"
	"github.com/gustycube/certprobe/internal/logging"
	"github.com/gustycube/certprobe/internal/metrics"
	"github.com/gustycube/certprobe/internal/output"
	"github.com/gustycube/certprobe/internal/probe"
	"github.com/gustycube/certprobe/internal/prompt"
	"github.com/gustycube/certprobe/internal/queue"
	"github.com/gustycube/certprobe/internal/telemetry"
	"github.com/gustycube/certprobe/internal/tlsinfo"
	"github.com/gustycube/certprobe/internal/types"
	"github.com/gustycube/certprobe/internal/ui"
	"github.com/gustycube/certprobe/internal/validity"
)

const version = "1.0.0"

const (
	exitOK          = 0
	exitUnhealthy   = 1
	exitInput       = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	var configFile string
	var hostList string
	var hostFile string
	var save bool
	var queueAddr, queueKey string
	var timeout time.Duration
	var port int
	var concurrency int
	var retries int
	var ratePerHost float64
	var outputFormat string
	var noColor bool
	var ingest string
	var mtlsCert, mtlsKey string
	var metricsAddr string
	var otelEndpoint string
	var otelInsecure bool
	var otelService string
	var progress bool
	var verbose bool
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&hostList, "hosts", "", "comma-separated hosts, host:port pairs or URLs")
	flag.StringVar(&hostFile, "file", "", "host list file (.json, .yaml, .yml or .xml)")
	flag.BoolVar(&save, "save", false, "save the host list as JSON under saves/hosts")
	flag.StringVar(&queueAddr, "queue_addr", "", "drain hosts from this Redis queue")
	flag.StringVar(&queueKey, "queue_key", "", "Redis queue key")
	flag.DurationVar(&timeout, "timeout", 0, "connect and handshake timeout per host (default 3s)")
	flag.IntVar(&port, "port", 0, "port used when a host does not name one (default 443)")
	flag.IntVar(&concurrency, "concurrency", 0, "hosts probed in parallel (default 1)")
	flag.IntVar(&retries, "retries", 0, "retries for timeouts and refused connections")
	flag.Float64Var(&ratePerHost, "rate_per_host", 0, "max probes per second to the same host (0 = unlimited)")
	flag.StringVar(&outputFormat, "output_format", "", "output format (panel, json, jsonl, csv)")
	flag.BoolVar(&noColor, "no_color", false, "disable colored panels")
	flag.StringVar(&ingest, "ingest", "", "POST the run report to this endpoint")
	flag.StringVar(&mtlsCert, "mtls_cert", "", "client cert (PEM) for mTLS to ingest")
	flag.StringVar(&mtlsKey, "mtls_key", "", "client key (PEM) for mTLS to ingest")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics and health listen addr (empty to disable)")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.BoolVar(&progress, "progress", false, "show a progress line on stderr")
	flag.BoolVar(&verbose, "verbose", false, "verbose logging")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "certprobe checks when the TLS certificates of your hosts expire\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -hosts=example.com,example.org:8443\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -file=hosts.yaml -output_format=csv > expiry.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s                      (interactive)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  REDIS_QUEUE_ADDR Redis server holding a host queue\n")
		fmt.Fprintf(os.Stderr, "  REDIS_QUEUE_KEY  Redis queue key\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL        Log level (debug, info, warn, error)\n")
		fmt.Fprintf(os.Stderr, "\nExit status: 0 all certificates valid, 1 a host failed or expired, 2 bad input, 130 interrupted\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("certprobe v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		return exitOK
	}

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "An error occurred:", err)
			return exitInput
		}
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	cfg.LoadFromEnv()

	// Only flags given on the command line override the file and environment.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	flags := make(map[string]interface{})
	values := map[string]interface{}{
		"hosts": hostList, "file": hostFile, "save": save,
		"queue_addr": queueAddr, "queue_key": queueKey,
		"timeout": timeout, "port": port, "concurrency": concurrency,
		"retries": retries, "rate_per_host": ratePerHost,
		"output_format": outputFormat, "no_color": noColor, "progress": progress, "verbose": verbose,
		"ingest": ingest, "mtls_cert": mtlsCert, "mtls_key": mtlsKey,
		"metrics_addr": metricsAddr, "otel_endpoint": otelEndpoint,
		"otel_insecure": otelInsecure, "otel_service": otelService,
	}
	for name, v := range values {
		if set[name] {
			flags[name] = v
		}
	}
	cfg.MergeWithFlags(flags)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "An error occurred: invalid configuration:", err)
		return exitInput
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, version, cfg.OTELInsecure)
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("run", cfg.Run)
	healthHandler.SetMetadata("version", version)
	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	list, err := collectHosts(ctx, cfg, healthHandler, log)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("Exiting...")
			return exitInterrupted
		}
		fmt.Fprintln(os.Stderr, "An error occurred:", err)
		return exitInput
	}
	if len(list) == 0 {
		fmt.Println("No hosts found.")
		return exitOK
	}

	color := !cfg.NoColor && ui.IsTerminal(os.Stdout)
	w, err := output.NewStdoutWriter(cfg.OutputFormat, color)
	if err != nil {
		fmt.Fprintln(os.Stderr, "An error occurred:", err)
		return exitInput
	}

	il := ui.NewInteractiveLogger(log, cfg.Progress)
	il.SetTotal(len(list))
	runCheck := health.NewRunChecker(len(list))
	healthHandler.RegisterChecker("run", runCheck)
	healthHandler.SetReady(true)

	prober := tlsinfo.New(time.Duration(cfg.Timeout), cfg.DefaultPort)
	runner := probe.New(prober, probe.Options{
		DefaultPort: cfg.DefaultPort,
		Concurrency: cfg.Concurrency,
		Retries:     cfg.Retries,
		RatePerHost: cfg.RatePerHost,
	}, log)

	log.Infow("starting certprobe",
		"run", cfg.Run,
		"hosts", len(list),
		"concurrency", cfg.Concurrency,
		"timeout", time.Duration(cfg.Timeout),
		"config_file", configFile,
	)

	started := time.Now().UTC()
	results, err := runner.Run(ctx, list, func(res types.Result) {
		il.Clear()
		if werr := w.WriteResult(res); werr != nil {
			il.LogWarn("write result", "host", res.Host, "err", werr)
		}
		il.Observe(res)
		runCheck.Observe(!res.OK(), res.Class == validity.ClassExpired)
	})
	_ = w.Flush()
	if errors.Is(err, context.Canceled) {
		il.Clear()
		fmt.Println("Exiting...")
		return exitInterrupted
	}
	il.Finish()

	if cfg.Ingest != "" {
		report := types.Report{
			Run:       cfg.Run,
			StartedAt: started,
			Finished:  time.Now().UTC(),
			Results:   results,
			Counts:    types.Tally(results),
		}
		if err := sendReport(ctx, cfg, report, log); err != nil {
			log.Warnw("report not delivered", "ingest", cfg.Ingest, "err", err)
		}
	}

	if cfg.OutputFormat == "panel" {
		fmt.Println("Program finished.")
	}
	if !types.Healthy(results) {
		return exitUnhealthy
	}
	return exitOK
}

// collectHosts gathers entries from -hosts, -file and the Redis queue in that
// order, falling back to the interactive prompt when none is configured.
func collectHosts(ctx context.Context, cfg *config.Config, hh *health.Handler, log *logging.Logger) ([]string, error) {
	var list []string
	if cfg.Hosts != "" {
		list = append(list, hosts.Parse(cfg.Hosts)...)
	}
	if cfg.File != "" {
		fromFile, err := hosts.Load(cfg.File)
		if err != nil {
			return nil, err
		}
		list = append(list, fromFile...)
	}
	if cfg.RedisQueueAddr != "" {
		q, err := queue.NewRedis(cfg.RedisQueueAddr, cfg.RedisQueueKey, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("%w: redis queue: %v", hosts.ErrInput, err)
		}
		defer q.Close()
		hh.RegisterChecker("redis", health.NewRedisChecker(cfg.RedisQueueAddr, q.Ping))
		queued, err := q.Drain(ctx)
		if err != nil {
			return nil, fmt.Errorf("drain redis queue: %w", err)
		}
		log.Infow("drained redis queue", "addr", cfg.RedisQueueAddr, "key", cfg.RedisQueueKey, "hosts", len(queued))
		list = append(list, queued...)
	}

	if cfg.Hosts != "" || cfg.File != "" || cfg.RedisQueueAddr != "" {
		if cfg.Save && len(list) > 0 {
			path := hosts.TimestampPath(cfg.SaveDir, time.Now())
			if err := hosts.Save(path, list); err != nil {
				return nil, err
			}
			log.Infow("saved host list", "path", path)
		}
		return list, nil
	}

	return interactive(ctx, cfg, log)
}

// interactive runs the prompt on stdin. Reading stdin cannot be interrupted,
// so the prompt runs on its own goroutine and an interrupt abandons it.
func interactive(ctx context.Context, cfg *config.Config, log *logging.Logger) ([]string, error) {
	type answer struct {
		sel prompt.Selection
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		p := prompt.New(os.Stdin, os.Stdout)
		p.SaveDir = cfg.SaveDir
		sel, err := p.Run()
		ch <- answer{sel, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Println()
		return nil, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return nil, a.err
		}
		if a.sel.SavedTo != "" {
			log.Infow("saved host list", "path", a.sel.SavedTo)
		}
		return a.sel.Hosts, nil
	}
}

func sendReport(ctx context.Context, cfg *config.Config, report types.Report, log *logging.Logger) error {
	e, err := emit.NewEmitter(cfg.Ingest, cfg.MTLSCert, cfg.MTLSKey)
	if err != nil {
		return err
	}
	return e.Send(ctx, report, log)
}
