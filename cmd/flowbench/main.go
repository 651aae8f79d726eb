// flowbench runs a synthetic workload through an adaptive pipeline and
// prints a performance summary. It exists to observe how batch sizes
// converge under different latency and failure profiles.
//
// Usage:
//
//	flowbench -items 50000 -work 200us -fail-rate 0.02 -metrics :9090
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/flowbatch/flowbatch/pkg/config"
	obsprom "github.com/flowbatch/flowbatch/pkg/observability/prometheus"
	"github.com/flowbatch/flowbatch/pkg/pipeline"
	"github.com/flowbatch/flowbatch/pkg/report"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML or JSON config file")
		items       = flag.Int("items", 10000, "number of synthetic items to process")
		workPerItem = flag.Duration("work", 100*time.Microsecond, "simulated work per item")
		jitter      = flag.Float64("jitter", 0.2, "work jitter fraction (0-1)")
		failRate    = flag.Float64("fail-rate", 0, "probability a batch fails (0-1)")
		metricsAddr = flag.String("metrics", "", "listen address for /metrics (empty disables)")
		trace       = flag.Bool("trace", false, "print spans to stdout")
		stream      = flag.Bool("stream", false, "use the streaming API instead of Run")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadWithEnv(*configPath, "")
	if err != nil {
		logger.Error("config load failed", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if *trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			logger.Error("trace exporter failed", "error", err)
			os.Exit(1)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		defer tp.Shutdown(context.Background())
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", obsprom.Handler())
		go func() {
			logger.Info("serving metrics", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, benchOptions{
		items:       *items,
		workPerItem: *workPerItem,
		jitter:      *jitter,
		failRate:    *failRate,
		stream:      *stream,
	}); err != nil {
		logger.Error("benchmark failed", "error", err)
		os.Exit(1)
	}
}

type benchOptions struct {
	items       int
	workPerItem time.Duration
	jitter      float64
	failRate    float64
	stream      bool
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, opts benchOptions) error {
	p, err := pipeline.New[int, int](cfg,
		pipeline.WithLogger[int, int](logger),
		pipeline.WithObserver[int, int](obsprom.NewCollector(nil)),
	)
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}
	defer p.Shutdown(context.Background(), true)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	worker := func(ctx context.Context, batch []int) (int, error) {
		d := time.Duration(float64(len(batch)) * float64(opts.workPerItem) *
			(1 + opts.jitter*(rng.Float64()*2-1)))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		if opts.failRate > 0 && rng.Float64() < opts.failRate {
			return 0, fmt.Errorf("synthetic failure")
		}
		return len(batch), nil
	}

	items := make([]int, opts.items)
	for i := range items {
		items[i] = i
	}

	logger.Info("starting benchmark",
		"items", opts.items,
		"work_per_item", opts.workPerItem,
		"fail_rate", opts.failRate,
		"initial_batch_size", cfg.InitialBatchSize,
		"streaming", opts.stream)

	start := time.Now()
	var processed int
	if opts.stream {
		src := make(chan int)
		go func() {
			defer close(src)
			for _, v := range items {
				select {
				case src <- v:
				case <-ctx.Done():
					return
				}
			}
		}()
		out, err := p.Stream(ctx, src, worker)
		if err != nil {
			return err
		}
		for r := range out {
			if r.Err == nil {
				processed += r.Value
			}
		}
	} else {
		var lastLogged int
		results, err := p.Run(ctx, items, worker, pipeline.WithProgress(func(done, total int) {
			if done-lastLogged >= total/10 || done == total {
				lastLogged = done
				logger.Info("progress", "processed", done, "total", total)
			}
		}))
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Err == nil {
				processed += r.Value
			}
		}
	}
	elapsed := time.Since(start)

	summary, ok := report.Build(report.Input{
		Records:          p.WindowSnapshot(),
		Counters:         p.Counters(),
		History:          p.History(0, 0),
		CurrentBatchSize: p.CurrentBatchSize(),
		Phase:            p.Phase(),
	})
	if !ok {
		return fmt.Errorf("no batches were processed")
	}

	logger.Info("benchmark finished",
		"processed", processed,
		"wall_time", elapsed.Round(time.Millisecond),
		"overall_throughput", fmt.Sprintf("%.0f items/s", float64(processed)/elapsed.Seconds()))
	fmt.Println(summary)
	return nil
}
