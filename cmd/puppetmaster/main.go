// Command puppetmaster runs the scheduler core against either a set of
// CSV test files or, with none given, the synthetic default test the
// reference design's main.cpp loads when invoked with no arguments.
//
// The flag/slog/net-http wiring here follows the teacher's server/main.go
// setupLogger and config-loading idiom, generalized from an RPC node to a
// single-process simulation driver.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/puppetmaster/internal/common"
	"github.com/example/puppetmaster/internal/config"
	"github.com/example/puppetmaster/internal/dispatcher"
	"github.com/example/puppetmaster/internal/events"
	"github.com/example/puppetmaster/internal/metrics"
	"github.com/example/puppetmaster/pkg/harness"
)

func main() {
	var csvFiles stringList
	var (
		configPath  = flag.String("config", "", "path to a JSON config overriding the compile-time defaults")
		debug       = flag.Bool("debug", false, "enable debug-level tracing")
		metricsAddr = flag.String("metrics-addr", ":9090", "address to serve /metrics on")
		eventsAddr  = flag.String("events-addr", ":9091", "address to serve the /events websocket on")
		cycleDelay  = flag.Duration("cycle-delay", 0, "sleep between cycles (0 runs free-running as fast as possible)")
	)
	flag.Var(&csvFiles, "csv", "path to a CSV test-input file (repeatable)")
	flag.Parse()

	setupLogger(*debug)

	params := config.Default
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		params = loaded
	}
	if err := params.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	txns, err := loadTransactions([]string(csvFiles), params)
	if err != nil {
		if le, ok := err.(*harness.LoadError); ok {
			fmt.Fprintln(os.Stderr, le.Error())
			os.Exit(int(le.Code))
		}
		slog.Error("failed to load test input", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := events.NewHub(nil)

	logSink := stdoutSink{}
	d := dispatcher.New(params, m, slog.Default(), hub, logSink)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	eventsMux := http.NewServeMux()
	eventsMux.Handle("/events", hub)
	eventsServer := &http.Server{Addr: *eventsAddr, Handler: eventsMux}
	go func() {
		if err := eventsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("events server stopped", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		for _, tr := range txns {
			if err := d.Enqueue(ctx, tr.TID, toObjects(tr)); err != nil {
				slog.Warn("enqueue interrupted", "tid", tr.TID, "error", err)
				return
			}
		}
	}()

	slog.Info("puppetmaster running", "transactions", len(txns), "num_puppets", params.NumPuppets)
	run(ctx, d, *cycleDelay)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = eventsServer.Shutdown(shutdownCtx)
}

// stringList accumulates repeated occurrences of a flag into a slice, the
// idiomatic flag.Value for a repeatable string flag (-csv a.csv -csv b.csv).
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func run(ctx context.Context, d *dispatcher.Dispatcher, delay time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.Tick(ctx)
		if delay > 0 {
			time.Sleep(delay)
		}
	}
}

// loadTransactions parses every CSV file given on the command line, or
// falls back to the synthetic S1-S4 mixed workload when argc<=1, exactly
// as the reference loader's argc<=1 branch does.
func loadTransactions(paths []string, params config.Params) ([]common.InputTransaction, error) {
	if len(paths) == 0 {
		slog.Info("no test files given, generating the default synthetic workload")
		seeds := harness.GenerateMixed(4, params.Pool, params.ObjsPerTr)
		out := make([]common.InputTransaction, len(seeds))
		for i, s := range seeds {
			out[i] = s.ToInputTransaction()
		}
		return out, nil
	}

	var out []common.InputTransaction
	var tid uint64
	for _, path := range paths {
		slog.Info("loading tests from file", "path", path)
		txns, err := harness.LoadCSV(path, tid)
		if err != nil {
			return nil, err
		}
		out = append(out, txns...)
		tid += uint64(len(txns))
	}
	return out, nil
}

func toObjects(tr common.InputTransaction) []common.InputObject {
	out := make([]common.InputObject, 0, len(tr.Reads)+len(tr.Writes))
	for _, a := range tr.Reads {
		out = append(out, common.InputObject{Valid: true, Write: false, Address: a})
	}
	for _, a := range tr.Writes {
		out = append(out, common.InputObject{Valid: true, Write: true, Address: a})
	}
	return out
}

// stdoutSink mirrors original_source/main.cpp's PuppetmasterToHostIndication
// handler: print each Started/Finished notification as it arrives.
type stdoutSink struct{}

func (stdoutSink) Publish(ev common.Event) {
	switch ev.Status {
	case common.Started:
		fmt.Printf("Started %02x at %d\n", ev.TID, ev.Timestamp)
	case common.Finished:
		fmt.Printf("Finished %02x at %d\n", ev.TID, ev.Timestamp)
	case common.Failed:
		fmt.Printf("Failed %02x at %d\n", ev.TID, ev.Timestamp)
	}
}

func setupLogger(debug bool) {
	lvl := slog.LevelInfo
	if debug {
		lvl = slog.LevelDebug
	}
	var w io.Writer = os.Stderr
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
