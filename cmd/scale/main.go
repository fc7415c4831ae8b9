// Command scale runs a concurrent completions benchmark against an
// OpenAI-compatible endpoint: it loads a benchmark config, fetches a
// dataset, fans K dispatcher goroutines out over the rows, and writes
// one line-delimited JSON line per completion event of each completed
// request. Grounded on
// original_source/src/main.cpp's argument handling and wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmbench/scale/internal/applog"
	"github.com/llmbench/scale/internal/config"
	"github.com/llmbench/scale/internal/dataset"
	"github.com/llmbench/scale/internal/driver"
	"github.com/llmbench/scale/internal/framer"
	"github.com/llmbench/scale/internal/grading"
	"github.com/llmbench/scale/internal/metrics"
	"github.com/llmbench/scale/internal/pipeline"
	"github.com/llmbench/scale/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("scale", flag.ContinueOnError)
	baseURL := fs.String("base-url", "https://api.openai.com/v1/completions", "Completions endpoint")
	outfile := fs.String("outfile", "", "Output line-delimited JSON path (required)")
	concurrency := fs.Int("concurrency", 100, "Number of concurrent dispatcher goroutines")
	nSamples := fs.Int("n-samples", 10_000, "Maximum rows to pull from the dataset")
	timeoutSec := fs.Int("timeout", 0, "Per-request timeout in seconds (0 = no timeout)")
	hedgeDelayMs := fs.Int("hedge-delay", 0, "Hedge a request after this many milliseconds (0 disables hedging)")
	workersPerRequest := fs.Int("workers-per-request", 3, "Consumer goroutines per in-flight request")
	logLevel := fs.String("log-level", "info", "debug, info, warn, or error")
	metricsAddr := fs.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: scale [OPTIONS] <config>")
		fs.PrintDefaults()
		return 1
	}
	configPath := fs.Arg(0)

	if *outfile == "" {
		fmt.Fprintln(os.Stderr, "Required arg not set: --outfile")
		return 1
	}

	logger := applog.NewStderr(*logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		return 1
	}

	timeout := time.Duration(*timeoutSec) * time.Second
	hedgeDelay := time.Duration(*hedgeDelayMs) * time.Millisecond
	client, err := transport.New(*baseURL, timeout, hedgeDelay, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to build transport client", "err", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	datasetParams := cfg.DatasetParams()
	if *nSamples > 0 {
		datasetParams.MaxRows = *nSamples
	}
	level.Info(logger).Log("msg", "fetching dataset", "id", datasetParams.ID, "config", datasetParams.Config, "split", datasetParams.Split, "max_rows", datasetParams.MaxRows)

	ds, err := dataset.Fetch(ctx, http.DefaultClient, datasetParams)
	if err != nil {
		level.Error(logger).Log("msg", "failed to fetch dataset", "err", err)
		return 1
	}
	level.Info(logger).Log("msg", "dataset ready", "rows", ds.Size())

	collectors := metrics.NewCollectors()
	var metricsServer *http.Server
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collectors.MustRegister(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if serveErr := metricsServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
				level.Error(logger).Log("msg", "metrics server stopped", "err", serveErr)
			}
		}()
		defer metricsServer.Close()
	}

	classLabel := cfg.ClassLabelSet()
	reqDefaults := cfg.RequestDefaults()

	buildRequest := func(idx int) pipeline.RequestParams {
		row := ds.Row(idx)
		goldenID, _ := row.GoldenLabelID(cfg.GoldenLabel)
		req := reqDefaults
		req.Prompt = cfg.BuildPrompt(row)
		req.GoldenLabel = strconv.Itoa(goldenID)
		return req
	}
	grade := func(req pipeline.RequestParams, responseText string) bool {
		goldenID, _ := strconv.Atoi(req.GoldenLabel)
		return grading.Grade(goldenID, classLabel, responseText)
	}
	extractLogprobs := func(choice framer.Choice) map[string]float64 {
		return grading.ResponseLogprobs(choice, classLabel)
	}

	fm, err := driver.Run(ctx, driver.Config{
		NumRows:           ds.Size(),
		Concurrency:       *concurrency,
		WorkersPerRequest: *workersPerRequest,
		OutFile:           *outfile,
		Transport:         client,
		BuildRequest:      buildRequest,
		Grade:             grade,
		ExtractLogprobs:   extractLogprobs,
		Logger:            logger,
		OnResult:          collectors.Observe,
		OnDropped:         collectors.ObserveDropped,
	})
	if err != nil {
		level.Error(logger).Log("msg", "benchmark run failed", "err", err)
		return 1
	}

	level.Info(logger).Log(
		"msg", "benchmark complete",
		"requests_processed", fm.RequestsProcessed,
		"dropped", fm.DroppedRequests,
		"accuracy", fm.Accuracy,
		"avg_ttft", fm.AvgTTFT,
		"avg_e2e_latency", fm.AvgE2ELatency,
		"req_rate", fm.RequestRate,
		"duration", fm.Duration,
	)
	return 0
}
