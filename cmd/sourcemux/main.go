package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/connectors/embedded"
	"reduction.dev/sourcemux/connectors/kinesis"
	"reduction.dev/sourcemux/connectors/stdio"
	"reduction.dev/sourcemux/logging"
	"reduction.dev/sourcemux/rundev"
	"reduction.dev/sourcemux/storage/checkpointstore"
	"reduction.dev/sourcemux/storage/locations"
	"reduction.dev/sourcemux/workers/sourcemux"
)

// Flags shared by every command that hosts multiplexers.
var hostFlags = []cli.Flag{
	&cli.IntFlag{
		Name:  "parallelism",
		Value: 2,
		Usage: "number of source instances to run",
	},
	&cli.StringFlag{
		Name:  "checkpoint-dir",
		Usage: "local directory or s3:// URI to store checkpoints in",
	},
	&cli.DurationFlag{
		Name:  "checkpoint-interval",
		Value: 10 * time.Second,
		Usage: "time between checkpoints, 0 disables them",
	},
	&cli.BoolFlag{
		Name:  "restore",
		Usage: "resume from the latest checkpoint in checkpoint-dir",
	},
	&cli.BoolFlag{
		Name:  "shutdown-on-completion",
		Usage: "stop once every partition is read to the end",
	},
	&cli.DurationFlag{
		Name:  "watermark-interval",
		Value: sourcemux.DefaultWatermarkInterval,
		Usage: "time between watermark emissions",
	},
	&cli.StringFlag{
		Name:  "log-level",
		Value: "warn",
		Usage: "one of debug, info, warn or error",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "serve prometheus metrics on this address",
	},
}

func main() {
	app := &cli.App{
		Name:  "sourcemux",
		Usage: "Read checkpointable unbounded sources across parallel instances",
		Commands: []*cli.Command{{
			Name:  "dev",
			Usage: "Read a generated counting source",
			Flags: append([]cli.Flag{
				&cli.IntFlag{
					Name:  "splits",
					Value: 4,
					Usage: "number of partitions to generate",
				},
				&cli.IntFlag{
					Name:  "elements",
					Value: 100,
					Usage: "elements produced by each partition",
				},
			}, hostFlags...),
			Action: func(ctx *cli.Context) error {
				source := embedded.NewSource(embedded.SourceConfig{
					SplitCount:       ctx.Int("splits"),
					ElementsPerSplit: ctx.Int("elements"),
					StartTime:        time.Now(),
				})
				return runHost(ctx, source)
			},
		}, {
			Name:  "kinesis",
			Usage: "Read a Kinesis data stream",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:     "stream-arn",
					Usage:    "the ARN of the stream to read",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "endpoint",
					Usage: "override the Kinesis endpoint, for local emulators",
				},
				&cli.StringFlag{
					Name:  "region",
					Usage: "AWS region of the stream",
				},
				&cli.StringFlag{
					Name:  "profile",
					Usage: "AWS shared config profile",
				},
			}, hostFlags...),
			Action: func(ctx *cli.Context) error {
				source, err := kinesis.NewSource(ctx.Context, kinesis.SourceConfig{
					StreamARN: ctx.String("stream-arn"),
					Client: kinesis.NewClientParams{
						Endpoint: ctx.String("endpoint"),
						Region:   ctx.String("region"),
						Profile:  ctx.String("profile"),
					},
				})
				if err != nil {
					return err
				}
				return runHost(ctx, source)
			},
		}, {
			Name:  "stdio",
			Usage: "Read delimited records from stdin",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:  "delimiter",
					Value: "\n",
					Usage: "separator between records",
				},
			}, hostFlags...),
			Action: func(ctx *cli.Context) error {
				source, err := stdio.NewSource(stdio.SourceConfig{
					Framing: stdio.Framing{Delimiter: []byte(ctx.String("delimiter"))},
				})
				if err != nil {
					return err
				}
				return runHost(ctx, source)
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runHost(ctx *cli.Context, source connectors.UnboundedSource) error {
	level, err := logging.ParseLevel(ctx.String("log-level"))
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	slog.SetDefault(slog.New(logging.NewTextHandler()))

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := ctx.String("metrics-addr"); addr != "" {
		go serveMetrics(runCtx, addr)
	}

	printer := newPrinter(os.Stdout)
	params := rundev.RunParams{
		Source:      source,
		Parallelism: ctx.Int("parallelism"),
		Options: sourcemux.Options{
			ShutdownOnCompletion: ctx.Bool("shutdown-on-completion"),
			WatermarkInterval:    ctx.Duration("watermark-interval"),
		},
		NewOutput:          printer.newOutput,
		CheckpointInterval: ctx.Duration("checkpoint-interval"),
		Restore:            ctx.Bool("restore"),
		StopWhenComplete:   ctx.Bool("shutdown-on-completion"),
	}
	if dir := ctx.String("checkpoint-dir"); dir != "" {
		loc, err := locations.New(runCtx, dir)
		if err != nil {
			return err
		}
		params.Store = checkpointstore.New(checkpointstore.NewParams{Location: loc})
	}

	err = rundev.Run(runCtx, params)
	fmt.Fprintln(os.Stderr, printer.summary(params.Parallelism))
	if err != nil {
		slog.Error("terminated with error", "error", err)
		return err
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/metrics/store", func(w http.ResponseWriter, r *http.Request) {
		vmetrics.WritePrometheus(w, false)
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server stopped", "err", err)
	}
}
