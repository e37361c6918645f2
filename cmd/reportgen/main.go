// Command reportgen runs the report generation service: the durable engine,
// the report pipeline, the HTTP API and optionally the Kafka listener and a
// recurring batch schedule.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/andrewwormald/durable"
	"github.com/andrewwormald/durable/adapters/jlog"
	"github.com/andrewwormald/durable/adapters/memarchive"
	"github.com/andrewwormald/durable/adapters/memstore"
	"github.com/andrewwormald/durable/adapters/sqlstore"
	"github.com/andrewwormald/durable/reportgen"
	"github.com/andrewwormald/durable/reportgen/importer"
	"github.com/andrewwormald/durable/reportgen/ingest"
	"github.com/andrewwormald/durable/reportgen/render"
)

var configPath = flag.String("config", "reportgen.toml", "path to the TOML config file")

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx)
	if err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	historyStore, instanceStore, err := buildStores(cfg)
	if err != nil {
		return err
	}

	logger := jlog.New()
	renderer := render.NewPDF()
	archive := memarchive.New()
	acts := reportgen.NewActivities(importer.NewFile(cfg.DataDir), renderer, archive)

	mode := reportgen.ModeSplit
	if cfg.CombinedMode {
		mode = reportgen.ModeCombined
	}

	b := durable.NewBuilder("reportgen")
	reportgen.Register(b, acts, reportgen.Config{
		Mode:        mode,
		Concurrency: cfg.Concurrency,
	})

	var opts []durable.BuildOption
	opts = append(opts, durable.WithLogger(logger))
	if cfg.Debug {
		opts = append(opts, durable.WithDebugMode())
	}
	if cfg.Workers > 0 {
		opts = append(opts, durable.WithWorkerCount(cfg.Workers))
	}
	if cfg.Concurrency > 0 {
		opts = append(opts, durable.WithDefaultConcurrency(cfg.Concurrency))
	}

	engine := b.Build(historyStore, instanceStore, opts...)
	engine.Run(ctx)
	defer engine.Stop()

	err = engine.ResumeAll(ctx)
	if err != nil {
		return err
	}

	if cfg.CronSpec != "" {
		err = engine.Schedule(reportgen.OrchestrationProcessBatch, "cron-batch", cfg.CronSpec,
			durable.WithScheduleInput(cfg.CronSource))
		if err != nil {
			return err
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		listener := ingest.NewListener(engine, logger, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Group)
		go func() {
			err := listener.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, errors.Wrap(err, "kafka listener stopped"))
			}
		}()
	}

	mux := http.NewServeMux()
	ingest.NewServer(engine, renderer, cfg.DataDir).Register(mux)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info(ctx, "reportgen listening", j.KV("addr", cfg.ListenAddr))

	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		// NoReturnErr: Normal shutdown path.
		return nil
	}

	return err
}

func buildStores(cfg Config) (durable.HistoryStore, durable.InstanceStore, error) {
	if cfg.MySQL == "" {
		store := memstore.New()
		return store, store, nil
	}

	db, err := sql.Open("mysql", cfg.MySQL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open mysql")
	}

	err = sqlstore.InitSchema(db, "durable_events", "durable_instances")
	if err != nil {
		return nil, nil, errors.Wrap(err, "init mysql schema")
	}

	store := sqlstore.New(db, db, "durable_events", "durable_instances")
	return store, store, nil
}
