package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rsclarke/flowtriage/internal/capture"
	"github.com/rsclarke/flowtriage/internal/db"
	"github.com/rsclarke/flowtriage/internal/extract"
	"github.com/rsclarke/flowtriage/internal/inference"
	"github.com/rsclarke/flowtriage/internal/metrics"
	"github.com/rsclarke/flowtriage/internal/model"
	"github.com/rsclarke/flowtriage/internal/notify"
	"github.com/rsclarke/flowtriage/internal/pipeline"
	"github.com/rsclarke/flowtriage/internal/schema"
)

func bindFlag(key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func labelTable() (inference.LabelTable, error) {
	return inference.LabelsFor(cfg.Artifacts.Labels, cfg.Artifacts.LabelNames)
}

func newLoader(labels inference.LabelTable, m *metrics.Metrics) *model.Loader {
	opts := model.DefaultOptions(schema.FeatureWidth(), len(schema.Categorical), labels)
	opts.Components = cfg.Artifacts.Components
	opts.Samples = cfg.Artifacts.Samples
	opts.Seed = cfg.Artifacts.Seed
	opts.Compress = cfg.Artifacts.Compress

	store := model.NewStore(afero.NewOsFs(), cfg.Artifacts.Dir)
	loader := model.NewLoader(store, opts, logger.Named("model"))
	loader.OnSynthesized = m.ArtifactsSynthesized
	return loader
}

// openStore returns nil when history is disabled.
func openStore() (*db.Store, error) {
	if cfg.Database.Driver == "" {
		return nil, nil
	}
	dialect, err := db.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if dialect != db.SQLite && cfg.Database.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	return db.NewStore(conn, dialect), nil
}

// app holds everything a local run needs. close releases the store
// and notifiers.
type app struct {
	orch     *pipeline.Orchestrator
	provider *model.Provider
	loader   *model.Loader
	store    *db.Store
	tshark   *capture.Tshark
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func() error
}

func (r *app) close() {
	for _, c := range r.closers {
		if err := c(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

// buildApp wires the pipeline from cfg. withHistory opens the
// configured database; withNotifiers connects the Kafka publisher.
func buildApp(withHistory, withNotifiers bool) (*app, error) {
	labels, err := labelTable()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rt := &app{registry: reg, metrics: m}

	rt.loader = newLoader(labels, m)
	rt.provider = model.NewProvider(rt.loader)

	fs := afero.NewOsFs()
	rt.tshark = &capture.Tshark{
		Path:   cfg.Capture.Tool,
		Runner: capture.ExecRunner{},
		FS:     fs,
		Grace:  cfg.Capture.Grace,
		Logger: logger.Named("capture"),
	}

	deps := pipeline.Deps{
		Capturer: rt.tshark,
		Extractor: &extract.CICFlowMeter{
			Path:    cfg.Extract.Tool,
			Args:    cfg.Extract.Args,
			Runner:  capture.ExecRunner{},
			Timeout: cfg.Extract.Timeout,
			Logger:  logger.Named("extract"),
		},
		Waiter: &extract.Poller{
			FS:       fs,
			Attempts: cfg.Extract.PollAttempts,
			Interval: cfg.Extract.PollInterval,
		},
		Artifacts: rt.provider,
		Engine:    inference.NewEngine(labels),
		FS:        fs,
		Logger:    logger.Named("pipeline"),
		Metrics:   m,
	}
	if cfg.Capture.ValidateInterface {
		deps.Lister = capture.NetlinkLister{}
	}

	if withHistory {
		store, err := openStore()
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("open history store: %w", err)
		}
		if store != nil {
			rt.store = store
			deps.Store = store
			rt.closers = append(rt.closers, store.Close)
		} else {
			logger.Info("history store disabled")
		}
	}

	if withNotifiers && cfg.Kafka.Enabled {
		k, err := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("kafka"))
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		deps.Notifiers = append(deps.Notifiers, k)
		rt.closers = append(rt.closers, k.Close)
	}

	rt.orch = pipeline.New(deps, pipeline.Config{
		WorkDir:          cfg.Pipeline.WorkDir,
		KeepFiles:        cfg.Pipeline.KeepFiles,
		DefaultInterface: cfg.Capture.DefaultInterface,
		Interfaces:       cfg.Capture.Interfaces,
		MaxDuration:      cfg.Capture.MaxDuration,
		RunTimeout:       cfg.Pipeline.RunTimeout,
	})
	return rt, nil
}
