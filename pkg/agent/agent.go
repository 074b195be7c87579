// Package agent wires the gamepad core to the platform backend, the config
// watcher and the device catalog, and supervises them.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/padmux/padmux/internal/configsvc"
	"github.com/padmux/padmux/internal/padsvc"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

type Agent struct {
	config Config
	log    *zap.Logger

	db        *badger.DB
	catalog   *catalog
	configSvc *configsvc.Service
	backend   padsvc.Backend
	padSvc    *padsvc.Service
}

func NewAgent(config Config) (*Agent, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	cat := newCatalog(db, time.Now)

	backend, err := newPlatformBackend(logger, config)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("no usable backend: %w", err)
	}

	configSvc := configsvc.New(logger.Named("config"))
	padSvc := padsvc.New(logger.Named("pad"), time.Now,
		padsvc.WithBackend(platformBackendName, backend),
		padsvc.WithQueueCapacity(config.QueueCapacity),
		padsvc.WithGracePeriod(config.GracePeriod),
		padsvc.WithDeadzone(config.Deadzone),
		padsvc.WithHotplugHook(func(pad padsvc.Gamepad) {
			if err := cat.record(pad); err != nil {
				logger.Warn("failed to record device in catalog", zap.Error(err))
			}
		}),
	)

	return &Agent{
		config:    config,
		log:       logger,
		db:        db,
		catalog:   cat,
		configSvc: configSvc,
		backend:   backend,
		padSvc:    padSvc,
	}, nil
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts the agent and blocks until the context is cancelled. Tuning
// changes from the config file are applied while running.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.padSvc.Start(groupCtx)
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case <-a.configSvc.Ready():
		}
		return a.watchTuning(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) watchTuning(ctx context.Context) error {
	if a.config.TuningConfig == "" {
		return nil
	}
	def := padsvc.Tuning{Deadzone: a.config.Deadzone}
	tuning, err := configsvc.Register(a.configSvc, a.config.TuningConfig, def, func(t padsvc.Tuning, err error) {
		if err != nil {
			a.log.Error("failed to reload tuning", zap.Error(err))
			return
		}
		a.padSvc.UpdateTuning(t)
	})
	if err != nil {
		return fmt.Errorf("failed to register tuning config: %w", err)
	}
	a.padSvc.UpdateTuning(tuning)
	return nil
}

func (a *Agent) Close() error {
	var errs error
	if err := a.db.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to close db: %w", err))
	}
	return errs
}

// Pads exposes the gamepad core for embedding and for the CLI.
func (a *Agent) Pads() *padsvc.Service {
	return a.padSvc
}

// Backend exposes the platform backend, for one-shot enumeration.
func (a *Agent) Backend() padsvc.Backend {
	return a.backend
}

// Catalog lists every device the agent has ever seen.
func (a *Agent) Catalog() ([]CatalogEntry, error) {
	return a.catalog.list()
}
