package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ineyio/rewriter"
	"github.com/ineyio/rewriter/meter"
)

type commandContext struct {
	configFlag  string
	envFileFlag string
	logFileFlag string
	verboseFlag bool

	cfg      rewriter.Config
	logger   *slog.Logger
	recorder *meter.Recorder
	store    rewriter.StateStore
	rewriter *rewriter.Rewriter

	closers []io.Closer
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

// init loads the configuration and wires the logger, store, provider and
// Rewriter used by every subcommand.
func (c *commandContext) init(cmd *cobra.Command) error {
	logger, logCloser := newLogger(cmd.ErrOrStderr(), c.logFileFlag, c.verboseFlag)
	c.logger = logger
	if logCloser != nil {
		c.closers = append(c.closers, logCloser)
	}

	cfg, err := loadConfig(cmd, c.configFlag, c.envFileFlag)
	if err != nil {
		return err
	}
	c.cfg = cfg

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, closer, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	c.store = store
	if closer != nil {
		c.closers = append(c.closers, closer)
	}

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}

	c.recorder = &meter.Recorder{}
	r, err := rewriter.New(cfg, provider,
		rewriter.WithStateStore(store),
		rewriter.WithMeter(meter.Multi{meter.NewLogMeter(logger), c.recorder}),
	)
	if err != nil {
		return err
	}
	c.rewriter = r

	logger.Debug("rewriter ready",
		"credentials", len(cfg.Credentials),
		"models", cfg.Models,
		"provider", provider.Name(),
		"store", cfg.Store.Backend,
		"daily_limit", cfg.DailyLimit,
		"minute_limit", cfg.MinuteLimit)
	return nil
}

func (c *commandContext) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
