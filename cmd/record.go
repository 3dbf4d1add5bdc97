// File: cmd/record.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/recorder"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser/selector"
	"github.com/xkilldash9x/scalpel-recorder/internal/config"
	"github.com/xkilldash9x/scalpel-recorder/internal/recording"
)

func newRecordCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record [url]",
		Short: "Open a browser and record interactions as JSON lines",
		Long: `Launches Chrome, instruments every page it loads and records clicks, typing and
key presses. Each recorded action is written as one JSON message per line once it has
been coalesced and given a set of unique CSS selectors. Stop with Ctrl+C or by closing
the browser; pending actions are flushed before exit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, closeOut, err := openOutput(cmd, a.cfg.Recorder().Output)
			if err != nil {
				return err
			}
			defer closeOut()
			return runRecord(cmd.Context(), a.logger, a.cfg, args[0], out)
		},
	}
	cmd.Flags().Bool("headless", false, "run the browser without a window")
	cmd.Flags().StringP("output", "o", "", "write messages to this file instead of stdout")
	cmd.Flags().String("attr", "", "identity attribute stamped on elements in snapshots")
	cmd.Flags().Bool("paused", false, "start with recording disabled")
	cmd.Flags().Int("max-selectors", 0, "maximum selectors kept per element")
	cmd.Flags().Int("descendant-depth", 0, "how deep descendant containment searches")
	return cmd
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// newEngine builds a selector engine bounded by the selector config section.
func newEngine(logger *zap.Logger, cfg config.SelectorConfig) *selector.Engine {
	return selector.NewEngine(logger,
		selector.WithMaxSelectors(cfg.MaxSelectors),
		selector.WithMaxSimpleSelectors(cfg.MaxSimpleSelectors),
		selector.WithDescendantDepth(cfg.DescendantDepth),
	)
}

// pipeline is the in-process half of a recording session: everything between raw
// browser events and the output stream.
type pipeline struct {
	store     *recording.Store
	coalescer *recording.Coalescer
}

func newPipeline(logger *zap.Logger, cfg config.Interface, opts ...recording.CoalescerOption) *pipeline {
	store := recording.NewStore(logger)
	store.SetRecording(cfg.Recorder().StartRecording)

	pre := recording.NewPreprocessor(logger, newEngine(logger, cfg.Selector()), cfg.Recorder().IdentifierAttribute)
	opts = append([]recording.CoalescerOption{
		recording.WithIdleWindow(cfg.Recorder().DebounceIdle),
		recording.WithMaxWait(cfg.Recorder().DebounceMaxWait),
	}, opts...)
	return &pipeline{
		store:     store,
		coalescer: recording.NewCoalescer(logger, store, store, pre, opts...),
	}
}

// stream writes drained messages to w until ctx ends, then writes whatever is left.
func (p *pipeline) stream(ctx context.Context, w io.Writer) error {
	changes, unsubscribe := p.store.Subscribe()
	defer unsubscribe()

	enc := json.NewEncoder(w)
	drain := func() error {
		for _, msg := range p.store.Drain(0) {
			if err := enc.Encode(msg); err != nil {
				return fmt.Errorf("failed to write message: %w", err)
			}
		}
		return nil
	}

	for {
		if err := drain(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return drain()
		case <-changes:
		}
	}
}

// shutdown processes everything still queued and stops admissions.
func (p *pipeline) shutdown() {
	p.coalescer.Flush()
	p.coalescer.Close()
}

func runRecord(ctx context.Context, logger *zap.Logger, cfg config.Interface, url string, out io.Writer) error {
	p := newPipeline(logger, cfg)
	rec := recorder.New(logger, p.coalescer,
		recorder.WithIdentifierAttribute(cfg.Recorder().IdentifierAttribute),
		recorder.WithGate(p.store),
	)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	session, err := recorder.Open(sessionCtx, logger, cfg.Browser(), rec)
	if err != nil {
		return err
	}
	defer session.Close()

	g, gctx := errgroup.WithContext(sessionCtx)
	streamCtx, stopStream := context.WithCancel(context.Background())
	defer stopStream()

	g.Go(func() error {
		defer stopStream()
		navErr := session.Navigate(url)
		if navErr == nil {
			logger.Info("Recording. Interact with the browser; press Ctrl+C to stop.", zap.String("url", url))
			select {
			case <-gctx.Done():
			case <-session.Done():
				logger.Info("Browser closed.")
			}
		}
		cancel()
		rec.Wait()
		// Anything still queued belongs in the output before the stream stops.
		p.shutdown()
		return navErr
	})
	g.Go(func() error {
		return p.stream(streamCtx, out)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Recording finished.")
	return nil
}
