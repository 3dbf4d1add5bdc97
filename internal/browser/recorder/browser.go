// internal/browser/recorder/browser.go
package recorder

import (
	"context"
	"fmt"
	goruntime "runtime"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/internal/config"
)

// AllocatorOptions assembles Chrome flags from the browser configuration.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
	)
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Containers on Linux need the sandbox relaxed.
	if goruntime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// Session is a launched browser with one instrumented tab.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Open launches Chrome and instruments its first tab with rec. The session ends when
// ctx is canceled or Close is called.
func Open(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig, rec *Recorder) (*Session, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	s := &Session{
		ctx: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}
	if err := rec.Attach(tabCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to start recording session: %w", err)
	}

	// The tab context outlives the browser process; a dropped connection means the
	// user closed the window.
	var lost <-chan struct{}
	if c := chromedp.FromContext(tabCtx); c != nil && c.Browser != nil {
		lost = c.Browser.LostConnection
	}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		select {
		case <-tabCtx.Done():
		case <-lost:
			logger.Debug("Lost connection to the browser.")
		}
	}()
	return s, nil
}

// Navigate loads url in the recorded tab.
func (s *Session) Navigate(url string) error {
	if err := chromedp.Run(s.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Done is closed when the browser tab goes away, including when the user closes it.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close shuts the browser down.
func (s *Session) Close() {
	s.cancel()
}
