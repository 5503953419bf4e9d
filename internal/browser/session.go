// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/internal/config"
)

// Session represents one tab on the remote browser. Provider agents issue all
// page interaction through Run; the session tracks downloads and enforces
// close-exactly-once.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	onClose func()

	mu          sync.Mutex
	isClosed    bool
	downloadDir string
	names       map[string]string // download GUID -> suggested filename
	completed   []string          // absolute paths, completion order
	waiters     []chan string
}

func newSession(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg config.BrowserConfig,
	logger *zap.Logger,
	onClose func(),
) *Session {
	sessionID := uuid.New().String()
	return &Session{
		id:       sessionID,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Named("session").With(zap.String("session_id", sessionID)),
		cfg:      cfg,
		onClose: onClose,
		names:   make(map[string]string),
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Run executes chromedp actions, respecting both the session lifetime and the
// caller's context.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL and waits for the document body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// HealthCheck verifies the tab still evaluates JavaScript. It is the cheap
// probe the retry machine uses to choose between retrying in place and
// restarting the whole session.
func (s *Session) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("session %s is closed", s.id)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var ready string
	if err := s.Run(probeCtx, chromedp.Evaluate(`document.readyState`, &ready)); err != nil {
		return fmt.Errorf("session health probe failed: %w", err)
	}
	return nil
}

// ConfigureDownloads points the browser's download machinery at dir and
// starts tracking download lifecycle events for this tab.
func (s *Session) ConfigureDownloads(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving download dir: %w", err)
	}

	s.mu.Lock()
	s.downloadDir = abs
	s.mu.Unlock()

	chromedp.ListenBrowser(s.ctx, s.handleDownloadEvent)

	err = s.Run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(abs).
			WithEventsEnabled(true),
	)
	if err != nil {
		return fmt.Errorf("configuring download behavior: %w", err)
	}

	s.logger.Debug("Download capture configured.", zap.String("dir", abs))
	return nil
}

func (s *Session) handleDownloadEvent(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		s.mu.Lock()
		s.names[e.GUID] = e.SuggestedFilename
		s.mu.Unlock()
		s.logger.Debug("Download started.",
			zap.String("guid", e.GUID),
			zap.String("suggested", e.SuggestedFilename))

	case *browser.EventDownloadProgress:
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			s.mu.Lock()
			// AllowAndName stores the file under its GUID.
			path := filepath.Join(s.downloadDir, e.GUID)
			s.completed = append(s.completed, path)
			waiters := s.waiters
			s.waiters = nil
			s.mu.Unlock()

			s.logger.Debug("Download completed.", zap.String("path", path))
			for _, w := range waiters {
				w <- path
				close(w)
			}

		case browser.DownloadProgressStateCanceled:
			s.mu.Lock()
			delete(s.names, e.GUID)
			s.mu.Unlock()
			s.logger.Warn("Download canceled by browser.", zap.String("guid", e.GUID))
		}
	}
}

// SuggestedFilename returns the browser's filename hint for a stored GUID
// path, if the download was observed starting.
func (s *Session) SuggestedFilename(guidPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[filepath.Base(guidPath)]
}

// ExpectDownload registers for the next completed download, runs trigger if
// one is given, and blocks until the download lands or ctx expires, returning
// the local file path. The waiter is armed before the trigger fires so a fast
// download cannot slip past it.
func (s *Session) ExpectDownload(ctx context.Context, trigger chromedp.Action) (string, error) {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	if trigger != nil {
		if err := s.Run(ctx, trigger); err != nil {
			return "", fmt.Errorf("download trigger failed: %w", err)
		}
	}

	select {
	case path := <-ch:
		return path, nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for download: %w", ctx.Err())
	case <-s.ctx.Done():
		return "", fmt.Errorf("session ended while waiting for download: %w", s.ctx.Err())
	}
}

// CompletedDownloads returns the paths of all downloads finished so far, in
// completion order.
func (s *Session) CompletedDownloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.completed))
	copy(out, s.completed)
	return out
}

// Close tears the tab down. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// CombineContext derives a context that is canceled when either parent is.
// chromedp target information travels on parentCtx.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
