// internal/agent/base.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/browser"
	"github.com/xkilldash9x/autoprompt-cli/internal/config"
)

// webAgent carries the state and plumbing shared by both provider variants:
// the browser attachment, the conversation transcript, and the polling
// helpers. The provider files own selectors and page choreography.
type webAgent struct {
	name   string
	logger *zap.Logger
	cfg    config.ProviderConfig

	mu      sync.Mutex
	manager *browser.Manager
	session *browser.Session
	history []schemas.ConversationMessage
}

func newWebAgent(name string, cfg config.ProviderConfig, logger *zap.Logger) webAgent {
	return webAgent{
		name:   name,
		logger: logger.Named(name),
		cfg:    cfg,
	}
}

func (a *webAgent) Name() string {
	return a.name
}

// Launch attaches to the remote browser and opens a fresh tab. Called once
// per pipeline attempt; Cleanup must run before the next Launch.
func (a *webAgent) Launch(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return Pipelinef(schemas.StatusUnknown, "launch called with a live session")
	}

	mgr, err := browser.NewManager(ctx, a.logger, a.cfg.Browser)
	if err != nil {
		return NewPipelineError(schemas.StatusNavigationFailed, err)
	}

	sess, err := mgr.NewSession(ctx)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mgr.Shutdown(shutdownCtx)
		return NewPipelineError(schemas.StatusNavigationFailed, err)
	}

	downloadDir := a.cfg.Browser.DownloadDir
	if downloadDir == "" {
		downloadDir, err = os.MkdirTemp("", "autoprompt-dl-*")
		if err != nil {
			sess.Close(ctx)
			mgr.Shutdown(ctx)
			return NewPipelineError(schemas.StatusUnknown, fmt.Errorf("creating download dir: %w", err))
		}
	}
	if err := sess.ConfigureDownloads(ctx, downloadDir); err != nil {
		sess.Close(ctx)
		mgr.Shutdown(ctx)
		return NewPipelineError(schemas.StatusNavigationFailed, err)
	}

	a.manager = mgr
	a.session = sess
	a.history = nil
	return nil
}

// HealthCheck probes the current tab.
func (a *webAgent) HealthCheck(ctx context.Context) error {
	sess := a.currentSession()
	if sess == nil {
		return fmt.Errorf("no active session")
	}
	return sess.HealthCheck(ctx)
}

// Cleanup closes the tab and drops the browser attachment. Idempotent and
// safe after a failed Launch.
func (a *webAgent) Cleanup(ctx context.Context) error {
	a.mu.Lock()
	sess, mgr := a.session, a.manager
	a.session, a.manager = nil, nil
	a.mu.Unlock()

	if sess != nil {
		if err := sess.Close(ctx); err != nil {
			a.logger.Warn("Session close failed during cleanup.", zap.Error(err))
		}
	}
	if mgr != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Browser detach failed during cleanup.", zap.Error(err))
		}
	}
	return nil
}

// ConversationHistory returns a copy of the captured transcript.
func (a *webAgent) ConversationHistory() []schemas.ConversationMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]schemas.ConversationMessage, len(a.history))
	copy(out, a.history)
	return out
}

func (a *webAgent) record(role, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, schemas.ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

func (a *webAgent) currentSession() *browser.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// requireSession returns the live session or a classified error for callers
// on the pipeline path.
func (a *webAgent) requireSession() (*browser.Session, error) {
	sess := a.currentSession()
	if sess == nil {
		return nil, Pipelinef(schemas.StatusNavigationFailed, "no active session; launch first")
	}
	return sess, nil
}

// pollUntil runs probe every interval until it reports done or ctx expires.
// An unclassified probe error is logged and treated as "not done yet"; pages
// mid-rerender throw constantly and that is not a failure. A classified
// failure is a verdict and returns immediately so the caller can escalate.
func (a *webAgent) pollUntil(ctx context.Context, sess *browser.Session, interval time.Duration, probe func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := probe(ctx)
		if err != nil {
			var pe *PipelineError
			if errors.As(err, &pe) {
				return err
			}
			a.logger.Debug("Completion probe errored; retrying.", zap.Error(err))
		} else if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", errTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// elementExists reports whether sel matches anything on the page right now.
func (a *webAgent) elementExists(ctx context.Context, sess *browser.Session, sel string) (bool, error) {
	var n int
	js := fmt.Sprintf(`document.querySelectorAll(%q).length`, sel)
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sess.Run(probeCtx, chromedp.Evaluate(js, &n)); err != nil {
		return false, err
	}
	return n > 0, nil
}

// pageContains reports whether the visible body text contains any of the
// given fragments, case-insensitively.
func (a *webAgent) pageContains(ctx context.Context, sess *browser.Session, fragments ...string) (bool, error) {
	var body string
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sess.Run(probeCtx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &body)); err != nil {
		return false, err
	}
	body = strings.ToLower(body)
	for _, f := range fragments {
		if strings.Contains(body, strings.ToLower(f)) {
			return true, nil
		}
	}
	return false, nil
}

// clickByText clicks the first element matching sel whose visible text
// contains text (case-insensitive). Reports whether anything was clicked.
func (a *webAgent) clickByText(ctx context.Context, sess *browser.Session, sel, text string) (bool, error) {
	var clicked bool
	js := fmt.Sprintf(`(function() {
		const want = %q.toLowerCase();
		for (const n of document.querySelectorAll(%q)) {
			if ((n.innerText || n.getAttribute('aria-label') || '').toLowerCase().includes(want)) {
				n.click();
				return true;
			}
		}
		return false;
	})()`, text, sel)
	clickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sess.Run(clickCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

// lastTextOf returns the innerText of the last element matching sel.
func (a *webAgent) lastTextOf(ctx context.Context, sess *browser.Session, sel string) (string, error) {
	var text string
	js := fmt.Sprintf(`(function() {
		const nodes = document.querySelectorAll(%q);
		if (nodes.length === 0) { return ""; }
		return nodes[nodes.length - 1].innerText;
	})()`, sel)
	if err := sess.Run(ctx, chromedp.Evaluate(js, &text)); err != nil {
		return "", err
	}
	return text, nil
}

// uploadViaInput attaches local files through a hidden file input.
func (a *webAgent) uploadViaInput(ctx context.Context, sess *browser.Session, inputSel string, paths []string) error {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		ap, err := filepath.Abs(p)
		if err != nil {
			return NewPipelineError(schemas.StatusUploadFailed, fmt.Errorf("resolving %s: %w", p, err))
		}
		if _, err := os.Stat(ap); err != nil {
			return NewPipelineError(schemas.StatusUploadFailed, fmt.Errorf("starting file missing: %w", err))
		}
		abs = append(abs, ap)
	}

	err := sess.Run(ctx,
		chromedp.WaitReady(inputSel, chromedp.ByQuery),
		chromedp.SetUploadFiles(inputSel, abs, chromedp.ByQuery),
	)
	if err != nil {
		return NewPipelineError(schemas.StatusUploadFailed, err)
	}
	return nil
}

// downloadWait bounds how long a single clicked control may take to produce
// its file before the harvest moves on.
const downloadWait = 60 * time.Second

// downloadEach clicks the controls matching sel one at a time, waiting for
// each download to land before the next click. A control that produces no
// file within downloadWait is logged and skipped so decorative links cannot
// stall the harvest. Returns the control count alongside the collected files.
func (a *webAgent) downloadEach(ctx context.Context, sess *browser.Session, sel, dir string) (int, []string, error) {
	var count int
	countJS := fmt.Sprintf(`document.querySelectorAll(%q).length`, sel)
	if err := sess.Run(ctx, chromedp.Evaluate(countJS, &count)); err != nil {
		return 0, nil, fmt.Errorf("enumerating download controls: %w", err)
	}
	if count == 0 {
		return 0, nil, nil
	}

	for i := 0; i < count; i++ {
		clickJS := fmt.Sprintf(`(function() {
			const els = document.querySelectorAll(%q);
			if (els.length <= %d) { return false; }
			els[%d].click();
			return true;
		})()`, sel, i, i)
		var clicked bool
		dctx, cancel := context.WithTimeout(ctx, downloadWait)
		path, err := sess.ExpectDownload(dctx, chromedp.Evaluate(clickJS, &clicked))
		cancel()
		if err != nil {
			a.logger.Warn("Download control produced no file.",
				zap.Int("control", i),
				zap.Error(err))
			continue
		}
		a.logger.Debug("Download landed.", zap.String("path", path))
	}

	files, err := a.collectDownloads(ctx, sess, dir)
	return count, files, err
}

// collectDownloads copies every finished download into dir under its
// browser-suggested name, falling back to the raw GUID name.
func (a *webAgent) collectDownloads(ctx context.Context, sess *browser.Session, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}

	var out []string
	for _, src := range sess.CompletedDownloads() {
		name := sess.SuggestedFilename(src)
		if name == "" {
			name = filepath.Base(src)
		}
		dst := filepath.Join(dir, name)
		if err := copyFile(src, dst); err != nil {
			return out, fmt.Errorf("collecting download %s: %w", name, err)
		}
		out = append(out, dst)
	}
	return out, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
