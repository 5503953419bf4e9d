// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/internal/config"
)

// Manager owns the connection to an already-running browser exposed over the
// DevTools protocol. It never launches a browser process and never touches
// credentials; the user starts the browser and logs in before a run.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx represents the remote browser connection. All session
	// contexts are derived from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks active sessions for a graceful shutdown.
	wg sync.WaitGroup
}

// Available reports whether something is accepting TCP connections on the
// configured debugging port.
func Available(port int, timeout time.Duration) bool {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// NewManager attaches to the remote browser on cfg.CDPPort.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}

	if !Available(cfg.CDPPort, 3*time.Second) {
		return nil, fmt.Errorf("no debugging endpoint listening on port %d; start the browser with --remote-debugging-port=%d and log in first", cfg.CDPPort, cfg.CDPPort)
	}

	debugURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.CDPPort)
	m.allocatorCtx, m.allocatorCancel = chromedp.NewRemoteAllocator(ctx, debugURL)

	m.logger.Info("Attached to remote browser.",
		zap.Int("cdp_port", cfg.CDPPort),
		zap.String("type", cfg.Type))
	return m, nil
}

// NewSession opens a fresh tab on the remote browser and wraps it in a
// Session. The caller owns the session and must Close it.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.allocatorCtx)

	// Materialize the tab before handing it out. A dead endpoint surfaces
	// here rather than on the first navigation.
	initCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(initCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open a tab on the remote browser: %w", err)
	}

	m.wg.Add(1)
	s := newSession(tabCtx, tabCancel, m.cfg, m.logger, m.wg.Done)
	m.logger.Debug("Opened browser session.", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown waits for active sessions to close and then drops the connection.
// The remote browser itself keeps running; only our tabs and the websocket go
// away.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug("All sessions closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded; dropping connection with sessions still open.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
	return nil
}
