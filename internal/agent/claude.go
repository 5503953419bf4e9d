// internal/agent/claude.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/config"
)

const (
	claudeBaseURL    = "https://claude.ai"
	claudeNewChatURL = "https://claude.ai/new"
)

// Selector set for the claude.ai interface. These track the live UI and are
// the first thing to check when a run starts failing at the prompt step.
var claudeSelectors = struct {
	chatInput        string
	sendButton       string
	stopButton       string
	streamingMessage string
	responseContent  string
	fileInput        string
	loginLink        string
	emailInput       string
	thinkingToggle   string
	menuToggle       string
	downloadControl  string
}{
	chatInput:        `div[contenteditable="true"][data-placeholder], fieldset div[contenteditable="true"]`,
	sendButton:       `button[aria-label="Send message"]`,
	stopButton:       `button[aria-label="Stop response"]`,
	streamingMessage: `div[data-is-streaming="true"]`,
	responseContent:  `[class*="prose"]`,
	fileInput:        `input[type="file"]`,
	loginLink:        `a[href*="login"]`,
	emailInput:       `input[type="email"]`,
	thinkingToggle:   `button[aria-label="Extended thinking"]`,
	menuToggle:       `button[aria-label="Toggle menu"]`,
	downloadControl:  `[aria-label="Download"], a[download]`,
}

var claudeRateLimitFragments = []string{
	"you've reached",
	"usage limit",
	"out of free messages",
}

// ClaudeWebAgent drives the claude.ai chat interface.
type ClaudeWebAgent struct {
	webAgent
	responses int
}

var _ schemas.Agent = (*ClaudeWebAgent)(nil)

// NewClaudeWebAgent builds the claude.ai variant.
func NewClaudeWebAgent(cfg config.ProviderConfig, logger *zap.Logger) *ClaudeWebAgent {
	return &ClaudeWebAgent{webAgent: newWebAgent(config.ProviderClaude, cfg, logger)}
}

// Navigate opens a new conversation, either inside the configured project or
// at the generic new-chat entry point, then arms the feature toggles.
func (a *ClaudeWebAgent) Navigate(ctx context.Context) error {
	sess, err := a.requireSession()
	if err != nil {
		return err
	}

	url := claudeNewChatURL
	if id := a.projectID(); id != "" {
		url = fmt.Sprintf("%s/project/%s", claudeBaseURL, id)
	}

	a.logger.Info("Navigating to conversation entry point.", zap.String("url", url))
	if err := sess.Navigate(ctx, url); err != nil {
		return NewPipelineError(schemas.StatusNavigationFailed, err)
	}

	// Let the SPA finish its initial render before poking at it.
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return NewPipelineError(schemas.StatusNavigationFailed, ctx.Err())
	}

	a.responses = 0

	if a.cfg.ExtendedThinking {
		a.enableExtendedThinking(ctx)
	}
	if a.cfg.WebSearch {
		a.enableWebSearch(ctx)
	}
	return nil
}

// projectID extracts the project identifier, accepting either a bare ID or a
// full project URL in the config.
func (a *ClaudeWebAgent) projectID() string {
	id := a.cfg.ProjectID
	if strings.Contains(id, "/project/") {
		id = strings.SplitN(id[strings.Index(id, "/project/")+len("/project/"):], "/", 2)[0]
		id = strings.SplitN(id, "?", 2)[0]
	}
	return id
}

// enableExtendedThinking flips the extended-thinking toggle. Best effort: the
// toggle is absent on some plans and that is not a failure.
func (a *ClaudeWebAgent) enableExtendedThinking(ctx context.Context) {
	sess := a.currentSession()
	if sess == nil {
		return
	}
	clicked, err := a.clickByText(ctx, sess, claudeSelectors.thinkingToggle, "extended thinking")
	if err != nil {
		a.logger.Debug("Extended thinking toggle probe failed.", zap.Error(err))
		return
	}
	if clicked {
		a.logger.Info("Extended thinking enabled.")
	}
}

// enableWebSearch opens the tools menu and checks the web-search item.
func (a *ClaudeWebAgent) enableWebSearch(ctx context.Context) {
	sess := a.currentSession()
	if sess == nil {
		return
	}
	opened, err := a.clickByText(ctx, sess, claudeSelectors.menuToggle, "toggle menu")
	if err != nil || !opened {
		a.logger.Debug("Tools menu not available; skipping web search toggle.", zap.Error(err))
		return
	}
	clicked, err := a.clickByText(ctx, sess, `div[role="menuitemcheckbox"]`, "web search")
	if err != nil {
		a.logger.Debug("Web search toggle probe failed.", zap.Error(err))
		return
	}
	if clicked {
		a.logger.Info("Web search enabled.")
	}
	// Close the menu again so it does not cover the composer.
	a.clickByText(ctx, sess, claudeSelectors.menuToggle, "toggle menu")
}

// CheckAuth inspects the page and classifies the interface state. Login is
// always manual; an auth wall here is terminal for the task.
func (a *ClaudeWebAgent) CheckAuth(ctx context.Context) (schemas.AgentState, error) {
	sess, err := a.requireSession()
	if err != nil {
		return schemas.StateUnknown, err
	}

	if limited, err := a.pageContains(ctx, sess, claudeRateLimitFragments...); err == nil && limited {
		return schemas.StateRateLimited, nil
	}
	if login, err := a.elementExists(ctx, sess, claudeSelectors.loginLink); err == nil && login {
		return schemas.StateAuthRequired, nil
	}
	if email, err := a.elementExists(ctx, sess, claudeSelectors.emailInput); err == nil && email {
		return schemas.StateAuthRequired, nil
	}
	if busy, err := a.elementExists(ctx, sess, claudeSelectors.stopButton); err == nil && busy {
		return schemas.StateRunning, nil
	}
	ready, err := a.elementExists(ctx, sess, claudeSelectors.chatInput)
	if err != nil {
		return schemas.StateUnknown, err
	}
	if ready {
		return schemas.StateReady, nil
	}
	return schemas.StateUnknown, nil
}

// UploadFiles attaches the task's starting files to the composer.
func (a *ClaudeWebAgent) UploadFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	sess, err := a.requireSession()
	if err != nil {
		return err
	}
	a.logger.Info("Uploading starting files.", zap.Int("count", len(paths)))
	if err := a.uploadViaInput(ctx, sess, claudeSelectors.fileInput, paths); err != nil {
		return err
	}
	// Give the composer a moment to process attachments before sending.
	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return NewPipelineError(schemas.StatusUploadFailed, ctx.Err())
	}
	return nil
}

// SendPrompt types one prompt into the composer and submits it.
func (a *ClaudeWebAgent) SendPrompt(ctx context.Context, prompt string, number int) error {
	sess, err := a.requireSession()
	if err != nil {
		return err
	}

	a.logger.Info("Sending prompt.", zap.Int("number", number), zap.Int("chars", len(prompt)))

	insertJS := fmt.Sprintf(`(function() {
		const input = document.querySelector('div[contenteditable="true"][data-placeholder]')
			|| document.querySelector('fieldset div[contenteditable="true"]');
		if (!input) { return false; }
		input.focus();
		input.innerText = %q;
		input.dispatchEvent(new InputEvent('input', { bubbles: true }));
		return true;
	})()`, prompt)

	var inserted bool
	err = sess.Run(ctx,
		chromedp.WaitVisible(claudeSelectors.chatInput, chromedp.ByQuery),
		chromedp.Evaluate(insertJS, &inserted),
	)
	if err != nil {
		return fmt.Errorf("filling prompt composer: %w", err)
	}
	if !inserted {
		return fmt.Errorf("prompt composer not found on page")
	}

	if err := sess.Run(ctx,
		chromedp.WaitEnabled(claudeSelectors.sendButton, chromedp.ByQuery),
		chromedp.Click(claudeSelectors.sendButton, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("clicking send: %w", err)
	}

	a.record("user", prompt)
	return nil
}

// WaitForCompletion polls until generation settles and returns the last
// response text. The caller bounds the wait through ctx.
func (a *ClaudeWebAgent) WaitForCompletion(ctx context.Context, number int) (string, error) {
	sess, err := a.requireSession()
	if err != nil {
		return "", err
	}

	wantResponses := a.responses + 1
	err = a.pollUntil(ctx, sess, a.cfg.PollInterval(), func(pctx context.Context) (bool, error) {
		if limited, lerr := a.pageContains(pctx, sess, claudeRateLimitFragments...); lerr == nil && limited {
			return false, Pipelinef(schemas.StatusRateLimited, "rate limit reached mid-generation")
		}
		if streaming, serr := a.elementExists(pctx, sess, claudeSelectors.stopButton); serr != nil || streaming {
			return false, serr
		}
		if streaming, serr := a.elementExists(pctx, sess, claudeSelectors.streamingMessage); serr != nil || streaming {
			return false, serr
		}
		var n int
		js := fmt.Sprintf(`document.querySelectorAll(%q).length`, claudeSelectors.responseContent)
		if rerr := sess.Run(pctx, chromedp.Evaluate(js, &n)); rerr != nil {
			return false, rerr
		}
		return n >= wantResponses, nil
	})
	if err != nil {
		return "", err
	}

	text, err := a.lastTextOf(ctx, sess, claudeSelectors.responseContent)
	if err != nil {
		return "", fmt.Errorf("extracting response: %w", err)
	}
	a.responses = wantResponses
	a.record("assistant", text)
	a.logger.Info("Prompt completed.", zap.Int("number", number), zap.Int("response_chars", len(text)))
	return text, nil
}

// DownloadArtifacts clicks every download control in the conversation one at
// a time and gathers the resulting files into dir.
func (a *ClaudeWebAgent) DownloadArtifacts(ctx context.Context, dir string) ([]string, error) {
	sess, err := a.requireSession()
	if err != nil {
		return nil, err
	}

	controls, files, err := a.downloadEach(ctx, sess, claudeSelectors.downloadControl, dir)
	if err != nil {
		return nil, err
	}
	if controls == 0 {
		a.logger.Info("No download controls found in conversation.")
	}
	return files, nil
}
