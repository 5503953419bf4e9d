// internal/agent/chatgpt.go
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/config"
)

const chatgptBaseURL = "https://chatgpt.com"

// Agent mode runs code between visible output bursts. The page looks idle
// during those pauses, so completion is not trusted before this much wall
// time has passed.
const (
	chatgptMinElapsedAgentMode = 300 * time.Second
	chatgptMinElapsed          = 15 * time.Second
)

var chatgptSelectors = struct {
	chatInput        string
	sendButton       string
	stopButton       string
	plusMenuButton   string
	fileInput        string
	assistantMessage string
	loginButton      string
	downloadControl  string
}{
	chatInput:        `div.ProseMirror[contenteditable="true"], #prompt-textarea`,
	sendButton:       `button[data-testid="send-button"], button[aria-label="Send prompt"]`,
	stopButton:       `button[data-testid="stop-button"], button[aria-label="Stop streaming"]`,
	plusMenuButton:   `[data-testid="composer-plus-btn"]`,
	fileInput:        `input[type="file"]`,
	assistantMessage: `div[data-message-author-role="assistant"]`,
	loginButton:      `button[data-testid="login-button"]`,
	downloadControl:  `a[download], a[href*="sandbox:"], [aria-label="Download"]`,
}

// Composer execution features Navigate can arm.
const (
	featureAgentMode       = "agent_mode"
	featureCodeInterpreter = "code_interpreter"
)

var chatgptRateLimitFragments = []string{
	"you've reached",
	"too many requests",
	"usage cap",
}

// ChatGPTWebAgent drives the chatgpt.com interface, optionally in agent mode
// where the model gets code execution for spreadsheet work.
type ChatGPTWebAgent struct {
	webAgent
	responses int
	sentAt    time.Time
}

var _ schemas.Agent = (*ChatGPTWebAgent)(nil)

// NewChatGPTWebAgent builds the chatgpt.com variant.
func NewChatGPTWebAgent(cfg config.ProviderConfig, logger *zap.Logger) *ChatGPTWebAgent {
	return &ChatGPTWebAgent{webAgent: newWebAgent(config.ProviderChatGPT, cfg, logger)}
}

func (a *ChatGPTWebAgent) entryURL() string {
	if a.cfg.ProjectID != "" {
		return fmt.Sprintf("%s/g/%s/project", chatgptBaseURL, a.cfg.ProjectID)
	}
	return chatgptBaseURL
}

// Navigate opens the project (or the plain composer) and arms agent mode.
func (a *ChatGPTWebAgent) Navigate(ctx context.Context) error {
	sess, err := a.requireSession()
	if err != nil {
		return err
	}

	url := a.entryURL()
	a.logger.Info("Navigating to conversation entry point.", zap.String("url", url))
	if err := sess.Navigate(ctx, url); err != nil {
		return NewPipelineError(schemas.StatusNavigationFailed, err)
	}

	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return NewPipelineError(schemas.StatusNavigationFailed, ctx.Err())
	}

	a.responses = 0

	switch a.composerFeature() {
	case featureAgentMode:
		a.enableAgentMode(ctx)
	case featureCodeInterpreter:
		a.enableCodeInterpreter(ctx)
	}
	return nil
}

// composerFeature picks which execution feature Navigate arms. Agent mode
// already runs code between output bursts, so it subsumes the interpreter
// toggle.
func (a *ChatGPTWebAgent) composerFeature() string {
	switch {
	case a.cfg.AgentMode:
		return featureAgentMode
	case a.cfg.CodeInterpreter:
		return featureCodeInterpreter
	}
	return ""
}

// enableAgentMode walks the composer plus-menu to the agent-mode radio. Best
// effort: already-enabled and plan-gated states both show up as a missing
// menu item.
func (a *ChatGPTWebAgent) enableAgentMode(ctx context.Context) {
	sess := a.currentSession()
	if sess == nil {
		return
	}

	// The composer shows "Agent, click to remove" once the mode is active.
	if active, err := a.pageContains(ctx, sess, "agent, click to remove"); err == nil && active {
		a.logger.Info("Agent mode already enabled.")
		return
	}

	opened, err := a.clickByText(ctx, sess, chatgptSelectors.plusMenuButton, "")
	if err != nil || !opened {
		a.logger.Debug("Composer menu not available; skipping agent mode.", zap.Error(err))
		return
	}
	a.clickByText(ctx, sess, `div[role="menuitem"]`, "more")
	clicked, err := a.clickByText(ctx, sess, `div[role="menuitemradio"]`, "agent mode")
	if err != nil || !clicked {
		a.logger.Warn("Agent mode toggle not found.", zap.Error(err))
		return
	}
	a.logger.Info("Agent mode enabled.")
}

// enableCodeInterpreter walks the composer plus-menu to the code-interpreter
// item. Best effort for the same reasons as enableAgentMode.
func (a *ChatGPTWebAgent) enableCodeInterpreter(ctx context.Context) {
	sess := a.currentSession()
	if sess == nil {
		return
	}

	opened, err := a.clickByText(ctx, sess, chatgptSelectors.plusMenuButton, "")
	if err != nil || !opened {
		a.logger.Debug("Composer menu not available; skipping code interpreter.", zap.Error(err))
		return
	}
	a.clickByText(ctx, sess, `div[role="menuitem"]`, "more")
	clicked, err := a.clickByText(ctx, sess, `div[role="menuitemcheckbox"], div[role="menuitemradio"]`, "code interpreter")
	if err != nil || !clicked {
		a.logger.Warn("Code interpreter toggle not found.", zap.Error(err))
		return
	}
	a.logger.Info("Code interpreter enabled.")
}

// CheckAuth classifies the current interface state.
func (a *ChatGPTWebAgent) CheckAuth(ctx context.Context) (schemas.AgentState, error) {
	sess, err := a.requireSession()
	if err != nil {
		return schemas.StateUnknown, err
	}

	if limited, err := a.pageContains(ctx, sess, chatgptRateLimitFragments...); err == nil && limited {
		return schemas.StateRateLimited, nil
	}
	if login, err := a.elementExists(ctx, sess, chatgptSelectors.loginButton); err == nil && login {
		return schemas.StateAuthRequired, nil
	}
	if walled, err := a.pageContains(ctx, sess, "log in", "sign up for free"); err == nil && walled {
		if ready, rerr := a.elementExists(ctx, sess, chatgptSelectors.chatInput); rerr == nil && !ready {
			return schemas.StateAuthRequired, nil
		}
	}
	if busy, err := a.elementExists(ctx, sess, chatgptSelectors.stopButton); err == nil && busy {
		return schemas.StateRunning, nil
	}
	ready, err := a.elementExists(ctx, sess, chatgptSelectors.chatInput)
	if err != nil {
		return schemas.StateUnknown, err
	}
	if ready {
		return schemas.StateReady, nil
	}
	return schemas.StateUnknown, nil
}

// UploadFiles attaches starting files through the composer's file input.
func (a *ChatGPTWebAgent) UploadFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	sess, err := a.requireSession()
	if err != nil {
		return err
	}

	a.logger.Info("Uploading starting files.", zap.Int("count", len(paths)))

	// Surface the hidden input by opening the plus menu first.
	a.clickByText(ctx, sess, chatgptSelectors.plusMenuButton, "")
	a.clickByText(ctx, sess, `div[role="menuitem"]`, "add photos & files")

	if err := a.uploadViaInput(ctx, sess, chatgptSelectors.fileInput, paths); err != nil {
		return err
	}

	// Uploads show a progress pill in the composer; give them time to attach.
	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return NewPipelineError(schemas.StatusUploadFailed, ctx.Err())
	}
	return nil
}

// SendPrompt fills the composer and submits.
func (a *ChatGPTWebAgent) SendPrompt(ctx context.Context, prompt string, number int) error {
	sess, err := a.requireSession()
	if err != nil {
		return err
	}

	a.logger.Info("Sending prompt.", zap.Int("number", number), zap.Int("chars", len(prompt)))

	insertJS := fmt.Sprintf(`(function() {
		const input = document.querySelector('div.ProseMirror[contenteditable="true"]')
			|| document.querySelector('#prompt-textarea');
		if (!input) { return false; }
		input.focus();
		if (input.tagName === 'TEXTAREA') {
			input.value = %[1]q;
		} else {
			input.innerText = %[1]q;
		}
		input.dispatchEvent(new InputEvent('input', { bubbles: true }));
		return true;
	})()`, prompt)

	var inserted bool
	err = sess.Run(ctx,
		chromedp.WaitVisible(chatgptSelectors.chatInput, chromedp.ByQuery),
		chromedp.Evaluate(insertJS, &inserted),
	)
	if err != nil {
		return fmt.Errorf("filling prompt composer: %w", err)
	}
	if !inserted {
		return fmt.Errorf("prompt composer not found on page")
	}

	if err := sess.Run(ctx,
		chromedp.WaitEnabled(chatgptSelectors.sendButton, chromedp.ByQuery),
		chromedp.Click(chatgptSelectors.sendButton, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("clicking send: %w", err)
	}

	a.sentAt = time.Now()
	a.record("user", prompt)
	return nil
}

// WaitForCompletion polls until generation settles. In agent mode a minimum
// elapsed window guards against the idle-looking pauses between execution
// steps.
func (a *ChatGPTWebAgent) WaitForCompletion(ctx context.Context, number int) (string, error) {
	sess, err := a.requireSession()
	if err != nil {
		return "", err
	}

	minElapsed := chatgptMinElapsed
	if a.cfg.AgentMode {
		minElapsed = chatgptMinElapsedAgentMode
	}

	wantResponses := a.responses + 1
	err = a.pollUntil(ctx, sess, a.cfg.PollInterval(), func(pctx context.Context) (bool, error) {
		if limited, lerr := a.pageContains(pctx, sess, chatgptRateLimitFragments...); lerr == nil && limited {
			return false, Pipelinef(schemas.StatusRateLimited, "rate limit reached mid-generation")
		}
		if streaming, serr := a.elementExists(pctx, sess, chatgptSelectors.stopButton); serr != nil || streaming {
			return false, serr
		}
		if working, werr := a.pageContains(pctx, sess, "writing code", "analyzing", "answer now"); werr == nil && working {
			return false, nil
		}
		if !a.sentAt.IsZero() && time.Since(a.sentAt) < minElapsed {
			return false, nil
		}
		var n int
		js := fmt.Sprintf(`document.querySelectorAll(%q).length`, chatgptSelectors.assistantMessage)
		if rerr := sess.Run(pctx, chromedp.Evaluate(js, &n)); rerr != nil {
			return false, rerr
		}
		return n >= wantResponses, nil
	})
	if err != nil {
		return "", err
	}

	text, err := a.lastTextOf(ctx, sess, chatgptSelectors.assistantMessage)
	if err != nil {
		return "", fmt.Errorf("extracting response: %w", err)
	}
	a.responses = wantResponses
	a.record("assistant", text)
	a.logger.Info("Prompt completed.", zap.Int("number", number), zap.Int("response_chars", len(text)))
	return text, nil
}

// DownloadArtifacts clicks the download links in the final response one at a
// time and collects the files into dir.
func (a *ChatGPTWebAgent) DownloadArtifacts(ctx context.Context, dir string) ([]string, error) {
	sess, err := a.requireSession()
	if err != nil {
		return nil, err
	}

	controls, files, err := a.downloadEach(ctx, sess, chatgptSelectors.downloadControl, dir)
	if err != nil {
		return nil, err
	}
	if controls == 0 {
		a.logger.Info("No download links found in conversation.")
	}
	return files, nil
}
