// internal/agent/agent.go
package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/config"
)

// New builds the agent variant for a provider key.
func New(provider string, cfg config.ProviderConfig, logger *zap.Logger) (schemas.Agent, error) {
	switch provider {
	case config.ProviderClaude:
		return NewClaudeWebAgent(cfg, logger), nil
	case config.ProviderChatGPT:
		return NewChatGPTWebAgent(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
