package lifecycle

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/agentforge/platform/pkg/models"
)

// defaultAgentJSON is the named default configuration the startup scan
// seeds when the Store holds zero agents. Bundled here as a Go embed
// rather than a runtime file path so the seed always ships with the
// binary.
//
//go:embed default_agent.json
var defaultAgentJSON []byte

// LoadDefaultSeed parses the bundled default agent configuration. Manager's
// zero value for Config.DefaultSeed resolves to this function.
func LoadDefaultSeed() (*models.AgentConfig, error) {
	cfg := &models.AgentConfig{}
	if err := json.Unmarshal(defaultAgentJSON, cfg); err != nil {
		return nil, fmt.Errorf("parse default agent seed: %w", err)
	}
	return cfg, nil
}
