package gemini

import (
	"google.golang.org/genai"
)

// resolveModel returns the target model name and generation config for a call.
func (c *Client) resolveModel(model string) (string, *genai.GenerateContentConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	target := c.modelName
	if model != "" {
		target = model
	}

	cfg := &genai.GenerateContentConfig{}
	if c.temperature > 0 {
		temp := c.temperature
		cfg.Temperature = &temp
	}
	return target, cfg
}
