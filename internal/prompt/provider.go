// Package prompt resolves the vision-judging prompt configuration. Operators
// publish versioned JSON config objects under a prefix in the prompts bucket;
// the newest object wins. When no config can be fetched the pipeline falls
// back to a built-in prompt so photo processing never stalls on a config
// outage.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/halsaram/mission-pipeline/internal/s3util"
)

const (
	// DefaultModelID is used when the config omits model_id.
	DefaultModelID = "gemini-2.5-flash"

	// DefaultConfidenceThreshold is the approval cutoff when the config
	// omits confidence_threshold.
	DefaultConfidenceThreshold = 0.55
)

// Config is the operator-published prompt configuration.
type Config struct {
	ModelID             string   `json:"model_id"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	PromptTemplate      string   `json:"prompt_template"`
	Policy              Policy   `json:"policy"`
	JudgeInstructions   []string `json:"judge_instructions"`
	UserPromptTemplate  string   `json:"user_prompt_template"`

	// ResolvedKey records which S3 object this config came from, or
	// "fallback" for the built-in config.
	ResolvedKey string `json:"-"`
}

// Policy shapes the synthesized prompt when no explicit template is given.
type Policy struct {
	Language string         `json:"language"`
	Schema   map[string]any `json:"schema"`
}

// Normalize fills defaults and synthesizes prompt_template from the policy
// fields when the config does not carry one.
func (c *Config) Normalize() {
	if c.ModelID == "" {
		c.ModelID = DefaultModelID
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.PromptTemplate != "" {
		return
	}

	lang := c.Policy.Language
	if lang == "" {
		lang = "ko"
	}
	userTpl := c.UserPromptTemplate
	if userTpl == "" {
		userTpl = "Step description: {step_text}"
	}
	schemaHint := `{"match": true, "confidence": 0.0, "reasons": "..."}`
	if len(c.Policy.Schema) > 0 {
		if b, err := json.Marshal(c.Policy.Schema); err == nil {
			schemaHint = string(b)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[language] %s\n", lang)
	for _, line := range c.JudgeInstructions {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(userTpl)
	b.WriteString("\n\n[output format]\n")
	b.WriteString("- respond with a single line of JSON (single_line_json)\n")
	fmt.Fprintf(&b, "- schema example: %s\n", schemaHint)
	c.PromptTemplate = b.String()
}

// BuildVisionPrompt renders the final prompt for one step.
func BuildVisionPrompt(cfg *Config, stepText string) string {
	return strings.ReplaceAll(cfg.PromptTemplate, "{step_text}", stepText)
}

// Fallback returns the built-in config used when no published config can be
// fetched.
func Fallback() *Config {
	cfg := &Config{
		ModelID:             DefaultModelID,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		PromptTemplate: "You are judging whether a photo shows the following mission step being performed.\n" +
			"Step description: {step_text}\n\n" +
			"Respond with exactly one line of JSON, no markdown:\n" +
			`{"match": true or false, "confidence": 0.0 to 1.0, "reasons": "short explanation"}` + "\n",
		ResolvedKey: "fallback",
	}
	return cfg
}

// Source fetches raw config bytes plus the key they were resolved from.
type Source func(ctx context.Context) ([]byte, string, error)

// S3Source resolves the newest object under prefix in bucket.
func S3Source(client *s3.Client, bucket, prefix string) Source {
	return func(ctx context.Context) ([]byte, string, error) {
		key, err := s3util.LatestKeyUnderPrefix(ctx, client, bucket, prefix)
		if err != nil {
			return nil, "", err
		}
		data, err := s3util.GetBytes(ctx, client, bucket, key)
		if err != nil {
			return nil, "", err
		}
		return data, key, nil
	}
}

// Provider caches a successfully resolved config for the lifetime of the
// Lambda container. Resolution failures are not cached: the fallback config
// is returned and the next invocation retries the source.
type Provider struct {
	source Source

	mu     sync.Mutex
	cached *Config
}

// NewProvider creates a provider over the given source.
func NewProvider(source Source) *Provider {
	return &Provider{source: source}
}

// Config returns the active prompt configuration. It never returns an error;
// the fallback config covers every failure mode.
func (p *Provider) Config(ctx context.Context) *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil {
		return p.cached
	}

	data, key, err := p.source(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Prompt config unavailable, using built-in fallback")
		return Fallback()
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Prompt config is not valid JSON, using built-in fallback")
		return Fallback()
	}
	cfg.ResolvedKey = key
	cfg.Normalize()
	p.cached = &cfg

	log.Info().
		Str("key", key).
		Str("modelId", cfg.ModelID).
		Float64("confidenceThreshold", cfg.ConfidenceThreshold).
		Msg("Prompt config resolved")
	return p.cached
}
