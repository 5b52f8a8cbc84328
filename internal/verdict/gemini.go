package verdict

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/halsaram/mission-pipeline/internal/metrics"
)

// GeminiClient judges photos with the Gemini multimodal API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini API client using the given key.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Judge sends the photo inline with the rendered prompt and parses the
// model's verdict. Transport and API failures are returned as errors; the
// caller decides how a failed call affects the photo's status.
func (g *GeminiClient) Judge(ctx context.Context, modelID, prompt string, image []byte, mediaType string) (Verdict, error) {
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mediaType, Data: image}},
		{Text: prompt},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: 512,
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, modelID, contents, config)
	elapsed := time.Since(start)
	if err != nil {
		return Verdict{}, fmt.Errorf("GenerateContent with model %s: %w", modelID, err)
	}

	raw := resp.Text()
	v := Parse(raw)

	log.Debug().
		Str("modelId", modelID).
		Dur("elapsed", elapsed).
		Bool("match", v.Match).
		Float64("confidence", v.Confidence).
		Msg("Vision verdict received")

	metrics.New(metrics.Namespace).
		Dimension("Operation", "VisionJudge").
		Metric("VerdictLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("ImageBytes", float64(len(image)), metrics.UnitBytes).
		Property("modelId", modelID).
		Flush()

	return v, nil
}
