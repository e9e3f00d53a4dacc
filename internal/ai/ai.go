// Package ai generates image descriptions and answers metadata
// questions via the Gemini API.
//
// Two call shapes share one client: a one-shot image analysis that is
// retried with exponential backoff on transient failures, and a
// stateless chat turn that resends the full metadata snapshot (and the
// current image, when loaded) on every call.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/smehta/metascan/internal/retry"
)

// LatLng is a coordinate pair passed to prompt builders.
type LatLng struct {
	Lat float64
	Lon float64
}

// Client wraps a Gemini client with the metascan prompt shapes.
type Client struct {
	genai *genai.Client
	model string

	// oneShotPolicy retries transient failures of Describe only.
	oneShotPolicy retry.Policy
}

// NewClient creates a Gemini-backed AI client. The model name is
// resolved from the configured value, environment, or default.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Client{
		genai:         gc,
		model:         ResolveModelName(model),
		oneShotPolicy: retry.Default(retryableAPIError),
	}, nil
}

// retryableAPIError reports whether a Gemini API error is transient
// (HTTP 429 or 5xx).
func retryableAPIError(err error) bool {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return retry.RetryableStatus(apiErr.Code)
	}
	return false
}

// Describe runs a one-shot analysis of the image, optionally grounded
// in the reverse-geocoded address and coordinates. Transient API
// failures are retried up to 3 times with 1s, 2s backoff.
func (c *Client) Describe(ctx context.Context, img []byte, address string, coords *LatLng) (string, error) {
	if len(img) == 0 {
		return "", fmt.Errorf("no image data available for analysis")
	}

	prompt := buildDescribePrompt(address, coords)
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: img}},
		},
	}}

	log.Debug().
		Str("model", c.model).
		Int("image_bytes", len(img)).
		Bool("has_coords", coords != nil).
		Msg("Starting one-shot image analysis")

	var text string
	start := time.Now()
	err := c.oneShotPolicy.Do(ctx, func(ctx context.Context) error {
		resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Image analysis attempt failed")
			return err
		}
		if resp == nil || len(resp.Candidates) == 0 {
			return fmt.Errorf("model returned no candidates")
		}
		text = resp.Text()
		return nil
	})
	duration := time.Since(start)
	if err != nil {
		log.Error().Err(err).Dur("duration", duration).Msg("Image analysis failed")
		return "", fmt.Errorf("generate image analysis: %w", err)
	}

	log.Info().
		Int("response_length", len(text)).
		Dur("duration", duration).
		Msg("Image analysis complete")
	return text, nil
}

// ChatTurn answers one question using the current metadata snapshot
// and, when available, the current image. No server-side session is
// kept; every turn is self-contained. Chat turns are not retried.
func (c *Client) ChatTurn(ctx context.Context, question string, meta map[string]string, img []byte) (string, error) {
	hasImage := len(img) > 0

	instruction := chatTextOnlySystemInstruction
	parts := []*genai.Part{{Text: buildChatPrompt(question, meta)}}
	if hasImage {
		instruction = chatSystemInstruction
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: img},
		})
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: instruction}},
		},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	log.Debug().
		Str("model", c.model).
		Bool("has_image", hasImage).
		Int("metadata_keys", len(meta)).
		Msg("Sending chat turn")

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		log.Error().Err(err).Msg("Chat turn failed")
		return "", fmt.Errorf("generate chat response: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("model returned no candidates")
	}

	text := resp.Text()
	log.Debug().Int("response_length", len(text)).Msg("Chat turn complete")
	return text, nil
}
