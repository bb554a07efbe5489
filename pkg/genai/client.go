// Package genai wraps the external generation provider that turns product
// photos into structured listing fields.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/thriftstack/listing-cli/internal/resilience"
)

// MaxImages is the provider's cap on images per request.
const MaxImages = 9

// ErrNoImages is returned when a request carries no usable image URLs.
// The orchestrator classifies this before any network call is made.
var ErrNoImages = eris.New("genai: no valid image urls")

// Client defines the generation operation used by the orchestrator.
type Client interface {
	Generate(ctx context.Context, req Request) (*GeneratedFields, error)
}

// Request carries one item's attributes and photos to the provider.
type Request struct {
	ItemID    string
	Attrs     map[string]string // existing structured attributes, may be empty
	ImageURLs []string          // http/https only, at most MaxImages
}

// GeneratedFields is the untrusted payload returned by the provider. The
// merge engine validates every field before it touches a work item.
type GeneratedFields struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Brand       string   `json:"brand"`
	Material    string   `json:"material"`
	Condition   string   `json:"condition"`
	Era         string   `json:"era"`
	Department  string   `json:"department"`
	GarmentType string   `json:"garment_type"`
	Size        string   `json:"size"`
	LabelSize   string   `json:"label_size"`
	Style       string   `json:"style"`
	Tags        []string `json:"tags"`
	Confidence  float64  `json:"confidence"`
}

// FilterImageURLs drops non-HTTP(S) references and caps the list at
// MaxImages, preserving order.
func FilterImageURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		out = append(out, u.String())
		if len(out) == MaxImages {
			break
		}
	}
	return out
}

// Config holds provider settings.
type Config struct {
	APIKey            string
	Model             string
	MaxTokens         int64
	RequestsPerMinute int
}

// sdkClient implements Client using the official anthropic-sdk-go with a
// vision message over image URLs and a rate limiter pacing requests.
type sdkClient struct {
	client  sdk.Client
	model   string
	maxTok  int64
	limiter *rate.Limiter
}

// NewClient creates a generation client backed by the SDK.
func NewClient(cfg Config) Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	maxTok := cfg.MaxTokens
	if maxTok <= 0 {
		maxTok = 2048
	}
	return &sdkClient{
		client:  sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   cfg.Model,
		maxTok:  maxTok,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

const systemPrompt = `You are a resale listing writer. Given product photos and any known
attributes, return a single JSON object with these keys: title, description,
brand, material, condition, era, department, garment_type, size, label_size,
style, tags (array of strings), confidence (0-1). Condition should be one of
New, Like new, Very good, Good, Fair, optionally followed by flaw details in
parentheses. Use null for anything the photos do not show.`

func (c *sdkClient) Generate(ctx context.Context, req Request) (*GeneratedFields, error) {
	imageURLs := FilterImageURLs(req.ImageURLs)
	if len(imageURLs) == 0 {
		return nil, ErrNoImages
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "genai: rate limit wait")
	}

	blocks := make([]sdk.ContentBlockParamUnion, 0, len(imageURLs)+1)
	for _, u := range imageURLs {
		blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: u}))
	}
	blocks = append(blocks, sdk.NewTextBlock(buildUserPrompt(req)))

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTok,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	text := extractText(msg)
	fields, err := parsePayload(text)
	if err != nil {
		zap.L().Warn("genai: unparseable payload",
			zap.String("item", req.ItemID),
			zap.Error(err),
		)
		return nil, eris.Wrap(err, "genai: parse payload")
	}
	return fields, nil
}

// buildUserPrompt renders known attributes into the user turn so the
// provider refines rather than contradicts confirmed data.
func buildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Write the listing for these photos.")
	if len(req.Attrs) > 0 {
		b.WriteString(" Known attributes:\n")
		for k, v := range req.Attrs {
			if v == "" {
				continue
			}
			b.WriteString(k + ": " + v + "\n")
		}
	}
	return b.String()
}

// classifyProviderError maps SDK errors onto the transient/fatal taxonomy.
// Quota and payment errors are fatal and propagate unretried; 429/5xx are
// transient.
func classifyProviderError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case resilience.IsFatalHTTPStatus(apiErr.StatusCode):
			return resilience.NewFatalError(eris.Wrap(err, "genai: provider rejected call"), "quota")
		case resilience.IsTransientHTTPStatus(apiErr.StatusCode):
			return resilience.NewTransientError(eris.Wrap(err, "genai: provider unavailable"), apiErr.StatusCode)
		}
		return eris.Wrap(err, "genai: create message")
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "credit balance") || strings.Contains(msg, "quota") {
		return resilience.NewFatalError(eris.Wrap(err, "genai: quota exhausted"), "quota")
	}
	return eris.Wrap(err, "genai: create message")
}

func extractText(msg *sdk.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parsePayload extracts a GeneratedFields object from response text that
// may contain markdown code fences or other wrapping.
func parsePayload(text string) (*GeneratedFields, error) {
	cleaned := cleanJSON(text)

	var fields GeneratedFields
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal generated fields")
	}
	return &fields, nil
}

func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
