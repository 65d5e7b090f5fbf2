package llm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"lunch-menu-bot/internal/config"
	"lunch-menu-bot/internal/logfields"
)

const (
	geminiModel = "gemini-1.5-flash"
	noTextToken = "NO_TEXT"

	extractPrompt = `This image is a restaurant's daily lunch menu board.
Transcribe every menu line exactly as written, one item per line, keeping the original language.
Do not translate, explain or add anything. If there is no readable text, answer ` + noTextToken + `.`
)

// GeminiClient is a vision client for the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiClient creates a new Gemini API client.
func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := client.GenerativeModel(geminiModel)
	model.SetTemperature(0)
	return &GeminiClient{client: client, model: model}, nil
}

// ExtractText sends the image to the Gemini model and returns the cleaned transcription.
func (c *GeminiClient) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	resp, err := c.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: image},
		genai.Text(extractPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoText
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
			sb.WriteString("\n")
		}
	}

	text := CleanText(sb.String())
	if text == "" || text == noTextToken {
		return "", ErrNoText
	}
	slog.Debug("Extracted menu text", logfields.Count(len(text)))
	return text, nil
}

// Close closes the underlying Gemini client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

var spaces = regexp.MustCompile(`[ \t\p{Zs}]+`)

// CleanText trims every line, collapses runs of spaces and drops empty lines.
func CleanText(s string) string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
		line = strings.Trim(line, "`")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
