package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	papervault "github.com/wolfeidau/paper-vault"
)

// maxExtractChars caps how much document text is sent per extraction
// call. Titles, authors and abstracts sit in the opening pages, so the
// head of the document is enough.
const maxExtractChars = 16000

const extractSystemPrompt = `You extract bibliographic metadata from research documents.
Respond with a single JSON object using these keys (omit unknown values):
title, authors (array of strings), abstract, year (number), doi, arxiv_id, keywords (array of strings).`

// OpenAIExtractor extracts document metadata via the OpenAI chat API.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// OpenAIExtractorOption configures an OpenAIExtractor.
type OpenAIExtractorOption func(*OpenAIExtractor)

// WithExtractorLogger sets the logger for the extractor.
func WithExtractorLogger(logger *slog.Logger) OpenAIExtractorOption {
	return func(e *OpenAIExtractor) {
		e.logger = logger
	}
}

// NewOpenAIExtractor creates an extractor using the given API key and
// model. An empty model defaults to gpt-4o-mini.
func NewOpenAIExtractor(apiKey, model string, opts ...OpenAIExtractorOption) (*OpenAIExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	e := &OpenAIExtractor{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract reads the head of the document and asks the model for
// structured metadata.
func (e *OpenAIExtractor) Extract(ctx context.Context, r io.Reader) (*papervault.Knowledge, error) {
	head, err := readHead(r, maxExtractChars)
	if err != nil {
		return nil, fmt.Errorf("reading document head: %w", err)
	}
	if head == "" {
		return nil, fmt.Errorf("no extractable text in document")
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: head},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("extraction returned no choices")
	}

	var k papervault.Knowledge
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &k); err != nil {
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}
	k.ExtractedAt = time.Now().UTC()

	e.logger.Debug("extracted metadata",
		"model", e.model,
		"title", k.Title,
		"authors", len(k.Authors),
	)
	return &k, nil
}

// readHead reads up to limit characters of printable text, dropping
// bytes that are not valid UTF-8 (PDF binary structure).
func readHead(r io.Reader, limit int) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)*4))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for len(data) > 0 && sb.Len() < limit {
		ch, size := utf8.DecodeRune(data)
		data = data[size:]
		if ch == utf8.RuneError && size == 1 {
			continue
		}
		if ch == '\n' || ch == '\t' || ch >= ' ' {
			sb.WriteRune(ch)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// Compile-time interface check
var _ Extractor = (*OpenAIExtractor)(nil)
