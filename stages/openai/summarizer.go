package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	summaryPrompt = "Write a concise summary of the following:\n\n%s\n\nCONCISE SUMMARY:"

	// DefaultChunkSize bounds the characters sent per map request.
	DefaultChunkSize = 12000
)

// Summarizer condenses a transcript with chat completions. Long transcripts
// are split into chunks that are summarized independently, then the partial
// summaries are summarized again.
type Summarizer struct {
	client    *client
	model     string
	chunkSize int
}

// NewSummarizer builds a summarization adapter.
func NewSummarizer(cfg Config) (*Summarizer, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.SummaryModel
	if model == "" {
		model = defaultSummaryModel
	}
	return &Summarizer{client: c, model: model, chunkSize: DefaultChunkSize}, nil
}

// Summarize implements stages.Summarizer. An empty transcript yields an empty
// summary without calling the API.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	chunks := splitChunks(text, s.chunkSize)
	if len(chunks) == 1 {
		return s.complete(ctx, chunks[0])
	}

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		partial, err := s.complete(ctx, chunk)
		if err != nil {
			return "", fmt.Errorf("summarize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, partial)
	}
	return s.complete(ctx, strings.Join(partials, "\n\n"))
}

func (s *Summarizer) complete(ctx context.Context, text string) (string, error) {
	payload := map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "user", "content": fmt.Sprintf(summaryPrompt, text)},
		},
		"temperature": 0,
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode summary payload: %w", err)
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := s.client.post(ctx, "/chat/completions", "application/json", buf, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no summary returned")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// splitChunks cuts text on line boundaries into pieces of at most size bytes.
// A single line longer than size becomes its own chunk.
func splitChunks(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
	)
	for _, line := range strings.Split(text, "\n") {
		if current.Len() > 0 && current.Len()+1+len(line) > size {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
