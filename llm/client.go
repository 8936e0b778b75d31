// Package llm wraps the OpenAI-compatible API used for embeddings, streamed
// generation, structured JSON completions and transcription.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
)

type Client struct {
	api *openai.Client
	cfg *config.Config
	log *zap.Logger
}

func New(cfg *config.Config, log *zap.Logger) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Client{
		api: openai.NewClientWithConfig(clientConfig),
		cfg: cfg,
		log: log,
	}
}

// Embed returns one vector per input text, in order. All vectors share the
// configured dimension; a mismatch means the index and the query models have
// diverged and retrieval must fail fast.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			core.ErrEmbeddingUnavailable, len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != c.cfg.EmbeddingDim {
			return nil, fmt.Errorf("%w: embedding dimension %d, index expects %d",
				core.ErrRetrievalConfig, len(d.Embedding), c.cfg.EmbeddingDim)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Stream runs one generation call and invokes onToken for each delta in
// generation order. It returns the full text. On deadline expiry the tokens
// already delivered stand and the error is ErrGenerationTimeout; other
// failures map to ErrGenerationService. No mid-stream retry.
func (c *Client) Stream(ctx context.Context, system, prompt string, onToken func(string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout())
	defer cancel()

	messages := []openai.ChatCompletionMessage{}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: prompt,
	})

	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.cfg.ChatModel,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return "", c.generationErr(err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), c.generationErr(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onToken(delta); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

func (c *Client) generationErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrGenerationTimeout, err)
	}
	return fmt.Errorf("%w: %v", core.ErrGenerationService, err)
}

// CompleteJSON runs a non-streaming completion pinned at temperature 0 so
// repeated calls with identical inputs score identically. Markdown fences
// around the payload are stripped, mirroring how models wrap JSON.
func (c *Client) CompleteJSON(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout())
	defer cancel()

	messages := []openai.ChatCompletionMessage{}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: prompt,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		return "", c.generationErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", core.ErrGenerationService)
	}
	return StripFences(resp.Choices[0].Message.Content), nil
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// Transcribe sends an audio file through the transcription endpoint and
// returns ordered timestamped segments. Failures are fatal to the ingestion
// of that video.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]core.Segment, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscribeModel,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", audioPath, err)
	}
	segments := make([]core.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, core.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	c.log.Info("transcription complete",
		zap.String("audio_path", audioPath),
		zap.Int("segments", len(segments)))
	return segments, nil
}
