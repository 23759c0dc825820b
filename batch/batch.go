// Package batch prepares and manages OpenAI batch-API jobs for menu-item
// classification: one chat-completion request per tabular row, written as
// batch-input JSONL, uploaded, and downloaded again once the batch
// completes. The API itself is an external collaborator; there is no retry
// or backoff logic here, operators re-run the command.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lkirchner/pizzakg/tabular"
)

// DefaultModel is the classification model used when none is configured.
const DefaultModel = "gpt-4.1-nano"

// Request is one line of a batch-input JSONL file.
type Request struct {
	CustomID string                       `json:"custom_id"`
	Method   string                       `json:"method"`
	URL      string                       `json:"url"`
	Body     openai.ChatCompletionRequest `json:"body"`
}

// CustomID derives the batch custom id for a row: the zero-based row index
// followed by a slug of restaurant and menu item. The index prefix is the
// join key back to the tabular source; the slug exists only for human
// readability.
func CustomID(row tabular.Row) string {
	slug := fmt.Sprintf("%d_%s_%s", row.Index, row.Restaurant, row.MenuItem)
	slug = strings.ReplaceAll(slug, " ", "_")
	slug = strings.ReplaceAll(slug, ",", "")
	return slug
}

// BuildRequests creates one classification request per row.
func BuildRequests(rows []tabular.Row, model string) []Request {
	if model == "" {
		model = DefaultModel
	}
	reqs := make([]Request, 0, len(rows))
	for _, row := range rows {
		user := fmt.Sprintf("name: %q description: %q", row.MenuItem, row.Description)
		reqs = append(reqs, Request{
			CustomID: CustomID(row),
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: openai.ChatCompletionRequest{
				Model: model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: classificationPrompt},
					{Role: openai.ChatMessageRoleUser, Content: user},
				},
				Temperature: 1,
			},
		})
	}
	return reqs
}

// WriteJSONL writes requests as newline-delimited JSON.
func WriteJSONL(w io.Writer, reqs []Request) error {
	enc := json.NewEncoder(w)
	for _, r := range reqs {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding request %s: %w", r.CustomID, err)
		}
	}
	return nil
}

// Client wraps the OpenAI API for batch management.
type Client struct {
	api *openai.Client
}

// NewClient creates a batch client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{api: openai.NewClient(apiKey)}
}

// Submit uploads a batch-input JSONL file and creates a 24h batch job,
// returning the batch ID the operator polls later.
func (c *Client) Submit(ctx context.Context, inputPath string) (string, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("reading batch input: %w", err)
	}

	file, err := c.api.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    "batchinput.jsonl",
		Bytes:   data,
		Purpose: openai.PurposeBatch,
	})
	if err != nil {
		return "", fmt.Errorf("uploading batch input: %w", err)
	}
	slog.Info("batch: input file uploaded", "file_id", file.ID, "bytes", len(data))

	resp, err := c.api.CreateBatch(ctx, openai.CreateBatchRequest{
		InputFileID:      file.ID,
		Endpoint:         openai.BatchEndpointChatCompletions,
		CompletionWindow: "24h",
	})
	if err != nil {
		return "", fmt.Errorf("creating batch: %w", err)
	}
	slog.Info("batch: created", "batch_id", resp.ID, "status", resp.Status)
	return resp.ID, nil
}

// Status returns the current status string for a batch.
func (c *Client) Status(ctx context.Context, batchID string) (string, error) {
	resp, err := c.api.RetrieveBatch(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("retrieving batch %s: %w", batchID, err)
	}
	return resp.Status, nil
}

// Download fetches the output file of a completed batch into w.
func (c *Client) Download(ctx context.Context, batchID string, w io.Writer) error {
	resp, err := c.api.RetrieveBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("retrieving batch %s: %w", batchID, err)
	}
	if resp.Status != "completed" {
		return fmt.Errorf("batch %s is %s, not completed", batchID, resp.Status)
	}
	if resp.OutputFileID == nil || *resp.OutputFileID == "" {
		return fmt.Errorf("batch %s has no output file", batchID)
	}

	content, err := c.api.GetFileContent(ctx, *resp.OutputFileID)
	if err != nil {
		return fmt.Errorf("downloading batch output: %w", err)
	}
	defer content.Close()

	n, err := io.Copy(w, content)
	if err != nil {
		return fmt.Errorf("writing batch output: %w", err)
	}
	slog.Info("batch: output downloaded", "batch_id", batchID, "bytes", n)
	return nil
}
