package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// chatClient implements Extractor against the OpenAI /v1/chat/completions
// API format with a base64 PDF file part. This covers OpenAI-compatible
// gateways in front of Gemini, vLLM multimodal models, and OpenAI itself.
type chatClient struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	cfg      Config
}

func newChatClient(cfg Config) *chatClient {
	return &chatClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
	}
}

type contentPart struct {
	Type string    `json:"type"`
	Text string    `json:"text,omitempty"`
	File *filePart `json:"file,omitempty"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *chatClient) Sections(ctx context.Context, pdf []byte, keys []string) (Output, error) {
	text, err := c.Prompt(ctx, pdf, sectionsPrompt(keys))
	if err != nil {
		return Output{}, err
	}

	// Try the clean path first: the whole reply is one JSON object,
	// possibly wrapped in a code fence.
	if m, ok := parseObject(stripFence(text)); ok {
		return Output{Sections: stringValues(m)}, nil
	}

	// Leave recovery to the salvage parser.
	c.cfg.Logger.Warn("extraction reply is not clean JSON, keeping raw response",
		"bytes", len(text))
	return Output{RawResponse: text}, nil
}

func (c *chatClient) Prompt(ctx context.Context, pdf []byte, prompt string) (string, error) {
	parts := []contentPart{{Type: "text", Text: prompt}}
	if len(pdf) > 0 {
		parts = append(parts, contentPart{
			Type: "file",
			File: &filePart{
				Filename: "document.pdf",
				FileData: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
			},
		})
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: parts}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from %s", url)
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// sectionsPrompt builds the extraction instruction for the given keys.
func sectionsPrompt(keys []string) string {
	var sb strings.Builder
	sb.WriteString("Analyze this PDF document and extract the following sections: '")
	sb.WriteString(strings.Join(keys, "', '"))
	sb.WriteString("'.\n\nFor each section:\n")
	sb.WriteString("1. Locate the section by its heading, numbered or not.\n")
	sb.WriteString("2. Extract the full content of that section.\n")
	sb.WriteString("3. Do not include the heading itself in the result.\n\n")
	sb.WriteString("Respond with a single valid JSON object, for example:\n{\n")
	for i, k := range keys {
		fmt.Fprintf(&sb, "    %q: \"content of %s here\"", k, k)
		if i < len(keys)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\nIf a section cannot be found, use the value \"")
	sb.WriteString(NotFound)
	sb.WriteString("\".")
	return sb.String()
}

// stripFence removes a surrounding markdown code fence, if present.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// stringValues keeps only string-valued entries of a decoded JSON object.
func stringValues(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
