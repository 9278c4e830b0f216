package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	api "github.com/sashabaranov/go-openai"

	"github.com/stupiduntilnot/pixelchat/internal/chatcontext"
	"github.com/stupiduntilnot/pixelchat/internal/model"
)

const defaultImageSize = "1024x1024"

// Config holds OpenAI client settings. An empty BaseURL targets the public API.
type Config struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	ImageModel string
	Timeout    time.Duration
}

// Client adapts the OpenAI API to the model.TextGenerator and
// model.ImageGenerator interfaces. Image edits go through a hand-built
// multipart request since they upload the source image.
type Client struct {
	api        *api.Client
	apiKey     string
	baseURL    string
	chatModel  string
	imageModel string
	httpClient *http.Client
}

// NewClient creates an OpenAI client.
func NewClient(cfg Config) *Client {
	apiCfg := api.DefaultConfig(cfg.APIKey)
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL != "" {
		apiCfg.BaseURL = baseURL
	} else {
		baseURL = strings.TrimRight(apiCfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	apiCfg.HTTPClient = httpClient

	return &Client{
		api:        api.NewClientWithConfig(apiCfg),
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		chatModel:  cfg.ChatModel,
		imageModel: cfg.ImageModel,
		httpClient: httpClient,
	}
}

// GenerateText sends a chat completion request built from the given messages.
func (c *Client) GenerateText(ctx context.Context, messages []chatcontext.Message) (model.TextResult, error) {
	apiMessages := make([]api.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, api.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, api.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: apiMessages,
	})
	if err != nil {
		return model.TextResult{}, errors.Wrap(err, "chat completion")
	}

	result := model.TextResult{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		return model.TextResult{}, errors.New("chat completion returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		content = "(empty model response)"
	}
	result.Content = content
	return result, nil
}

// GenerateImage creates a new image for the prompt and returns its raw bytes.
func (c *Client) GenerateImage(ctx context.Context, prompt string, opts model.ImageOptions) ([]byte, error) {
	size := opts.Size
	if size == "" {
		size = defaultImageSize
	}
	resp, err := c.api.CreateImage(ctx, api.ImageRequest{
		Prompt:         prompt,
		Model:          c.imageModel,
		N:              1,
		Size:           size,
		ResponseFormat: api.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, errors.Wrap(err, "image generation")
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("image generation returned no data")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, errors.Wrap(err, "decode image payload")
	}
	return data, nil
}

type imageEditResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EditImage reworks an existing image under the given prompt and returns the
// edited bytes.
func (c *Client) EditImage(ctx context.Context, image []byte, prompt string, opts model.ImageOptions) ([]byte, error) {
	format := opts.Format
	if format == "" {
		format = "png"
	}
	size := opts.Size
	if size == "" {
		size = defaultImageSize
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "image."+format)
	if err != nil {
		return nil, errors.Wrap(err, "build image part")
	}
	if _, err := part.Write(image); err != nil {
		return nil, errors.Wrap(err, "write image part")
	}
	fields := map[string]string{
		"prompt":          prompt,
		"model":           c.imageModel,
		"size":            size,
		"response_format": "b64_json",
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, errors.Wrapf(err, "write field %s", key)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/edits", &body)
	if err != nil {
		return nil, errors.Wrap(err, "build edit request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "image edit request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read edit response")
	}

	var parsed imageEditResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return nil, errors.Errorf("image edit failed: %s", parsed.Error.Message)
		}
		return nil, errors.Errorf("image edit failed: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrap(err, "parse edit response")
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return nil, errors.New("image edit returned no data")
	}
	data, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return nil, errors.Wrap(err, "decode edited image")
	}
	return data, nil
}
