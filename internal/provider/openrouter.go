package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	openRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	openRouterModel    = "google/gemini-2.5-flash-image-preview"
)

// OpenRouter — адаптер генерации изображений через openrouter.ai.
// Изображения приходят в ответе chat completion как data-URL в base64.
type OpenRouter struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenRouter создаёт адаптер openrouter.ai.
func NewOpenRouter(apiKey string, logger *zap.Logger) *OpenRouter {
	return &OpenRouter{
		apiKey:   apiKey,
		endpoint: openRouterEndpoint,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: logger,
	}
}

// Name возвращает имя провайдера.
func (o *OpenRouter) Name() string { return "openrouter" }

// IsConfigured сообщает, задан ли API-ключ.
func (o *OpenRouter) IsConfigured() bool { return o.apiKey != "" }

type openRouterRequest struct {
	Model      string              `json:"model"`
	Messages   []openRouterMessage `json:"messages"`
	Modalities []string            `json:"modalities"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Images []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate запрашивает вариации по одной: сбой одной вариации не отменяет остальные.
func (o *OpenRouter) Generate(ctx context.Context, input GenerationInput, numVariations int) ([]RawImage, error) {
	var (
		images  []RawImage
		lastErr error
	)

	for i := 0; i < numVariations; i++ {
		img, err := o.generateOne(ctx, input, i)
		if err != nil {
			lastErr = err
			o.logger.Warn("openrouter variation failed",
				zap.Int("variation", i),
				zap.Error(err),
			)
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		return nil, errAllVariationsFailed(o.Name(), numVariations, lastErr)
	}

	return images, nil
}

func (o *OpenRouter) generateOne(ctx context.Context, input GenerationInput, index int) (RawImage, error) {
	body, err := json.Marshal(openRouterRequest{
		Model: openRouterModel,
		Messages: []openRouterMessage{
			{Role: "user", Content: buildPrompt(input) + " Reference photo of the room: " + input.ReferenceImageURL},
		},
		Modalities: []string{"image", "text"},
	})
	if err != nil {
		return RawImage{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return RawImage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return RawImage{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RawImage{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var result openRouterResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return RawImage{}, fmt.Errorf("decode response: %w", err)
	}

	if len(result.Choices) == 0 || len(result.Choices[0].Message.Images) == 0 {
		return RawImage{}, fmt.Errorf("response contains no images")
	}

	data, contentType, err := decodeDataURL(result.Choices[0].Message.Images[0].ImageURL.URL)
	if err != nil {
		return RawImage{}, err
	}

	return RawImage{
		Data:        data,
		ContentType: contentType,
		Provider:    o.Name(),
		Model:       openRouterModel,
		Index:       index,
	}, nil
}

// decodeDataURL разбирает data-URL вида data:image/png;base64,<payload>.
func decodeDataURL(url string) ([]byte, string, error) {
	if !strings.HasPrefix(url, "data:") {
		return nil, "", fmt.Errorf("image url is not a data url")
	}

	meta, payload, found := strings.Cut(url[len("data:"):], ",")
	if !found {
		return nil, "", fmt.Errorf("malformed data url")
	}

	contentType := strings.TrimSuffix(meta, ";base64")

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url base64: %w", err)
	}

	return data, contentType, nil
}
