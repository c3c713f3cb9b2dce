package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	openAIEndpoint = "https://api.openai.com/v1/images/generations"
	openAIModel    = "gpt-image-1"
)

// OpenAI — адаптер генерации изображений OpenAI.
// В отличие от fal и replicate изображения возвращаются инлайн в base64.
type OpenAI struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAI создаёт адаптер OpenAI.
func NewOpenAI(apiKey string, logger *zap.Logger) *OpenAI {
	return &OpenAI{
		apiKey:   apiKey,
		endpoint: openAIEndpoint,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// Name возвращает имя провайдера.
func (o *OpenAI) Name() string { return "openai" }

// IsConfigured сообщает, задан ли API-ключ.
func (o *OpenAI) IsConfigured() bool { return o.apiKey != "" }

type openAIRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type openAIResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate запрашивает вариации по одной: сбой одной вариации не отменяет остальные.
func (o *OpenAI) Generate(ctx context.Context, input GenerationInput, numVariations int) ([]RawImage, error) {
	var (
		images  []RawImage
		lastErr error
	)

	for i := 0; i < numVariations; i++ {
		img, err := o.generateOne(ctx, input, i)
		if err != nil {
			lastErr = err
			o.logger.Warn("openai variation failed",
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

func (o *OpenAI) generateOne(ctx context.Context, input GenerationInput, index int) (RawImage, error) {
	// Эндпоинт не принимает референсное изображение, поэтому его URL
	// добавляется в промпт как текстовый контекст.
	prompt := buildPrompt(input) + " Base the redesign on the room shown at: " + input.ReferenceImageURL

	body, err := json.Marshal(openAIRequest{
		Model:  openAIModel,
		Prompt: prompt,
		N:      1,
		Size:   "1024x1024",
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

	var result openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return RawImage{}, fmt.Errorf("decode response: %w", err)
	}

	if len(result.Data) == 0 || result.Data[0].B64JSON == "" {
		return RawImage{}, fmt.Errorf("response contains no images")
	}

	data, err := base64.StdEncoding.DecodeString(result.Data[0].B64JSON)
	if err != nil {
		return RawImage{}, fmt.Errorf("decode image base64: %w", err)
	}

	return RawImage{
		Data:        data,
		ContentType: "image/png",
		Provider:    o.Name(),
		Model:       openAIModel,
		Index:       index,
	}, nil
}
