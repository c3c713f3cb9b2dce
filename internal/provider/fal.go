package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	falEndpoint = "https://fal.run/fal-ai/flux/dev/image-to-image"
	falModel    = "fal-ai/flux/dev"
)

// Fal — адаптер сервиса fal.ai (синхронный image-to-image эндпоинт).
type Fal struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewFal создаёт адаптер fal.ai.
func NewFal(apiKey string, logger *zap.Logger) *Fal {
	return &Fal{
		apiKey:   apiKey,
		endpoint: falEndpoint,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Name возвращает имя провайдера.
func (f *Fal) Name() string { return "fal" }

// IsConfigured сообщает, задан ли API-ключ.
func (f *Fal) IsConfigured() bool { return f.apiKey != "" }

type falRequest struct {
	Prompt    string  `json:"prompt"`
	ImageURL  string  `json:"image_url"`
	Strength  float64 `json:"strength"`
	NumImages int     `json:"num_images"`
}

type falResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
}

// Generate запрашивает вариации по одной: сбой одной вариации не отменяет остальные.
func (f *Fal) Generate(ctx context.Context, input GenerationInput, numVariations int) ([]RawImage, error) {
	var (
		images  []RawImage
		lastErr error
	)

	for i := 0; i < numVariations; i++ {
		img, err := f.generateOne(ctx, input, i)
		if err != nil {
			lastErr = err
			f.logger.Warn("fal variation failed",
				zap.Int("variation", i),
				zap.Error(err),
			)
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		return nil, errAllVariationsFailed(f.Name(), numVariations, lastErr)
	}

	return images, nil
}

func (f *Fal) generateOne(ctx context.Context, input GenerationInput, index int) (RawImage, error) {
	body, err := json.Marshal(falRequest{
		Prompt:    buildPrompt(input),
		ImageURL:  input.ReferenceImageURL,
		Strength:  0.85,
		NumImages: 1,
	})
	if err != nil {
		return RawImage{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return RawImage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return RawImage{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RawImage{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var result falResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return RawImage{}, fmt.Errorf("decode response: %w", err)
	}

	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return RawImage{}, fmt.Errorf("response contains no images")
	}

	return RawImage{
		URL:         result.Images[0].URL,
		ContentType: result.Images[0].ContentType,
		Provider:    f.Name(),
		Model:       falModel,
		Index:       index,
	}, nil
}
