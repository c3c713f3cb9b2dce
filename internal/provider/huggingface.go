package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	huggingFaceEndpoint = "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0"
	huggingFaceModel    = "stabilityai/stable-diffusion-xl-base-1.0"
)

// HuggingFace — адаптер Inference API Hugging Face.
// Эндпоинт возвращает изображение сырыми байтами, без JSON-обёртки.
type HuggingFace struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHuggingFace создаёт адаптер Hugging Face.
func NewHuggingFace(apiKey string, logger *zap.Logger) *HuggingFace {
	return &HuggingFace{
		apiKey:   apiKey,
		endpoint: huggingFaceEndpoint,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Name возвращает имя провайдера.
func (h *HuggingFace) Name() string { return "huggingface" }

// IsConfigured сообщает, задан ли API-ключ.
func (h *HuggingFace) IsConfigured() bool { return h.apiKey != "" }

type huggingFaceRequest struct {
	Inputs string `json:"inputs"`
}

// Generate запрашивает вариации по одной: сбой одной вариации не отменяет остальные.
func (h *HuggingFace) Generate(ctx context.Context, input GenerationInput, numVariations int) ([]RawImage, error) {
	var (
		images  []RawImage
		lastErr error
	)

	for i := 0; i < numVariations; i++ {
		img, err := h.generateOne(ctx, input, i)
		if err != nil {
			lastErr = err
			h.logger.Warn("huggingface variation failed",
				zap.Int("variation", i),
				zap.Error(err),
			)
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		return nil, errAllVariationsFailed(h.Name(), numVariations, lastErr)
	}

	return images, nil
}

func (h *HuggingFace) generateOne(ctx context.Context, input GenerationInput, index int) (RawImage, error) {
	body, err := json.Marshal(huggingFaceRequest{
		Inputs: buildPrompt(input),
	})
	if err != nil {
		return RawImage{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return RawImage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return RawImage{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RawImage{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RawImage{}, fmt.Errorf("unexpected content type %s: %s", contentType, payload)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawImage{}, fmt.Errorf("read image body: %w", err)
	}
	if len(data) == 0 {
		return RawImage{}, fmt.Errorf("response body is empty")
	}

	return RawImage{
		Data:        data,
		ContentType: contentType,
		Provider:    h.Name(),
		Model:       huggingFaceModel,
		Index:       index,
	}, nil
}
