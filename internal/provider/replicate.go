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
	replicateEndpoint = "https://api.replicate.com/v1/models/black-forest-labs/flux-dev/predictions"
	replicateModel    = "black-forest-labs/flux-dev"
)

// Replicate — адаптер сервиса replicate.com (синхронный режим Prefer: wait).
type Replicate struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewReplicate создаёт адаптер replicate.com.
func NewReplicate(apiKey string, logger *zap.Logger) *Replicate {
	return &Replicate{
		apiKey:   apiKey,
		endpoint: replicateEndpoint,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// Name возвращает имя провайдера.
func (r *Replicate) Name() string { return "replicate" }

// IsConfigured сообщает, задан ли API-ключ.
func (r *Replicate) IsConfigured() bool { return r.apiKey != "" }

type replicateRequest struct {
	Input replicateInput `json:"input"`
}

type replicateInput struct {
	Prompt         string  `json:"prompt"`
	Image          string  `json:"image"`
	PromptStrength float64 `json:"prompt_strength"`
	NumOutputs     int     `json:"num_outputs"`
}

type replicateResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  *string         `json:"error"`
}

// Generate запрашивает вариации по одной: сбой одной вариации не отменяет остальные.
func (r *Replicate) Generate(ctx context.Context, input GenerationInput, numVariations int) ([]RawImage, error) {
	var (
		images  []RawImage
		lastErr error
	)

	for i := 0; i < numVariations; i++ {
		img, err := r.generateOne(ctx, input, i)
		if err != nil {
			lastErr = err
			r.logger.Warn("replicate variation failed",
				zap.Int("variation", i),
				zap.Error(err),
			)
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		return nil, errAllVariationsFailed(r.Name(), numVariations, lastErr)
	}

	return images, nil
}

func (r *Replicate) generateOne(ctx context.Context, input GenerationInput, index int) (RawImage, error) {
	body, err := json.Marshal(replicateRequest{
		Input: replicateInput{
			Prompt:         buildPrompt(input),
			Image:          input.ReferenceImageURL,
			PromptStrength: 0.85,
			NumOutputs:     1,
		},
	})
	if err != nil {
		return RawImage{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return RawImage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return RawImage{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RawImage{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var result replicateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return RawImage{}, fmt.Errorf("decode response: %w", err)
	}

	if result.Error != nil && *result.Error != "" {
		return RawImage{}, fmt.Errorf("prediction error: %s", *result.Error)
	}
	if result.Status != "succeeded" && result.Status != "processing" {
		return RawImage{}, fmt.Errorf("prediction status: %s", result.Status)
	}

	url, err := firstReplicateOutput(result.Output)
	if err != nil {
		return RawImage{}, err
	}

	return RawImage{
		URL:      url,
		Provider: r.Name(),
		Model:    replicateModel,
		Index:    index,
	}, nil
}

// firstReplicateOutput извлекает первый URL из поля output,
// которое у разных моделей бывает строкой или массивом строк.
func firstReplicateOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("prediction output is empty")
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 || list[0] == "" {
			return "", fmt.Errorf("prediction output is empty")
		}
		return list[0], nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}

	return "", fmt.Errorf("unsupported prediction output format")
}
