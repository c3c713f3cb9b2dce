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
	googleEndpointFmt = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
	googleModel       = "gemini-2.0-flash-preview-image-generation"
)

// Google — адаптер генерации изображений Gemini API.
type Google struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGoogle создаёт адаптер Gemini API.
func NewGoogle(apiKey string, logger *zap.Logger) *Google {
	return &Google{
		apiKey:   apiKey,
		endpoint: fmt.Sprintf(googleEndpointFmt, googleModel),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Name возвращает имя провайдера.
func (g *Google) Name() string { return "google" }

// IsConfigured сообщает, задан ли API-ключ.
func (g *Google) IsConfigured() bool { return g.apiKey != "" }

type googleRequest struct {
	Contents []googleContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
	} `json:"generationConfig"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *googleInlineData `json:"inlineData,omitempty"`
}

type googleInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type googleResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

// Generate запрашивает вариации по одной: сбой одной вариации не отменяет остальные.
func (g *Google) Generate(ctx context.Context, input GenerationInput, numVariations int) ([]RawImage, error) {
	var (
		images  []RawImage
		lastErr error
	)

	for i := 0; i < numVariations; i++ {
		img, err := g.generateOne(ctx, input, i)
		if err != nil {
			lastErr = err
			g.logger.Warn("google variation failed",
				zap.Int("variation", i),
				zap.Error(err),
			)
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		return nil, errAllVariationsFailed(g.Name(), numVariations, lastErr)
	}

	return images, nil
}

func (g *Google) generateOne(ctx context.Context, input GenerationInput, index int) (RawImage, error) {
	reqBody := googleRequest{
		Contents: []googleContent{
			{Parts: []googlePart{
				{Text: buildPrompt(input) + " Reference photo of the room: " + input.ReferenceImageURL},
			}},
		},
	}
	reqBody.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return RawImage{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return RawImage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return RawImage{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RawImage{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var result googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return RawImage{}, fmt.Errorf("decode response: %w", err)
	}

	for _, cand := range result.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return RawImage{}, fmt.Errorf("decode image base64: %w", err)
			}
			return RawImage{
				Data:        data,
				ContentType: part.InlineData.MimeType,
				Provider:    g.Name(),
				Model:       googleModel,
				Index:       index,
			}, nil
		}
	}

	return RawImage{}, fmt.Errorf("response contains no images")
}
