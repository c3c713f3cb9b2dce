// Package orchestrator реализует каскадный обход провайдеров генерации.
//
// Провайдеры опрашиваются последовательно в фиксированном порядке приоритета.
// Первый провайдер, вернувший хотя бы одно изображение, завершает обход —
// даже если изображений меньше запрошенного. Повторных попыток к уже
// опрошенному провайдеру нет: временные сбои поглощаются переходом к
// следующему провайдеру. Если не сработал ни один, возвращается
// детерминированная заглушка из исходного изображения; этот путь не падает
// никогда.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/roomdesign-system/internal/provider"
)

// Outcome описывает итог каскадного обхода провайдеров.
type Outcome string

const (
	// OutcomeFull — провайдер вернул все запрошенные вариации.
	OutcomeFull Outcome = "FULL"
	// OutcomePartial — провайдер вернул меньше вариаций, чем запрошено.
	OutcomePartial Outcome = "PARTIAL"
	// OutcomePlaceholder — все провайдеры отказали, возвращена заглушка.
	OutcomePlaceholder Outcome = "PLACEHOLDER"
	// OutcomeNoProviders — не настроен ни один провайдер, возвращена заглушка.
	OutcomeNoProviders Outcome = "NO_PROVIDERS"
)

// Result содержит изображения и метаданные итога обхода.
type Result struct {
	Images   []provider.RawImage
	Provider string
	Outcome  Outcome
}

// Orchestrator обходит упорядоченный список адаптеров провайдеров.
type Orchestrator struct {
	adapters        []provider.Adapter
	providerTimeout time.Duration
	logger          *zap.Logger
}

// New создаёт оркестратор с указанным списком адаптеров.
// Порядок списка определяет приоритет обхода; ненастроенные адаптеры пропускаются.
func New(adapters []provider.Adapter, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		adapters:        adapters,
		providerTimeout: 3 * time.Minute,
		logger:          logger,
	}
}

// Generate получает до numVariations изображений от первого успешного провайдера.
// Ошибок метод не возвращает: терминальный запасной вариант — заглушка.
func (o *Orchestrator) Generate(ctx context.Context, input provider.GenerationInput, numVariations int) *Result {
	if numVariations < 1 {
		numVariations = 1
	}

	configured := make([]provider.Adapter, 0, len(o.adapters))
	for _, a := range o.adapters {
		if a.IsConfigured() {
			configured = append(configured, a)
		}
	}

	if len(configured) == 0 {
		o.logger.Warn("no image providers configured, serving placeholder")
		return &Result{
			Images:  o.placeholders(input, numVariations, "no image generation providers are configured"),
			Outcome: OutcomeNoProviders,
		}
	}

	for _, a := range configured {
		images := o.tryProvider(ctx, a, input, numVariations)
		if len(images) == 0 {
			continue
		}

		outcome := OutcomeFull
		if len(images) < numVariations {
			outcome = OutcomePartial
		}

		o.logger.Info("provider produced images",
			zap.String("provider", a.Name()),
			zap.Int("requested", numVariations),
			zap.Int("produced", len(images)),
		)

		return &Result{
			Images:   images,
			Provider: a.Name(),
			Outcome:  outcome,
		}
	}

	o.logger.Warn("all configured providers failed, serving placeholder",
		zap.Int("providers", len(configured)),
	)

	return &Result{
		Images:  o.placeholders(input, numVariations, "all image generation providers failed"),
		Outcome: OutcomePlaceholder,
	}
}

// tryProvider опрашивает один адаптер с ограничением по времени.
// Таймаут и любая ошибка адаптера равнозначны нулю изображений.
func (o *Orchestrator) tryProvider(ctx context.Context, a provider.Adapter, input provider.GenerationInput, numVariations int) []provider.RawImage {
	provCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()

	images, err := a.Generate(provCtx, input, numVariations)
	if err != nil {
		o.logger.Warn("provider failed, trying next",
			zap.String("provider", a.Name()),
			zap.Error(err),
		)
		return nil
	}

	return images
}

// placeholders формирует заглушки, ссылающиеся на исходное изображение.
func (o *Orchestrator) placeholders(input provider.GenerationInput, numVariations int, reason string) []provider.RawImage {
	images := make([]provider.RawImage, numVariations)
	for i := range images {
		images[i] = provider.RawImage{
			URL:           input.ReferenceImageURL,
			Provider:      "placeholder",
			Index:         i,
			IsPlaceholder: true,
			Note:          fmt.Sprintf("placeholder: %s", reason),
		}
	}
	return images
}
