// Package provider содержит адаптеры внешних бэкендов генерации изображений.
//
// Каждый адаптер инкапсулирует собственный эндпоинт, формирование промпта
// и аутентификацию и приводит их к единому контракту Adapter. Ошибка одной
// вариации логируется и пропускается; адаптер возвращает ошибку только если
// не удалось получить ни одного изображения.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// GenerationInput описывает вход одной генерации дизайна.
type GenerationInput struct {
	ReferenceImageURL string
	Style             string
	RoomType          string
	Instructions      string
}

// RawImage описывает одно изображение, полученное от провайдера.
// Заполнено либо Data (инлайн-байты), либо URL.
type RawImage struct {
	Data          []byte
	URL           string
	ContentType   string
	Provider      string
	Model         string
	Index         int
	IsPlaceholder bool
	Note          string
}

// Adapter — единый контракт внешнего бэкенда генерации изображений.
type Adapter interface {
	// Name возвращает имя провайдера для метаданных и логов.
	Name() string
	// IsConfigured сообщает, заданы ли учётные данные провайдера.
	IsConfigured() bool
	// Generate пытается получить до numVariations изображений.
	// Частичный результат — норма; ошибка означает ноль изображений.
	Generate(ctx context.Context, input GenerationInput, numVariations int) ([]RawImage, error)
}

// buildPrompt собирает текстовый промпт генерации из параметров запроса.
func buildPrompt(input GenerationInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Redesign this %s interior in %s style.", input.RoomType, input.Style)
	b.WriteString(" Keep the room layout, walls and windows recognizable.")
	b.WriteString(" Photorealistic interior photography, high detail.")
	if input.Instructions != "" {
		fmt.Fprintf(&b, " Additional instructions: %s", input.Instructions)
	}
	return b.String()
}

// errAllVariationsFailed формирует итоговую ошибку адаптера, когда ни одна вариация не удалась.
func errAllVariationsFailed(name string, numVariations int, lastErr error) error {
	return fmt.Errorf("%s: all %d variations failed, last error: %w", name, numVariations, lastErr)
}
