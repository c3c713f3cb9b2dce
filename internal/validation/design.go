// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

// MaxVariations — максимальное число вариаций в одном запросе на генерацию.
const MaxVariations = 4

// maxInstructionsLen ограничивает длину пользовательских инструкций.
const maxInstructionsLen = 500

var allowedStyles = map[string]struct{}{
	"modern":       {},
	"minimalist":   {},
	"scandinavian": {},
	"industrial":   {},
	"bohemian":     {},
	"rustic":       {},
	"classic":      {},
	"japandi":      {},
}

var allowedRoomTypes = map[string]struct{}{
	"living room": {},
	"bedroom":     {},
	"kitchen":     {},
	"bathroom":    {},
	"dining room": {},
	"home office": {},
	"kids room":   {},
	"hallway":     {},
}

// IsValidStyle проверяет, что стиль входит в список поддерживаемых.
func IsValidStyle(style string) bool {
	_, ok := allowedStyles[strings.ToLower(strings.TrimSpace(style))]
	return ok
}

// IsValidRoomType проверяет, что тип комнаты входит в список поддерживаемых.
func IsValidRoomType(roomType string) bool {
	_, ok := allowedRoomTypes[strings.ToLower(strings.TrimSpace(roomType))]
	return ok
}

// IsValidNumVariations проверяет запрошенное число вариаций.
func IsValidNumVariations(n int) bool {
	return n >= 1 && n <= MaxVariations
}

// SanitizeInstructions очищает свободный текст инструкций: убирает управляющие
// символы, схлопывает пробелы и обрезает до допустимой длины.
func SanitizeInstructions(instructions string) string {
	var b strings.Builder
	lastSpace := false

	for _, r := range instructions {
		if unicode.IsControl(r) {
			r = ' '
		}
		if unicode.IsSpace(r) {
			if lastSpace {
				continue
			}
			lastSpace = true
			b.WriteRune(' ')
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}

	res := strings.TrimSpace(b.String())
	if runes := []rune(res); len(runes) > maxInstructionsLen {
		res = strings.TrimSpace(string(runes[:maxInstructionsLen]))
	}
	return res
}
