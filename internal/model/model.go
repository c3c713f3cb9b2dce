// Package model содержит доменные сущности сервиса генерации дизайнов.
package model

import "time"

// User представляет зарегистрированного пользователя сервиса.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// EntryKind описывает тип движения кредитов в леджере.
type EntryKind string

const (
	EntryKindEarned            EntryKind = "EARNED"
	EntryKindSpent             EntryKind = "SPENT"
	EntryKindPurchased         EntryKind = "PURCHASED"
	EntryKindSubscriptionBonus EntryKind = "SUBSCRIPTION_BONUS"
	EntryKindRefunded          EntryKind = "REFUNDED"
)

// LedgerEntry описывает одно неизменяемое движение кредитов.
// Записи никогда не обновляются и не удаляются; баланс пользователя —
// это всегда сумма amount по всем его записям.
type LedgerEntry struct {
	ID          int64
	UserID      int64
	Amount      int64
	Kind        EntryKind
	Description string
	RelatedID   *string
	CreatedAt   time.Time
}

// DesignStatus описывает статус обработки запроса на генерацию.
type DesignStatus string

const (
	DesignStatusProcessing DesignStatus = "PROCESSING"
	DesignStatusCompleted  DesignStatus = "COMPLETED"
	DesignStatusFailed     DesignStatus = "FAILED"
)

// Design описывает один запрос пользователя на генерацию дизайна комнаты.
// Статус меняется ровно один раз: из PROCESSING в COMPLETED или FAILED.
type Design struct {
	ID               string
	UserID           int64
	Status           DesignStatus
	CreditsUsed      int64
	OriginalImageKey string
	OriginalImageURL string
	Style            string
	RoomType         string
	Instructions     string
	ErrorMessage     *string
	CreatedAt        time.Time
}

// GeneratedImage описывает одно сгенерированное изображение дизайна.
type GeneratedImage struct {
	ID             string
	DesignID       string
	ImageKey       string
	ImageURL       string
	Provider       string
	Model          string
	VariationIndex int
	IsPlaceholder  bool
	IsFavorite     bool
	CreatedAt      time.Time
}

// Balance содержит текущий баланс кредитов пользователя.
type Balance struct {
	Current int64 `json:"current"`
}
