// Package handler содержит HTTP-обработчики API сервиса генерации дизайнов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/roomdesign-system/internal/middleware"
	"github.com/mmeshcher/roomdesign-system/internal/model"
	"github.com/mmeshcher/roomdesign-system/internal/repository"
	"github.com/mmeshcher/roomdesign-system/internal/service"
)

// Предел размера загружаемого исходного изображения.
const maxUploadSize = 10 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	GetLedgerHistory(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	PurchaseCredits(ctx context.Context, userID, amount int64, orderID string) (int64, error)
	StartGeneration(ctx context.Context, userID int64, in service.StartGenerationInput) (*service.GenerationResult, error)
	GetDesignsByUser(ctx context.Context, userID int64) ([]model.Design, error)
	GetDesign(ctx context.Context, designID string, userID int64) (*model.Design, []model.GeneratedImage, error)
	SetImageFavorite(ctx context.Context, imageID string, userID int64, favorite bool) error
}

// Handler реализует HTTP-обработчики API сервиса генерации дизайнов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// GetBalance возвращает баланс кредитов текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(balance); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type ledgerEntryResponse struct {
	Amount      int64   `json:"amount"`
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	RelatedID   *string `json:"related_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// GetCreditsHistory возвращает историю движений кредитов текущего пользователя.
func (h *Handler) GetCreditsHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	entries, err := h.service.GetLedgerHistory(r.Context(), userID)
	if err != nil {
		h.logger.Error("get credits history error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ledgerEntryResponse{
			Amount:      e.Amount,
			Kind:        string(e.Kind),
			Description: e.Description,
			RelatedID:   e.RelatedID,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type purchaseRequest struct {
	Amount int64  `json:"amount"`
	Order  string `json:"order"`
}

// PurchaseCredits зачисляет купленные кредиты текущему пользователю.
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount <= 0 || req.Order == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	newBalance, err := h.service.PurchaseCredits(r.Context(), userID, req.Amount, req.Order)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("purchase credits error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(model.Balance{Current: newBalance}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type imageResponse struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	Provider       string `json:"provider"`
	Model          string `json:"model,omitempty"`
	VariationIndex int    `json:"variation_index"`
	IsPlaceholder  bool   `json:"is_placeholder"`
	IsFavorite     bool   `json:"is_favorite"`
}

type designResponse struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	CreditsUsed      int64           `json:"credits_used"`
	OriginalImageURL string          `json:"original_image_url"`
	Style            string          `json:"style"`
	RoomType         string          `json:"room_type"`
	Instructions     string          `json:"instructions,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	CreatedAt        string          `json:"created_at"`
	Images           []imageResponse `json:"images,omitempty"`
}

func toDesignResponse(d model.Design, images []model.GeneratedImage) designResponse {
	resp := designResponse{
		ID:               d.ID,
		Status:           string(d.Status),
		CreditsUsed:      d.CreditsUsed,
		OriginalImageURL: d.OriginalImageURL,
		Style:            d.Style,
		RoomType:         d.RoomType,
		Instructions:     d.Instructions,
		ErrorMessage:     d.ErrorMessage,
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
	}
	for _, img := range images {
		resp.Images = append(resp.Images, imageResponse{
			ID:             img.ID,
			URL:            img.ImageURL,
			Provider:       img.Provider,
			Model:          img.Model,
			VariationIndex: img.VariationIndex,
			IsPlaceholder:  img.IsPlaceholder,
			IsFavorite:     img.IsFavorite,
		})
	}
	return resp
}

// CreateDesign принимает multipart-запрос на генерацию дизайна и возвращает
// результат завершённого жизненного цикла.
func (h *Handler) CreateDesign(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("image")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	numVariations := 1
	if v := r.FormValue("num_variations"); v != "" {
		numVariations, err = strconv.Atoi(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	highRes := false
	if v := r.FormValue("high_res"); v != "" {
		highRes, err = strconv.ParseBool(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	in := service.StartGenerationInput{
		ImageData:        imageData,
		ImageContentType: fileHeader.Header.Get("Content-Type"),
		Style:            r.FormValue("style"),
		RoomType:         r.FormValue("room_type"),
		Instructions:     r.FormValue("instructions"),
		NumVariations:    numVariations,
		HighRes:          highRes,
	}

	result, err := h.service.StartGeneration(r.Context(), userID, in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrInsufficientCredits):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("create design error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toDesignResponse(result.Design, result.Images)); err != nil {
		h.logger.Error("encode design response", zap.Error(err))
	}
}

// GetDesigns возвращает список дизайнов текущего пользователя.
func (h *Handler) GetDesigns(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	designs, err := h.service.GetDesignsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get designs error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(designs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]designResponse, 0, len(designs))
	for _, d := range designs {
		resp = append(resp, toDesignResponse(d, nil))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetDesign возвращает один дизайн текущего пользователя вместе с изображениями.
func (h *Handler) GetDesign(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	designID := chi.URLParam(r, "designID")

	design, images, err := h.service.GetDesign(r.Context(), designID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrDesignNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get design error", zap.Error(err), zap.String("designID", designID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toDesignResponse(*design, images)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// SetImageFavorite устанавливает отметку «избранное» на изображении текущего пользователя.
func (h *Handler) SetImageFavorite(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	imageID := chi.URLParam(r, "imageID")

	if err := h.service.SetImageFavorite(r.Context(), imageID, userID, req.Favorite); err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("set favorite error", zap.Error(err), zap.String("imageID", imageID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
