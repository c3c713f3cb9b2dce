// Package service реализует бизнес-логику сервиса генерации дизайнов.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/roomdesign-system/internal/blobstore"
	"github.com/mmeshcher/roomdesign-system/internal/model"
	"github.com/mmeshcher/roomdesign-system/internal/orchestrator"
	"github.com/mmeshcher/roomdesign-system/internal/provider"
	"github.com/mmeshcher/roomdesign-system/internal/repository"
	"github.com/mmeshcher/roomdesign-system/internal/validation"
)

// ErrInvalidInput возвращается при некорректных параметрах запроса на генерацию.
var ErrInvalidInput = errors.New("invalid generation input")

// Ограничение на число одновременных загрузок результатов в хранилище.
const maxConcurrentUploads = 4

// Время, отведённое жизненному циклу одной генерации после списания кредитов.
const lifecycleTimeout = 15 * time.Minute

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	GetBalance(ctx context.Context, userID int64) (int64, error)
	Deduct(ctx context.Context, userID, amount int64, description string, relatedID *string) (int64, int64, error)
	Add(ctx context.Context, userID, amount int64, kind model.EntryKind, description string, relatedID *string) (int64, error)
	Refund(ctx context.Context, userID, amount int64, relatedID, reason string) (int64, error)
	GrantMonthly(ctx context.Context, userID, amount int64) (bool, error)
	GetLedgerEntries(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	GetUsersForMonthlyGrant(ctx context.Context, limit int) ([]int64, error)

	CreateDesign(ctx context.Context, d *model.Design) error
	FinalizeDesign(ctx context.Context, designID string, status model.DesignStatus, errorMessage *string) error
	CreateGeneratedImage(ctx context.Context, img *model.GeneratedImage) error
	GetDesignByID(ctx context.Context, designID string, userID int64) (*model.Design, error)
	GetDesignsByUser(ctx context.Context, userID int64) ([]model.Design, error)
	GetImagesByDesign(ctx context.Context, designID string) ([]model.GeneratedImage, error)
	SetImageFavorite(ctx context.Context, imageID string, userID int64, favorite bool) error
}

// BlobStore описывает контракт объектного хранилища изображений.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, key, contentType string) (*blobstore.UploadResult, error)
}

// Orchestrator описывает контракт каскада провайдеров генерации.
type Orchestrator interface {
	Generate(ctx context.Context, input provider.GenerationInput, numVariations int) *orchestrator.Result
}

// Service содержит бизнес-логику сервиса генерации дизайнов.
type Service struct {
	repo           Repository
	blobs          BlobStore
	orch           Orchestrator
	logger         *zap.Logger
	fetchClient    *retryablehttp.Client
	monthlyCredits int64
}

// NewService создаёт новый сервис.
func NewService(repo Repository, blobs BlobStore, orch Orchestrator, logger *zap.Logger, monthlyCredits int64) *Service {
	fetchClient := retryablehttp.NewClient()
	fetchClient.RetryMax = 2
	fetchClient.HTTPClient.Timeout = 60 * time.Second
	fetchClient.Logger = nil

	return &Service{
		repo:           repo,
		blobs:          blobs,
		orch:           orch,
		logger:         logger,
		fetchClient:    fetchClient,
		monthlyCredits: monthlyCredits,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreditsRequired возвращает стоимость генерации в кредитах.
// Чистая функция: вызывающая сторона может заранее проверить достаточность баланса.
func CreditsRequired(isHighRes bool, numVariations int) int64 {
	perVariation := int64(1)
	if isHighRes {
		perVariation = 5
	}
	return perVariation * int64(numVariations)
}

// RegisterUser регистрирует нового пользователя и сразу начисляет
// ему бесплатные кредиты текущего месяца.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}

	if _, err := s.repo.GrantMonthly(ctx, id, s.monthlyCredits); err != nil {
		// Регистрация уже состоялась; начисление доберёт фоновый обход.
		s.logger.Warn("initial monthly grant failed", zap.Int64("userID", id), zap.Error(err))
	}

	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, errors.New("invalid credentials")
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetBalance возвращает текущий баланс кредитов пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	current, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{Current: current}, nil
}

// GetLedgerHistory возвращает историю движений кредитов пользователя.
func (s *Service) GetLedgerHistory(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.repo.GetLedgerEntries(ctx, userID)
}

// PurchaseCredits зачисляет купленные кредиты.
// Проверка подписи платёжного вебхука — забота вызывающей стороны.
func (s *Service) PurchaseCredits(ctx context.Context, userID, amount int64, orderID string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: purchase amount must be positive", ErrInvalidInput)
	}
	related := orderID
	return s.repo.Add(ctx, userID, amount, model.EntryKindPurchased, "credit purchase", &related)
}

// StartGenerationInput описывает параметры запроса на генерацию дизайна.
type StartGenerationInput struct {
	ImageData        []byte
	ImageContentType string
	Style            string
	RoomType         string
	Instructions     string
	NumVariations    int
	HighRes          bool
}

// GenerationResult описывает итог завершённого жизненного цикла генерации.
type GenerationResult struct {
	Design  model.Design
	Images  []model.GeneratedImage
	Outcome orchestrator.Outcome
}

// StartGeneration проводит один запрос на генерацию через весь жизненный цикл:
// списание кредитов, загрузка исходника, каскад провайдеров, сохранение
// результатов и перевод дизайна в терминальный статус. Если не удалось
// сохранить ни одного изображения, списанные кредиты возвращаются.
func (s *Service) StartGeneration(ctx context.Context, userID int64, in StartGenerationInput) (*GenerationResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	creditsRequired := CreditsRequired(in.HighRes, in.NumVariations)
	designID := uuid.NewString()

	_, _, err := s.repo.Deduct(ctx, userID, creditsRequired, "design generation", &designID)
	if err != nil {
		// ErrInsufficientCredits — ожидаемый бизнес-исход, не повод для ретрая.
		return nil, err
	}

	// После списания жизненный цикл не должен обрываться отменой запроса:
	// обрыв соединения клиентом оставил бы оплаченный дизайн в PROCESSING.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lifecycleTimeout)
	defer cancel()

	originalKey := fmt.Sprintf("designs/%s/original%s", designID, extForContentType(in.ImageContentType))
	original, err := s.blobs.Upload(ctx, in.ImageData, originalKey, in.ImageContentType)
	if err != nil {
		s.refund(ctx, userID, creditsRequired, designID, "Generation failed")
		return nil, fmt.Errorf("upload original image: %w", err)
	}

	design := &model.Design{
		ID:               designID,
		UserID:           userID,
		Status:           model.DesignStatusProcessing,
		CreditsUsed:      creditsRequired,
		OriginalImageKey: original.Key,
		OriginalImageURL: original.URL,
		Style:            in.Style,
		RoomType:         in.RoomType,
		Instructions:     validation.SanitizeInstructions(in.Instructions),
	}

	if err := s.repo.CreateDesign(ctx, design); err != nil {
		// Хранилище дизайнов недоступно: компенсировать нечем, состояние
		// неконсистентно ровно настолько, насколько недоступна сама БД.
		return nil, fmt.Errorf("create design: %w", err)
	}

	genResult := s.orch.Generate(ctx, provider.GenerationInput{
		ReferenceImageURL: original.URL,
		Style:             design.Style,
		RoomType:          design.RoomType,
		Instructions:      design.Instructions,
	}, in.NumVariations)

	saved := s.persistImages(ctx, design, genResult.Images)

	if len(saved) == 0 {
		msg := "no images could be generated or stored"
		if err := s.repo.FinalizeDesign(ctx, designID, model.DesignStatusFailed, &msg); err != nil {
			s.logger.Error("finalize failed design", zap.String("designID", designID), zap.Error(err))
		}
		s.refund(ctx, userID, creditsRequired, designID, "Generation failed")

		design.Status = model.DesignStatusFailed
		design.ErrorMessage = &msg
		return &GenerationResult{Design: *design, Outcome: genResult.Outcome}, nil
	}

	if err := s.repo.FinalizeDesign(ctx, designID, model.DesignStatusCompleted, nil); err != nil {
		return nil, fmt.Errorf("finalize design: %w", err)
	}

	design.Status = model.DesignStatusCompleted
	return &GenerationResult{
		Design:  *design,
		Images:  saved,
		Outcome: genResult.Outcome,
	}, nil
}

func validateInput(in StartGenerationInput) error {
	if len(in.ImageData) == 0 {
		return fmt.Errorf("%w: image is required", ErrInvalidInput)
	}
	if !validation.IsValidStyle(in.Style) {
		return fmt.Errorf("%w: unsupported style %q", ErrInvalidInput, in.Style)
	}
	if !validation.IsValidRoomType(in.RoomType) {
		return fmt.Errorf("%w: unsupported room type %q", ErrInvalidInput, in.RoomType)
	}
	if !validation.IsValidNumVariations(in.NumVariations) {
		return fmt.Errorf("%w: numVariations must be between 1 and %d", ErrInvalidInput, validation.MaxVariations)
	}
	return nil
}

// persistImages сохраняет результаты генерации: скачивает/загружает изображения
// в хранилище и создаёт строки в БД. Загрузки идут параллельно с ограничением;
// сбой одного изображения логируется и не отменяет остальные. Заглушки не
// загружаются заново — они ссылаются на исходное изображение дизайна.
func (s *Service) persistImages(ctx context.Context, design *model.Design, rawImages []provider.RawImage) []model.GeneratedImage {
	var (
		mu    sync.Mutex
		saved []model.GeneratedImage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUploads)

	for _, raw := range rawImages {
		raw := raw
		g.Go(func() error {
			img, err := s.persistOne(gctx, design, raw)
			if err != nil {
				s.logger.Warn("persist generated image failed",
					zap.String("designID", design.ID),
					zap.String("provider", raw.Provider),
					zap.Int("variation", raw.Index),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			saved = append(saved, *img)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return saved
}

func (s *Service) persistOne(ctx context.Context, design *model.Design, raw provider.RawImage) (*model.GeneratedImage, error) {
	img := &model.GeneratedImage{
		ID:             uuid.NewString(),
		DesignID:       design.ID,
		Provider:       raw.Provider,
		Model:          raw.Model,
		VariationIndex: raw.Index,
		IsPlaceholder:  raw.IsPlaceholder,
	}

	if raw.IsPlaceholder {
		img.ImageKey = design.OriginalImageKey
		img.ImageURL = design.OriginalImageURL
	} else {
		data := raw.Data
		contentType := raw.ContentType

		if len(data) == 0 {
			var err error
			data, contentType, err = s.fetchImage(ctx, raw.URL)
			if err != nil {
				return nil, fmt.Errorf("fetch image: %w", err)
			}
		}
		if contentType == "" {
			contentType = "image/png"
		}

		key := fmt.Sprintf("designs/%s/variation-%d%s", design.ID, raw.Index, extForContentType(contentType))
		res, err := s.blobs.Upload(ctx, data, key, contentType)
		if err != nil {
			return nil, fmt.Errorf("upload image: %w", err)
		}
		img.ImageKey = res.Key
		img.ImageURL = res.URL
	}

	if err := s.repo.CreateGeneratedImage(ctx, img); err != nil {
		return nil, fmt.Errorf("create image row: %w", err)
	}

	return img, nil
}

// fetchImage скачивает изображение по URL, выданному провайдером.
// Здесь ретраи безопасны: это не повторный вызов провайдера, а обычный GET.
func (s *Service) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := s.fetchClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image body")
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// refund возвращает кредиты за неудавшуюся генерацию.
// Возврат — компенсация по возможности: его собственный сбой логируется,
// но не перекрывает исходную причину отказа. Идемпотентность по designID
// гарантирует репозиторий.
func (s *Service) refund(ctx context.Context, userID, amount int64, designID, reason string) {
	backoff := retry.WithMaxRetries(2, retry.NewConstant(time.Second))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := s.repo.Refund(ctx, userID, amount, designID, reason); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("refund failed",
			zap.Int64("userID", userID),
			zap.Int64("amount", amount),
			zap.String("designID", designID),
			zap.Error(err),
		)
	}
}

// GetDesign возвращает дизайн пользователя вместе с изображениями.
func (s *Service) GetDesign(ctx context.Context, designID string, userID int64) (*model.Design, []model.GeneratedImage, error) {
	design, err := s.repo.GetDesignByID(ctx, designID, userID)
	if err != nil {
		return nil, nil, err
	}

	images, err := s.repo.GetImagesByDesign(ctx, designID)
	if err != nil {
		return nil, nil, err
	}

	return design, images, nil
}

// GetDesignsByUser возвращает дизайны пользователя.
func (s *Service) GetDesignsByUser(ctx context.Context, userID int64) ([]model.Design, error) {
	return s.repo.GetDesignsByUser(ctx, userID)
}

// SetImageFavorite устанавливает отметку «избранное» на изображении пользователя.
func (s *Service) SetImageFavorite(ctx context.Context, imageID string, userID int64, favorite bool) error {
	return s.repo.SetImageFavorite(ctx, imageID, userID, favorite)
}

// StartMonthlyGrants запускает фоновый процесс ежемесячных начислений.
// Обход идемпотентен: начисление за месяц выполняется не более одного раза,
// поэтому перезапуски и пересечения циклов безопасны.
func (s *Service) StartMonthlyGrants(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processMonthlyGrants(ctx)
			}
		}
	}()
}

func (s *Service) processMonthlyGrants(ctx context.Context) {
	if s.monthlyCredits <= 0 {
		return
	}

	users, err := s.repo.GetUsersForMonthlyGrant(ctx, 100)
	if err != nil {
		s.logger.Error("select users for monthly grant", zap.Error(err))
		return
	}

	granted := 0
	for _, userID := range users {
		ok, err := s.repo.GrantMonthly(ctx, userID, s.monthlyCredits)
		if err != nil {
			s.logger.Warn("monthly grant failed", zap.Int64("userID", userID), zap.Error(err))
			continue
		}
		if ok {
			granted++
		}
	}

	if granted > 0 {
		s.logger.Info("monthly credits granted", zap.Int("users", granted))
	}
}

func extForContentType(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/png":
		return ".png"
	default:
		return ".img"
	}
}

// Убеждаемся, что реализации удовлетворяют контрактам сервиса.
var (
	_ Repository   = (*repository.PostgresRepository)(nil)
	_ BlobStore    = (*blobstore.Client)(nil)
	_ Orchestrator = (*orchestrator.Orchestrator)(nil)
)
