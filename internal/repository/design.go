package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/roomdesign-system/internal/model"
)

// CreateDesign сохраняет новый запрос на генерацию в статусе PROCESSING.
func (r *PostgresRepository) CreateDesign(ctx context.Context, d *model.Design) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO designs (id, user_id, status, credits_used, original_image_key, original_image_url, style, room_type, instructions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.UserID, string(d.Status), d.CreditsUsed,
		d.OriginalImageKey, d.OriginalImageURL, d.Style, d.RoomType, d.Instructions,
	)
	if err != nil {
		return fmt.Errorf("insert design: %w", err)
	}
	return nil
}

// FinalizeDesign переводит дизайн из PROCESSING в терминальный статус.
// Условное обновление гарантирует, что переход выполняется ровно один раз:
// повторная попытка завершить уже завершённый дизайн возвращает ErrDesignFinalized.
func (r *PostgresRepository) FinalizeDesign(ctx context.Context, designID string, status model.DesignStatus, errorMessage *string) error {
	if status != model.DesignStatusCompleted && status != model.DesignStatusFailed {
		return fmt.Errorf("status %s is not terminal", status)
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE designs SET status = $2, error_message = $3 WHERE id = $1 AND status = $4`,
		designID, string(status), errorMessage, string(model.DesignStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("update design status: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM designs WHERE id = $1)`, designID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check design exists: %w", err)
		}
		if !exists {
			return ErrDesignNotFound
		}
		return ErrDesignFinalized
	}

	return nil
}

// CreateGeneratedImage сохраняет одно сгенерированное изображение дизайна.
func (r *PostgresRepository) CreateGeneratedImage(ctx context.Context, img *model.GeneratedImage) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO generated_images (id, design_id, image_key, image_url, provider, model, variation_index, is_placeholder)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		img.ID, img.DesignID, img.ImageKey, img.ImageURL,
		img.Provider, img.Model, img.VariationIndex, img.IsPlaceholder,
	)
	if err != nil {
		return fmt.Errorf("insert generated image: %w", err)
	}
	return nil
}

// GetDesignByID возвращает дизайн пользователя по идентификатору.
// Дизайны других пользователей не видны.
func (r *PostgresRepository) GetDesignByID(ctx context.Context, designID string, userID int64) (*model.Design, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, status, credits_used, original_image_key, original_image_url,
		        style, room_type, instructions, error_message, created_at
		 FROM designs
		 WHERE id = $1 AND user_id = $2`,
		designID, userID,
	)

	var (
		d      model.Design
		status string
	)
	err := row.Scan(&d.ID, &d.UserID, &status, &d.CreditsUsed, &d.OriginalImageKey, &d.OriginalImageURL,
		&d.Style, &d.RoomType, &d.Instructions, &d.ErrorMessage, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDesignNotFound
		}
		return nil, fmt.Errorf("get design: %w", err)
	}
	d.Status = model.DesignStatus(status)

	return &d, nil
}

// GetDesignsByUser возвращает дизайны пользователя, новые первыми.
func (r *PostgresRepository) GetDesignsByUser(ctx context.Context, userID int64) ([]model.Design, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, status, credits_used, original_image_key, original_image_url,
		        style, room_type, instructions, error_message, created_at
		 FROM designs
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select designs: %w", err)
	}
	defer rows.Close()

	var res []model.Design
	for rows.Next() {
		var (
			d      model.Design
			status string
		)
		if err := rows.Scan(&d.ID, &d.UserID, &status, &d.CreditsUsed, &d.OriginalImageKey, &d.OriginalImageURL,
			&d.Style, &d.RoomType, &d.Instructions, &d.ErrorMessage, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan design: %w", err)
		}
		d.Status = model.DesignStatus(status)
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetImagesByDesign возвращает изображения дизайна в порядке вариаций.
func (r *PostgresRepository) GetImagesByDesign(ctx context.Context, designID string) ([]model.GeneratedImage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, design_id, image_key, image_url, provider, model, variation_index, is_placeholder, is_favorite, created_at
		 FROM generated_images
		 WHERE design_id = $1
		 ORDER BY variation_index`,
		designID,
	)
	if err != nil {
		return nil, fmt.Errorf("select generated images: %w", err)
	}
	defer rows.Close()

	var res []model.GeneratedImage
	for rows.Next() {
		var img model.GeneratedImage
		if err := rows.Scan(&img.ID, &img.DesignID, &img.ImageKey, &img.ImageURL, &img.Provider,
			&img.Model, &img.VariationIndex, &img.IsPlaceholder, &img.IsFavorite, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated image: %w", err)
		}
		res = append(res, img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetImageFavorite устанавливает отметку «избранное» на изображении пользователя.
func (r *PostgresRepository) SetImageFavorite(ctx context.Context, imageID string, userID int64, favorite bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE generated_images gi
		 SET is_favorite = $3
		 FROM designs d
		 WHERE gi.id = $1 AND gi.design_id = d.id AND d.user_id = $2`,
		imageID, userID, favorite,
	)
	if err != nil {
		return fmt.Errorf("update image favorite: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrImageNotFound
	}

	return nil
}
