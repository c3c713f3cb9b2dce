package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/roomdesign-system/internal/model"
)

// MonthlyGrantDescription — каноническое описание ежемесячного бесплатного начисления.
// По нему же проверяется, было ли начисление в текущем календарном месяце.
const MonthlyGrantDescription = "monthly free credits"

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumBalance(ctx context.Context, q queryRower, userID int64) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return balance, nil
}

// GetBalance возвращает текущий баланс пользователя как сумму всех записей леджера.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return sumBalance(ctx, r.pool, userID)
}

// Deduct списывает кредиты с баланса пользователя.
// Чтение баланса и добавление записи выполняются в одной транзакции под блокировкой
// строки пользователя: два конкурентных списания не могут оба пройти по одному остатку.
// Возвращает новый баланс и идентификатор созданной записи леджера.
func (r *PostgresRepository) Deduct(ctx context.Context, userID, amount int64, description string, relatedID *string) (int64, int64, error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	var newBalance, entryID int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		balance, err := sumBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if balance < amount {
			return ErrInsufficientCredits
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO ledger_entries (user_id, amount, kind, description, related_id)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			userID, -amount, string(model.EntryKindSpent), description, relatedID,
		).Scan(&entryID)
		if err != nil {
			return fmt.Errorf("insert debit entry: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		newBalance = balance - amount
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return newBalance, entryID, nil
}

// Add добавляет пользователю положительную запись леджера указанного типа.
// Понятия «недостаточно средств» для пополнения нет, операция всегда успешна.
func (r *PostgresRepository) Add(ctx context.Context, userID, amount int64, kind model.EntryKind, description string, relatedID *string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("add amount must be positive, got %d", amount)
	}

	var newBalance int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		balance, err := sumBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, amount, kind, description, related_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			userID, amount, string(kind), description, relatedID,
		)
		if err != nil {
			return fmt.Errorf("insert credit entry: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		newBalance = balance + amount
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// Refund возвращает пользователю кредиты за неудавшуюся генерацию.
// Операция идемпотентна по relatedID: если запись REFUNDED с таким relatedID
// уже существует, повторный вызов ничего не добавляет и возвращает текущий баланс.
func (r *PostgresRepository) Refund(ctx context.Context, userID, amount int64, relatedID, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	var newBalance int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
			     SELECT 1 FROM ledger_entries
			     WHERE user_id = $1 AND kind = $2 AND related_id = $3
			 )`,
			userID, string(model.EntryKindRefunded), relatedID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check existing refund: %w", err)
		}

		balance, err := sumBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if exists {
			newBalance = balance
			return tx.Commit(ctx)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, amount, kind, description, related_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			userID, amount, string(model.EntryKindRefunded), reason, relatedID,
		)
		if err != nil {
			return fmt.Errorf("insert refund entry: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		newBalance = balance + amount
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// GrantMonthly начисляет пользователю ежемесячные бесплатные кредиты.
// Начисление выполняется не более одного раза за календарный месяц: проверка
// и вставка идут под блокировкой строки пользователя, поэтому конкурентные
// вызовы не могут начислить дважды. Возвращает признак того, что начисление
// произошло в этом вызове.
func (r *PostgresRepository) GrantMonthly(ctx context.Context, userID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, nil
	}

	var granted bool

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
			     SELECT 1 FROM ledger_entries
			     WHERE user_id = $1
			       AND kind = $2
			       AND description = $3
			       AND created_at >= date_trunc('month', now())
			 )`,
			userID, string(model.EntryKindEarned), MonthlyGrantDescription,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check existing grant: %w", err)
		}

		if exists {
			granted = false
			return tx.Commit(ctx)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, amount, kind, description)
			 VALUES ($1, $2, $3, $4)`,
			userID, amount, string(model.EntryKindEarned), MonthlyGrantDescription,
		)
		if err != nil {
			return fmt.Errorf("insert grant entry: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		granted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return granted, nil
}

// GetLedgerEntries возвращает историю движений кредитов пользователя, новые записи первыми.
func (r *PostgresRepository) GetLedgerEntries(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, kind, description, related_id, created_at
		 FROM ledger_entries
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var (
			e         model.LedgerEntry
			kind      string
			relatedID *string
			createdAt time.Time
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &kind, &e.Description, &relatedID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.EntryKind(kind)
		e.RelatedID = relatedID
		e.CreatedAt = createdAt
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetUsersForMonthlyGrant возвращает пользователей, у которых ещё нет начисления за текущий месяц.
func (r *PostgresRepository) GetUsersForMonthlyGrant(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id
		 FROM users u
		 WHERE NOT EXISTS (
		     SELECT 1 FROM ledger_entries e
		     WHERE e.user_id = u.id
		       AND e.kind = $1
		       AND e.description = $2
		       AND e.created_at >= date_trunc('month', now())
		 )
		 ORDER BY u.id
		 LIMIT $3`,
		string(model.EntryKindEarned), MonthlyGrantDescription, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select users for grant: %w", err)
	}
	defer rows.Close()

	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
