package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/subdivisync/internal/database"
	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/lib/pq"
)

// SecurityRecordRepository persists lockout state in the user_security table
type SecurityRecordRepository struct {
	db *database.DB
}

// NewSecurityRecordRepository creates a new SecurityRecordRepository
func NewSecurityRecordRepository(db *database.DB) *SecurityRecordRepository {
	return &SecurityRecordRepository{db: db}
}

const securityRecordColumns = `id, user_id, failed_login_count, account_locked,
	locked_at, locked_by, locked_reason, unlocked_at, unlocked_by, unlock_reason,
	unlock_token, unlock_token_expires, last_login_attempt, last_successful_login,
	ip_address, lock_email_sent, unlock_request, created_at, updated_at`

func scanSecurityRecord(scanner rowScanner) (*models.SecurityRecord, error) {
	var rec models.SecurityRecord
	var unlockRequest []byte

	err := scanner.Scan(
		&rec.ID, &rec.UserID, &rec.FailedLoginCount, &rec.AccountLocked,
		&rec.LockedAt, &rec.LockedBy, &rec.LockedReason,
		&rec.UnlockedAt, &rec.UnlockedBy, &rec.UnlockReason,
		&rec.UnlockToken, &rec.UnlockTokenExpires,
		&rec.LastLoginAttempt, &rec.LastSuccessfulLogin,
		&rec.IPAddress, &rec.LockEmailSent, &unlockRequest,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(unlockRequest) > 0 {
		var req models.UnlockRequest
		if err := json.Unmarshal(unlockRequest, &req); err != nil {
			return nil, fmt.Errorf("failed to decode unlock request: %w", err)
		}
		rec.UnlockRequest = &req
	}

	return &rec, nil
}

func encodeUnlockRequest(req *models.UnlockRequest) ([]byte, error) {
	if req == nil {
		return nil, nil
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode unlock request: %w", err)
	}
	return data, nil
}

// FindOne returns the record keyed by userID, or models.ErrNotFound
func (r *SecurityRecordRepository) FindOne(ctx context.Context, userID string) (*models.SecurityRecord, error) {
	query := `SELECT ` + securityRecordColumns + ` FROM user_security WHERE user_id = $1`
	return scanSecurityRecord(r.db.Pool.QueryRow(ctx, query, userID))
}

// FindByAnyUserID returns the first record whose user_id matches one of keys,
// honouring the order of keys. Used to locate records stored under legacy keys.
func (r *SecurityRecordRepository) FindByAnyUserID(ctx context.Context, keys []string) (*models.SecurityRecord, error) {
	if len(keys) == 0 {
		return nil, models.ErrNotFound
	}

	query := `
		SELECT ` + securityRecordColumns + `
		FROM user_security
		WHERE user_id = ANY($1::text[])
		ORDER BY array_position($1::text[], user_id)
		LIMIT 1`

	return scanSecurityRecord(r.db.Pool.QueryRow(ctx, query, pq.Array(keys)))
}

// Create inserts a new record. Returns models.ErrConflict when a record for
// the same user_id already exists.
func (r *SecurityRecordRepository) Create(ctx context.Context, rec *models.SecurityRecord) (*models.SecurityRecord, error) {
	rec.Normalize()

	unlockRequest, err := encodeUnlockRequest(rec.UnlockRequest)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	query := `
		INSERT INTO user_security (
			user_id, failed_login_count, account_locked,
			locked_at, locked_by, locked_reason, unlocked_at, unlocked_by, unlock_reason,
			unlock_token, unlock_token_expires, last_login_attempt, last_successful_login,
			ip_address, lock_email_sent, unlock_request, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		RETURNING ` + securityRecordColumns

	return scanSecurityRecord(r.db.Pool.QueryRow(ctx, query,
		rec.UserID, rec.FailedLoginCount, rec.AccountLocked,
		rec.LockedAt, rec.LockedBy, rec.LockedReason,
		rec.UnlockedAt, rec.UnlockedBy, rec.UnlockReason,
		rec.UnlockToken, rec.UnlockTokenExpires,
		rec.LastLoginAttempt, rec.LastSuccessfulLogin,
		rec.IPAddress, rec.LockEmailSent, unlockRequest, now,
	))
}

// Save writes every field of rec back to its row (matched by id, so a
// corrected user_id is persisted too).
func (r *SecurityRecordRepository) Save(ctx context.Context, rec *models.SecurityRecord) (*models.SecurityRecord, error) {
	rec.Normalize()

	unlockRequest, err := encodeUnlockRequest(rec.UnlockRequest)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE user_security SET
			user_id = $2, failed_login_count = $3, account_locked = $4,
			locked_at = $5, locked_by = $6, locked_reason = $7,
			unlocked_at = $8, unlocked_by = $9, unlock_reason = $10,
			unlock_token = $11, unlock_token_expires = $12,
			last_login_attempt = $13, last_successful_login = $14,
			ip_address = $15, lock_email_sent = $16, unlock_request = $17,
			updated_at = $18
		WHERE id = $1
		RETURNING ` + securityRecordColumns

	return scanSecurityRecord(r.db.Pool.QueryRow(ctx, query,
		rec.ID, rec.UserID, rec.FailedLoginCount, rec.AccountLocked,
		rec.LockedAt, rec.LockedBy, rec.LockedReason,
		rec.UnlockedAt, rec.UnlockedBy, rec.UnlockReason,
		rec.UnlockToken, rec.UnlockTokenExpires,
		rec.LastLoginAttempt, rec.LastSuccessfulLogin,
		rec.IPAddress, rec.LockEmailSent, unlockRequest, time.Now(),
	))
}

// UpdateMany applies patch to every record matching filter in a single
// statement and returns the number of rows changed.
func (r *SecurityRecordRepository) UpdateMany(ctx context.Context, filter models.SecurityRecordFilter, patch models.SecurityRecordPatch) (int64, error) {
	if patch.IsEmpty() {
		return 0, nil
	}

	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.FailedLoginCount != nil {
		set("failed_login_count", *patch.FailedLoginCount)
	}
	if patch.AccountLocked != nil {
		set("account_locked", *patch.AccountLocked)
	}
	if patch.UnlockedAt != nil {
		set("unlocked_at", *patch.UnlockedAt)
	}
	if patch.UnlockReason != nil {
		set("unlock_reason", *patch.UnlockReason)
	}
	if patch.LockEmailSent != nil {
		set("lock_email_sent", *patch.LockEmailSent)
	}
	if patch.ClearLock {
		sets = append(sets,
			"locked_at = NULL", "locked_by = NULL", "locked_reason = NULL",
			"unlock_token = NULL", "unlock_token_expires = NULL", "unlock_request = NULL",
		)
	}
	set("updated_at", time.Now())

	where, args := buildSecurityRecordWhere(filter, args)
	query := `UPDATE user_security SET ` + strings.Join(sets, ", ") + where

	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of records matching filter
func (r *SecurityRecordRepository) Count(ctx context.Context, filter models.SecurityRecordFilter) (int, error) {
	where, args := buildSecurityRecordWhere(filter, nil)
	query := `SELECT COUNT(*) FROM user_security` + where

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// Find lists records matching filter, most recently locked first
func (r *SecurityRecordRepository) Find(ctx context.Context, filter models.SecurityRecordFilter, limit, offset int) ([]*models.SecurityRecord, error) {
	where, args := buildSecurityRecordWhere(filter, nil)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM user_security%s
		ORDER BY locked_at DESC NULLS LAST, updated_at DESC
		LIMIT $%d OFFSET $%d`, securityRecordColumns, where, len(args)-1, len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security records: %w", err)
	}
	defer rows.Close()

	var records []*models.SecurityRecord
	for rows.Next() {
		rec, err := scanSecurityRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// buildSecurityRecordWhere renders filter as a WHERE clause, appending its
// parameters after the ones already in args.
func buildSecurityRecordWhere(filter models.SecurityRecordFilter, args []interface{}) (string, []interface{}) {
	var conds []string

	if filter.UserIDs != nil {
		args = append(args, pq.Array(filter.UserIDs))
		conds = append(conds, fmt.Sprintf("user_id = ANY($%d::text[])", len(args)))
	}
	if filter.AccountLocked != nil {
		args = append(args, *filter.AccountLocked)
		conds = append(conds, fmt.Sprintf("account_locked = $%d", len(args)))
	}
	if filter.LockEmailSent != nil {
		args = append(args, *filter.LockEmailSent)
		conds = append(conds, fmt.Sprintf("lock_email_sent = $%d", len(args)))
	}
	if filter.LockedBefore != nil {
		args = append(args, *filter.LockedBefore)
		conds = append(conds, fmt.Sprintf("locked_at < $%d", len(args)))
	}
	if filter.NeedsReset {
		conds = append(conds, "(failed_login_count > 0 OR account_locked = true)")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
