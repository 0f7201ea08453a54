package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/taskmanager/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pgUniqueViolation = "23505"

const userColumns = `id, email, password_hash, google_id, display_name, avatar,
	is_active, last_login, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// isUniqueViolation はエラーが一意制約違反かどうかを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var googleID sql.NullString
	var lastLogin sql.NullTime
	if err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &googleID, &user.DisplayName, &user.Avatar,
		&user.IsActive, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.GoogleID = nullStringValue(googleID)
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		user.LastLogin = &t
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !isUUID(id) {
		return nil, nil
	}
	user, err := r.findOne(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, "email = $1", email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByGoogleID はGoogleアカウントIDでユーザーを検索する。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	user, err := r.findOne(ctx, "google_id = $1", googleID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。IDが空の場合はUUIDを採番する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Email, user.PasswordHash, nullString(user.GoogleID), user.DisplayName, user.Avatar,
		user.IsActive, user.LastLogin, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はユーザーのパスワード以外の可変フィールドを保存する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET
		    email = $2, google_id = $3, display_name = $4, avatar = $5,
		    is_active = $6, last_login = $7, updated_at = $8
		 WHERE id = $1`,
		user.ID, user.Email, nullString(user.GoogleID), user.DisplayName, user.Avatar,
		user.IsActive, user.LastLogin, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// LinkGoogle はGoogle連携で補完するフィールドとlast_loginのみを更新する。空の値は既存値を残す。
func (r *PostgresUserRepo) LinkGoogle(ctx context.Context, id string, link model.GoogleLink, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET
		    google_id = COALESCE($2, google_id),
		    display_name = COALESCE(NULLIF($3::text, ''), display_name),
		    avatar = COALESCE(NULLIF($4::text, ''), avatar),
		    last_login = $5,
		    updated_at = $5
		 WHERE id = $1`,
		id, nullString(link.GoogleID), link.DisplayName, link.Avatar, at,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to link google account: %w", err)
	}
	return nil
}

// UpdateProfile は表示名とアバターを部分更新し、更新後のユーザーを返す。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, patch model.ProfilePatch, updatedAt time.Time) (*model.User, error) {
	if !isUUID(id) {
		return nil, nil
	}
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET
		    display_name = COALESCE($2, display_name),
		    avatar = COALESCE($3, avatar),
		    updated_at = $4
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, patch.DisplayName, patch.Avatar, updatedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	return user, nil
}

// UpdatePassword はパスワードハッシュを置き換える。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// UpdateLastLogin は最終ログイン日時を更新する。updated_atは変更しない。
func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// Count は全ユーザー数を返す。
func (r *PostgresUserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresUserRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// DeleteAccount はユーザーのタスクとユーザー自身を同一トランザクションで削除する。
// 削除したタスク数を返す。
func (r *PostgresUserRepo) DeleteAccount(ctx context.Context, userID string) (int64, error) {
	if !isUUID(userID) {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return 0, fmt.Errorf("failed to delete user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return deleted, nil
}

// nullString は空文字をNULLに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はNULLを空文字に変換する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// isUUID はUUID列に渡せる形式かどうかを返す。不正な値はクエリ前に未検出として扱う。
func isUUID(s string) bool {
	return uuid.Validate(s) == nil
}

// compile-time interface check
var (
	_ UserRepository    = (*PostgresUserRepo)(nil)
	_ AccountRepository = (*PostgresUserRepo)(nil)
	_ Pinger            = (*PostgresUserRepo)(nil)
)
