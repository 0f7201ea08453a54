// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
)

// ErrDuplicateKey は一意制約（email、googleId）に違反した場合に返される。
var ErrDuplicateKey = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
// Find系メソッドは見つからない場合に(nil, nil)を返す。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。不正な形式のIDも未検出として扱う。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを検索する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByGoogleID はGoogleアカウントIDでユーザーを検索する。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// Create はユーザーを作成し、user.IDを採番する。
	// 一意制約違反の場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーの可変フィールド（パスワード以外のプロフィール、googleId、lastLogin）を保存する。
	Update(ctx context.Context, user *model.User) error

	// LinkGoogle はlinkの空でないフィールドとlastLogin・updatedAtのみを更新する。
	// 他のフィールドは書き換えないため、並行するプロフィール更新を上書きしない。
	// googleIdの一意制約違反の場合はErrDuplicateKeyを返す。
	LinkGoogle(ctx context.Context, id string, link model.GoogleLink, at time.Time) error

	// UpdateProfile はプロフィールを部分更新し、更新後のユーザーを返す。
	UpdateProfile(ctx context.Context, id string, patch model.ProfilePatch, updatedAt time.Time) (*model.User, error)

	// UpdatePassword はパスワードハッシュを置き換える。
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error

	// UpdateLastLogin は最終ログイン日時のみを更新する。
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// Count は全ユーザー数を返す。
	Count(ctx context.Context) (int64, error)
}

// SortField はタスク一覧の並び替えキー。
type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortByUpdatedAt SortField = "updatedAt"
	SortByDueDate   SortField = "dueDate"
	SortByPriority  SortField = "priority"
	SortByTitle     SortField = "title"
)

// TaskFilter はタスク一覧の絞り込み条件。nil/空のフィールドは条件にしない。
type TaskFilter struct {
	IsCompleted *bool
	Priority    *model.Priority
	Category    *string
}

// TaskListQuery はタスク一覧の検索条件。
type TaskListQuery struct {
	Filter     TaskFilter
	SortBy     SortField
	Descending bool
	Offset     int
	Limit      int
}

// TaskRepository はタスクデータの永続化インターフェース。
// すべての検索・更新は所有者（userID）でスコープされる。
type TaskRepository interface {
	// ValidID はIDがこのストアで有効な形式かどうかを返す。
	ValidID(id string) bool

	// Create はタスクを作成し、task.IDを採番する。
	Create(ctx context.Context, task *model.Task) error

	// FindByID は所有者のタスクを取得する。見つからない場合は(nil, nil)。
	FindByID(ctx context.Context, userID, id string) (*model.Task, error)

	// List は条件に一致するタスクのページと、条件に一致する総件数を返す。
	List(ctx context.Context, userID string, q TaskListQuery) ([]*model.Task, int64, error)

	// Update は部分更新を1回のアトミックな操作で適用し、更新後のタスクを返す。
	// 見つからない場合は(nil, nil)。
	Update(ctx context.Context, userID, id string, u model.TaskUpdate) (*model.Task, error)

	// ToggleCompletion は完了状態を反転し、completedAtを設定またはクリアする。
	// 見つからない場合は(nil, nil)。
	ToggleCompletion(ctx context.Context, userID, id string, at time.Time) (*model.Task, error)

	// Delete は所有者のタスクを削除する。削除した場合はtrue。
	Delete(ctx context.Context, userID, id string) (bool, error)

	// ListOverdue は未完了かつ期限がnowより前のタスクを期限昇順で返す。
	ListOverdue(ctx context.Context, userID string, now time.Time) ([]*model.Task, error)

	// ListDueBetween は未完了かつ期限がfrom以上to以下のタスクを期限昇順で返す。
	ListDueBetween(ctx context.Context, userID string, from, to time.Time) ([]*model.Task, error)

	// Counts は所有者のタスク総数・完了数・期限切れ数を返す。
	Counts(ctx context.Context, userID string, now time.Time) (model.TaskCounts, error)

	// CountByPriority は優先度ごとの件数を返す。
	CountByPriority(ctx context.Context, userID string) ([]model.GroupCount, error)

	// CountByCategory は空でないカテゴリごとの件数を返す。
	CountByCategory(ctx context.Context, userID string) ([]model.GroupCount, error)

	// CountCreatedSince はsince以降に作成されたタスク数を返す。
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error)

	// DailyCreated はsince以降に作成されたタスクをUTC日付ごとに集計する。
	DailyCreated(ctx context.Context, userID string, since time.Time) ([]model.DailyCount, error)

	// RecentActivity はsince以降に作成または更新されたタスクを新しい順にlimit件返す。
	RecentActivity(ctx context.Context, userID string, since time.Time, limit int) ([]model.Activity, error)

	// BulkUpdate はids中の所有タスクに更新を適用し、対象件数を返す。
	BulkUpdate(ctx context.Context, userID string, ids []string, u model.TaskUpdate) (int64, error)

	// BulkDelete はids中の所有タスクを削除し、削除件数を返す。
	BulkDelete(ctx context.Context, userID string, ids []string) (int64, error)

	// GlobalCounts は全ユーザーを対象にしたタスク件数を返す。
	GlobalCounts(ctx context.Context, now time.Time) (model.TaskCounts, error)
}

// AccountRepository はアカウント削除のように複数コレクションにまたがる操作を提供する。
type AccountRepository interface {
	// DeleteAccount はユーザーの全タスクを削除した後にユーザーを削除する。
	// 実装はトランザクション内で実行し、途中失敗時に孤児データを残さない。
	// 削除したタスク数を返す。ユーザーが存在しない場合は(0, nil)。
	DeleteAccount(ctx context.Context, userID string) (int64, error)
}

// Pinger はストアの疎通確認インターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store は1つのバックエンドに対するリポジトリ一式。
type Store struct {
	Users    UserRepository
	Tasks    TaskRepository
	Accounts AccountRepository
	Health   Pinger
	Close    func(ctx context.Context) error
}
