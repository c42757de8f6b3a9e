// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/gatekeeper/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 見つからない場合の検索系メソッドは nil, nil を返す。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByExternalID は外部IdPのユーザーIDでユーザーを検索する。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDと作成日時をuserに設定する。
	// 一意制約違反は model.ErrDuplicateEmail / model.ErrDuplicateExternalID を返す。
	Create(ctx context.Context, user *model.User) error

	// Update は名前とメールアドレスのみを更新し、更新後のユーザーを返す。
	Update(ctx context.Context, id int64, name, email string) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id int64) error

	// List は作成日時の降順でユーザー一覧を返す。
	List(ctx context.Context, limit, offset int) ([]*model.User, error)

	// Count はユーザーの総数を返す。
	Count(ctx context.Context) (int, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。IDが衝突した場合は model.ErrDuplicateSessionID を返す。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 期限切れの判定は呼び出し側で行う。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID int64) error

	// ListIDsByUserID は指定ユーザーの全セッションIDを返す。
	ListIDsByUserID(ctx context.Context, userID int64) ([]string, error)

	// DeleteExpired は now 時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
