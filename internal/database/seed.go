package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// seedUsersSQL は開発用のデモユーザーを投入する。
// external_idの重複は無視するため、何度実行しても同じ結果になる。
const seedUsersSQL = `
	INSERT INTO users (name, email, picture_url, external_id, created_at, updated_at) VALUES
		('Alice Example', 'alice@example.com', 'https://i.pravatar.cc/150?img=1', 'googleid_alice', now(), now()),
		('Bob Example', 'bob@example.com', 'https://i.pravatar.cc/150?img=2', 'googleid_bob', now(), now())
	ON CONFLICT (external_id) DO NOTHING`

// Seed は開発用のデモユーザーを投入し、新規に作成した件数を返す。
func Seed(ctx context.Context, db Executor) (int64, error) {
	result, err := db.ExecContext(ctx, seedUsersSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to seed users: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
