package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// initialBackoff は接続リトライの初回遅延。
	initialBackoff = 500 * time.Millisecond
	// maxBackoff は接続リトライの最大遅延。
	maxBackoff = 8 * time.Second
)

// Pinger はPingContextを持つ接続。*sql.DB が実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大8秒。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// WaitForDB は接続確認が成功するまで最大attempts回リトライする。
// コンテナ起動直後などDBがまだ受け付けていない場合に使う。
// attemptsが1以下なら1回だけ確認する。
func WaitForDB(ctx context.Context, db Pinger, attempts int) error {
	return waitForDB(ctx, db, attempts, time.After)
}

func waitForDB(ctx context.Context, db Pinger, attempts int, after func(time.Duration) <-chan time.Time) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		delay := CalculateBackoff(i)
		slog.Warn("データベースに接続できません。リトライします",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-after(delay):
		}
	}
	return fmt.Errorf("database not reachable after %d attempts: %w", attempts, err)
}
