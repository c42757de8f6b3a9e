// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 有効期限を過ぎたセッションと、保持する必要のなくなった失効エントリを
// 一定間隔で削除する。検証側は期限切れを常に無効と判定するため、
// このジョブは記憶領域の回収のみを担い、正しさには影響しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/gatekeeper/internal/session"
)

// DefaultInterval は掃除の実行間隔のデフォルト値。
const DefaultInterval = 15 * time.Minute

// Sweeper は期限切れデータの削除を行う。session.Manager が実装する。
type Sweeper interface {
	SweepExpired(ctx context.Context) (session.SweepResult, error)
}

// SweepJob は期限切れセッションの掃除ジョブ。
// 削除対象がない場合でもエラーにならず、何度実行しても同じ結果になる。
type SweepJob struct {
	sweeper  Sweeper
	logger   *slog.Logger
	Interval time.Duration
}

// NewSweepJob は新しいSweepJobを生成する。intervalが0以下ならDefaultIntervalを使う。
func NewSweepJob(sweeper Sweeper, logger *slog.Logger, interval time.Duration) *SweepJob {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepJob{
		sweeper:  sweeper,
		logger:   logger,
		Interval: interval,
	}
}

// Run は掃除を1回実行する。
// セッションと失効エントリのどちらか一方が失敗しても、成功した側の件数はログに残す。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.sweeper.SweepExpired(ctx)
	duration := time.Since(start)

	if err != nil {
		j.logger.Error("セッション掃除ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int64("deleted_sessions", result.Sessions),
			slog.Int("deleted_revocations", result.Revocations),
		)
		return fmt.Errorf("セッション掃除の実行に失敗: %w", err)
	}

	j.logger.Info("セッション掃除ジョブが完了しました",
		slog.Int64("deleted_sessions", result.Sessions),
		slog.Int("deleted_revocations", result.Revocations),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start はInterval間隔で掃除を実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *SweepJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	j.logger.Info("セッション掃除ジョブを開始しました",
		slog.Duration("interval", j.Interval),
	)

	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッション掃除ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
