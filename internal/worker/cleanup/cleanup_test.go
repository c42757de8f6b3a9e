package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/session"
)

// mockSweeper は SweepExpired の呼び出しを記録するモック。
type mockSweeper struct {
	calls  atomic.Int32
	result session.SweepResult
	err    error
}

func (m *mockSweeper) SweepExpired(context.Context) (session.SweepResult, error) {
	m.calls.Add(1)
	return m.result, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogEntry はJSONログから指定キーを持つ最初のエントリを返す。
func findLogEntry(t *testing.T, buf *bytes.Buffer, key string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if _, ok := entry[key]; ok {
			return entry
		}
	}
	t.Fatalf("ログに %s が記録されていない。ログ出力: %s", key, buf.String())
	return nil
}

func TestNewSweepJob_DefaultInterval(t *testing.T) {
	job := NewSweepJob(&mockSweeper{}, nil, 0)

	if job.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", job.Interval, DefaultInterval)
	}
}

func TestSweepJob_Run_LogsDeletedCounts(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockSweeper{result: session.SweepResult{Sessions: 42, Revocations: 3}}

	if err := NewSweepJob(mock, newTestLogger(&buf), time.Minute).Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if mock.calls.Load() != 1 {
		t.Errorf("SweepExpired の呼び出し回数 = %d, want 1", mock.calls.Load())
	}

	entry := findLogEntry(t, &buf, "deleted_sessions")
	if entry["deleted_sessions"] != float64(42) || entry["deleted_revocations"] != float64(3) {
		t.Errorf("ログの削除件数が不正: %v", entry)
	}
}

func TestSweepJob_Run_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockSweeper{
		result: session.SweepResult{Revocations: 2},
		err:    errors.New("connection refused"),
	}

	err := NewSweepJob(mock, newTestLogger(&buf), time.Minute).Run(context.Background())
	if err == nil {
		t.Fatal("Run() はエラーを返すべき")
	}

	entry := findLogEntry(t, &buf, "error")
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
	if entry["deleted_revocations"] != float64(2) {
		t.Errorf("部分的に成功した件数も記録されるべき: %v", entry)
	}
}

func TestSweepJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockSweeper{}
	job := NewSweepJob(mock, newTestLogger(&buf), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for mock.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("SweepExpired の呼び出し回数 = %d, 2回以上を期待", mock.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にStartが戻らない")
	}
}

// 実際のセッション管理と組み合わせて、期限切れのみが削除されることを確認する。
func TestSweepJob_Run_WithManager(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	if err := store.Create(ctx, &model.Session{ID: strings.Repeat("a", 64), UserID: 1, CreatedAt: past, ExpiresAt: past}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	mgr := session.NewManager(store, session.NewMemoryRevocationList(), time.Hour, nil)
	live, err := mgr.Issue(ctx, 1)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var buf bytes.Buffer
	if err := NewSweepJob(mgr, newTestLogger(&buf), time.Minute).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if entry := findLogEntry(t, &buf, "deleted_sessions"); entry["deleted_sessions"] != float64(1) {
		t.Errorf("deleted_sessions = %v, want 1", entry["deleted_sessions"])
	}
	if _, ok := mgr.Validate(ctx, live.ID); !ok {
		t.Error("有効なセッションは削除されてはならない")
	}
}
