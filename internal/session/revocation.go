package session

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/gatekeeper/internal/model"
)

// RevocationList は明示的に失効させたセッションIDの拒否リスト。
// エントリは失効したセッション本来の有効期限まで保持すればよい。
type RevocationList interface {
	// Add はエントリを追加する。既に存在する場合は何もせず false を返す。
	Add(ctx context.Context, entry model.RevocationEntry) (bool, error)

	// Contains はセッションIDが失効済みかを返す。
	Contains(ctx context.Context, sessionID string) (bool, error)

	// Sweep は now 時点で有効期限を過ぎたエントリを削除し、削除件数を返す。
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Len は保持しているエントリ数を返す。
	Len(ctx context.Context) (int, error)
}

// MemoryRevocationList はプロセス内のmapで保持する失効リスト。
// 起動時に1つだけ生成し、Managerに渡す。複数ノード構成では RedisRevocationList を使う。
type MemoryRevocationList struct {
	mu      sync.RWMutex
	entries map[string]model.RevocationEntry
}

// NewMemoryRevocationList は空の失効リストを生成する。
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{entries: make(map[string]model.RevocationEntry)}
}

// Add はエントリを追加する。
func (l *MemoryRevocationList) Add(_ context.Context, entry model.RevocationEntry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[entry.SessionID]; ok {
		return false, nil
	}
	l.entries[entry.SessionID] = entry
	return true, nil
}

// Contains はセッションIDが失効済みかを返す。
// 期限切れで未掃除のエントリも失効済みとして扱う。
func (l *MemoryRevocationList) Contains(_ context.Context, sessionID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.entries[sessionID]
	return ok, nil
}

// Sweep は有効期限を過ぎたエントリを削除する。
func (l *MemoryRevocationList) Sweep(_ context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, entry := range l.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len は保持しているエントリ数を返す。
func (l *MemoryRevocationList) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

var _ RevocationList = (*MemoryRevocationList)(nil)
