// Package session はセッションの発行・検証・失効と失効リストを管理する。
package session

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/gatekeeper/internal/model"
)

// Store はセッションレコードの保存先。
// repository.PostgresSessionRepo と MemoryStore が実装する。
type Store interface {
	Create(ctx context.Context, session *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID int64) error
	ListIDsByUserID(ctx context.Context, userID int64) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// MemoryStore はプロセス内メモリにセッションを保持するStore。
// 単一ノード構成や開発用途向け。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	byUser   map[int64]map[string]struct{}
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.Session),
		byUser:   make(map[int64]map[string]struct{}),
	}
}

// Create はセッションを保存する。同じIDが既にあれば model.ErrDuplicateSessionID を返す。
func (s *MemoryStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return model.ErrDuplicateSessionID
	}
	s.sessions[session.ID] = *session

	ids, ok := s.byUser[session.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[session.UserID] = ids
	}
	ids[session.ID] = struct{}{}
	return nil
}

// FindByID はセッションのコピーを返す。見つからない場合はnil。
func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// DeleteByID はセッションを削除する。
func (s *MemoryStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(id)
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (s *MemoryStore) DeleteByUserID(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.byUser[userID] {
		delete(s.sessions, id)
	}
	delete(s.byUser, userID)
	return nil
}

// ListIDsByUserID は指定ユーザーの全セッションIDを返す。
func (s *MemoryStore) ListIDsByUserID(_ context.Context, userID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteExpired は now 時点で期限切れのセッションを削除する。
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.sessions {
		if session.Expired(now) {
			s.deleteLocked(id)
			n++
		}
	}
	return n, nil
}

// Len は保持しているセッション数を返す。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) deleteLocked(id string) {
	session, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)

	ids := s.byUser[session.UserID]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.byUser, session.UserID)
	}
}

var _ Store = (*MemoryStore)(nil)
