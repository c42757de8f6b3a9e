package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/gatekeeper/internal/logger"
	"github.com/hitoshi/gatekeeper/internal/metrics"
	"github.com/hitoshi/gatekeeper/internal/model"
)

const (
	// idBytes はセッションIDの乱数バイト数。hex化すると64文字になる。
	idBytes  = 32
	idLength = idBytes * 2

	// maxIssueAttempts はID衝突時に再生成する上限回数。
	maxIssueAttempts = 3
)

// 検証結果のメトリクスラベル。
const (
	resultValid     = "valid"
	resultMalformed = "malformed"
	resultRevoked   = "revoked"
	resultNotFound  = "not_found"
	resultExpired   = "expired"
	resultError     = "error"
)

// Recorder はManagerが使うメトリクス記録のインターフェース。
type Recorder interface {
	RecordSessionIssued()
	RecordSessionValidation(result string)
	RecordSessionRevoked()
	RecordSweepRemoved(kind string, count int)
}

// SweepResult はSweepExpiredで削除した件数。
type SweepResult struct {
	Sessions    int64
	Revocations int
}

// Manager はセッションの発行・検証・失効を担う。
// 失効リストは起動時に生成したものを1つだけ保持する。
type Manager struct {
	store   Store
	revoked RevocationList
	ttl     time.Duration
	metrics Recorder

	now   func() time.Time
	newID func() (string, error)
}

// NewManager はManagerを生成する。recorderがnilの場合は記録しない。
func NewManager(store Store, revoked RevocationList, ttl time.Duration, recorder Recorder) *Manager {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Manager{
		store:   store,
		revoked: revoked,
		ttl:     ttl,
		metrics: recorder,
		now:     time.Now,
		newID:   generateID,
	}
}

// TTL はセッションの有効期間を返す。
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue は新しいセッションを発行して保存する。
// IDが衝突した場合は再生成する。
func (m *Manager) Issue(ctx context.Context, userID int64) (*model.Session, error) {
	now := m.now()

	for range maxIssueAttempts {
		id, err := m.newID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session id: %w", err)
		}

		session := &model.Session{
			ID:        id,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(m.ttl),
		}

		err = m.store.Create(ctx, session)
		if errors.Is(err, model.ErrDuplicateSessionID) {
			slog.Warn("session id collision, regenerating", logger.SessionID(id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}

		m.metrics.RecordSessionIssued()
		return session, nil
	}

	return nil, fmt.Errorf("failed to generate unique session id after %d attempts", maxIssueAttempts)
}

// Validate はセッションIDに紐づくユーザーIDを返す。
// 空・不正形式・失効済み・存在しない・期限切れの場合は false を返す。
// バックエンドのエラーは記録したうえで無効として扱う。
func (m *Manager) Validate(ctx context.Context, sessionID string) (int64, bool) {
	if !wellFormed(sessionID) {
		m.metrics.RecordSessionValidation(resultMalformed)
		return 0, false
	}

	revoked, err := m.revoked.Contains(ctx, sessionID)
	if err != nil {
		slog.Error("failed to check revocation list",
			logger.SessionID(sessionID),
			slog.String("error", err.Error()),
		)
		m.metrics.RecordSessionValidation(resultError)
		return 0, false
	}
	if revoked {
		m.metrics.RecordSessionValidation(resultRevoked)
		return 0, false
	}

	session, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		slog.Error("failed to find session",
			logger.SessionID(sessionID),
			slog.String("error", err.Error()),
		)
		m.metrics.RecordSessionValidation(resultError)
		return 0, false
	}
	if session == nil {
		m.metrics.RecordSessionValidation(resultNotFound)
		return 0, false
	}
	if session.Expired(m.now()) {
		m.metrics.RecordSessionValidation(resultExpired)
		return 0, false
	}

	m.metrics.RecordSessionValidation(resultValid)
	return session.UserID, true
}

// Revoke はセッションIDを失効リストに追加する。2回呼んでも結果は変わらない。
// 不正形式のIDは検証を通り得ないため何もしない。
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if !wellFormed(sessionID) {
		return nil
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)

	session, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to look up session expiry, using full ttl",
			logger.SessionID(sessionID),
			slog.String("error", err.Error()),
		)
	} else if session != nil {
		expiresAt = session.ExpiresAt
	}

	added, err := m.revoked.Add(ctx, model.RevocationEntry{
		SessionID: sessionID,
		RevokedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if added {
		m.metrics.RecordSessionRevoked()
	}
	return nil
}

// Destroy は失効させてからセッションレコードを削除する（ログアウト）。
// 失効に失敗してもレコードの削除は必ず試み、両方のエラーをまとめて返す。
// どちらか一方が成功していればそのセッションは以後検証を通らない。
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	if !wellFormed(sessionID) {
		return nil
	}

	revokeErr := m.Revoke(ctx, sessionID)
	var deleteErr error
	if err := m.store.DeleteByID(ctx, sessionID); err != nil {
		deleteErr = fmt.Errorf("failed to delete session: %w", err)
	}
	if err := errors.Join(revokeErr, deleteErr); err != nil {
		return err
	}

	slog.Info("session destroyed", logger.SessionID(sessionID))
	return nil
}

// DestroyAllForUser は指定ユーザーの全セッションを失効させて削除する。
// アカウント削除の前に呼ぶ。
func (m *Manager) DestroyAllForUser(ctx context.Context, userID int64) error {
	ids, err := m.store.ListIDsByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	var errs []error
	for _, id := range ids {
		if err := m.Revoke(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	if err := m.store.DeleteByUserID(ctx, userID); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete user sessions: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	slog.Info("all sessions destroyed for user",
		slog.Int64("user_id", userID),
		slog.Int("count", len(ids)),
	)
	return nil
}

// SweepExpired は期限切れのセッションと失効エントリを削除する。
// 片方が失敗してももう片方は実行する。
func (m *Manager) SweepExpired(ctx context.Context) (SweepResult, error) {
	now := m.now()
	var result SweepResult

	sessions, sessErr := m.store.DeleteExpired(ctx, now)
	if sessErr != nil {
		sessErr = fmt.Errorf("failed to sweep sessions: %w", sessErr)
	} else {
		result.Sessions = sessions
		m.metrics.RecordSweepRemoved("sessions", int(sessions))
	}

	revocations, revErr := m.revoked.Sweep(ctx, now)
	if revErr != nil {
		revErr = fmt.Errorf("failed to sweep revocation list: %w", revErr)
	} else {
		result.Revocations = revocations
		m.metrics.RecordSweepRemoved("revocations", revocations)
	}

	return result, errors.Join(sessErr, revErr)
}

func generateID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// wellFormed はIDが64文字の小文字hexかを判定する。
func wellFormed(id string) bool {
	if len(id) != idLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
