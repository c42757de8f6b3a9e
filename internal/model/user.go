// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Email と ExternalID はそれぞれ全体で一意。ID は採番後に変更されない。
type User struct {
	ID         int64
	Name       string
	Email      string
	PictureURL string
	ExternalID string // 外部IdP（Google）のユーザーID
	IsAdmin    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Session はユーザーのログインセッションを表す。
// 1ユーザーが複数のセッションを同時に保持できる。
type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired は指定時刻においてセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RevocationEntry はログアウト等で明示的に無効化されたセッションを表す。
// ExpiresAt は対象セッション本来の有効期限で、これを過ぎたエントリは掃除してよい。
type RevocationEntry struct {
	SessionID string
	RevokedAt time.Time
	ExpiresAt time.Time
}
