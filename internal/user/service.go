// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/repository"
)

const (
	nameMinLength  = 2
	nameMaxLength  = 100
	emailMaxLength = 255

	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MaxPage はオフセット (page-1)*limit が桁あふれしないためのページ番号の上限。
	MaxPage = 1_000_000
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SessionDestroyer はユーザーの全セッションを失効させる。session.Manager が実装する。
type SessionDestroyer interface {
	DestroyAllForUser(ctx context.Context, userID int64) error
}

// ProfileInput は検証・正規化済みのプロフィール更新内容。
type ProfileInput struct {
	Name  string
	Email string
}

// ValidateProfile はプロフィール更新内容を検証し、正規化した値を返す。
// 名前は前後の空白を除いて2〜100文字、メールアドレスは小文字化する。
// 問題がある場合はすべての項目をまとめて *model.ValidationError で返す。
func ValidateProfile(name, email string) (ProfileInput, error) {
	var errs []string

	name = strings.TrimSpace(name)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		errs = append(errs, "Name is required and must be a string")
	case n < nameMinLength:
		errs = append(errs, "Name must be at least 2 characters long")
	case n > nameMaxLength:
		errs = append(errs, "Name must be less than 100 characters")
	}

	email = strings.ToLower(strings.TrimSpace(email))
	switch {
	case email == "":
		errs = append(errs, "Email is required and must be a string")
	case !emailPattern.MatchString(email):
		errs = append(errs, "Please provide a valid email address")
	case len(email) > emailMaxLength:
		errs = append(errs, "Email must be less than 255 characters")
	}

	if len(errs) > 0 {
		return ProfileInput{}, model.NewValidationError(errs...)
	}
	return ProfileInput{Name: name, Email: email}, nil
}

// ParsePagination はクエリ文字列のpageとlimitを解釈する。
// 未指定の場合は既定値（1ページ目、10件）を使う。
func ParsePagination(pageParam, limitParam string) (page, limit int, err error) {
	page, limit = DefaultPage, DefaultLimit
	var errs []string

	if pageParam != "" {
		p, convErr := strconv.Atoi(pageParam)
		switch {
		case convErr != nil || p < 1:
			errs = append(errs, "Page must be a positive integer")
		case p > MaxPage:
			errs = append(errs, "Page must not exceed 1000000")
		default:
			page = p
		}
	}

	if limitParam != "" {
		l, convErr := strconv.Atoi(limitParam)
		if convErr != nil || l < 1 || l > MaxLimit {
			errs = append(errs, "Limit must be a positive integer between 1 and 100")
		} else {
			limit = l
		}
	}

	if len(errs) > 0 {
		return 0, 0, model.NewValidationError(errs...)
	}
	return page, limit, nil
}

// ParseUserID はパスパラメータのユーザーIDを解釈する。正の整数以外は ok=false。
func ParseUserID(param string) (int64, bool) {
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// Service はユーザー管理のサービス層。
// プロフィールの参照・更新、退会、管理者向けのユーザー操作を提供する。
type Service struct {
	userRepo repository.UserRepository
	sessions SessionDestroyer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sessions SessionDestroyer) *Service {
	return &Service{
		userRepo: userRepo,
		sessions: sessions,
	}
}

// GetUser はIDでユーザーを取得する。存在しない場合は model.ErrUserNotFound。
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile はユーザーの名前とメールアドレスを更新する。
// 他のユーザーが使用中のメールアドレスには変更できない。
func (s *Service) UpdateProfile(ctx context.Context, id int64, input ProfileInput) (*model.User, error) {
	existing, err := s.userRepo.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("メールアドレスの確認に失敗しました: %w", err)
	}
	if existing != nil && existing.ID != id {
		return nil, model.ErrDuplicateEmail
	}

	updated, err := s.userRepo.Update(ctx, id, input.Name, input.Email)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) || errors.Is(err, model.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました", slog.Int64("user_id", id))
	return updated, nil
}

// ListUsers はユーザー一覧と総件数を返す。
// pageとlimitはParsePaginationと同じ範囲でなければならない。
func (s *Service) ListUsers(ctx context.Context, page, limit int) ([]*model.User, int, error) {
	if page < 1 || page > MaxPage || limit < 1 || limit > MaxLimit {
		return nil, 0, model.NewValidationError("Invalid pagination parameters")
	}

	users, err := s.userRepo.List(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	total, err := s.userRepo.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ユーザー数の取得に失敗しました: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, total, nil
}

// DeleteUser はユーザーを削除する。
// 削除順序: セッション失効 → ユーザー（sessionsはCASCADE削除）
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}

	slog.Info("ユーザー削除を開始します", slog.Int64("user_id", id))

	if err := s.sessions.DestroyAllForUser(ctx, id); err != nil {
		return fmt.Errorf("セッションの失効に失敗しました: %w", err)
	}

	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("ユーザー削除が完了しました", slog.Int64("user_id", id))
	return nil
}
