// Package auth は外部IdPとの認可コード交換と、ローカルユーザーへの対応付けを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/gatekeeper/internal/metrics"
	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/repository"
)

// Email はIdPが返すメールアドレス。
type Email struct {
	Value    string
	Verified bool
}

// Profile はIdPから取得したプロフィール。
type Profile struct {
	ID          string
	DisplayName string
	Emails      []Email
	Photos      []string
}

// PrimaryEmail は利用可能な最初のメールアドレスを小文字で返す。
// 検証済みでないアドレスは使わない。
func (p *Profile) PrimaryEmail() string {
	for _, e := range p.Emails {
		v := strings.TrimSpace(e.Value)
		if v != "" && e.Verified {
			return strings.ToLower(v)
		}
	}
	return ""
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL は認可画面のURLを生成する。ローカル状態は変更しない。
	AuthCodeURL(state string) string
	// Exchange は認可コードをプロフィールに交換する。
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// LoginRecorder はログイン関連のメトリクスを記録する。
type LoginRecorder interface {
	RecordLogin(result string)
	RecordIdentityExchangeLatency(duration time.Duration)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// ExchangeTimeout はIdPとの交換全体にかける上限時間。0なら上限なし。
	ExchangeTimeout time.Duration
	// AdminEmails に含まれるアドレスのユーザーは管理者として作成する。
	AdminEmails []string
}

// Service はログインのビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	userRepo repository.UserRepository
	config   ServiceConfig
	metrics  LoginRecorder
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(oauth OAuthProvider, userRepo repository.UserRepository, config ServiceConfig, recorder LoginRecorder) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		oauth:    oauth,
		userRepo: userRepo,
		config:   config,
		metrics:  recorder,
	}
}

// BeginLogin はIdPの認可URLを返す。
func (s *Service) BeginLogin(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// CompleteLogin は認可コードを交換し、対応するローカルユーザーを返す。
// 初回ログインならユーザーを作成する。同じ外部IDで同時に初回ログインした場合、
// 作成に負けた側は既存レコードを取り直して同じユーザーを返す。
func (s *Service) CompleteLogin(ctx context.Context, code string) (*model.User, error) {
	profile, err := s.exchange(ctx, code)
	if err != nil {
		s.metrics.RecordLogin("exchange_failed")
		return nil, fmt.Errorf("%w: %v", model.ErrIdentityExchangeFailed, err)
	}
	if profile.ID == "" {
		s.metrics.RecordLogin("exchange_failed")
		return nil, fmt.Errorf("%w: provider returned no subject", model.ErrIdentityExchangeFailed)
	}

	email := profile.PrimaryEmail()
	if email == "" {
		s.metrics.RecordLogin("profile_incomplete")
		return nil, model.ErrProfileIncomplete
	}

	user, err := s.userRepo.FindByExternalID(ctx, profile.ID)
	if err != nil {
		s.metrics.RecordLogin("error")
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		s.metrics.RecordLogin("success")
		slog.Info("existing user logged in", slog.Int64("user_id", user.ID))
		return user, nil
	}

	user, err = s.createUser(ctx, profile, email)
	if err != nil {
		s.metrics.RecordLogin("error")
		return nil, err
	}

	s.metrics.RecordLogin("success")
	return user, nil
}

// exchange はタイムアウト付きでIdPとの交換を行う。
func (s *Service) exchange(ctx context.Context, code string) (*Profile, error) {
	if s.config.ExchangeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ExchangeTimeout)
		defer cancel()
	}

	start := time.Now()
	profile, err := s.oauth.Exchange(ctx, code)
	s.metrics.RecordIdentityExchangeLatency(time.Since(start))
	return profile, err
}

func (s *Service) createUser(ctx context.Context, profile *Profile, email string) (*model.User, error) {
	user := &model.User{
		Name:       displayName(profile, email),
		Email:      email,
		ExternalID: profile.ID,
		IsAdmin:    s.isAdminEmail(email),
	}
	if len(profile.Photos) > 0 {
		user.PictureURL = profile.Photos[0]
	}

	err := s.userRepo.Create(ctx, user)
	switch {
	case err == nil:
		slog.Info("new user created",
			slog.Int64("user_id", user.ID),
			slog.Bool("is_admin", user.IsAdmin),
		)
		return user, nil

	case errors.Is(err, model.ErrDuplicateExternalID):
		// 同時ログインの競合に負けた。既に作られたレコードを返す。
		existing, findErr := s.userRepo.FindByExternalID(ctx, profile.ID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to re-query user after race: %w", findErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: user vanished after duplicate external id", model.ErrIdentityExchangeFailed)
		}
		slog.Info("concurrent first login resolved", slog.Int64("user_id", existing.ID))
		return existing, nil

	case errors.Is(err, model.ErrDuplicateEmail):
		slog.Warn("email already linked to another identity")
		return nil, fmt.Errorf("%w: %v", model.ErrIdentityExchangeFailed, err)

	default:
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
}

func (s *Service) isAdminEmail(email string) bool {
	for _, admin := range s.config.AdminEmails {
		if strings.EqualFold(admin, email) {
			return true
		}
	}
	return false
}

// maxNameRunes はusers.nameの列長。
const maxNameRunes = 100

// displayName はプロフィールの表示名を返す。空ならメールアドレスのローカル部を使う。
func displayName(profile *Profile, email string) string {
	name := strings.TrimSpace(profile.DisplayName)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	if r := []rune(name); len(r) > maxNameRunes {
		name = string(r[:maxNameRunes])
	}
	return name
}
