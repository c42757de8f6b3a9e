// Package authz はリクエスト単位の認可判定を提供する。
//
// 判定の流れ:
//
//	セッションID無し            -> DeniedUnauthenticated
//	セッション検証に失敗         -> DeniedUnauthenticated
//	ユーザーが存在しない         -> DeniedUnauthenticated
//	Authenticated               -> Permitted
//	SelfOrAdmin(target)         -> 本人か管理者なら Permitted、それ以外は DeniedForbidden
//	Admin                       -> 管理者なら Permitted、それ以外は DeniedForbidden
package authz

import (
	"context"
	"log/slog"

	"github.com/hitoshi/gatekeeper/internal/metrics"
	"github.com/hitoshi/gatekeeper/internal/model"
)

type levelKind int

const (
	levelAuthenticated levelKind = iota
	levelSelfOrAdmin
	levelAdmin
)

// Level は要求するアクセスレベル。
type Level struct {
	kind   levelKind
	target int64
}

// Authenticated は有効なセッションがあれば許可するレベル。
func Authenticated() Level { return Level{kind: levelAuthenticated} }

// SelfOrAdmin は対象ユーザー本人か管理者を許可するレベル。
func SelfOrAdmin(target int64) Level { return Level{kind: levelSelfOrAdmin, target: target} }

// Admin は管理者のみ許可するレベル。
func Admin() Level { return Level{kind: levelAdmin} }

func (l Level) String() string {
	switch l.kind {
	case levelSelfOrAdmin:
		return "self_or_admin"
	case levelAdmin:
		return "admin"
	default:
		return "authenticated"
	}
}

// Outcome は認可判定の結果。
type Outcome int

const (
	DeniedUnauthenticated Outcome = iota
	DeniedForbidden
	Permitted
)

func (o Outcome) String() string {
	switch o {
	case Permitted:
		return "permitted"
	case DeniedForbidden:
		return "forbidden"
	default:
		return "unauthenticated"
	}
}

// Decision は認可判定の結果と、判明していればプリンシパル。
// DeniedUnauthenticated の場合 Principal は常に nil。
type Decision struct {
	Outcome   Outcome
	Principal *model.User
}

// Permitted は許可されたかを返す。
func (d Decision) Permitted() bool {
	return d.Outcome == Permitted
}

// Err は拒否理由に対応するエラーを返す。許可された場合は nil。
func (d Decision) Err() error {
	switch d.Outcome {
	case Permitted:
		return nil
	case DeniedForbidden:
		return model.ErrForbidden
	default:
		return model.ErrUnauthenticated
	}
}

// SessionValidator はセッションIDからユーザーIDを引く。session.Manager が実装する。
type SessionValidator interface {
	Validate(ctx context.Context, sessionID string) (int64, bool)
}

// UserFinder はユーザーIDからユーザーを引く。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// DecisionRecorder は認可判定の結果を記録する。
type DecisionRecorder interface {
	RecordAuthzDecision(outcome string)
}

// Gate はセッションとユーザーストアを参照して認可判定を行う。
// 判定は読み取りのみで状態を変更しない。
type Gate struct {
	sessions SessionValidator
	users    UserFinder
	metrics  DecisionRecorder
}

// NewGate はGateを生成する。recorderがnilの場合は記録しない。
func NewGate(sessions SessionValidator, users UserFinder, recorder DecisionRecorder) *Gate {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Gate{sessions: sessions, users: users, metrics: recorder}
}

// Authorize は提示されたセッションIDが要求レベルを満たすか判定する。
func (g *Gate) Authorize(ctx context.Context, sessionID string, level Level) Decision {
	d := g.decide(ctx, sessionID, level)
	g.metrics.RecordAuthzDecision(d.Outcome.String())
	return d
}

func (g *Gate) decide(ctx context.Context, sessionID string, level Level) Decision {
	principal := g.resolve(ctx, sessionID)
	if principal == nil {
		return Decision{Outcome: DeniedUnauthenticated}
	}

	switch level.kind {
	case levelAuthenticated:
		return Decision{Outcome: Permitted, Principal: principal}
	case levelSelfOrAdmin:
		if principal.ID == level.target || principal.IsAdmin {
			return Decision{Outcome: Permitted, Principal: principal}
		}
	case levelAdmin:
		if principal.IsAdmin {
			return Decision{Outcome: Permitted, Principal: principal}
		}
	}
	return Decision{Outcome: DeniedForbidden, Principal: principal}
}

// resolve はセッションIDからプリンシパルを取り出す。
// どの段階で失敗しても nil を返し、理由は呼び出し側に区別させない。
func (g *Gate) resolve(ctx context.Context, sessionID string) *model.User {
	if sessionID == "" {
		return nil
	}

	userID, ok := g.sessions.Validate(ctx, sessionID)
	if !ok {
		return nil
	}

	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		slog.Error("failed to load principal",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return user
}
