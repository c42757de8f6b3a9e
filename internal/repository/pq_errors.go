package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/gatekeeper/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = pq.ErrorCode("23505")

// 制約名はマイグレーションで明示的に付けたもの。
const (
	constraintUsersEmail      = "users_email_key"
	constraintUsersExternalID = "users_external_id_key"
	constraintSessionsPKey    = "sessions_pkey"
)

// translateUniqueViolation は一意制約違反をドメインのエラーに変換する。
// それ以外のエラーはそのまま返す。
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}

	switch pqErr.Constraint {
	case constraintUsersEmail:
		return fmt.Errorf("%w: %s", model.ErrDuplicateEmail, pqErr.Detail)
	case constraintUsersExternalID:
		return fmt.Errorf("%w: %s", model.ErrDuplicateExternalID, pqErr.Detail)
	case constraintSessionsPKey:
		return model.ErrDuplicateSessionID
	default:
		return err
	}
}
