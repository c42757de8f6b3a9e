package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"

	"github.com/hitoshi/gatekeeper/internal/model"
)

func TestTranslateUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "email制約はErrDuplicateEmail",
			err:  &pq.Error{Code: "23505", Constraint: "users_email_key"},
			want: model.ErrDuplicateEmail,
		},
		{
			name: "external_id制約はErrDuplicateExternalID",
			err:  &pq.Error{Code: "23505", Constraint: "users_external_id_key"},
			want: model.ErrDuplicateExternalID,
		},
		{
			name: "sessions主キーはErrDuplicateSessionID",
			err:  &pq.Error{Code: "23505", Constraint: "sessions_pkey"},
			want: model.ErrDuplicateSessionID,
		},
		{
			name: "ラップされていても判定できる",
			err:  fmt.Errorf("exec: %w", &pq.Error{Code: "23505", Constraint: "users_email_key"}),
			want: model.ErrDuplicateEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateUniqueViolation(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("translateUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTranslateUniqueViolation_PassesThroughOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "pq以外のエラー", err: errors.New("connection refused")},
		{name: "別のエラーコード", err: &pq.Error{Code: "23503", Constraint: "sessions_user_id_fkey"}},
		{name: "未知の一意制約", err: &pq.Error{Code: "23505", Constraint: "other_key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateUniqueViolation(tt.err)
			if got != tt.err {
				t.Errorf("translateUniqueViolation() = %v, want original error", got)
			}
		})
	}
}
