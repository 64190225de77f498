package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errTimeout = context.DeadlineExceeded

func TestMapDBError(t *testing.T) {
	plain := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		wantCode  ErrorCode
		wantField string
		wantMsg   string
	}{
		{name: "deadline", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: fmt.Errorf("upsert: %w", context.Canceled), wantCode: ErrCodeCanceled},
		{name: "no rows", err: pgx.ErrNoRows, wantCode: ErrCodeNotFound},
		{
			name:      "unique with column",
			err:       &pgconn.PgError{Code: pgerrcode.UniqueViolation, ColumnName: "shop"},
			wantCode:  ErrCodeConflict,
			wantField: "shop",
		},
		{
			name: "unique from detail",
			err: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: "Key (dedup_key)=(PushDown:s1:9) already exists.",
			},
			wantCode:  ErrCodeConflict,
			wantField: "dedup_key",
		},
		{
			name:      "unique from constraint",
			err:       &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "merchants_shop_key"},
			wantCode:  ErrCodeConflict,
			wantField: "shop",
		},
		{
			name:     "unique multi column",
			err:      &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "collections_shop_collection_id_key"},
			wantCode: ErrCodeConflict,
		},
		{
			name: "fk parent still referenced",
			err: &pgconn.PgError{
				Code:   pgerrcode.ForeignKeyViolation,
				Detail: `Key (shop)=(s1) is still referenced from table "collections".`,
			},
			wantCode: ErrCodeForeignKey,
			wantMsg:  "Cannot delete because this item is in use by Collection.",
		},
		{
			name: "fk parent missing",
			err: &pgconn.PgError{
				Code:   pgerrcode.ForeignKeyViolation,
				Detail: `Key (shop)=(s1) is not present in table "merchants".`,
			},
			wantCode: ErrCodeForeignKey,
			wantMsg:  "Cannot complete operation because the referenced Merchant does not exist.",
		},
		{
			name:     "fk from table name",
			err:      &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, TableName: "bulk_operations"},
			wantCode: ErrCodeForeignKey,
			wantMsg:  "Cannot complete operation because this item is in use by Bulk Operation.",
		},
		{
			name:     "fk from constraint",
			err:      &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "products_shop_fkey"},
			wantCode: ErrCodeForeignKey,
			wantMsg:  "Cannot complete operation because the merchant is not installed.",
		},
		{
			name:      "not null",
			err:       &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "queue"},
			wantCode:  ErrCodeValidation,
			wantField: "queue",
			wantMsg:   "This field is required.",
		},
		{
			name:     "check without column",
			err:      &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "jobs_priority_check"},
			wantCode: ErrCodeValidation,
			wantMsg:  "Invalid data. Please check your input.",
		},
		{
			name:     "other pg error",
			err:      &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if got := GetCode(err); got != tt.wantCode {
				t.Fatalf("code = %q, want %q", got, tt.wantCode)
			}
			if got := GetField(err); got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
			if tt.wantMsg != "" {
				var appErr *AppError
				if !errors.As(err, &appErr) || appErr.Message != tt.wantMsg {
					t.Errorf("message = %q, want %q", appErr.Message, tt.wantMsg)
				}
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("mapped error should wrap the original")
			}
		})
	}

	if MapDBError(nil) != nil {
		t.Error("MapDBError(nil) should be nil")
	}
	if MapDBError(plain) != plain {
		t.Error("unrecognized errors should pass through")
	}
}

func TestInferFieldFromConstraint(t *testing.T) {
	tests := map[string]string{
		"merchants_shop_key":                 "shop",
		"jobs_lower_key":                     "",
		"collections_shop_collection_id_key": "",
		"pkey":                               "",
		"":                                   "",
	}
	for in, want := range tests {
		if got := inferFieldFromConstraint(in); got != want {
			t.Errorf("inferFieldFromConstraint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapTableToDomain(t *testing.T) {
	tests := map[string]string{
		" Scheduled_Jobs ": "Schedule",
		"products":         "Product",
		"webhook_events":   "Webhook Events",
		"":                 "",
	}
	for in, want := range tests {
		if got := mapTableToDomain(in); got != want {
			t.Errorf("mapTableToDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInferForeignKeyMessage(t *testing.T) {
	tests := map[string]string{
		"collections_shop_fkey": "Cannot complete operation because the merchant is not installed.",
		"MERCHANTS_cleanup":     "Cannot delete because the merchant still has collections or products.",
		"jobs_parent_fkey":      "Cannot complete operation because this item is in use.",
	}
	for in, want := range tests {
		if got := inferForeignKeyMessage(in); got != want {
			t.Errorf("inferForeignKeyMessage(%q) = %q, want %q", in, got, want)
		}
	}
}
