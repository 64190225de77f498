package errors

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// "Key (shop)=(demo.myshopify.com) already exists."
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// "... is still referenced from table "collections"."
	reReferencedFrom = regexp.MustCompile(`is still referenced from table "?([^"]+)"?`)
	// "... is not present in table "merchants"."
	reNotPresent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

var tableNames = map[string]string{
	"merchants":       "Merchant",
	"collections":     "Collection",
	"products":        "Product",
	"bulk_operations": "Bulk Operation",
	"jobs":            "Job",
	"scheduled_jobs":  "Schedule",
}

// expression index functions that look like a column in a constraint name
var indexFunctions = []string{"lower", "upper", "trim", "ltrim", "rtrim", "md5", "sha1", "sha256", "encode", "decode"}

// MapDBError converts context, pgx and PostgreSQL errors into AppErrors. Anything else
// is returned unchanged.
func MapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "Request timed out. Please try again.")
	case errors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeCanceled, "Request was canceled.")
	case errors.Is(err, pgx.ErrNoRows):
		return Wrap(err, ErrCodeNotFound, "Resource not found")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		e := Wrap(pgErr, ErrCodeConflict, "This value already exists. Please choose a different one.")
		e.Field = uniqueViolationField(pgErr)
		return e
	case pgerrcode.ForeignKeyViolation:
		return Wrap(pgErr, ErrCodeForeignKey, foreignKeyMessage(pgErr))
	case pgerrcode.CheckViolation:
		return fieldError(pgErr, "This field has an invalid value.", "Invalid data. Please check your input.")
	case pgerrcode.NotNullViolation:
		return fieldError(pgErr, "This field is required.", "Required field is missing. Please check your input.")
	default:
		return Wrap(pgErr, ErrCodeInternal, "A database error occurred. Please try again.")
	}
}

func fieldError(pgErr *pgconn.PgError, withField, withoutField string) *AppError {
	if pgErr.ColumnName == "" {
		return Wrap(pgErr, ErrCodeValidation, withoutField)
	}
	e := Wrap(pgErr, ErrCodeValidation, withField)
	e.Field = pgErr.ColumnName
	return e
}

// uniqueViolationField prefers column metadata, then the Detail text, then the constraint name.
func uniqueViolationField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return inferFieldFromConstraint(pgErr.ConstraintName)
}

func foreignKeyMessage(pgErr *pgconn.PgError) string {
	if m := reReferencedFrom.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "Cannot delete because this item is in use by " + mapTableToDomain(m[1]) + "."
	}
	if m := reNotPresent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "Cannot complete operation because the referenced " + mapTableToDomain(m[1]) + " does not exist."
	}
	if pgErr.TableName != "" {
		return "Cannot complete operation because this item is in use by " + mapTableToDomain(pgErr.TableName) + "."
	}
	return inferForeignKeyMessage(pgErr.ConstraintName)
}

// inferFieldFromConstraint reads the column out of "<table>_<column>_<suffix>" names such as
// merchants_shop_key. Longer names are multi-column and yield "".
func inferFieldFromConstraint(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) != 3 || slices.Contains(indexFunctions, strings.ToLower(parts[1])) {
		return ""
	}
	return parts[1]
}

func mapTableToDomain(table string) string {
	table = strings.ToLower(strings.TrimSpace(table))
	if name, ok := tableNames[table]; ok {
		return name
	}
	words := strings.Fields(strings.ReplaceAll(table, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func inferForeignKeyMessage(constraint string) string {
	constraint = strings.ToLower(constraint)
	switch {
	case strings.HasSuffix(constraint, "_shop_fkey"):
		return "Cannot complete operation because the merchant is not installed."
	case strings.HasPrefix(constraint, "merchants_"):
		return "Cannot delete because the merchant still has collections or products."
	default:
		return "Cannot complete operation because this item is in use."
	}
}
