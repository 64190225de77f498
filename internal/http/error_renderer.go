package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/acme/shelfsort/internal/data"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

// DetermineErrorStatus maps a service error to an HTTP status code.
func DetermineErrorStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation, pgerrcode.UniqueViolation:
			return http.StatusConflict
		case pgerrcode.NotNullViolation, pgerrcode.CheckViolation:
			return http.StatusBadRequest
		}
	}

	switch {
	case errors.Is(err, data.ErrJobNotFound),
		errors.Is(err, data.ErrBulkOperationNotFound),
		errors.Is(err, data.ErrScheduledTaskNotFound),
		apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsValidation(err):
		return http.StatusBadRequest
	case apperrors.IsConflict(err), apperrors.IsForeignKey(err):
		return http.StatusConflict
	case apperrors.IsUpstreamBusy(err):
		return http.StatusServiceUnavailable
	case apperrors.IsUpstreamRejected(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), apperrors.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorCode returns the machine-readable code reported with an error response.
func errorCode(err error, status int) string {
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	switch status {
	case http.StatusNotFound:
		return string(apperrors.ErrCodeNotFound)
	case http.StatusConflict:
		return string(apperrors.ErrCodeConflict)
	case http.StatusBadRequest:
		return string(apperrors.ErrCodeValidation)
	default:
		return string(apperrors.ErrCodeInternal)
	}
}

// WriteServiceError writes err as a JSON error response. Server-side failures are logged
// and their details are not returned to the caller.
func WriteServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := DetermineErrorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		}
		WriteError(w, ErrorParams{Code: status, ErrCode: errorCode(err, status), Err: errors.New(http.StatusText(status))})
		return
	}
	if retry := apperrors.GetRetryAfter(err); retry > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
	}
	if field := apperrors.GetField(err); field != "" {
		WriteJSON(w, status, map[string]string{"error": errorCode(err, status), "message": err.Error(), "field": field})
		return
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: errorCode(err, status), Err: err})
}
