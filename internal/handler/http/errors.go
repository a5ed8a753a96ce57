package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/authority/internal/domain"
	apperrors "github.com/utafrali/authority/pkg/errors"
	"github.com/utafrali/authority/pkg/httputil"
	pkgvalidator "github.com/utafrali/authority/pkg/validator"
)

// statusForKind maps a lifecycle error kind to its HTTP status.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation,
		domain.KindDuplicateUsername,
		domain.KindDuplicateEmail,
		domain.KindInvalidOrExpiredToken,
		domain.KindVerificationUnavailable:
		return http.StatusBadRequest
	case domain.KindInvalidCredentials,
		domain.KindEmailNotVerified,
		domain.KindUnauthenticated,
		domain.KindInvalidToken:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeLifecycleError renders an engine error. Validation failures keep their
// field map; internal errors are logged and rendered generically.
func writeLifecycleError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	var verr *pkgvalidator.ValidationError
	if errors.As(err, &verr) {
		httputil.WriteValidationError(w, r, verr)
		return
	}

	kind := domain.KindOf(err)
	status := statusForKind(kind)
	code := strings.ToUpper(string(kind))
	message := "an internal error occurred"

	var de *domain.Error
	if status < http.StatusInternalServerError && errors.As(err, &de) {
		message = de.Message
	}

	httputil.WriteError(w, r, apperrors.New(code, status, message, err), logger)
}
