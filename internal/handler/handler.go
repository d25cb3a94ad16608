// Package handler holds helpers shared by the HTTP handler packages.
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/wa-connector/internal/client"
	"github.com/jwalitptl/wa-connector/internal/client/crm"
	"github.com/jwalitptl/wa-connector/internal/middleware"
	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
	"github.com/jwalitptl/wa-connector/internal/service/apitoken"
	"github.com/jwalitptl/wa-connector/internal/service/auth"
	"github.com/jwalitptl/wa-connector/internal/service/billing"
	"github.com/jwalitptl/wa-connector/internal/service/instance"
	"github.com/jwalitptl/wa-connector/internal/service/oauth"
	"github.com/jwalitptl/wa-connector/internal/service/subaccount"
	"github.com/jwalitptl/wa-connector/internal/service/webhook"
	apperrors "github.com/jwalitptl/wa-connector/pkg/errors"
	"github.com/jwalitptl/wa-connector/pkg/security"
	pkgvalidator "github.com/jwalitptl/wa-connector/pkg/validator"
)

var errAccessDenied = errors.New("session cannot access this subaccount")

// Fail attaches err, translated into an AppError, for the ErrorHandler middleware.
func Fail(c *gin.Context, err error) {
	_ = c.Error(MapError(err))
	c.Abort()
}

// BindFailed reports a request body or query that did not bind.
func BindFailed(c *gin.Context, err error) {
	_ = c.Error(pkgvalidator.Bind(err))
	c.Abort()
}

type mapping struct {
	target error
	code   apperrors.ErrorCode
}

// Order matters: the first sentinel found in the chain decides the status.
var sentinels = []mapping{
	{oauth.ErrInvalidState, apperrors.ErrUnauthorized},
	{auth.ErrInvalidCredentials, apperrors.ErrUnauthorized},
	{apitoken.ErrInvalidToken, apperrors.ErrUnauthorized},
	{webhook.ErrBadSignature, apperrors.ErrUnauthorized},

	{subaccount.ErrInstallTokenUsed, apperrors.ErrConflict},
	{subaccount.ErrLocationTaken, apperrors.ErrConflict},
	{billing.ErrInvoiceSettled, apperrors.ErrConflict},
	{instance.ErrInvalidTransition, apperrors.ErrConflict},

	{instance.ErrSlotLimit, apperrors.ErrForbidden},
	{instance.ErrSubaccountInactive, apperrors.ErrForbidden},
	{auth.ErrNotInstalled, apperrors.ErrForbidden},

	{subaccount.ErrInstallTokenInvalid, apperrors.ErrBadRequest},
	{oauth.ErrInvalidInstallToken, apperrors.ErrBadRequest},
	{oauth.ErrNoLocation, apperrors.ErrBadRequest},
	{billing.ErrUnknownPlan, apperrors.ErrBadRequest},
	{billing.ErrInvalidStatus, apperrors.ErrBadRequest},
	{webhook.ErrUnsupportedEvent, apperrors.ErrBadRequest},

	{subaccount.ErrSubaccountNotFound, apperrors.ErrNotFound},
	{instance.ErrInstanceNotFound, apperrors.ErrNotFound},
	{billing.ErrNoSubscription, apperrors.ErrNotFound},
	{billing.ErrInvoiceNotFound, apperrors.ErrNotFound},
	{apitoken.ErrTokenNotFound, apperrors.ErrNotFound},
	{oauth.ErrNotConnected, apperrors.ErrNotFound},
}

// MapError maps service sentinels onto the smallest safe HTTP bucket. The
// client sees the sentinel's own text, never the wrapped cause.
func MapError(err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}

	if errors.Is(err, security.ErrSSODecryption) {
		return apperrors.NewDecryption(err)
	}

	for _, m := range sentinels {
		if errors.Is(err, m.target) {
			return &apperrors.AppError{Code: m.code, Message: m.target.Error(), Err: err}
		}
	}

	var statusErr *client.StatusError
	switch {
	case errors.Is(err, instance.ErrProvider),
		errors.Is(err, instance.ErrNoQRCode),
		errors.Is(err, crm.ErrTokenExchange),
		errors.Is(err, crm.ErrTokenRefresh),
		errors.As(err, &statusErr):
		return apperrors.NewUpstream(err)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("resource", err)
	case errors.Is(err, repository.ErrConflict):
		return apperrors.NewConflict("resource already exists", err)
	}

	return apperrors.NewInternal(err)
}

// ParseID reads a uuid path parameter, failing the request when it is malformed.
func ParseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		_ = c.Error(apperrors.NewValidation([]apperrors.FieldError{{Field: name, Message: "must be a valid uuid"}}))
		c.Abort()
		return uuid.Nil, false
	}
	return id, true
}

// Session returns the claims set by the session middleware.
func Session(c *gin.Context) *model.SessionClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return &model.SessionClaims{}
	}
	return claims
}

// Authorize fails the request unless the session may act on subaccountID.
func Authorize(c *gin.Context, subaccountID uuid.UUID) bool {
	if Session(c).CanAccess(subaccountID) {
		return true
	}
	_ = c.Error(apperrors.Forbidden(errAccessDenied))
	c.Abort()
	return false
}
