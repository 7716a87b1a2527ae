package workflow

import (
	"errors"
	"net/http"

	apperrors "github.com/spec-kit/approval-core/pkg/util/errorutil"
)

// Transition outcomes. They are expected results, rendered to users as-is.
var (
	ErrNotFound          = apperrors.NewDomainError(apperrors.CodeNotFound, "approval request not found", http.StatusNotFound, nil)
	ErrExpired           = apperrors.NewDomainError(apperrors.CodeExpired, "approval request expired", http.StatusGone, nil)
	ErrAlreadyResolved   = apperrors.NewDomainError(apperrors.CodeAlreadyResolved, "approval request already resolved", http.StatusConflict, nil)
	ErrInvalidTransition = apperrors.NewDomainError(apperrors.CodeInvalidTransition, "transition not allowed from current state", http.StatusConflict, nil)
	ErrForbidden         = apperrors.NewDomainError(apperrors.CodeForbidden, "actor lacks capability for this transition", http.StatusForbidden, nil)
	ErrInvalidToken      = apperrors.NewDomainError(apperrors.CodeInvalidToken, "approval link is not valid", http.StatusUnauthorized, nil)

	ErrNotesRequired     = apperrors.NewDomainError(apperrors.CodeValidationFailed, "rejection notes must have at least 10 characters", http.StatusBadRequest, nil)
	ErrSignatureRequired = apperrors.NewDomainError(apperrors.CodeValidationFailed, "approval requires a signature", http.StatusBadRequest, nil)
	ErrUnknownKind       = apperrors.NewDomainError(apperrors.CodeValidationFailed, "unknown approval kind", http.StatusBadRequest, nil)
)

// ErrApproverUnresolvable means no eligible approver exists for a request.
// It is recovered locally by callers and never returned from Transition.
var ErrApproverUnresolvable = errors.New("no eligible approver resolvable")
