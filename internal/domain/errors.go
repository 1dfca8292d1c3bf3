package domain

import (
	"errors"
	"fmt"
	"time"
)

type ErrorCode string

const (
	CodeInvalidArgument                 ErrorCode = "INVALID_ARGUMENT"
	CodeCopyUnavailable                 ErrorCode = "COPY_UNAVAILABLE"
	CodeCopyNotInLibrary                ErrorCode = "COPY_NOT_IN_LIBRARY"
	CodeCopyHasOpenLoan                 ErrorCode = "COPY_HAS_OPEN_LOAN"
	CodePatronSanctioned                ErrorCode = "PATRON_SANCTIONED"
	CodePatronInactive                  ErrorCode = "PATRON_INACTIVE"
	CodePatronLoanLimitExceeded         ErrorCode = "PATRON_LOAN_LIMIT_EXCEEDED"
	CodeDuplicateRequest                ErrorCode = "DUPLICATE_REQUEST"
	CodeDateBeforeEstimatedAvailability ErrorCode = "DATE_BEFORE_ESTIMATED_AVAILABILITY"
	CodeNotPending                      ErrorCode = "NOT_PENDING"
	CodeMissingReason                   ErrorCode = "MISSING_REASON"
	CodeNotApproved                     ErrorCode = "NOT_APPROVED"
	CodeNotActive                       ErrorCode = "NOT_ACTIVE"
	CodeNotInProgress                   ErrorCode = "NOT_IN_PROGRESS"
	CodeNotYetOverdue                   ErrorCode = "NOT_YET_OVERDUE"
	CodeNotOwner                        ErrorCode = "NOT_OWNER"
	CodeForbidden                       ErrorCode = "FORBIDDEN"
)

// GuardViolation is a business-rule failure. It is expected, user facing,
// and never retried.
type GuardViolation struct {
	Code   ErrorCode
	Reason string
	// EstimatedAvailability is set when the failure depends on the
	// projected release date of a title.
	EstimatedAvailability *time.Time
}

func (e *GuardViolation) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Is matches any GuardViolation carrying the same code, so callers can use
// errors.Is(err, domain.ErrNotPending).
func (e *GuardViolation) Is(target error) bool {
	var t *GuardViolation
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Expected marks guard violations as rule outcomes for logging.
func (e *GuardViolation) Expected() bool { return true }

func Guard(code ErrorCode, reason string) *GuardViolation {
	return &GuardViolation{Code: code, Reason: reason}
}

func NewInvalidArgument(reason string) error {
	return Guard(CodeInvalidArgument, reason)
}

var (
	ErrInvalidArgument                 = Guard(CodeInvalidArgument, "")
	ErrCopyUnavailable                 = Guard(CodeCopyUnavailable, "")
	ErrCopyNotInLibrary                = Guard(CodeCopyNotInLibrary, "")
	ErrCopyHasOpenLoan                 = Guard(CodeCopyHasOpenLoan, "")
	ErrPatronSanctioned                = Guard(CodePatronSanctioned, "")
	ErrPatronInactive                  = Guard(CodePatronInactive, "")
	ErrPatronLoanLimitExceeded         = Guard(CodePatronLoanLimitExceeded, "")
	ErrDuplicateRequest                = Guard(CodeDuplicateRequest, "")
	ErrDateBeforeEstimatedAvailability = Guard(CodeDateBeforeEstimatedAvailability, "")
	ErrNotPending                      = Guard(CodeNotPending, "")
	ErrMissingReason                   = Guard(CodeMissingReason, "")
	ErrNotApproved                     = Guard(CodeNotApproved, "")
	ErrNotActive                       = Guard(CodeNotActive, "")
	ErrNotInProgress                   = Guard(CodeNotInProgress, "")
	ErrNotYetOverdue                   = Guard(CodeNotYetOverdue, "")
	ErrNotOwner                        = Guard(CodeNotOwner, "")
	ErrForbidden                       = Guard(CodeForbidden, "")
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) Expected() bool { return true }

func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ErrConsistency marks a copy/loan state mismatch discovered inside an
// atomic unit. The unit is rolled back; the caller may retry the operation.
var ErrConsistency = errors.New("consistency violation")

// ErrConflict is returned for unique-key collisions (inventory code,
// national ID, email).
var ErrConflict = errors.New("conflict")

// IsGuardViolation reports whether err is a business-rule failure.
func IsGuardViolation(err error) bool {
	var gv *GuardViolation
	return errors.As(err, &gv)
}
