package errors

import (
	"errors"
	"fmt"
)

var (
	// Connection errors
	ErrConnectionFailed = errors.New("store connection failed")
	ErrConnectionClosed = errors.New("store connection closed")
	ErrNotReady         = errors.New("store connection not ready")

	// Purchase errors
	ErrPurchaseFailed      = errors.New("purchase failed")
	ErrItemUnavailable     = errors.New("item unavailable")
	ErrAlreadyOwned        = errors.New("item already owned")
	ErrUserCancelled       = errors.New("purchase cancelled by user")
	ErrFeatureNotSupported = errors.New("feature not supported on this platform")
)

// Code is a normalized, platform-independent error code. The same code is
// carried by both the rejected call and the emitted purchase-error event so
// the two consumption styles never disagree.
type Code string

const (
	CodeUserCancelled       Code = "user-cancelled"
	CodeItemUnavailable     Code = "item-unavailable"
	CodeAlreadyOwned        Code = "already-owned"
	CodeNetworkError        Code = "network-error"
	CodeServiceUnavailable  Code = "service-unavailable"
	CodeDeveloperError      Code = "developer-error"
	CodeUnknown             Code = "unknown"
	CodeConnectionClosed    Code = "connection-closed"
	CodeNotReady            Code = "not-ready"
	CodeInitConnection      Code = "init-connection-failed"
	CodeValidation          Code = "validation-failed"
	CodeFeatureNotSupported Code = "feature-not-supported"
)

// IsUserCancelled reports whether the code represents a deliberate user
// cancellation. Calling UIs are expected to treat this one silently (no
// error banner); that expectation is a documented convention, not enforced
// here.
func (c Code) IsUserCancelled() bool {
	return c == CodeUserCancelled
}

// PurchaseError is the structured error surfaced for failed store
// operations. It is both the rejection reason of the originating call and
// the payload of the purchase-error event.
type PurchaseError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Platform  string `json:"platform"`
	ProductID string `json:"productId,omitempty"`
}

func (e *PurchaseError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("purchase error [%s] on %s (%s): %s", e.Code, e.Platform, e.ProductID, e.Message)
	}
	return fmt.Sprintf("purchase error [%s] on %s: %s", e.Code, e.Platform, e.Message)
}

// NewPurchaseError creates a new purchase error
func NewPurchaseError(code Code, platform, message string) *PurchaseError {
	return &PurchaseError{
		Code:     code,
		Message:  message,
		Platform: platform,
	}
}

// AsPurchaseError coerces err into a *PurchaseError. Errors that are not
// already purchase errors are wrapped under CodeUnknown so listeners always
// see a normalized payload.
func AsPurchaseError(err error, platform string) *PurchaseError {
	var perr *PurchaseError
	if errors.As(err, &perr) {
		return perr
	}
	return &PurchaseError{
		Code:     CodeUnknown,
		Message:  err.Error(),
		Platform: platform,
	}
}

// ConnectionError wraps a connection lifecycle failure
type ConnectionError struct {
	Op  string // "init" or "end"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
