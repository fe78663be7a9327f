package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
// The zero value means success and is what crosses the wire for a completed
// operation.
type ErrorCode int

const ErrCodeNone ErrorCode = 0

const (
	// Tag session errors (100-199)
	ErrCodeNotInitialized ErrorCode = iota + 100
	ErrCodeDisconnected
	ErrCodeInvalidParam
	ErrCodeExceededLength
	ErrCodeTagLost
	ErrCodeFailure
	ErrCodeRemoteException
	ErrCodeNotSupported
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeNone:            "none",
	ErrCodeNotInitialized:  "not initialized",
	ErrCodeDisconnected:    "disconnected",
	ErrCodeInvalidParam:    "invalid parameter",
	ErrCodeExceededLength:  "exceeded length",
	ErrCodeTagLost:         "tag lost",
	ErrCodeFailure:         "failure",
	ErrCodeRemoteException: "remote exception",
	ErrCodeNotSupported:    "operation not supported",
}

// String returns the human-readable name of the code.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error code %d", int(c))
}

// IsValid reports whether c is a known code.
func (c ErrorCode) IsValid() bool {
	_, ok := errorCodeNames[c]
	return ok
}

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "SendCommand", "Connect")
	TagUID  string // Optional: UID of tag involved
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.TagUID != "" {
		sb.WriteString(" (tag ")
		sb.WriteString(e.TagUID)
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrNotInitialized  = &NFCError{Code: ErrCodeNotInitialized, Message: ErrCodeNotInitialized.String()}
	ErrDisconnected    = &NFCError{Code: ErrCodeDisconnected, Message: ErrCodeDisconnected.String()}
	ErrInvalidParam    = &NFCError{Code: ErrCodeInvalidParam, Message: ErrCodeInvalidParam.String()}
	ErrExceededLength  = &NFCError{Code: ErrCodeExceededLength, Message: ErrCodeExceededLength.String()}
	ErrTagLost         = &NFCError{Code: ErrCodeTagLost, Message: ErrCodeTagLost.String()}
	ErrFailure         = &NFCError{Code: ErrCodeFailure, Message: ErrCodeFailure.String()}
	ErrRemoteException = &NFCError{Code: ErrCodeRemoteException, Message: ErrCodeRemoteException.String()}
	ErrNotSupported    = &NFCError{Code: ErrCodeNotSupported, Message: ErrCodeNotSupported.String()}
)

// NewError creates an error of the given kind with the default message.
func NewError(code ErrorCode, op string) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: code.String(),
	}
}

// NewNotSupportedError creates an error for unsupported operations.
func NewNotSupportedError(op string) *NFCError {
	return NewError(ErrCodeNotSupported, op)
}

// NewDisconnectedError creates an error for operations on a session that is
// not connected or whose tag has gone away.
func NewDisconnectedError(op string) *NFCError {
	return NewError(ErrCodeDisconnected, op)
}

// NewInvalidParamError creates an error for a rejected argument.
func NewInvalidParamError(op, format string, args ...interface{}) *NFCError {
	return Errorf(ErrCodeInvalidParam, op, format, args...)
}

// NewTagLostError creates an error for when a tag leaves the field mid-operation.
func NewTagLostError(op string, cause error) *NFCError {
	return WrapError(ErrCodeTagLost, op, "tag lost during operation", cause)
}

// NewFailureError creates an error for a hardware or protocol failure.
func NewFailureError(op string, cause error) *NFCError {
	return WrapError(ErrCodeFailure, op, ErrCodeFailure.String(), cause)
}

// NewRemoteError creates an error for a failed remote call.
func NewRemoteError(op string, cause error) *NFCError {
	return WrapError(ErrCodeRemoteException, op, "remote call failed", cause)
}

// FromCode converts a code received from the service back into an error.
// ErrCodeNone yields nil.
func FromCode(code ErrorCode, op string) error {
	if code == ErrCodeNone {
		return nil
	}
	return NewError(code, op)
}

// IsTagLostError checks if an error indicates the tag left the field.
func IsTagLostError(err error) bool {
	return hasCode(err, ErrCodeTagLost)
}

// IsDisconnectedError checks if an error indicates a disconnected session.
func IsDisconnectedError(err error) bool {
	return hasCode(err, ErrCodeDisconnected)
}

// IsInvalidParamError checks if an error indicates a rejected argument.
func IsInvalidParamError(err error) bool {
	return hasCode(err, ErrCodeInvalidParam)
}

// IsNotSupportedError checks if an error indicates an unsupported operation.
func IsNotSupportedError(err error) bool {
	return hasCode(err, ErrCodeNotSupported)
}

func hasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code == code
	}
	return false
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns ErrCodeNone for nil and ErrCodeFailure for any other error.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return ErrCodeFailure
}

// WrapError wraps an existing error with NFC context.
func WrapError(code ErrorCode, op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...interface{}) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
