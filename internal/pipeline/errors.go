package pipeline

import (
	"fmt"
	"strings"
)

// ErrorKind groups error codes by how callers should treat them.
type ErrorKind string

// Error kinds.
const (
	// KindConfiguration errors are surfaced to the configuring caller and never retried.
	KindConfiguration ErrorKind = "configuration"
	// KindBuild errors abort the affected camera's build.
	KindBuild ErrorKind = "build"
	// KindCapture errors are scoped to a single capture call.
	KindCapture ErrorKind = "capture"
	// KindResource errors abort the in-progress capture call.
	KindResource ErrorKind = "resource"
)

// ErrorCode identifies a specific failure.
type ErrorCode string

// ErrorCode constants.
const (
	ErrCameraIndexOutOfRange   ErrorCode = "CAMERA_INDEX_OUT_OF_RANGE"
	ErrResolutionExceedsSensor ErrorCode = "RESOLUTION_EXCEEDS_SENSOR"
	ErrTooManyOutputs          ErrorCode = "TOO_MANY_OUTPUTS"
	ErrInvalidResolution       ErrorCode = "INVALID_RESOLUTION"
	ErrUnsupportedEncoding     ErrorCode = "UNSUPPORTED_ENCODING"
	ErrInconsistentPortMode    ErrorCode = "INCONSISTENT_PORT_MODE"
	ErrAlreadyBuilt            ErrorCode = "ALREADY_BUILT"
	ErrSlotNotFound            ErrorCode = "SLOT_NOT_FOUND"
	ErrNoCameras               ErrorCode = "NO_CAMERAS"
	ErrInventoryFailed         ErrorCode = "INVENTORY_FAILED"

	ErrStageCreateFailed      ErrorCode = "STAGE_CREATE_FAILED"
	ErrPortNotFound           ErrorCode = "PORT_NOT_FOUND"
	ErrFormatCommitFailed     ErrorCode = "FORMAT_COMMIT_FAILED"
	ErrParameterSetFailed     ErrorCode = "PARAMETER_SET_FAILED"
	ErrEnableFailed           ErrorCode = "ENABLE_FAILED"
	ErrConnectionCreateFailed ErrorCode = "CONNECTION_CREATE_FAILED"
	ErrConnectionEnableFailed ErrorCode = "CONNECTION_ENABLE_FAILED"
	ErrPoolSeedFailed         ErrorCode = "POOL_SEED_FAILED"

	ErrNotBuilt         ErrorCode = "NOT_BUILT"
	ErrNoStatusSuccess  ErrorCode = "NO_STATUS_SUCCESS"
	ErrNoBufferHeld     ErrorCode = "NO_BUFFER_HELD"
	ErrTriggerArmFailed ErrorCode = "TRIGGER_ARM_FAILED"
	ErrBufferSendFailed ErrorCode = "BUFFER_SEND_FAILED"
	ErrRawCaptureFailed ErrorCode = "RAW_CAPTURE_FAILED"
	ErrTokenConsumed    ErrorCode = "TOKEN_CONSUMED"
	// ErrCaptureCancelled is returned when the caller's context ends before
	// a frame arrives. The slot stays usable.
	ErrCaptureCancelled ErrorCode = "CAPTURE_CANCELLED"

	ErrResourceAllocationFailed ErrorCode = "RESOURCE_ALLOCATION_FAILED"
)

// Error is a pipeline error carrying enough context to locate the failure.
// Camera and Slot are -1 when not applicable.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Camera  int       `json:"camera"`
	Slot    int       `json:"slot"`
	Stage   string    `json:"stage,omitempty"`
	Port    string    `json:"port,omitempty"`
	Cause   error     `json:"-"`
}

func newError(kind ErrorKind, code ErrorCode, camera, slot int, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Camera:  camera,
		Slot:    slot,
	}
}

func configError(code ErrorCode, camera, slot int, format string, args ...any) *Error {
	return newError(KindConfiguration, code, camera, slot, format, args...)
}

func captureError(code ErrorCode, h Handle, format string, args ...any) *Error {
	return newError(KindCapture, code, h.Camera, h.Slot, format, args...)
}

// buildError describes a failed build step on a stage and optional port.
func buildError(code ErrorCode, camera, slot int, stage, port string, cause error) *Error {
	e := newError(KindBuild, code, camera, slot, "%s", describeStep(code))
	e.Stage = stage
	e.Port = port
	e.Cause = cause
	return e
}

func describeStep(code ErrorCode) string {
	switch code {
	case ErrStageCreateFailed:
		return "creating stage failed"
	case ErrPortNotFound:
		return "stage has no such port"
	case ErrFormatCommitFailed:
		return "committing port format failed"
	case ErrParameterSetFailed:
		return "setting port parameter failed"
	case ErrEnableFailed:
		return "enabling failed"
	case ErrConnectionCreateFailed:
		return "creating connection failed"
	case ErrConnectionEnableFailed:
		return "enabling connection failed"
	case ErrPoolSeedFailed:
		return "seeding buffer pool failed"
	default:
		return strings.ToLower(strings.ReplaceAll(string(code), "_", " "))
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var where []string
	if e.Camera >= 0 {
		where = append(where, fmt.Sprintf("camera %d", e.Camera))
	}
	if e.Slot >= 0 {
		where = append(where, fmt.Sprintf("slot %d", e.Slot))
	}
	if e.Stage != "" {
		where = append(where, e.Stage)
	}
	if e.Port != "" {
		where = append(where, e.Port)
	}

	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(where) > 0 {
		msg += " (" + strings.Join(where, ", ") + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code ErrorCode) bool {
	return e.Code == code
}

// IsCode reports whether any error in err's tree is a pipeline error with code.
func IsCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *Error:
		return e.Code == code || IsCode(e.Cause, code)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsCode(inner, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return IsCode(e.Unwrap(), code)
	}
	return false
}
