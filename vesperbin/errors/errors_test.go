package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestVesperError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *VesperError
		wantStr string
	}{
		{
			name: "basic error",
			err: &VesperError{
				Code:    "TEST_ERROR",
				Message: "test message",
			},
			wantStr: "[TEST_ERROR] test message",
		},
		{
			name: "error with cause",
			err: &VesperError{
				Code:    "TEST_ERROR",
				Message: "test message",
				Cause:   errors.New("underlying error"),
			},
			wantStr: "[TEST_ERROR] test message: underlying error",
		},
		{
			name: "error with details",
			err: &VesperError{
				Code:    "TEST_ERROR",
				Message: "test message",
				Details: map[string]interface{}{"key": "value"},
			},
			wantStr: "details",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if !strings.Contains(got, tt.wantStr) {
				t.Errorf("Error() = %q, want to contain %q", got, tt.wantStr)
			}
		})
	}
}

func TestVesperError_WithCause(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrReadFailed.WithCause(cause)

	if err.Cause != cause {
		t.Errorf("WithCause() cause = %v, want %v", err.Cause, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("WithCause() should allow errors.Is to work")
	}
}

func TestVesperError_IsMatchesCode(t *testing.T) {
	err := NewFormatError("bad magic", 0, []byte{0x00, 0x01, 0x02, 0x03})

	if !errors.Is(err, ErrFormat) {
		t.Error("errors.Is(NewFormatError(), ErrFormat) = false, want true")
	}
	if errors.Is(err, ErrReadFailed) {
		t.Error("errors.Is(NewFormatError(), ErrReadFailed) = true, want false")
	}

	wrapped := fmt.Errorf("decode 00M.BIN: %w", err)
	if !errors.Is(wrapped, ErrFormat) {
		t.Error("errors.Is should see through fmt.Errorf wrapping")
	}
}

func TestNewFormatError_Details(t *testing.T) {
	err := NewFormatError("bad magic", 4, []byte{0xDE, 0xAD})

	vErr, ok := err.(*VesperError)
	if !ok {
		t.Fatalf("NewFormatError() type = %T, want *VesperError", err)
	}
	if vErr.Code != "FORMAT_ERROR" {
		t.Errorf("Code = %q, want FORMAT_ERROR", vErr.Code)
	}
	if vErr.Message != "bad magic" {
		t.Errorf("Message = %q, want bad magic", vErr.Message)
	}
	if vErr.Details["offset"] != int64(4) {
		t.Errorf("offset detail = %v, want 4", vErr.Details["offset"])
	}
	if vErr.Details["bytes"] != "DE AD" {
		t.Errorf("bytes detail = %v, want DE AD", vErr.Details["bytes"])
	}
}

func TestVesperError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrWriteFailed.WithDetail("path", "/tmp/out.wav")

	if _, exists := ErrWriteFailed.Details["path"]; exists {
		t.Error("WithDetail() must not modify the sentinel error")
	}
}

func TestIsVesperError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "VesperError",
			err:  ErrFormat,
			want: true,
		},
		{
			name: "VesperError with cause",
			err:  ErrReadFailed.WithCause(errors.New("test")),
			want: true,
		},
		{
			name: "standard error",
			err:  errors.New("test"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVesperError(tt.err); got != tt.want {
				t.Errorf("IsVesperError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "VesperError",
			err:  ErrUnknownProfile,
			want: "UNKNOWN_PROFILE",
		},
		{
			name: "VesperError with modifications",
			err:  NewWriteError("/tmp/x.csv", errors.New("disk full")),
			want: "WRITE_FAILED",
		},
		{
			name: "standard error",
			err:  errors.New("test"),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.want {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}
