package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name: "basic error",
			appError: &AppError{
				Type:    ErrTypeConfig,
				Message: "configuration is invalid",
			},
			want: "config: configuration is invalid",
		},
		{
			name: "error with code",
			appError: &AppError{
				Type:    ErrTypeCompilation,
				Message: "rule 2 does not parse",
				Code:    "RULE002",
			},
			want: "compilation: rule 2 does not parse: code=RULE002",
		},
		{
			name: "error with cause",
			appError: &AppError{
				Type:    ErrTypePersistence,
				Message: "writing rules",
				Cause:   errors.New("disk full"),
			},
			want: "persistence: writing rules: cause=disk full",
		},
		{
			name: "error with context",
			appError: &AppError{
				Type:    ErrTypeDispatch,
				Message: "forward failed",
				Context: map[string]interface{}{
					"destination": "pacs",
				},
			},
			want: "dispatch: forward failed: context={destination=pacs}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	appError := PersistenceError("wrapper error", cause)

	if appError.Unwrap() != cause {
		t.Errorf("AppError.Unwrap() = %v, want %v", appError.Unwrap(), cause)
	}

	if !errors.Is(appError, cause) {
		t.Error("errors.Is should find the cause")
	}

	if ValidationError("no cause").Unwrap() != nil {
		t.Error("AppError.Unwrap() without cause should be nil")
	}
}

func TestAppError_WithContext(t *testing.T) {
	appError := CompilationError("bad predicate", nil)

	result := appError.WithContext("rule_index", 3)
	if result != appError {
		t.Error("WithContext should return the same instance")
	}
	if appError.Context["rule_index"] != 3 {
		t.Errorf("Context[rule_index] = %v, want 3", appError.Context["rule_index"])
	}
}

func TestDispatchError(t *testing.T) {
	cause := errors.New("connection refused")
	err := DispatchError("researchpacs", cause)

	if err.Type != ErrTypeDispatch {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeDispatch)
	}
	if err.Context["destination"] != "researchpacs" {
		t.Errorf("Context[destination] = %v, want researchpacs", err.Context["destination"])
	}
	if !errors.Is(err, cause) {
		t.Error("DispatchError should wrap its cause")
	}
}

func TestIsType(t *testing.T) {
	wrapped := fmt.Errorf("replacing rules: %w", CompilationError("unexpected token", nil))

	tests := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{"nil error", nil, ErrTypeInternal, false},
		{"plain error", errors.New("boom"), ErrTypeInternal, false},
		{"matching type", TimeoutError("forward"), ErrTypeTimeout, true},
		{"other type", TimeoutError("forward"), ErrTypeDispatch, false},
		{"wrapped app error", wrapped, ErrTypeCompilation, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsType(tt.err, tt.errType); got != tt.want {
				t.Errorf("IsType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetType(t *testing.T) {
	if got := GetType(nil); got != "" {
		t.Errorf("GetType(nil) = %v, want empty", got)
	}
	if got := GetType(errors.New("plain")); got != ErrTypeInternal {
		t.Errorf("GetType(plain) = %v, want %v", got, ErrTypeInternal)
	}
	if got := GetType(NotFoundError("study")); got != ErrTypeNotFound {
		t.Errorf("GetType(not found) = %v, want %v", got, ErrTypeNotFound)
	}
}
