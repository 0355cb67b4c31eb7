package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("refresh: %w", ErrTokenInvalid)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Error("wrapped ErrTokenInvalid should match")
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Error("ErrTokenInvalid should not match ErrTokenExpired")
	}

	reworded := &Error{Status: 401, Code: "token_invalid", Message: "different wording"}
	if !errors.Is(reworded, ErrTokenInvalid) {
		t.Error("same code with different message should match")
	}
}

func TestIs_NonAppError(t *testing.T) {
	if errors.Is(ErrTokenInvalid, errors.New("token_invalid")) {
		t.Error("plain error should not match")
	}
}

func TestError_Format(t *testing.T) {
	if got := ErrDeviceRevoked.Error(); got != "device_revoked: device access has been revoked" {
		t.Errorf("Error() = %q", got)
	}
}

func TestExposeFlags(t *testing.T) {
	for _, e := range []*Error{ErrActivationFailed, ErrSessionFailed, ErrServiceUnavailable} {
		if e.Expose {
			t.Errorf("%s should not be exposed", e.Code)
		}
		if e.Status != 500 && e.Status != 503 {
			t.Errorf("%s status = %d", e.Code, e.Status)
		}
	}
	for _, e := range []*Error{ErrInvalidActivationCode, ErrRateLimited, ErrDeviceRevoked, ErrTokenExpired} {
		if !e.Expose {
			t.Errorf("%s should be exposed", e.Code)
		}
	}
}
