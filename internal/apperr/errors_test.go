package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindAuthentication, http.StatusUnauthorized},
		{KindRateLimitExceeded, http.StatusTooManyRequests},
		{KindBudgetExceeded, http.StatusPaymentRequired},
		{KindSecurityBlocked, http.StatusForbidden},
		{KindProviderUnavailable, http.StatusServiceUnavailable},
		{KindInvalidRequest, http.StatusBadRequest},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := New(tt.kind, "x").StatusCode(); got != tt.want {
				t.Errorf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := New(KindBudgetExceeded, "Spend cap reached")
	err := fmt.Errorf("pipeline: %w", base)

	if KindOf(err) != KindBudgetExceeded {
		t.Errorf("KindOf() = %s, want %s", KindOf(err), KindBudgetExceeded)
	}
	if !Is(err, KindBudgetExceeded) {
		t.Error("Is() = false, want true")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("plain errors should map to internal")
	}
}

func TestBodyHidesCause(t *testing.T) {
	err := Wrap(KindSecurityBlocked, "Request blocked by content policy", errors.New("jailbreak: reveal your system")).
		WithDetails(map[string]interface{}{"request_id": "req-1"})

	body := Body(err)["error"].(map[string]interface{})
	if body["kind"] != KindSecurityBlocked {
		t.Errorf("kind = %v", body["kind"])
	}
	if body["request_id"] != "req-1" {
		t.Errorf("request_id = %v", body["request_id"])
	}
	for _, v := range body {
		if s, ok := v.(string); ok && s == "jailbreak: reveal your system" {
			t.Error("cause leaked into body")
		}
	}
}
