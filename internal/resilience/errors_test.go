package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindFromHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindInvalidCredentials},
		{403, KindInvalidCredentials},
		{402, KindQuotaExhausted},
		{404, KindNotFound},
		{422, KindNotFound},
		{429, KindRateLimited},
		{408, KindTimeout},
		{504, KindTimeout},
		{500, KindServerError},
		{502, KindServerError},
		{503, KindServerError},
	}

	for _, tc := range cases {
		if got := KindFromHTTPStatus(tc.status); got != tc.want {
			t.Errorf("status %d: got %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestIsTransient_ProviderErrorKinds(t *testing.T) {
	transient := []ErrorKind{KindRateLimited, KindTimeout, KindServerError}
	for _, k := range transient {
		err := NewProviderError(k, "apollo", 0, errors.New("boom"))
		if !IsTransient(err) {
			t.Errorf("%s should be transient", k)
		}
	}

	permanent := []ErrorKind{KindInvalidCredentials, KindNotFound, KindQuotaExhausted}
	for _, k := range permanent {
		err := NewProviderError(k, "apollo", 0, errors.New("boom"))
		if IsTransient(err) {
			t.Errorf("%s should not be transient", k)
		}
		if !IsPermanent(err) {
			t.Errorf("%s should be permanent", k)
		}
	}
}

func TestIsTransient_WrappedProviderError(t *testing.T) {
	inner := NewProviderError(KindRateLimited, "hunter", 429, errors.New("slow down"))
	wrapped := fmt.Errorf("enrich acme.com: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("wrapped transient error should remain transient")
	}
}

func TestIsTransient_ContextDeadline(t *testing.T) {
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if IsTransient(errors.New("invalid payload shape")) {
		t.Error("unclassified errors default to non-transient")
	}
}
