package cloudcompute

import (
	"errors"
	"testing"

	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/errs"
)

func TestMapInstanceStatus(t *testing.T) {
	cases := []struct {
		status string
		want   resource.State
	}{
		{"RUNNING", resource.StateRunning},
		{"TERMINATED", resource.StateStopped},
		{"STOPPED", resource.StateStopped},
		{"SUSPENDED", resource.StatePaused},
		{"PROVISIONING", resource.StateUnknown},
	}
	for _, c := range cases {
		if got := mapInstanceStatus(c.status); got != c.want {
			t.Fatalf("status=%s: expected %s, got %s", c.status, c.want, got)
		}
	}
}

func TestClassifyGoogleErrorMapsKnownPatterns(t *testing.T) {
	cases := []struct {
		msg  string
		want errs.Kind
	}{
		{"googleapi: Error 404: not found, notFound", errs.ResourceMissing},
		{"googleapi: Error 409: already exists, alreadyExists", errs.NameCollision},
		{"googleapi: Error 403: quota exceeded, quotaExceeded", errs.QuotaExceeded},
		{"googleapi: Error 401: Unauthorized", errs.AuthFailed},
		{"googleapi: Error 500: internal error", errs.BackendUnreachable},
	}
	for _, c := range cases {
		got := errs.KindOf(classifyGoogleError(errors.New(c.msg)))
		if got != c.want {
			t.Fatalf("msg=%q: expected %s, got %s", c.msg, c.want, got)
		}
	}
}

func TestClassifyGoogleErrorNilIsNil(t *testing.T) {
	if classifyGoogleError(nil) != nil {
		t.Fatal("expected nil error to classify as nil")
	}
}

func TestContainsAny(t *testing.T) {
	if !containsAny("googleapi: Error 404: not found", "404") {
		t.Fatal("expected substring match")
	}
	if containsAny("googleapi: Error 500", "404", "409") {
		t.Fatal("expected no match")
	}
}
