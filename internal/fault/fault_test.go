package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesKind(t *testing.T) {
	inner := New(KindForbidden, "rbac.Authorize", "insufficient role")
	outer := Wrap(KindUpstream, "server.handler", inner)
	if KindOf(outer) != KindForbidden {
		t.Fatalf("expected wrapped error to keep KindForbidden, got %v", KindOf(outer))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindUpstream, "op", nil) != nil {
		t.Fatal("wrapping nil must return nil")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain errors must map to KindUnknown")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindUpstream, true},
		{KindTimeout, false},
		{KindValidation, false},
		{KindForbidden, false},
		{KindTenantMismatch, false},
		{KindUnknownTenant, false},
		{KindNotFound, false},
	}
	for _, tc := range cases {
		err := New(tc.kind, "op", "msg")
		if got := IsRetryable(err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := Newf(KindNotFound, "store.GetDocument", "document %s not found", "d1")
	want := "store.GetDocument: document d1 not found"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(KindUpstream, "server.handler", fmt.Errorf("dial tcp: refused"))
	if wrapped.Error() != "server.handler: dial tcp: refused" {
		t.Fatalf("unexpected wrapped message: %q", wrapped.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindUpstream, "op", cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is must reach the cause through the fault")
	}
}
