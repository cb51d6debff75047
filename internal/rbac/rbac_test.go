package rbac

import (
	"testing"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
)

func TestAuthorizeMatrix(t *testing.T) {
	cases := []struct {
		role  Role
		op    Operation
		allow bool
	}{
		{RoleAdmin, OpIssueUploadURL, true},
		{RoleContributor, OpIssueUploadURL, true},
		{RoleReader, OpIssueUploadURL, false},

		{RoleAdmin, OpTriggerIngestion, true},
		{RoleContributor, OpTriggerIngestion, true},
		{RoleReader, OpTriggerIngestion, false},

		{RoleAdmin, OpQueryKnowledge, true},
		{RoleContributor, OpQueryKnowledge, true},
		{RoleReader, OpQueryKnowledge, true},

		{RoleAdmin, OpChat, true},
		{RoleContributor, OpChat, true},
		{RoleReader, OpChat, true},

		{RoleAdmin, OpReadCustomerStatus, true},
		{RoleContributor, OpReadCustomerStatus, true},
		{RoleReader, OpReadCustomerStatus, true},

		{RoleAdmin, OpMutateCustomerStatus, true},
		{RoleContributor, OpMutateCustomerStatus, false},
		{RoleReader, OpMutateCustomerStatus, false},
	}
	for _, tc := range cases {
		err := Authorize(tc.role, tc.op)
		if tc.allow && err != nil {
			t.Errorf("%s/%s: expected allow, got %v", tc.role, tc.op, err)
		}
		if !tc.allow && err == nil {
			t.Errorf("%s/%s: expected deny", tc.role, tc.op)
		}
	}
}

func TestAuthorizeUnknownRole(t *testing.T) {
	err := Authorize(Role("superuser"), OpQueryKnowledge)
	if err == nil {
		t.Fatal("unknown roles must be denied")
	}
	if fault.KindOf(err) != fault.KindForbidden {
		t.Fatalf("denial kind = %v, want KindForbidden", fault.KindOf(err))
	}
}

func TestAuthorizeUnknownOperation(t *testing.T) {
	if err := Authorize(RoleAdmin, Operation("kb.delete")); err == nil {
		t.Fatal("unknown operations must be denied, even for admin")
	}
}

func TestDenialMessageIsOpaque(t *testing.T) {
	err := Authorize(RoleReader, OpIssueUploadURL)
	if err == nil {
		t.Fatal("expected denial")
	}
	if got := err.Error(); got != "rbac.Authorize: insufficient role" {
		t.Fatalf("denial must not leak policy detail, got %q", got)
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleContributor, RoleReader} {
		if !ValidRole(r) {
			t.Errorf("%s should be valid", r)
		}
	}
	if ValidRole(Role("owner")) {
		t.Error("owner is not a known role")
	}
}
