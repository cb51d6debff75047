// Package rbac maps (role, operation) pairs to allow/deny decisions. The
// matrix is data, evaluated before any side-effecting call.
package rbac

import (
	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
)

// Role is a tenant-scoped authorization level.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleContributor Role = "contributor"
	RoleReader      Role = "reader"
)

// Operation names one authorizable action at the API boundary.
type Operation string

const (
	OpIssueUploadURL       Operation = "kb.upload_url"
	OpTriggerIngestion     Operation = "kb.sync"
	OpQueryKnowledge       Operation = "kb.query"
	OpChat                 Operation = "chat"
	OpReadCustomerStatus   Operation = "customer.read_status"
	OpMutateCustomerStatus Operation = "customer.mutate_status"
)

var matrix = map[Operation]map[Role]bool{
	OpIssueUploadURL:       {RoleAdmin: true, RoleContributor: true, RoleReader: false},
	OpTriggerIngestion:     {RoleAdmin: true, RoleContributor: true, RoleReader: false},
	OpQueryKnowledge:       {RoleAdmin: true, RoleContributor: true, RoleReader: true},
	OpChat:                 {RoleAdmin: true, RoleContributor: true, RoleReader: true},
	OpReadCustomerStatus:   {RoleAdmin: true, RoleContributor: true, RoleReader: true},
	OpMutateCustomerStatus: {RoleAdmin: true, RoleContributor: false, RoleReader: false},
}

// ValidRole reports whether the role is one the matrix knows.
func ValidRole(r Role) bool {
	return r == RoleAdmin || r == RoleContributor || r == RoleReader
}

// Authorize returns nil when the role may perform the operation. Denials
// carry no detail beyond "insufficient role" so callers cannot probe the
// policy structure.
func Authorize(role Role, op Operation) error {
	perms, ok := matrix[op]
	if !ok {
		return fault.New(fault.KindForbidden, "rbac.Authorize", "insufficient role")
	}
	if !perms[role] {
		return fault.New(fault.KindForbidden, "rbac.Authorize", "insufficient role")
	}
	return nil
}
