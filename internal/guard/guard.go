// Package guard validates tenant claims on every inbound operation and
// provides the scoping helpers downstream components use to keep one
// tenant's data out of another tenant's responses. On deny, nothing
// downstream runs.
package guard

import (
	"context"
	"strings"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/registry"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

// Claim is the validated tenant/user identity attached to a request.
type Claim struct {
	Tenant store.TenantRecord
	User   store.UserRecord
}

// Guard checks tenant claims against the registry.
type Guard struct {
	registry *registry.Registry
}

// New builds a Guard backed by the tenant registry.
func New(reg *registry.Registry) *Guard {
	return &Guard{registry: reg}
}

// ResolveTenantClaim reconciles the header and body tenant claims. The
// header takes precedence as the canonical value; if both are present they
// must agree or the request is rejected outright.
func ResolveTenantClaim(headerTenant, bodyTenant string) (string, error) {
	headerTenant = strings.TrimSpace(headerTenant)
	bodyTenant = strings.TrimSpace(bodyTenant)
	switch {
	case headerTenant == "" && bodyTenant == "":
		return "", fault.New(fault.KindValidation, "guard.ResolveTenantClaim", "tenant claim required")
	case headerTenant != "" && bodyTenant != "" && headerTenant != bodyTenant:
		return "", fault.Newf(fault.KindTenantMismatch, "guard.ResolveTenantClaim",
			"header tenant %q does not match body tenant %q", headerTenant, bodyTenant)
	case headerTenant != "":
		return headerTenant, nil
	default:
		return bodyTenant, nil
	}
}

// Admit validates the claimed tenant and binds the caller to it. A user
// whose home tenant differs from the claim is rejected, never remapped.
func (g *Guard) Admit(ctx context.Context, headerTenant, bodyTenant string, user store.UserRecord) (Claim, error) {
	tenantID, err := ResolveTenantClaim(headerTenant, bodyTenant)
	if err != nil {
		return Claim{}, err
	}
	tenant, err := g.registry.Tenant(ctx, tenantID)
	if err != nil {
		return Claim{}, err
	}
	if user.TenantID != tenant.ID {
		return Claim{}, fault.Newf(fault.KindTenantMismatch, "guard.Admit",
			"user tenant %q does not match claimed tenant %q", user.TenantID, tenant.ID)
	}
	return Claim{Tenant: tenant, User: user}, nil
}

// FilterChunks drops any search result whose tenant differs from the
// caller. The store predicate already excludes them; this second pass
// exists because a bug in that predicate would be the single most damaging
// failure in the system.
func FilterChunks(tenantID string, results []store.ChunkSearchResult) []store.ChunkSearchResult {
	filtered := results[:0]
	for _, res := range results {
		if res.TenantID == tenantID {
			filtered = append(filtered, res)
		}
	}
	return filtered
}

// FilterCustomers drops any customer record outside the caller's tenant.
func FilterCustomers(tenantID string, records []store.CustomerRecord) []store.CustomerRecord {
	filtered := records[:0]
	for _, rec := range records {
		if rec.TenantID == tenantID {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}
