package ingest

import (
	"fmt"
	"path"
	"strings"
)

// Storage keys follow tenants/<tenant_id>/documents/<document_id>/<filename>.
// The structure is load-bearing: storage events carry only the key, and the
// worker must map it back to (tenant, document) deterministically.

// BuildStorageKey forms the canonical key for a document blob.
func BuildStorageKey(tenantID, documentID, filename string) string {
	return path.Join("tenants", tenantID, "documents", documentID, SanitizeFilename(filename))
}

// ParseStorageKey recovers (tenant_id, document_id) from a storage key.
// Keys that do not match the canonical shape are rejected.
func ParseStorageKey(key string) (tenantID, documentID string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 || parts[0] != "tenants" || parts[2] != "documents" {
		return "", "", fmt.Errorf("storage key %q does not match tenants/<tenant>/documents/<doc>/<file>", key)
	}
	if parts[1] == "" || parts[3] == "" || parts[4] == "" {
		return "", "", fmt.Errorf("storage key %q has empty segments", key)
	}
	return parts[1], parts[3], nil
}

// SanitizeFilename strips path separators and traversal segments so a
// client-supplied filename can never escape its document prefix.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "upload.bin"
	}
	return name
}
