package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// TenantSchemaPrefix is the naming convention for branch schemas. It is
// persisted in branch metadata and must remain stable across versions.
const TenantSchemaPrefix = "mhb_"

// schemaShapePattern is the runtime shape every allocated schema name must
// match: mhb_<hex-tenant-token>_b<branchNumber>.
var schemaShapePattern = regexp.MustCompile(`^mhb_[a-f0-9]+_b\d+$`)

// InvalidGeneratedNameError reports an allocated schema name that failed the
// runtime-shape check. It indicates a bug or an unexpected tenant id format
// and is always fatal to the operation that triggered the allocation.
type InvalidGeneratedNameError struct {
	TenantID string
	Name     string
}

func (e *InvalidGeneratedNameError) Error() string {
	return fmt.Sprintf("generated schema name %q for tenant %q failed validation", e.Name, e.TenantID)
}

// Allocate derives the deterministic schema name for a branch of a tenant:
// mhb_<token>_b<branchNumber>, where the token is the tenant id stripped to
// its hex characters. The result must pass both the identifier grammar and
// the runtime shape check; on failure the caller aborts the whole operation
// rather than attempting to repair the name. The token is derived from a
// caller-visible tenant id, so it is never trusted blindly even though it is
// server-generated.
func Allocate(tenantID string, branchNumber int) (SafeIdentifier, error) {
	if branchNumber < 1 {
		return SafeIdentifier{}, &InvalidGeneratedNameError{TenantID: tenantID, Name: ""}
	}

	name := fmt.Sprintf("%s%s_b%d", TenantSchemaPrefix, hexToken(tenantID), branchNumber)

	id, err := Quote(name)
	if err != nil {
		return SafeIdentifier{}, &InvalidGeneratedNameError{TenantID: tenantID, Name: name}
	}
	if !schemaShapePattern.MatchString(name) {
		return SafeIdentifier{}, &InvalidGeneratedNameError{TenantID: tenantID, Name: name}
	}

	return id, nil
}

// ValidateSchemaName applies the three independent checks required before a
// tenant schema may be dropped: the identifier grammar, the tenant schema
// prefix, and the runtime shape. Each check closes a separate injection or
// accidental-drop risk, so none may be skipped.
func ValidateSchemaName(name string) error {
	if !Validate(name) {
		return &UnsafeIdentifierError{Name: name}
	}
	if !strings.HasPrefix(name, TenantSchemaPrefix) {
		return fmt.Errorf("schema name %q does not carry the tenant schema prefix %q", name, TenantSchemaPrefix)
	}
	if !schemaShapePattern.MatchString(name) {
		return fmt.Errorf("schema name %q does not match the tenant schema shape", name)
	}
	return nil
}

// hexToken strips a tenant id down to its lowercase hex characters
func hexToken(tenantID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tenantID) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
