// Package schema owns the physical side of the branch lifecycle: safe
// identifier handling, schema name allocation, schema cloning and schema
// destruction. Every dynamically built schema or table name in the codebase
// must pass through this package before it is interpolated into DDL.
package schema

import (
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// identifierPattern is the safe-character grammar for SQL identifiers:
// lowercase letters, digits and underscore, not starting with a digit.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// UnsafeIdentifierError reports a name that failed the identifier grammar.
type UnsafeIdentifierError struct {
	Name string
}

func (e *UnsafeIdentifierError) Error() string {
	return fmt.Sprintf("unsafe SQL identifier: %q", e.Name)
}

// SafeIdentifier is a schema or table name that has passed validation.
// The zero value is unusable; the only way to obtain a non-empty
// SafeIdentifier is through Quote or Allocate.
type SafeIdentifier struct {
	name string
}

// String returns the raw identifier
func (id SafeIdentifier) String() string {
	return id.name
}

// Quoted returns the identifier quoted for interpolation into DDL
func (id SafeIdentifier) Quoted() string {
	return pgx.Identifier{id.name}.Sanitize()
}

// IsZero reports whether the identifier is the unusable zero value
func (id SafeIdentifier) IsZero() bool {
	return id.name == ""
}

// Validate reports whether a name matches the identifier grammar
func Validate(name string) bool {
	return identifierPattern.MatchString(name)
}

// Quote validates a name and wraps it as a SafeIdentifier. It is the single
// chokepoint between user-influenced names and dynamically built SQL.
func Quote(name string) (SafeIdentifier, error) {
	if !Validate(name) {
		return SafeIdentifier{}, &UnsafeIdentifierError{Name: name}
	}
	return SafeIdentifier{name: name}, nil
}
