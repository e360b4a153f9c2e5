package limiter

import "fmt"

// Scope is a level of the admission-control hierarchy.
type Scope int

const (
	// ScopeNone means no scope denied the request.
	ScopeNone Scope = iota
	ScopeGlobal
	ScopeTenant
	ScopeUser
)

var scopeNames = map[Scope]string{
	ScopeNone:   "NONE",
	ScopeGlobal: "GLOBAL",
	ScopeTenant: "TENANT",
	ScopeUser:   "USER",
}

// String returns the upper-case scope name, e.g. "TENANT".
func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Scope(%d)", int(s))
}

// MarshalText renders the scope the same way String does, so JSON bodies carry "TENANT".
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// label is the lower-case form used in key material and metric labels.
func (s Scope) label() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeTenant:
		return "tenant"
	case ScopeUser:
		return "user"
	default:
		return "none"
	}
}
