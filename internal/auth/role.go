package auth

import (
	"database/sql/driver"
	"errors"
	"strings"
)

var ErrUnknownRole = errors.New("unknown role")

// Role is the exclusive account category. The zero value is not a valid role.
type Role uint8

const (
	RoleAdmin Role = iota + 1
	RoleInstructor
	RolePupil
	RoleParent
)

// Roles lists every valid role in display order.
var Roles = []Role{RoleAdmin, RoleInstructor, RolePupil, RoleParent}

func ParseRole(v string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "admin":
		return RoleAdmin, nil
	case "instructor":
		return RoleInstructor, nil
	case "pupil":
		return RolePupil, nil
	case "parent":
		return RoleParent, nil
	default:
		return 0, ErrUnknownRole
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleInstructor:
		return "instructor"
	case RolePupil:
		return "pupil"
	case RoleParent:
		return "parent"
	default:
		return "unknown"
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleInstructor, RolePupil, RoleParent:
		return true
	default:
		return false
	}
}

// LandingPath is where a freshly logged-in account is sent.
func (r Role) LandingPath() string {
	switch r {
	case RoleAdmin:
		return "/admin"
	case RoleInstructor:
		return "/instructor"
	case RolePupil:
		return "/pupil"
	case RoleParent:
		return "/parent"
	default:
		return "/login"
	}
}

// NeedsClassLevel reports whether accounts of this role belong to a class/level cohort.
func (r Role) NeedsClassLevel() bool {
	switch r {
	case RoleInstructor, RolePupil:
		return true
	case RoleAdmin, RoleParent:
		return false
	default:
		return false
	}
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrUnknownRole
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Scan implements sql.Scanner for the role column.
func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return ErrUnknownRole
	}
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, ErrUnknownRole
	}
	return r.String(), nil
}
