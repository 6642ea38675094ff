package access

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Principal is an opaque, globally unique participant identifier.
type Principal string

// ZeroAddress is treated the same as the empty principal.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// NullPrincipal is the canonical null principal.
const NullPrincipal Principal = ""

// IsNull reports whether p is the null principal.
func (p Principal) IsNull() bool {
	s := strings.TrimSpace(string(p))
	return s == "" || strings.EqualFold(s, ZeroAddress)
}

func (p Principal) String() string { return string(p) }

// Role is the single role held by a principal.
type Role uint8

const (
	RoleNone Role = iota
	RoleAdmin
	RolePatient
	RoleProvider
)

var roleNames = map[Role]string{
	RoleNone:     "none",
	RoleAdmin:    "admin",
	RolePatient:  "patient",
	RoleProvider: "provider",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return "role(" + strconv.Itoa(int(r)) + ")"
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole accepts role names, their *_ROLE constant spellings and numbers.
func ParseRole(s string) (Role, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimSuffix(v, "_role")
	for r, n := range roleNames {
		if n == v {
			return r, nil
		}
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= int(RoleProvider) {
		return Role(n), nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Assignment is a principal's current role.
type Assignment struct {
	Principal Principal `json:"address"`
	Role      Role      `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}
