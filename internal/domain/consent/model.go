package consent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/medledger/internal/domain/access"
)

// Permission is a bitmask of operations a provider may perform on a patient's
// data. Unknown bits are stored as given.
type Permission uint32

const (
	PermissionRead  Permission = 1 << iota // 1
	PermissionWrite                        // 2
	PermissionShare                        // 4
)

// Has reports whether m and p share at least one bit.
func (m Permission) Has(p Permission) bool {
	return m&p != 0
}

// HasAll reports whether every bit of p is set in m.
func (m Permission) HasAll(p Permission) bool {
	return p != 0 && m&p == p
}

// ParsePermission accepts a number or a "|" separated list of read, write, share.
func ParsePermission(s string) (Permission, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return Permission(n), nil
	}
	var out Permission
	for _, part := range strings.Split(s, "|") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "read", "permission_read":
			out |= PermissionRead
		case "write", "permission_write":
			out |= PermissionWrite
		case "share", "permission_share":
			out |= PermissionShare
		default:
			return 0, fmt.Errorf("unknown permission %q", part)
		}
	}
	return out, nil
}

// Record is the consent a patient has granted one provider. The zero Record
// means no consent was ever granted.
type Record struct {
	Patient     access.Principal `json:"patient"`
	Provider    access.Principal `json:"provider"`
	Permissions Permission       `json:"permissions"`
	Expiry      int64            `json:"expiry"`
	Active      bool             `json:"active"`
	GrantedAt   int64            `json:"granted_at"`
}

// Exists reports whether the record was ever granted.
func (r *Record) Exists() bool {
	return r != nil && r.GrantedAt != 0
}

// InForce reports whether the consent is active and not expired at now (unix
// seconds). An expiry of zero never lapses.
func (r *Record) InForce(now int64) bool {
	if r == nil || !r.Active {
		return false
	}
	return r.Expiry == 0 || r.Expiry > now
}
