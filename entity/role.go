package entity

import "fmt"

// Role is the viewpoint of the local principal. It decides which side of a
// conversation is the counterparty.
type Role string

const (
	CustomerRole Role = "customer"
	AgentRole    Role = "agent"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case CustomerRole, AgentRole:
		return Role(s), nil
	case "staff", "admin", "manager":
		return AgentRole, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// IsAgent reports whether the principal works the support inbox.
func (r Role) IsAgent() bool {
	return r == AgentRole
}
