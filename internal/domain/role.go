package domain

import (
	"fmt"
	"strings"
)

// Role is the classification of a connected peer. It changes at most once,
// from RoleUnclassified to either RoleProducer or RoleConsumer.
type Role int

const (
	RoleUnclassified Role = iota
	RoleProducer
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unclassified"
	}
}

// ParseRole parses an explicitly declared role. The empty string means
// "not declared" and yields RoleUnclassified.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return RoleUnclassified, nil
	case "producer", "device":
		return RoleProducer, nil
	case "consumer", "dashboard":
		return RoleConsumer, nil
	default:
		return RoleUnclassified, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}
