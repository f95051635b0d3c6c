package engine

import (
	"fmt"
	"strings"
)

// Policy decides what happens when a persistent id logs in twice.
//
//	strict:     the new connection takes the identity, the old one is booted with LoggedInAgain
//	permissive: the new connection gets a suffixed copy of the id (test/debug deployments)
type Policy string

const (
	PolicyStrict     Policy = "strict"
	PolicyPermissive Policy = "permissive"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyStrict, "":
		return PolicyStrict, nil
	case PolicyPermissive:
		return PolicyPermissive, nil
	default:
		return "", fmt.Errorf("unknown duplicate-login policy %q", s)
	}
}
