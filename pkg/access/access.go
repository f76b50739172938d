// Package access implements the static email allow-list that maps users to
// the environments they may trigger runs against. The policy is built once
// at startup and never mutated.
package access

import (
	"strings"

	"github.com/qaops/testoor/pkg/config"
)

// Policy answers whether a user may act on an environment.
type Policy struct {
	byEmail map[string]map[string]struct{}
}

// NewPolicy builds a policy from the users config. Email comparison is
// case-insensitive.
func NewPolicy(users []config.User) *Policy {
	byEmail := make(map[string]map[string]struct{}, len(users))

	for _, u := range users {
		envs := make(map[string]struct{}, len(u.Environments))
		for _, code := range u.Environments {
			envs[code] = struct{}{}
		}

		byEmail[strings.ToLower(u.Email)] = envs
	}

	return &Policy{byEmail: byEmail}
}

// Allowed reports whether email may act on the environment. Unknown users
// are denied.
func (p *Policy) Allowed(email, envCode string) bool {
	envs, ok := p.byEmail[strings.ToLower(email)]
	if !ok {
		return false
	}

	_, ok = envs[envCode]

	return ok
}

// Environments returns the environment codes granted to email, or nil for
// unknown users.
func (p *Policy) Environments(email string) []string {
	envs, ok := p.byEmail[strings.ToLower(email)]
	if !ok {
		return nil
	}

	codes := make([]string, 0, len(envs))
	for code := range envs {
		codes = append(codes, code)
	}

	return codes
}
