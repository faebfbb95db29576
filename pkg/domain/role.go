package domain

import "ballotgate/pkg/domainerrors"

// Role is the closed set of participant roles. Authorization decisions go
// through Can so capability checks live in one place instead of string
// comparisons scattered across handlers.
type Role string

const (
	RoleVoter     Role = "voter"
	RoleCandidate Role = "candidate"
	RoleAdmin     Role = "admin"
)

// Capability names an operation a role may or may not perform.
type Capability string

const (
	CapCastVote         Capability = "cast_vote"
	CapSelfNominate     Capability = "self_nominate"
	CapManageElection   Capability = "manage_election"
	CapVerifyIdentity   Capability = "verify_identity"
	CapManageCandidates Capability = "manage_candidates"
	CapAssignRoles      Capability = "assign_roles"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleVoter: {
		CapCastVote: true,
	},
	RoleCandidate: {
		CapSelfNominate: true,
	},
	RoleAdmin: {
		CapManageElection:   true,
		CapVerifyIdentity:   true,
		CapManageCandidates: true,
		CapAssignRoles:      true,
	},
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleVoter, RoleCandidate, RoleAdmin:
		return true
	}
	return false
}

// Can reports whether the role holds the capability.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if !r.Valid() {
		return "", domainerrors.Newf(domainerrors.CodeInvalidInput, "invalid role %q", raw)
	}
	return r, nil
}
