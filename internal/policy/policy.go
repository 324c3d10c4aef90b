// Package policy implements the access evaluator: the single pure function
// deciding whether an actor may exercise a capability on a document. All
// listing and retrieval paths go through Evaluate so the rules live in
// exactly one place.
package policy

import (
	"time"

	"github.com/sealbox/sealbox/internal/model"
)

// Decision is the evaluator outcome.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// String implements fmt.Stringer for log lines.
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Input bundles the pre-fetched policy rows Evaluate needs. Grant may be nil
// when no user grant row exists for (document, actor). Evaluate performs no
// I/O and has no side effects; the caller audits the outcome.
type Input struct {
	Actor     model.Actor
	Document  *model.Document
	Grant     *model.UserGrant
	RolePerms []model.RolePermission
	Now       time.Time
}

// Evaluate applies the precedence rules in order; the first matching rule
// wins.
//
//  1. Owner or superuser: allow every capability.
//  2. Public level: allow read.
//  3. Internal level: allow read for any authenticated actor.
//  4. Non-expired user grant: its flag decides the capability outright. An
//     explicit grant row is authoritative, so a false flag denies even when a
//     role permission would allow.
//  5. Role permissions: allow when any derived role has the flag set.
//  6. Otherwise deny.
//
// Confidential and restricted levels grant nothing implicitly; they rely
// entirely on rules 4 and 5.
func Evaluate(in Input, capability model.Capability) Decision {
	doc := in.Document
	actor := in.Actor

	if actor.ID != "" && actor.ID == doc.OwnerID {
		return Allow
	}
	if actor.Superuser {
		return Allow
	}

	if capability == model.CapRead {
		if doc.AccessLevel == model.LevelPublic {
			return Allow
		}
		if doc.AccessLevel == model.LevelInternal && actor.ID != "" {
			return Allow
		}
	}

	if in.Grant != nil && in.Grant.UserID == actor.ID && !in.Grant.Expired(in.Now) {
		if in.Grant.Capabilities.Has(capability) {
			return Allow
		}
		return Deny
	}

	roles := RolesForGroups(actor.Groups)
	for _, perm := range in.RolePerms {
		if !perm.Capabilities.Has(capability) {
			continue
		}
		for _, role := range roles {
			if perm.Role == role {
				return Allow
			}
		}
	}
	return Deny
}
