// Package model contains the entity definitions shared across packages:
// documents, folders, permissions, grants, and the audit log.
package model

import (
	"fmt"
	"time"
)

// AccessLevel is a document-wide default visibility tier, independent of
// per-role and per-user grants.
type AccessLevel string

const (
	LevelPublic       AccessLevel = "public"
	LevelInternal     AccessLevel = "internal"
	LevelConfidential AccessLevel = "confidential"
	LevelRestricted   AccessLevel = "restricted"
)

// Valid reports whether the level is one of the four known tiers.
func (l AccessLevel) Valid() bool {
	switch l {
	case LevelPublic, LevelInternal, LevelConfidential, LevelRestricted:
		return true
	}
	return false
}

// Status describes the document content lifecycle. Status is orthogonal to
// AccessLevel: a Draft document can be Public and vice versa.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusPublished     Status = "published"
	StatusArchived      Status = "archived"
	StatusExpired       Status = "expired"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusApproved, StatusPublished,
		StatusArchived, StatusExpired:
		return true
	}
	return false
}

// Capability is the atomic unit of authorization decision.
type Capability string

const (
	CapRead     Capability = "read"
	CapDownload Capability = "download"
	CapEdit     Capability = "edit"
	CapDelete   Capability = "delete"
	CapShare    Capability = "share"
)

// ParseCapability validates a raw capability string. Malformed requests are
// rejected here before any policy or cryptographic work happens.
func ParseCapability(raw string) (Capability, error) {
	c := Capability(raw)
	switch c {
	case CapRead, CapDownload, CapEdit, CapDelete, CapShare:
		return c, nil
	}
	return "", fmt.Errorf("unknown capability %q", raw)
}

// Role is a closed enumeration derived from an actor's group memberships.
// Actors whose groups match nothing fall back to RoleStaff.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleHR         Role = "hr"
	RoleFinance    Role = "finance"
	RoleLegal      Role = "legal"
	RoleIT         Role = "it"
	RoleResearch   Role = "research"
	RoleOperations Role = "operations"
	RoleExecutive  Role = "executive"
	RoleStaff      Role = "staff"
)

// Valid reports whether the role belongs to the closed enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleHR, RoleFinance, RoleLegal, RoleIT,
		RoleResearch, RoleOperations, RoleExecutive, RoleStaff:
		return true
	}
	return false
}

// Actor is the already-authenticated caller identity handed to the core by
// the transport layer. The core never performs authentication itself.
type Actor struct {
	ID        string   `json:"id"`
	Superuser bool     `json:"superuser"`
	Groups    []string `json:"groups"`
}

// Document holds the metadata row for one sealed payload. The ciphertext
// itself lives in the byte store under PayloadKey; when Sealed is true the
// Nonce must be present and exactly 12 bytes, and no plaintext copy exists
// anywhere at rest.
type Document struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"ownerId"`
	FolderID        *string     `json:"folderId,omitempty"`
	Name            string      `json:"name"`
	AccessLevel     AccessLevel `json:"accessLevel"`
	Status          Status      `json:"status"`
	Sealed          bool        `json:"sealed"`
	Nonce           []byte      `json:"-"`
	KeyVersion      int16       `json:"-"`
	PayloadKey      string      `json:"-"`
	Version         int         `json:"version"`
	ParentVersionID *string     `json:"parentVersionId,omitempty"`
	DownloadCount   int64       `json:"downloadCount"`
	LastAccessedAt  *time.Time  `json:"lastAccessedAt,omitempty"`
	EffectiveDate   *time.Time  `json:"effectiveDate,omitempty"`
	ExpiryDate      *time.Time  `json:"expiryDate,omitempty"`
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Folder is a hierarchical container. ParentID is nil for root folders and
// (Name, ParentID) is unique among active folders.
type Folder struct {
	ID          string      `json:"id"`
	ParentID    *string     `json:"parentId,omitempty"`
	OwnerID     string      `json:"ownerId"`
	Name        string      `json:"name"`
	AccessLevel AccessLevel `json:"accessLevel"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// CapabilitySet groups the five grantable capability flags. It is the write
// shape shared by role permissions and user grants.
type CapabilitySet struct {
	Read     bool `json:"read"`
	Download bool `json:"download"`
	Edit     bool `json:"edit"`
	Delete   bool `json:"delete"`
	Share    bool `json:"share"`
}

// Has returns the flag matching the capability.
func (s CapabilitySet) Has(c Capability) bool {
	switch c {
	case CapRead:
		return s.Read
	case CapDownload:
		return s.Download
	case CapEdit:
		return s.Edit
	case CapDelete:
		return s.Delete
	case CapShare:
		return s.Share
	}
	return false
}

// RolePermission is one row per (document, role) pair.
type RolePermission struct {
	DocumentID   string        `json:"documentId"`
	Role         Role          `json:"role"`
	Capabilities CapabilitySet `json:"capabilities"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// UserGrant is one row per (document, user) pair, last-write-wins on
// re-grant. An ExpiresAt in the past means the grant is ignored at evaluation
// time; the row itself is kept until explicitly revoked.
type UserGrant struct {
	DocumentID   string        `json:"documentId"`
	UserID       string        `json:"userId"`
	GrantedBy    string        `json:"grantedBy"`
	Capabilities CapabilitySet `json:"capabilities"`
	ExpiresAt    *time.Time    `json:"expiresAt,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Expired reports whether the grant has lapsed as of now. Expiry is evaluated
// lazily; the row is never deleted on expiry.
func (g *UserGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}

// AccessAction labels what an audit entry records.
type AccessAction string

const (
	ActionView             AccessAction = "view"
	ActionDownload         AccessAction = "download"
	ActionEdit             AccessAction = "edit"
	ActionDelete           AccessAction = "delete"
	ActionShare            AccessAction = "share"
	ActionAccessDenied     AccessAction = "access_denied"
	ActionIntegrityFailure AccessAction = "integrity_failure"
)

// AccessContext carries forensic context captured at the trust boundary.
type AccessContext struct {
	Origin string `json:"origin,omitempty"`
	Client string `json:"client,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// AccessLogEntry is append-only: no update or delete operation exists for it
// anywhere in the service layer. Signature is an HMAC over the entry fields
// so later review can detect tampering with the log itself.
type AccessLogEntry struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"documentId"`
	ActorID    string        `json:"actorId"`
	Action     AccessAction  `json:"action"`
	Success    bool          `json:"success"`
	Context    AccessContext `json:"context"`
	Signature  string        `json:"signature,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}
