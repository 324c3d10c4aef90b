package policy

import (
	"testing"
	"time"

	"github.com/sealbox/sealbox/internal/model"
)

var allCapabilities = []model.Capability{
	model.CapRead, model.CapDownload, model.CapEdit, model.CapDelete, model.CapShare,
}

var allLevels = []model.AccessLevel{
	model.LevelPublic, model.LevelInternal, model.LevelConfidential, model.LevelRestricted,
}

func confidentialDoc(owner string) *model.Document {
	return &model.Document{
		ID:          "doc-1",
		OwnerID:     owner,
		AccessLevel: model.LevelConfidential,
		Status:      model.StatusPublished,
		Active:      true,
	}
}

func TestOwnerAlwaysAllowed(t *testing.T) {
	for _, level := range allLevels {
		doc := confidentialDoc("alice")
		doc.AccessLevel = level
		for _, c := range allCapabilities {
			in := Input{
				Actor:    model.Actor{ID: "alice"},
				Document: doc,
				Now:      time.Now(),
			}
			if got := Evaluate(in, c); got != Allow {
				t.Errorf("owner %s on %s doc = %v, want allow", c, level, got)
			}
		}
	}
}

func TestSuperuserAlwaysAllowed(t *testing.T) {
	doc := confidentialDoc("alice")
	doc.AccessLevel = model.LevelRestricted
	for _, c := range allCapabilities {
		in := Input{
			Actor:    model.Actor{ID: "root", Superuser: true},
			Document: doc,
			Now:      time.Now(),
		}
		if got := Evaluate(in, c); got != Allow {
			t.Errorf("superuser %s = %v, want allow", c, got)
		}
	}
}

func TestPublicReadOnly(t *testing.T) {
	doc := confidentialDoc("alice")
	doc.AccessLevel = model.LevelPublic
	doc.Status = model.StatusDraft // status is orthogonal to access level
	in := Input{Actor: model.Actor{ID: "bob"}, Document: doc, Now: time.Now()}
	if got := Evaluate(in, model.CapRead); got != Allow {
		t.Fatalf("public read = %v, want allow", got)
	}
	for _, c := range []model.Capability{model.CapDownload, model.CapEdit, model.CapDelete, model.CapShare} {
		if got := Evaluate(in, c); got != Deny {
			t.Errorf("public %s = %v, want deny", c, got)
		}
	}
}

func TestInternalReadForAuthenticated(t *testing.T) {
	doc := confidentialDoc("alice")
	doc.AccessLevel = model.LevelInternal
	in := Input{Actor: model.Actor{ID: "bob"}, Document: doc, Now: time.Now()}
	if got := Evaluate(in, model.CapRead); got != Allow {
		t.Fatalf("internal read for authenticated actor = %v, want allow", got)
	}
	if got := Evaluate(in, model.CapEdit); got != Deny {
		t.Fatalf("internal edit = %v, want deny", got)
	}
	anon := Input{Actor: model.Actor{}, Document: doc, Now: time.Now()}
	if got := Evaluate(anon, model.CapRead); got != Deny {
		t.Fatalf("internal read without identity = %v, want deny", got)
	}
}

func TestConfidentialWithNoGrantsDenied(t *testing.T) {
	in := Input{Actor: model.Actor{ID: "bob"}, Document: confidentialDoc("alice"), Now: time.Now()}
	for _, c := range allCapabilities {
		if got := Evaluate(in, c); got != Deny {
			t.Errorf("confidential %s with no grants = %v, want deny", c, got)
		}
	}
}

func TestUserGrantAllows(t *testing.T) {
	doc := confidentialDoc("alice")
	grant := &model.UserGrant{
		DocumentID:   doc.ID,
		UserID:       "bob",
		GrantedBy:    "alice",
		Capabilities: model.CapabilitySet{Read: true, Download: true},
	}
	in := Input{Actor: model.Actor{ID: "bob"}, Document: doc, Grant: grant, Now: time.Now()}
	if got := Evaluate(in, model.CapDownload); got != Allow {
		t.Fatalf("granted download = %v, want allow", got)
	}
	if got := Evaluate(in, model.CapDelete); got != Deny {
		t.Fatalf("ungranted delete = %v, want deny", got)
	}
}

func TestExpiredGrantBehavesAsAbsent(t *testing.T) {
	doc := confidentialDoc("alice")
	past := time.Now().Add(-time.Hour)
	grant := &model.UserGrant{
		DocumentID:   doc.ID,
		UserID:       "bob",
		Capabilities: model.CapabilitySet{Read: true},
		ExpiresAt:    &past,
	}
	withGrant := Input{Actor: model.Actor{ID: "bob"}, Document: doc, Grant: grant, Now: time.Now()}
	withoutGrant := Input{Actor: model.Actor{ID: "bob"}, Document: doc, Now: time.Now()}
	for _, c := range allCapabilities {
		if Evaluate(withGrant, c) != Evaluate(withoutGrant, c) {
			t.Errorf("expired grant changes outcome for %s", c)
		}
	}
	// An expired grant must also stop masking role permissions (rule 5).
	perms := []model.RolePermission{{
		DocumentID:   doc.ID,
		Role:         model.RoleStaff,
		Capabilities: model.CapabilitySet{Read: true},
	}}
	withGrant.RolePerms = perms
	if got := Evaluate(withGrant, model.CapRead); got != Allow {
		t.Fatalf("role permission behind expired grant = %v, want allow", got)
	}
}

func TestUserGrantPresenceOverridesRolePermission(t *testing.T) {
	doc := confidentialDoc("alice")
	grant := &model.UserGrant{
		DocumentID:   doc.ID,
		UserID:       "bob",
		Capabilities: model.CapabilitySet{Read: true}, // edit deliberately false
	}
	perms := []model.RolePermission{{
		DocumentID:   doc.ID,
		Role:         model.RoleHR,
		Capabilities: model.CapabilitySet{Edit: true},
	}}
	in := Input{
		Actor:     model.Actor{ID: "bob", Groups: []string{"hr"}},
		Document:  doc,
		Grant:     grant,
		RolePerms: perms,
		Now:       time.Now(),
	}
	if got := Evaluate(in, model.CapEdit); got != Deny {
		t.Fatalf("edit with explicit user grant lacking edit = %v, want deny", got)
	}
}

func TestRolePermissionAllows(t *testing.T) {
	doc := confidentialDoc("alice")
	perms := []model.RolePermission{{
		DocumentID:   doc.ID,
		Role:         model.RoleHR,
		Capabilities: model.CapabilitySet{Read: true},
	}}
	in := Input{
		Actor:     model.Actor{ID: "carol", Groups: []string{"Human-Resources"}},
		Document:  doc,
		RolePerms: perms,
		Now:       time.Now(),
	}
	if got := Evaluate(in, model.CapRead); got != Allow {
		t.Fatalf("hr role read = %v, want allow", got)
	}
	if got := Evaluate(in, model.CapShare); got != Deny {
		t.Fatalf("hr role share = %v, want deny", got)
	}
}

func TestRolesForGroups(t *testing.T) {
	cases := []struct {
		groups []string
		want   []model.Role
	}{
		{nil, []model.Role{model.RoleStaff}},
		{[]string{"skunkworks"}, []model.Role{model.RoleStaff}},
		{[]string{"HR", "hr", "human-resources"}, []model.Role{model.RoleHR}},
		{[]string{"ops", "legal"}, []model.Role{model.RoleOperations, model.RoleLegal}},
		{[]string{" Admins "}, []model.Role{model.RoleAdmin}},
	}
	for _, tc := range cases {
		got := RolesForGroups(tc.groups)
		if len(got) != len(tc.want) {
			t.Errorf("RolesForGroups(%v) = %v, want %v", tc.groups, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("RolesForGroups(%v) = %v, want %v", tc.groups, got, tc.want)
				break
			}
		}
	}
}
