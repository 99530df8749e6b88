package access

import "testing"

func TestAccessLevelToActionSet(t *testing.T) {
	cases := []struct {
		level   AccessLevel
		read    bool
		write   bool
		deleted bool
	}{
		{ReadOnly, true, false, false},
		{ReadAndComment, true, false, false},
		{ReadAndWrite, true, true, false},
		{FullAccess, true, true, true},
	}

	for _, c := range cases {
		set := c.level.ToActionSet()
		if got := set.Has(Read); got != c.read {
			t.Errorf("level %v: Has(Read) = %v, want %v", c.level, got, c.read)
		}
		if got := set.Has(Write); got != c.write {
			t.Errorf("level %v: Has(Write) = %v, want %v", c.level, got, c.write)
		}
		if got := set.Has(Delete); got != c.deleted {
			t.Errorf("level %v: Has(Delete) = %v, want %v", c.level, got, c.deleted)
		}
	}
}

func TestRoleToActionSet(t *testing.T) {
	if RoleMember.ToActionSet().Has(Write) {
		t.Error("RoleMember should not imply Write")
	}
	if !RoleEditor.ToActionSet().Has(Write) {
		t.Error("RoleEditor should imply Write")
	}
	if !RoleOwner.ToActionSet().Has(Delete) {
		t.Error("RoleOwner should imply Delete")
	}
}

func TestModelCheckUngrantedIsDenied(t *testing.T) {
	m := NewModel()
	if m.Check("u1", Collab("o1"), Read) {
		t.Error("ungranted uid/object pair should be denied")
	}
}

func TestModelGrantAndCheck(t *testing.T) {
	m := NewModel()
	m.Grant("u1", Collab("o1"), ReadAndWrite.ToActionSet())

	if !m.Check("u1", Collab("o1"), Read) {
		t.Error("Check(Read) should succeed after ReadAndWrite grant")
	}
	if !m.Check("u1", Collab("o1"), Write) {
		t.Error("Check(Write) should succeed after ReadAndWrite grant")
	}
	if m.Check("u1", Collab("o1"), Delete) {
		t.Error("Check(Delete) should fail: ReadAndWrite does not imply Delete")
	}
	if m.Check("u2", Collab("o1"), Read) {
		t.Error("a different uid should not inherit u1's grant")
	}
}

func TestModelGrantUnionsExistingActions(t *testing.T) {
	m := NewModel()
	m.Grant("u1", Collab("o1"), ReadOnly.ToActionSet())
	m.Grant("u1", Collab("o1"), actionSetOf(Write))

	if !m.Check("u1", Collab("o1"), Read) || !m.Check("u1", Collab("o1"), Write) {
		t.Error("successive Grants on the same (uid, object) should union, not replace")
	}
}

func TestHolderSwapIsAtomic(t *testing.T) {
	h := NewHolder()
	if h.Check("u1", Collab("o1"), Read) {
		t.Fatal("a fresh Holder should deny everything")
	}

	next := NewModel()
	next.Grant("u1", Collab("o1"), ReadOnly.ToActionSet())
	h.Swap(next)

	if !h.Check("u1", Collab("o1"), Read) {
		t.Error("Check after Swap should see the newly published Model")
	}
}

func TestWorkspaceAndCollabObjectsAreDistinctKeys(t *testing.T) {
	m := NewModel()
	m.Grant("u1", Workspace("w1"), ReadAndWrite.ToActionSet())

	if m.Check("u1", Collab("w1"), Write) {
		t.Error("a grant on Workspace(w1) must not leak to Collab(w1)")
	}
}
