package application

import (
	"testing"

	"multiplayer/server/domain"
)

func findObserver(t *testing.T, payloads []ObserverPayload, id domain.SessionID) *domain.ReplicationPayload {
	t.Helper()
	for _, p := range payloads {
		if p.Observer == id {
			return p.Payload
		}
	}
	return nil
}

func findEntry(p *domain.ReplicationPayload, id domain.ActorID) (domain.ReplicationEntry, bool) {
	if p == nil {
		return domain.ReplicationEntry{}, false
	}
	for _, e := range p.Entries {
		if e.ActorID == id {
			return e, true
		}
	}
	return domain.ReplicationEntry{}, false
}

func hasField(e domain.ReplicationEntry, id uint8) (uint32, bool) {
	for _, f := range e.Fields {
		if f.ID == id {
			return f.Bits, true
		}
	}
	return 0, false
}

func TestReplicator_SpawnAndOwnerOnly(t *testing.T) {
	w := NewWorld()
	s1, s2 := domain.NewSessionID(), domain.NewSessionID()
	c1 := NewCharacter(w.AllocateID(), RoleAuthority, Vector3{}, DefaultCharacterConfig())
	c1.Possess(s1)
	c2 := NewCharacter(w.AllocateID(), RoleAuthority, Vector3{}, DefaultCharacterConfig())
	c2.Possess(s2)
	_ = w.Add(c1)
	_ = w.Add(c2)

	r := NewReplicator()
	r.AddObserver(s1)
	r.AddObserver(s2)

	payloads := r.Build(w)
	if len(payloads) != 2 {
		t.Fatalf("payloads = %d, want 2", len(payloads))
	}
	p1 := findObserver(t, payloads, s1)

	own, ok := findEntry(p1, c1.ID())
	if !ok {
		t.Fatal("own character missing")
	}
	if own.Op != domain.ReplicationOpSpawn || !own.Owned() || own.Class != domain.ActorClassCharacter {
		t.Errorf("own entry = %+v", own)
	}
	if _, ok := hasField(own, FieldB.ID); !ok {
		t.Error("owner should receive B")
	}

	other, ok := findEntry(p1, c2.ID())
	if !ok {
		t.Fatal("other character missing")
	}
	if other.Owned() {
		t.Error("other character should not be marked owned")
	}
	if _, ok := hasField(other, FieldB.ID); ok {
		t.Error("non-owner must not receive B")
	}
	if bits, ok := hasField(other, FieldAmmo.ID); !ok || int32(bits) != DefaultInitialAmmo {
		t.Errorf("Ammo field = %d, %v", bits, ok)
	}
}

func TestReplicator_SendsOnlyChanges(t *testing.T) {
	w := NewWorld()
	s1, s2 := domain.NewSessionID(), domain.NewSessionID()
	c1 := NewCharacter(w.AllocateID(), RoleAuthority, Vector3{}, DefaultCharacterConfig())
	c1.Possess(s1)
	_ = w.Add(c1)

	r := NewReplicator()
	r.AddObserver(s1)
	r.AddObserver(s2)
	r.Build(w)

	if got := r.Build(w); len(got) != 0 {
		t.Fatalf("unchanged world produced %d payloads", len(got))
	}

	f, _, _ := newTestFrame(w)
	c1.Tick(f) // A++, B++

	payloads := r.Build(w)
	ownEntry, ok := findEntry(findObserver(t, payloads, s1), c1.ID())
	if !ok || ownEntry.Op != domain.ReplicationOpUpdate {
		t.Fatalf("owner update = %+v, %v", ownEntry, ok)
	}
	if len(ownEntry.Fields) != 2 {
		t.Errorf("owner fields = %+v, want A and B", ownEntry.Fields)
	}

	otherEntry, ok := findEntry(findObserver(t, payloads, s2), c1.ID())
	if !ok {
		t.Fatal("observer update missing")
	}
	if len(otherEntry.Fields) != 1 || otherEntry.Fields[0].ID != FieldA.ID {
		t.Errorf("observer fields = %+v, want only A", otherEntry.Fields)
	}
}

func TestReplicator_Despawn(t *testing.T) {
	w := NewWorld()
	s1 := domain.NewSessionID()
	c := NewCharacter(w.AllocateID(), RoleAuthority, Vector3{}, DefaultCharacterConfig())
	_ = w.Add(c)

	r := NewReplicator()
	r.AddObserver(s1)
	r.Build(w)

	w.Remove(c.ID())
	payloads := r.Build(w)
	e, ok := findEntry(findObserver(t, payloads, s1), c.ID())
	if !ok || e.Op != domain.ReplicationOpDespawn {
		t.Fatalf("despawn entry = %+v, %v", e, ok)
	}
	if got := r.Build(w); len(got) != 0 {
		t.Errorf("despawn sent twice: %d payloads", len(got))
	}
}

func TestReplicator_OwnershipChangeUpdatesFlag(t *testing.T) {
	w, p, chars := newOwnershipWorld(400, Vector3{X: 1000})
	s1 := domain.NewSessionID()
	chars[0].Possess(s1)

	r := NewReplicator()
	r.AddObserver(s1)
	r.Build(w)

	chars[0].SetLocation(Vector3{X: 10})
	p.UpdateOwnership(w)

	e, ok := findEntry(findObserver(t, r.Build(w), s1), p.ID())
	if !ok {
		t.Fatal("proximity update missing")
	}
	if !e.Owned() {
		t.Error("observer controlling the owner should see the actor as owned")
	}
	if bits, ok := hasField(e, FieldOwner.ID); !ok || domain.ActorID(bits) != chars[0].ID() {
		t.Errorf("Owner field = %d, %v", bits, ok)
	}
}

func TestReplicator_NewObserverGetsFullState(t *testing.T) {
	w, _, _ := newOwnershipWorld(400, Vector3{X: 10})
	r := NewReplicator()
	r.AddObserver(domain.NewSessionID())
	r.Build(w)

	late := domain.NewSessionID()
	r.AddObserver(late)
	p := findObserver(t, r.Build(w), late)
	if p == nil || len(p.Entries) != 2 {
		t.Fatalf("late observer payload = %+v", p)
	}
	for _, e := range p.Entries {
		if e.Op != domain.ReplicationOpSpawn {
			t.Errorf("entry %d op = %d, want spawn", e.ActorID, e.Op)
		}
		if len(e.Fields) != len(Schema(e.Class))-ownerOnlyCount(e.Class) {
			t.Errorf("entry %d fields = %d", e.ActorID, len(e.Fields))
		}
	}
}

func ownerOnlyCount(class domain.ActorClass) int {
	n := 0
	for _, d := range Schema(class) {
		if d.Visibility == VisibilityOwnerOnly {
			n++
		}
	}
	return n
}
