package application

import (
	"errors"
	"testing"
	"time"

	"multiplayer/server/domain"
)

// serverToReplica はサーバーのワールドからsession向けのレプリケーションを作って反映します。
func serverToReplica(t *testing.T, server *World, r *Replicator, replica *ReplicaWorld) {
	t.Helper()
	for _, p := range r.Build(server) {
		if p.Observer != replica.Session() {
			continue
		}
		// ワイヤを通した形で渡す
		if err := replica.ApplyMessage(t.Context(), p.SubType(), p.Payload.Encode()); err != nil {
			t.Fatalf("ApplyMessage failed: %v", err)
		}
	}
}

func TestReplicaWorld_Apply(t *testing.T) {
	server, p, chars := newOwnershipWorld(400, Vector3{X: 100}, Vector3{X: 300})
	me, other := domain.NewSessionID(), domain.NewSessionID()
	chars[0].Possess(me)
	chars[1].Possess(other)
	p.UpdateOwnership(server)

	r := NewReplicator()
	r.AddObserver(me)
	replica := NewReplicaWorld(me, domain.DefaultTickInterval, DefaultCharacterConfig(), nil)
	serverToReplica(t, server, r, replica)

	if replica.World().Len() != 3 {
		t.Fatalf("replica Len = %d, want 3", replica.World().Len())
	}
	local, ok := replica.LocalCharacter()
	if !ok || local.ID() != chars[0].ID() {
		t.Fatalf("LocalCharacter = %v, %v", local, ok)
	}
	if local.Role() != RoleAutonomousProxy {
		t.Errorf("local role = %s, want AutonomousProxy", local.Role())
	}
	if local.Location() != chars[0].Location() {
		t.Errorf("local location = %+v, want %+v", local.Location(), chars[0].Location())
	}
	remote, _ := replica.World().Character(chars[1].ID())
	if remote.Role() != RoleSimulatedProxy {
		t.Errorf("remote role = %s, want SimulatedProxy", remote.Role())
	}
	rp, ok := replica.World().ProximityOwner(p.ID())
	if !ok || rp.Owner() != chars[0].ID() || rp.Radius() != 400 {
		t.Fatalf("replica proximity = %+v, %v", rp, ok)
	}
	if rp.Role() != RoleSimulatedProxy {
		t.Errorf("proximity role = %s, want SimulatedProxy", rp.Role())
	}
}

func TestReplicaWorld_OwnershipNotRecomputed(t *testing.T) {
	server, p, chars := newOwnershipWorld(400, Vector3{X: 100})
	me := domain.NewSessionID()
	chars[0].Possess(me)
	p.UpdateOwnership(server)

	r := NewReplicator()
	r.AddObserver(me)
	replica := NewReplicaWorld(me, domain.DefaultTickInterval, DefaultCharacterConfig(), nil)
	serverToReplica(t, server, r, replica)

	// replica上でキャラクターを半径外に動かしてもオーナーは変わらない
	local, _ := replica.LocalCharacter()
	local.SetLocation(Vector3{X: 5000})
	replica.Step(nil, nil, nil)

	rp, _ := replica.World().ProximityOwner(p.ID())
	if rp.Owner() != chars[0].ID() {
		t.Errorf("replica Owner = %d, want %d", rp.Owner(), chars[0].ID())
	}
	if rp.Revision() != 0 {
		t.Errorf("replica Revision = %d, want 0", rp.Revision())
	}
}

func TestReplicaWorld_RepNotifyB(t *testing.T) {
	server, _, chars := newOwnershipWorld(400, Vector3{X: 100})
	me := domain.NewSessionID()
	chars[0].Possess(me)

	r := NewReplicator()
	r.AddObserver(me)
	replica := NewReplicaWorld(me, domain.DefaultTickInterval, DefaultCharacterConfig(), nil)
	serverToReplica(t, server, r, replica)

	local, _ := replica.LocalCharacter()
	var notified []int32
	local.OnRepB = func(b int32) { notified = append(notified, b) }

	f, _, _ := newTestFrame(server)
	chars[0].Tick(f)
	chars[0].Tick(f)
	serverToReplica(t, server, r, replica)

	if local.B() != 2 || local.A() != 2 {
		t.Errorf("replica A, B = %d, %d, want 2, 2", local.A(), local.B())
	}
	if len(notified) != 1 || notified[0] != 2 {
		t.Errorf("notified = %v, want [2]", notified)
	}

	// Bが変わらなければ通知しない
	serverToReplica(t, server, r, replica)
	if len(notified) != 1 {
		t.Errorf("notified = %v, want a single notification", notified)
	}
}

func TestReplicaWorld_Despawn(t *testing.T) {
	server, _, chars := newOwnershipWorld(400, Vector3{X: 100})
	me := domain.NewSessionID()
	r := NewReplicator()
	r.AddObserver(me)
	replica := NewReplicaWorld(me, domain.DefaultTickInterval, DefaultCharacterConfig(), nil)
	serverToReplica(t, server, r, replica)

	server.Remove(chars[0].ID())
	serverToReplica(t, server, r, replica)

	if _, ok := replica.World().Character(chars[0].ID()); ok {
		t.Error("despawned character still in replica")
	}
}

func TestReplicaWorld_FullSyncAfterLostPayload(t *testing.T) {
	server, _, chars := newOwnershipWorld(400, Vector3{X: 100}, Vector3{X: 300})
	me := domain.NewSessionID()
	r := NewReplicator()
	r.AddObserver(me)
	replica := NewReplicaWorld(me, domain.DefaultTickInterval, DefaultCharacterConfig(), nil)
	serverToReplica(t, server, r, replica)

	// despawnと新規spawnを含む差分が届かなかった
	server.Remove(chars[1].ID())
	late := NewCharacter(server.AllocateID(), RoleAuthority, Vector3{X: 50}, DefaultCharacterConfig())
	_ = server.Add(late)
	if got := r.Build(server); len(got) != 1 {
		t.Fatalf("payloads = %d, want 1", len(got))
	}
	if _, ok := replica.World().Character(late.ID()); ok {
		t.Fatal("lost payload should not have reached the replica")
	}

	if !r.ResetObserver(me) {
		t.Fatal("ResetObserver returned false for a registered observer")
	}
	serverToReplica(t, server, r, replica)

	if replica.World().Len() != server.Len() {
		t.Errorf("replica Len = %d, want %d", replica.World().Len(), server.Len())
	}
	if _, ok := replica.World().Character(chars[1].ID()); ok {
		t.Error("actor removed on the server survived the full sync")
	}
	if _, ok := replica.World().Character(late.ID()); !ok {
		t.Error("actor spawned during the lost payload is missing")
	}
	if r.ResetObserver(domain.NewSessionID()) {
		t.Error("ResetObserver should return false for an unknown observer")
	}
}

func TestReplicaWorld_FullSyncReplacesChangedClass(t *testing.T) {
	replica := NewReplicaWorld(domain.NewSessionID(), time.Millisecond, DefaultCharacterConfig(), nil)
	_ = replica.Apply(t.Context(), &domain.ReplicationPayload{Entries: []domain.ReplicationEntry{
		{ActorID: 4, Class: domain.ActorClassCharacter, Op: domain.ReplicationOpSpawn},
	}})

	full := &domain.ReplicationPayload{Entries: []domain.ReplicationEntry{
		{ActorID: 4, Class: domain.ActorClassProximityOwner, Op: domain.ReplicationOpSpawn},
	}}
	if err := replica.ApplyFull(t.Context(), full); err != nil {
		t.Fatalf("ApplyFull failed: %v", err)
	}
	if _, ok := replica.World().ProximityOwner(4); !ok {
		t.Error("actor 4 should have been replaced by a proximity owner")
	}
}

func TestReplicaWorld_ResyncRequest(t *testing.T) {
	replica := NewReplicaWorld(domain.NewSessionID(), time.Millisecond, DefaultCharacterConfig(), nil)
	update := &domain.ReplicationPayload{Entries: []domain.ReplicationEntry{
		{ActorID: 9, Class: domain.ActorClassCharacter, Op: domain.ReplicationOpUpdate},
	}}

	if replica.TakeResyncRequest() {
		t.Fatal("fresh replica should not request a resync")
	}
	_ = replica.Apply(t.Context(), update)
	if !replica.TakeResyncRequest() {
		t.Fatal("update for an unknown actor should request a resync")
	}
	// 全量が届くまでは再要求しない
	_ = replica.Apply(t.Context(), update)
	if replica.TakeResyncRequest() {
		t.Error("resync requested again before the full state arrived")
	}

	_ = replica.ApplyFull(t.Context(), &domain.ReplicationPayload{})
	_ = replica.Apply(t.Context(), update)
	if !replica.TakeResyncRequest() {
		t.Error("resync should be requestable again after a full state")
	}
}

func TestReplicaWorld_LocalInputFiresThroughBinding(t *testing.T) {
	me := domain.NewSessionID()
	replica := NewReplicaWorld(me, time.Millisecond, DefaultCharacterConfig(), nil)
	if _, _, ok := replica.LocalInput(); ok {
		t.Fatal("LocalInput without a local character should fail")
	}
	_ = replica.Apply(t.Context(), &domain.ReplicationPayload{Entries: []domain.ReplicationEntry{
		{ActorID: 5, Class: domain.ActorClassCharacter, Op: domain.ReplicationOpSpawn, Flags: domain.ReplicationFlagOwned},
	}})

	c, bindings, ok := replica.LocalInput()
	if !ok || c.ID() != 5 {
		t.Fatalf("LocalInput = %v, %v", c, ok)
	}
	if _, again, _ := replica.LocalInput(); again != bindings {
		t.Error("bindings should be reused while the local character is unchanged")
	}

	outbox := &RPCOutbox{}
	if !bindings.DispatchAction(replica.Frame(nil, outbox, nil), InputActionFire) {
		t.Fatal("Fire action is not bound")
	}
	if len(outbox.Requests) != 1 || outbox.Requests[0].Actor != 5 || outbox.Requests[0].Action != ActionFire {
		t.Errorf("requests = %+v, want one fire request for actor 5", outbox.Requests)
	}
}

func TestReplicaWorld_UnknownClass(t *testing.T) {
	replica := NewReplicaWorld(domain.NewSessionID(), time.Millisecond, DefaultCharacterConfig(), nil)
	payload := &domain.ReplicationPayload{Entries: []domain.ReplicationEntry{
		{ActorID: 1, Class: 99, Op: domain.ReplicationOpSpawn},
		{ActorID: 2, Class: domain.ActorClassCharacter, Op: domain.ReplicationOpSpawn},
	}}

	err := replica.Apply(t.Context(), payload)
	if !errors.Is(err, ErrUnknownActorClass) {
		t.Errorf("err = %v, want ErrUnknownActorClass", err)
	}
	if _, ok := replica.World().Character(2); !ok {
		t.Error("valid entries after an unknown class should still be applied")
	}
}

func TestReplicaWorld_HandleRPC(t *testing.T) {
	me := domain.NewSessionID()
	replica := NewReplicaWorld(me, time.Millisecond, DefaultCharacterConfig(), nil)
	_ = replica.Apply(t.Context(), &domain.ReplicationPayload{Entries: []domain.ReplicationEntry{
		{ActorID: 3, Class: domain.ActorClassCharacter, Op: domain.ReplicationOpSpawn, Flags: domain.ReplicationFlagOwned},
	}})
	cos := &recordingCosmetics{}
	f := replica.Frame(nil, nil, cos)

	broadcast := domain.RPCBroadcast{ActorID: 3, Event: uint8(EventPlayFireAnimation)}
	if err := replica.HandleRPC(t.Context(), f, domain.RPCSubTypeBroadcast, broadcast.Encode()); err != nil {
		t.Fatalf("HandleRPC broadcast failed: %v", err)
	}
	directed := domain.RPCDirected{ActorID: 3, Event: uint8(EventPlayNoAmmoCue), Arg: "NoAmmo"}
	if err := replica.HandleRPC(t.Context(), f, domain.RPCSubTypeDirected, directed.Encode()); err != nil {
		t.Fatalf("HandleRPC directed failed: %v", err)
	}

	if len(cos.montages) != 1 || len(cos.sounds) != 1 || cos.sounds[0] != "NoAmmo" {
		t.Errorf("cosmetics = %v %v", cos.montages, cos.sounds)
	}
	local, _ := replica.LocalCharacter()
	if local.Ammo() != DefaultInitialAmmo {
		t.Errorf("RPC changed replica ammo: %d", local.Ammo())
	}
}
