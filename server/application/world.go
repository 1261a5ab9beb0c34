package application

import (
	"errors"
	"slices"

	"multiplayer/server/domain"
)

var ErrActorExists = errors.New("actor already exists")

// Actor はワールドに配置されるエンティティです。
type Actor interface {
	ID() domain.ActorID
	Location() Vector3
	Role() NetRole
	Tick(f *Frame)
}

// World はアクターのレジストリです。列挙は常にActorIDの昇順で行われます。
type World struct {
	actors map[domain.ActorID]Actor
	nextID domain.ActorID
}

func NewWorld() *World {
	return &World{
		actors: make(map[domain.ActorID]Actor),
		nextID: 1,
	}
}

// AllocateID は未使用のActorIDを払い出します。
func (w *World) AllocateID() domain.ActorID {
	for {
		id := w.nextID
		w.nextID++
		if _, ok := w.actors[id]; !ok && id != domain.NoActor {
			return id
		}
	}
}

// Add はアクターを登録します。replicaではサーバーが決めたIDのまま登録します。
func (w *World) Add(actor Actor) error {
	if _, ok := w.actors[actor.ID()]; ok {
		return ErrActorExists
	}
	w.actors[actor.ID()] = actor
	return nil
}

// Remove はアクターを削除します。存在しなかった場合はfalseを返します。
func (w *World) Remove(id domain.ActorID) bool {
	if _, ok := w.actors[id]; !ok {
		return false
	}
	delete(w.actors, id)
	return true
}

func (w *World) Actor(id domain.ActorID) (Actor, bool) {
	actor, ok := w.actors[id]
	return actor, ok
}

func (w *World) Character(id domain.ActorID) (*Character, bool) {
	c, ok := w.actors[id].(*Character)
	return c, ok
}

func (w *World) ProximityOwner(id domain.ActorID) (*ProximityOwner, bool) {
	p, ok := w.actors[id].(*ProximityOwner)
	return p, ok
}

func (w *World) Len() int { return len(w.actors) }

// Actors は全アクターをID昇順で返します。
func (w *World) Actors() []Actor {
	ids := w.sortedIDs()
	actors := make([]Actor, 0, len(ids))
	for _, id := range ids {
		actors = append(actors, w.actors[id])
	}
	return actors
}

// Characters は全キャラクターをID昇順で返します。
func (w *World) Characters() []*Character {
	var out []*Character
	for _, id := range w.sortedIDs() {
		if c, ok := w.actors[id].(*Character); ok {
			out = append(out, c)
		}
	}
	return out
}

// ProximityOwners は全ProximityOwnerをID昇順で返します。
func (w *World) ProximityOwners() []*ProximityOwner {
	var out []*ProximityOwner
	for _, id := range w.sortedIDs() {
		if p, ok := w.actors[id].(*ProximityOwner); ok {
			out = append(out, p)
		}
	}
	return out
}

// Step は全アクターをID昇順でTickします。
func (w *World) Step(f *Frame) {
	for _, actor := range w.Actors() {
		actor.Tick(f)
	}
}

func (w *World) sortedIDs() []domain.ActorID {
	ids := make([]domain.ActorID, 0, len(w.actors))
	for id := range w.actors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
