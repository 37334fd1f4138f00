package models

import "fmt"

type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorSystem ActorKind = "system"
)

// Actor identifies who performed a balance mutation. Identity is supplied by
// the caller (the authorization layer); the engine records it verbatim.
type Actor struct {
	Kind ActorKind
	ID   int64
}

// SystemActor is the well-known identity recorded on automated payments.
var SystemActor = Actor{Kind: ActorSystem}

func (a Actor) String() string {
	if a.Kind == ActorSystem {
		return "system"
	}
	return fmt.Sprintf("user:%d", a.ID)
}
