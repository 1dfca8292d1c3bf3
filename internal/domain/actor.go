package domain

type ActorKind string

const (
	ActorStaff  ActorKind = "staff"
	ActorPatron ActorKind = "patron"
	ActorSystem ActorKind = "system"
)

// Actor is the already-authenticated caller of an engine operation.
type Actor struct {
	ID   int32     `json:"id"`
	Kind ActorKind `json:"kind"`
}

func StaffActor(id int32) Actor  { return Actor{ID: id, Kind: ActorStaff} }
func PatronActor(id int32) Actor { return Actor{ID: id, Kind: ActorPatron} }

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{ID: 0, Kind: ActorSystem}
