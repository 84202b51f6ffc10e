package negotiation

// State is the negotiation state of the local participant.
type State string

const (
	StateIdle      State = "idle"
	StateOffering  State = "offering"
	StateAnswering State = "answering"
	StateConnected State = "connected"
	StateFailed    State = "failed"
)

func (s State) String() string { return string(s) }
