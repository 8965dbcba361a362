package orchestrator

// State is the position of a flow in its lifecycle.
type State int

const (
	Idle State = iota
	ResolvingIdentity
	Persisting
	Loading
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ResolvingIdentity:
		return "resolving-identity"
	case Persisting:
		return "persisting"
	case Loading:
		return "loading"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// LoginOutcome tells the caller of ProviderLogin what to do next.
type LoginOutcome int

const (
	// NewUser means the identity has no profile yet. The caller follows up
	// with CreateUser, which reuses the pending identity.
	NewUser LoginOutcome = iota + 1
	// ExistingUser means the profile was loaded and is now current.
	ExistingUser
)

func (o LoginOutcome) String() string {
	switch o {
	case NewUser:
		return "new-user"
	case ExistingUser:
		return "existing-user"
	}
	return "unknown"
}
