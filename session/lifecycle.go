package session

// LifecycleState is the coarse phase of the SDK session.
type LifecycleState int

const (
	NotInitialized LifecycleState = iota
	Initializing
	Initialized
	BeforeLogin
	LoginBeforeRegister
	Login
)

func (s LifecycleState) String() string {
	switch s {
	case NotInitialized:
		return "not_initialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case BeforeLogin:
		return "before_login"
	case LoginBeforeRegister:
		return "login_before_register"
	case Login:
		return "login"
	default:
		return "unknown"
	}
}

// Ready reports whether the store is open in this state.
func (s LifecycleState) Ready() bool {
	return s >= Initialized
}

// lifecycleFor maps a backend login status onto the post-login state.
func lifecycleFor(loginStatus string) LifecycleState {
	if loginStatus == statusComplete {
		return Login
	}
	return LoginBeforeRegister
}
