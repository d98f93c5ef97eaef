package core

// SessionState is the lifecycle position of a single connection.
type SessionState int

const (
	// SessionAnonymous is a connection that has not announced an identity yet.
	SessionAnonymous SessionState = iota
	// SessionIdentified is a connection bound to a user identity.
	SessionIdentified
	// SessionClosed is a torn down connection; it accepts no further commands.
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionAnonymous:
		return "anonymous"
	case SessionIdentified:
		return "identified"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session tracks the state of one connection.
// It is owned by that connection's handler and must not be shared between goroutines.
type Session struct {
	client   *Client
	state    SessionState
	userID   string
	userName string
}

// Client returns the connection handle behind the session.
func (s *Session) Client() *Client { return s.client }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return s.state }

// UserID returns the announced identity, empty while anonymous.
func (s *Session) UserID() string { return s.userID }

// UserName returns the announced display name, empty while anonymous.
func (s *Session) UserName() string { return s.userName }
