package contextkeys

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey contextKey = "request_id"

	// AccountIDKey carries the Nintendo Account id once it is known.
	AccountIDKey contextKey = "account_id"

	// ServiceKey carries the service kind (nso, pctl) of the current operation.
	ServiceKey contextKey = "service"

	// SessionRefKey carries the hashed session token reference. The raw token is never stored in a context.
	SessionRefKey contextKey = "session_ref"
)

// String makes contextKey satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c contextKey) String() string {
	return string(c)
}
