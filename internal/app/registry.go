package app

// SessionRepository tracks sessions hosted by the server, one per connection.
type SessionRepository interface {
	Put(id string, session *Session)
	Get(id string) (*Session, bool)
	Delete(id string)
}
