package domain

// Identity is the authenticated caller as resolved from a bearer token. The
// service treats Subject as opaque.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// AnonymousVoterPrefix marks voter identities derived from anonymous tokens.
const AnonymousVoterPrefix = "anon:"
