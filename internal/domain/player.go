package domain

import "time"

// UserIdentity is a player signed in through the external identity provider
type UserIdentity struct {
	SubjectID   string    `json:"subject_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"name"`
	LastLogin   time.Time `json:"last_login"`
}

// VerifiedIdentity is what the identity provider vouches for after token verification
type VerifiedIdentity struct {
	SubjectID   string
	Email       string
	DisplayName string
}

// Profile is returned to the client after sign-in
type Profile struct {
	Account string `json:"account"`
	Name    string `json:"name"`
}
