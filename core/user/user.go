package user

import "time"

// Credential is the way an account proves itself: a locally stored password
// hash or a federated identity. Exactly one variant is ever set, and every
// consumer has to switch on it rather than probe nullable fields.
type Credential interface {
	credential()
}

// LocalCredential holds the hash of a password, either chosen at sign-up or
// generated for a guest checkout.
type LocalCredential struct {
	Hash []byte
}

// FederatedIdentity points at an account held by an oauth provider. No
// password exists locally for such users.
type FederatedIdentity struct {
	Provider string
	Subject  string
}

func (LocalCredential) credential()   {}
func (FederatedIdentity) credential() {}

type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Credential Credential `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Version    int        `json:"-"`
}

type UserSignup struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type UserLogin struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
