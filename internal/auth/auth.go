// Package auth signs players in with a third-party identity token.
package auth

import (
	"context"
	"fmt"

	"github.com/escape-exam/score-service/internal/domain"
)

// Verifier turns an identity token into the identity it vouches for
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (domain.VerifiedIdentity, error)
}

// IdentityUpserter records a verified identity
type IdentityUpserter interface {
	Upsert(ctx context.Context, subjectID, email, displayName string) (domain.Profile, error)
}

type unconfigured struct{}

// Unconfigured returns a Verifier that fails every call with domain.ErrCapabilityUnavailable.
// It is used when no client id is configured.
func Unconfigured() Verifier {
	return unconfigured{}
}

func (unconfigured) Verify(context.Context, string) (domain.VerifiedIdentity, error) {
	return domain.VerifiedIdentity{}, fmt.Errorf("identity sign-in: %w", domain.ErrCapabilityUnavailable)
}

// Authenticator verifies identity tokens and upserts the identity behind them
type Authenticator struct {
	verifier   Verifier
	identities IdentityUpserter
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(verifier Verifier, identities IdentityUpserter) *Authenticator {
	return &Authenticator{
		verifier:   verifier,
		identities: identities,
	}
}

// SignIn verifies rawToken and returns the signed-in profile
func (a *Authenticator) SignIn(ctx context.Context, rawToken string) (domain.Profile, error) {
	identity, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return domain.Profile{}, err
	}

	name := identity.DisplayName
	if name == "" {
		name = identity.Email
	}

	return a.identities.Upsert(ctx, identity.SubjectID, identity.Email, name)
}
