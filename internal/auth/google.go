package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
)

var errUnknownKey = errors.New("unknown signing key")

// minRefetchInterval bounds how often a token with an unrecognised kid may
// force a key set download while the cached set is still fresh
const minRefetchInterval = time.Minute

// idTokenClaims are the Google ID token claims the service reads
type idTokenClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// jwks is the JSON Web Key Set published by the identity provider
type jwks struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// GoogleVerifier verifies Google ID tokens against the provider's published keys
type GoogleVerifier struct {
	clientID   string
	issuers    []string
	certsURL   string
	cacheTTL   time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	expires   time.Time
	lastFetch time.Time
}

// NewGoogleVerifier creates a verifier for tokens issued to cfg.GoogleClientID
func NewGoogleVerifier(cfg *config.AuthConfig, httpClient *http.Client) *GoogleVerifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &GoogleVerifier{
		clientID:   cfg.GoogleClientID,
		issuers:    cfg.Issuers,
		certsURL:   cfg.CertsURL,
		cacheTTL:   cfg.CacheTTL,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Verify checks signature, audience, issuer and expiry of rawToken
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (domain.VerifiedIdentity, error) {
	if strings.TrimSpace(rawToken) == "" {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: missing id_token", domain.ErrInvalidRequest)
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(token *jwt.Token) (interface{}, error) {
			kid, _ := token.Header["kid"].(string)
			return v.key(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: %w", domain.ErrIdentityVerificationFailed, err)
	}

	if !slices.Contains(v.issuers, claims.Issuer) {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: unexpected issuer %q", domain.ErrIdentityVerificationFailed, claims.Issuer)
	}
	if claims.Subject == "" {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: missing subject", domain.ErrIdentityVerificationFailed)
	}

	return domain.VerifiedIdentity{
		SubjectID:   claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}

// key returns the public key for kid, refreshing the cached key set when it
// is stale or does not know kid. Refreshes for unknown kids are limited to one
// per minRefetchInterval.
func (v *GoogleVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if now.Before(v.expires) {
		if key, ok := v.keys[kid]; ok {
			return key, nil
		}
		if now.Sub(v.lastFetch) < minRefetchInterval {
			return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
		}
	}

	v.lastFetch = now
	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.expires = v.now().Add(v.cacheTTL)

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
	}
	return key, nil
}

func (v *GoogleVerifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building certs request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching certs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching certs: unexpected status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decoding certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("decoding modulus of key %q: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("decoding exponent of key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	return keys, nil
}
