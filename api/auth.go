package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/warp/payout-engine/audit"
)

type actorKey struct{}

var (
	errMissingToken = errors.New("missing bearer token")
	errBadClaims    = errors.New("token is missing sub or role")
)

// Authenticator turns an HS256 bearer token into an audit.Actor.
//
// Expected claims: sub (user id), email, role (admin|mentor).
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Middleware rejects requests without a valid token and stores the actor
// on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.actorFrom(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) actorFrom(r *http.Request) (audit.Actor, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return audit.Actor{}, errMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return audit.Actor{}, err
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || (role != string(audit.RoleAdmin) && role != string(audit.RoleMentor)) {
		return audit.Actor{}, errBadClaims
	}
	return audit.Actor{ID: sub, Email: audit.NormalizeEmail(email), Role: audit.Role(role)}, nil
}

// Sign issues a token for actor. Used by tests and local tooling.
func (a *Authenticator) Sign(actor audit.Actor, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   actor.ID,
		"email": actor.Email,
		"role":  string(actor.Role),
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ActorFrom returns the authenticated actor stored by Middleware.
func ActorFrom(ctx context.Context) (audit.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(audit.Actor)
	return actor, ok
}
