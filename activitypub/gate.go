package activitypub

import (
	"net/http"
	"strings"

	"github.com/deemkeen/rendezvous/domain"
	"go.uber.org/zap"
)

// AuthMode tells how a request was authenticated.
type AuthMode int

const (
	Unauthenticated AuthMode = iota
	BearerAuth
	SignatureAuth
)

func (m AuthMode) String() string {
	switch m {
	case BearerAuth:
		return "bearer"
	case SignatureAuth:
		return "signature"
	default:
		return "none"
	}
}

// Gate identifies the actor behind an incoming request. A local user
// presents a bearer token; a remote server signs the request with the key of
// one of its actors. Failure leaves the request unauthenticated, rejecting
// it is up to the endpoint.
type Gate struct {
	engine *Engine
	tokens *Tokens
	log    *zap.Logger
}

func NewGate(engine *Engine, tokens *Tokens, log *zap.Logger) *Gate {
	return &Gate{engine: engine, tokens: tokens, log: log}
}

// Authenticate returns the authenticated actor, or nil.
func (g *Gate) Authenticate(r *http.Request) (*domain.Actor, AuthMode) {
	scheme, credentials, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")

	switch {
	case strings.EqualFold(scheme, "bearer"):
		if actor := g.bearer(r, strings.TrimSpace(credentials)); actor != nil {
			return actor, BearerAuth
		}
	case strings.EqualFold(scheme, "signature"), scheme == "" && r.Header.Get("Signature") != "":
		if actor := g.signature(r); actor != nil {
			return actor, SignatureAuth
		}
	}
	return nil, Unauthenticated
}

func (g *Gate) bearer(r *http.Request, token string) *domain.Actor {
	subject, err := g.tokens.Parse(token)
	if err != nil {
		g.log.Debug("bearer token rejected", zap.Error(err))
		return nil
	}

	actor, ok := g.engine.Resolve(r.Context(), subject).(*domain.Actor)
	if !ok {
		g.log.Debug("bearer subject not found", zap.String("subject", subject))
		return nil
	}
	return actor
}

func (g *Gate) signature(r *http.Request) *domain.Actor {
	keyID, err := SignatureKeyID(r)
	if err != nil {
		g.log.Debug("signature unreadable", zap.Error(err))
		return nil
	}
	log := g.log.With(zap.String("keyId", keyID))

	actor, ok := g.engine.Resolve(r.Context(), keyID).(*domain.Actor)
	if !ok {
		log.Debug("signing actor not found")
		return nil
	}
	if actor.PublicKey.ID != keyID && actor.ID != KeyOwner(keyID) {
		log.Debug("key does not belong to actor", zap.String("actor", actor.ID))
		return nil
	}

	if _, err := VerifyRequest(r, actor.PublicKey.PublicKeyPem); err != nil {
		log.Debug("signature rejected", zap.Error(err))
		return nil
	}
	return actor
}
