package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/deemkeen/rendezvous/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDanglingActivity means an inbound activity claims a local id but no
	// stored copy exists. It points at a caller or data consistency bug.
	ErrDanglingActivity = errors.New("dangling local activity")
	// ErrUnresolvedObject is returned by ToOutbox when a Create carries an
	// object that can be neither decoded nor resolved.
	ErrUnresolvedObject = errors.New("unresolved object")
	ErrMissingID        = errors.New("activity has no id")
)

const defaultMaxExpandDepth = 8

// Store is the record store the engine reads and writes. *db.DB satisfies it.
type Store interface {
	ReadActorByHandle(ctx context.Context, handle string) (*domain.Actor, error)

	CreateObject(ctx context.Context, obj domain.Object) error
	ReadObjectByURI(ctx context.Context, uri string) (domain.Object, error)

	SaveActivity(ctx context.Context, act *domain.Activity, local bool) (*domain.Activity, error)
	ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error)
	ReadLatestActivity(ctx context.Context, actor, activityType, object string) (*domain.Activity, error)
	DeleteActivityByURI(ctx context.Context, uri string) (*domain.Activity, error)
	RemoveIndexEntries(ctx context.Context, uri string) error
	CreateInboxEntry(ctx context.Context, owner, activityURI string) error
	CreateOutboxEntry(ctx context.Context, owner, activityURI string) error
	ReadOutbox(ctx context.Context, owner string) ([]domain.BoxEntry, error)

	CreateFollower(ctx context.Context, followee, follower string) error
	DeleteFollower(ctx context.Context, followee, follower string) error
	ReadFollowers(ctx context.Context, followee string) ([]string, error)
	ReadFollowing(ctx context.Context, follower string) ([]string, error)
	CreateAttendee(ctx context.Context, event, attendee string) error
	DeleteAttendee(ctx context.Context, event, attendee string) error
	ReadAttendees(ctx context.Context, event string) ([]string, error)
	ReadAttending(ctx context.Context, attendee string) ([]string, error)

	RecordDelivery(ctx context.Context, d *domain.Delivery) error
}

// Engine runs the federation protocol: resolving identifiers, expanding
// destinations, delivering activities and applying inbound side effects.
type Engine struct {
	base      string
	host      string
	store     Store
	transport *Transport
	log       *zap.Logger
	newID     func() string
	maxDepth  int

	publishing sync.WaitGroup
}

type Option func(*Engine)

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithTransport(t *Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithIDGenerator replaces the uuid based generator for activity and object ids.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// WithMaxExpandDepth bounds how deep destination expansion follows nested
// collections.
func WithMaxExpandDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// NewEngine creates an engine for the server reachable at base, e.g.
// "https://example.com".
func NewEngine(base string, store Store, opts ...Option) (*Engine, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host required", base)
	}

	e := &Engine{
		base:     strings.TrimRight(base, "/"),
		host:     strings.ToLower(u.Host),
		store:    store,
		log:      zap.NewNop(),
		newID:    func() string { return uuid.New().String() },
		maxDepth: defaultMaxExpandDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.transport == nil {
		e.transport = NewTransport(nil, e.log)
	}
	return e, nil
}

// Base returns the local origin.
func (e *Engine) Base() string {
	return e.base
}

// IsLocal reports whether uri belongs to this server.
func (e *Engine) IsLocal(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return strings.ToLower(u.Host) == e.host
}

// Wait blocks until every publication started by ToOutbox has settled.
func (e *Engine) Wait() {
	e.publishing.Wait()
}

// localActor returns the stored actor behind a local actor URI.
func (e *Engine) localActor(ctx context.Context, uri string) (*domain.Actor, error) {
	if !e.IsLocal(uri) {
		return nil, domain.ErrNotFound
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	p, ok := domain.ParseLocalPath(u.Path)
	if !ok || p.Owner != "user" || p.Endpoint != domain.Self {
		return nil, domain.ErrNotFound
	}
	return e.store.ReadActorByHandle(ctx, p.Name)
}

type actorKey struct{}

// ContextWithActor attaches the authenticated actor to ctx. When the actor is
// local its key signs the remote fetches made on its behalf.
func ContextWithActor(ctx context.Context, actor *domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by ContextWithActor, or nil.
func ActorFromContext(ctx context.Context) *domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(*domain.Actor)
	return actor
}
