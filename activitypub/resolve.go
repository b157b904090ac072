package activitypub

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/deemkeen/rendezvous/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// fetchScope deduplicates remote fetches within one call tree. It lives only
// as long as the expansion or request that created it.
type fetchScope struct {
	group singleflight.Group

	mu   sync.Mutex
	memo map[string]domain.Object
}

func newFetchScope() *fetchScope {
	return &fetchScope{memo: map[string]domain.Object{}}
}

// Resolve returns the object behind id, or nil when it cannot be found or
// fetched. Local ids are answered from the store and never touch the
// network; remote ids are fetched and never looked up locally.
func (e *Engine) Resolve(ctx context.Context, id string) domain.Object {
	return e.resolve(ctx, nil, id)
}

func (e *Engine) resolve(ctx context.Context, scope *fetchScope, id string) domain.Object {
	if id == "" || domain.IsPublic(id) {
		return nil
	}
	if e.IsLocal(id) {
		return e.resolveLocal(ctx, id)
	}
	if scope == nil {
		return e.fetchRemote(ctx, id)
	}

	scope.mu.Lock()
	if obj, ok := scope.memo[id]; ok {
		scope.mu.Unlock()
		return obj
	}
	scope.mu.Unlock()

	v, _, _ := scope.group.Do(id, func() (any, error) {
		obj := e.fetchRemote(ctx, id)
		scope.mu.Lock()
		scope.memo[id] = obj
		scope.mu.Unlock()
		return obj, nil
	})
	obj, _ := v.(domain.Object)
	return obj
}

func (e *Engine) fetchRemote(ctx context.Context, id string) domain.Object {
	log := e.log.With(zap.String("uri", id))

	signer := ActorFromContext(ctx)
	if signer != nil && !e.IsLocal(signer.ID) {
		signer = nil
	}

	body, err := e.transport.Get(ctx, id, signer)
	if err != nil {
		log.Debug("remote fetch failed", zap.Error(err))
		return nil
	}

	obj, err := domain.DecodeObject(body)
	if err != nil {
		log.Debug("remote document unreadable", zap.Error(err))
		return nil
	}
	return obj
}

// resolveLocal dispatches a local id to the store. Collection endpoints are
// synthesized from relation and index records.
func (e *Engine) resolveLocal(ctx context.Context, id string) domain.Object {
	u, err := url.Parse(id)
	if err != nil {
		return nil
	}

	obj, err := e.lookupLocal(ctx, u)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.log.Warn("local lookup failed", zap.String("uri", id), zap.Error(err))
		}
		return nil
	}
	return obj
}

func (e *Engine) lookupLocal(ctx context.Context, u *url.URL) (domain.Object, error) {
	p, ok := domain.ParseLocalPath(u.Path)
	if !ok {
		return e.lookupStored(ctx, e.base+u.Path)
	}

	owner := p.OwnerURI(e.base)
	self, err := e.lookupOwner(ctx, p)
	if err != nil {
		return nil, err
	}

	switch p.Endpoint {
	case domain.Self:
		return self, nil
	case domain.Outbox:
		entries, err := e.store.ReadOutbox(ctx, owner)
		if err != nil {
			return nil, err
		}
		items := make([]string, 0, len(entries))
		for _, entry := range entries {
			items = append(items, entry.Activity)
		}
		return domain.NewOrderedCollection(domain.EndpointURI(owner, domain.Outbox), items), nil
	case domain.Activities:
		return e.store.ReadActivityByURI(ctx, domain.ActivityURI(owner, p.ActivityID))
	}

	var items []string
	if p.Owner == "event" {
		if p.Endpoint != domain.Attendees {
			return nil, domain.ErrNotFound
		}
		items, err = e.store.ReadAttendees(ctx, owner)
	} else {
		switch p.Endpoint {
		case domain.Followers:
			items, err = e.store.ReadFollowers(ctx, owner)
		case domain.Following:
			items, err = e.store.ReadFollowing(ctx, owner)
		case domain.Attending:
			items, err = e.store.ReadAttending(ctx, owner)
		default:
			return nil, domain.ErrNotFound
		}
	}
	if err != nil {
		return nil, err
	}
	return domain.NewCollection(domain.EndpointURI(owner, p.Endpoint), items), nil
}

// lookupOwner loads the actor or event a local path belongs to.
func (e *Engine) lookupOwner(ctx context.Context, p domain.LocalPath) (domain.Object, error) {
	if p.Owner == "user" {
		return e.store.ReadActorByHandle(ctx, p.Name)
	}
	return e.store.ReadObjectByURI(ctx, p.OwnerURI(e.base))
}

// lookupStored finds a record under an id that has no well-known shape.
func (e *Engine) lookupStored(ctx context.Context, id string) (domain.Object, error) {
	obj, err := e.store.ReadObjectByURI(ctx, id)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return obj, err
	}
	return e.store.ReadActivityByURI(ctx, id)
}
