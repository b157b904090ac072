package activitypub

import (
	"context"
	"fmt"
	"time"

	"github.com/deemkeen/rendezvous/domain"
	"go.uber.org/zap"
)

// ToOutbox issues a partial activity on behalf of actor. The activity gets a
// fresh id scoped to actor and its publication time is assigned when stored.
// Undo retracts its target and returns without being stored or published;
// every other activity is stored, indexed into the actor's outbox and
// published in the background.
func (e *Engine) ToOutbox(ctx context.Context, actor string, partial *domain.Activity) (*domain.Activity, error) {
	act := *partial
	act.ID = domain.ActivityURI(actor, e.newID())
	act.Actor = actor
	act.Published = nil
	if act.Context == nil {
		act.Context = domain.ActivityStreamsContext
	}

	log := e.log.With(zap.String("activity", act.ID), zap.String("type", act.Type), zap.String("actor", actor))

	switch act.Kind() {
	case domain.KindCreate:
		obj, err := e.createObject(ctx, actor, act.Object)
		if err != nil {
			log.Warn("create dropped", zap.Error(err))
			return nil, err
		}
		act.Object = domain.IRI(obj.GetID())
	case domain.KindAccept:
		act.Object = act.Object.Bare()
	case domain.KindUndo:
		if err := e.retract(ctx, &act); err != nil {
			return nil, err
		}
		return &act, nil
	}

	saved, err := e.store.SaveActivity(ctx, &act, true)
	if err != nil {
		return nil, fmt.Errorf("failed to save activity: %w", err)
	}
	if err := e.store.CreateOutboxEntry(ctx, actor, saved.ID); err != nil {
		return nil, fmt.Errorf("failed to create outbox entry: %w", err)
	}
	log.Debug("outbox stored activity")

	e.publishAsync(ctx, saved)
	return saved, nil
}

// createObject persists the object of an outbound Create. Inline events are
// completed with local ids and attribution; bare ids must resolve.
func (e *Engine) createObject(ctx context.Context, actor string, ref domain.Reference) (domain.Object, error) {
	var obj domain.Object
	if ref.IsInline() {
		decoded, err := ref.Object()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnresolvedObject, err)
		}
		obj = decoded
	} else {
		obj = e.Resolve(ctx, ref.ID)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedObject, ref.ID)
	}

	if event, ok := obj.(*domain.Event); ok {
		if event.ID == "" {
			event.ID = domain.EventURI(e.base, e.newID())
		}
		if event.AttributedTo == "" {
			event.AttributedTo = actor
		}
		if e.IsLocal(event.ID) {
			event.Inbox = domain.EndpointURI(event.ID, domain.Inbox)
			event.Outbox = domain.EndpointURI(event.ID, domain.Outbox)
		}
		if event.Context == nil {
			event.Context = domain.ActivityStreamsContext
		}
	}
	if obj.GetID() == "" {
		return nil, fmt.Errorf("%w: object has no id", ErrUnresolvedObject)
	}

	if err := e.store.CreateObject(ctx, obj); err != nil {
		return nil, fmt.Errorf("failed to save object: %w", err)
	}
	return obj, nil
}

// CreateEvent publishes a new event hosted by actor to its followers and the
// public collection.
func (e *Engine) CreateEvent(ctx context.Context, actor *domain.Actor, name string, start, end time.Time) (*domain.Event, error) {
	event := domain.NewLocalEvent(e.base, e.newID(), name, actor.ID, start, end)
	event.To = domain.Addresses{domain.PublicAddress}
	event.Cc = domain.Addresses{actor.Followers}

	object, err := domain.Inline(event)
	if err != nil {
		return nil, err
	}

	create := &domain.Activity{
		Type:   "Create",
		Object: object,
		To:     domain.Addresses{domain.PublicAddress},
		Cc:     domain.Addresses{actor.Followers},
	}
	if _, err := e.ToOutbox(ctx, actor.ID, create); err != nil {
		return nil, err
	}
	return event, nil
}

// Follow sends a Follow for target from actor.
func (e *Engine) Follow(ctx context.Context, actor, target string) (*domain.Activity, error) {
	return e.ToOutbox(ctx, actor, &domain.Activity{
		Type:   "Follow",
		Object: domain.IRI(target),
		To:     domain.Addresses{target},
	})
}

// Join sends a Join for the event at target from actor.
func (e *Engine) Join(ctx context.Context, actor, target string) (*domain.Activity, error) {
	return e.ToOutbox(ctx, actor, &domain.Activity{
		Type:   "Join",
		Object: domain.IRI(target),
		To:     domain.Addresses{target},
	})
}

// Revoke undoes the latest activity of the given type actor issued about
// target. It reports domain.ErrNotFound when there is nothing to undo.
func (e *Engine) Revoke(ctx context.Context, actor, activityType, target string) error {
	previous, err := e.store.ReadLatestActivity(ctx, actor, activityType, target)
	if err != nil {
		return err
	}
	_, err = e.ToOutbox(ctx, actor, &domain.Activity{
		Type:   "Undo",
		Object: domain.IRI(previous.ID),
		To:     domain.Addresses{target},
	})
	return err
}

