package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/rendezvous/domain"
	"go.uber.org/zap"
)

// ToInbox processes an activity delivered to the inbox of target, a local
// actor or event URI. Follow, Join and Accept create relations, Undo
// retracts an earlier activity and returns without indexing. Everything else
// is stored on first sight and indexed into target's inbox.
func (e *Engine) ToInbox(ctx context.Context, target string, act *domain.Activity) error {
	if act.ID == "" {
		return ErrMissingID
	}

	log := e.log.With(
		zap.String("activity", act.ID),
		zap.String("type", act.Type),
		zap.String("actor", act.Actor),
		zap.String("target", target),
	)
	log.Debug("inbox received activity")

	switch act.Kind() {
	case domain.KindFollow:
		if err := e.handleFollow(ctx, log, target, act); err != nil {
			return err
		}
	case domain.KindJoin:
		if act.Object.ID != target {
			log.Debug("join not addressed to target, ignoring side effect")
			break
		}
		if err := e.store.CreateAttendee(ctx, target, act.Actor); err != nil {
			return fmt.Errorf("failed to create attendee: %w", err)
		}
		log.Info("attendee added")
	case domain.KindAccept:
		if err := e.handleAccept(ctx, log, act); err != nil {
			return err
		}
	case domain.KindUndo:
		return e.retract(ctx, act)
	}

	return e.indexInbound(ctx, target, act)
}

func (e *Engine) handleFollow(ctx context.Context, log *zap.Logger, target string, act *domain.Activity) error {
	if act.Object.ID != target {
		log.Debug("follow not addressed to target, ignoring side effect")
		return nil
	}

	if err := e.store.CreateFollower(ctx, target, act.Actor); err != nil {
		return fmt.Errorf("failed to create follower: %w", err)
	}
	log.Info("follower added")

	// auto-accept
	accept := &domain.Activity{
		Context: domain.ActivityStreamsContext,
		Type:    "Accept",
		Object:  domain.IRI(act.ID),
		To:      domain.Addresses{act.Actor},
	}
	if _, err := e.ToOutbox(ctx, target, accept); err != nil {
		return fmt.Errorf("failed to send Accept: %w", err)
	}
	return nil
}

// handleAccept creates the relation described by the accepted Follow or
// Join. The Accept must come from whoever the accepted activity was
// addressed to.
func (e *Engine) handleAccept(ctx context.Context, log *zap.Logger, act *domain.Activity) error {
	accepted := e.acceptedActivity(ctx, act.Object)
	if accepted == nil {
		log.Debug("accepted activity could not be resolved")
		return nil
	}

	if !e.mayAccept(ctx, act.Actor, accepted) {
		log.Warn("accept not issued by the accepted activity's object",
			zap.String("accepted", accepted.ID),
			zap.String("object", accepted.Object.ID))
		return nil
	}

	switch accepted.Kind() {
	case domain.KindFollow:
		if err := e.store.CreateFollower(ctx, accepted.Object.ID, accepted.Actor); err != nil {
			return fmt.Errorf("failed to create follower: %w", err)
		}
		log.Info("follow accepted", zap.String("followee", accepted.Object.ID))
	case domain.KindJoin:
		if err := e.store.CreateAttendee(ctx, accepted.Object.ID, accepted.Actor); err != nil {
			return fmt.Errorf("failed to create attendee: %w", err)
		}
		log.Info("join accepted", zap.String("event", accepted.Object.ID))
	}
	return nil
}

// acceptedActivity resolves the object of an Accept. An inline copy is only
// trusted for activities this server did not issue itself.
func (e *Engine) acceptedActivity(ctx context.Context, ref domain.Reference) *domain.Activity {
	if activity, ok := e.Resolve(ctx, ref.ID).(*domain.Activity); ok {
		return activity
	}
	if !ref.IsInline() || e.IsLocal(ref.ID) {
		return nil
	}
	var activity domain.Activity
	if err := ref.Decode(&activity); err != nil {
		return nil
	}
	return &activity
}

// mayAccept reports whether actor may accept the given activity: it must be
// the activity's object, or for events the actor hosting it.
func (e *Engine) mayAccept(ctx context.Context, actor string, accepted *domain.Activity) bool {
	if actor == accepted.Object.ID {
		return true
	}
	if accepted.Kind() != domain.KindJoin {
		return false
	}
	event, ok := e.Resolve(ctx, accepted.Object.ID).(*domain.Event)
	return ok && event.AttributedTo == actor
}

// indexInbound stores a remote activity on first sight and appends it to the
// target's inbox. A local activity must already be stored.
func (e *Engine) indexInbound(ctx context.Context, target string, act *domain.Activity) error {
	if !e.IsLocal(act.ID) {
		if _, err := e.store.SaveActivity(ctx, act, false); err != nil {
			return fmt.Errorf("failed to save activity: %w", err)
		}
	}

	if _, err := e.store.ReadActivityByURI(ctx, act.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDanglingActivity, act.ID)
		}
		return fmt.Errorf("failed to read activity: %w", err)
	}

	if err := e.store.CreateInboxEntry(ctx, target, act.ID); err != nil {
		return fmt.Errorf("failed to create inbox entry: %w", err)
	}
	return nil
}

// retract applies an Undo: the referenced activity is deleted with its index
// entries and the relation it created. Only the actor that issued an
// activity may undo it.
func (e *Engine) retract(ctx context.Context, undo *domain.Activity) error {
	target := undo.Object.ID
	log := e.log.With(zap.String("undo", undo.ID), zap.String("target", target))
	if target == "" {
		log.Debug("undo without object")
		return nil
	}

	retracted, err := e.store.ReadActivityByURI(ctx, target)
	switch {
	case err == nil:
		if retracted.Actor != undo.Actor {
			log.Warn("undo actor does not match activity actor", zap.String("actor", undo.Actor))
			return nil
		}
		if _, err := e.store.DeleteActivityByURI(ctx, target); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to delete activity: %w", err)
		}
	case errors.Is(err, domain.ErrNotFound):
		// never stored here, an inline copy still names the relation
		var inline domain.Activity
		if !undo.Object.IsInline() || undo.Object.Decode(&inline) != nil || inline.Actor != undo.Actor {
			log.Debug("undo target unknown")
			return nil
		}
		retracted = &inline
	default:
		return fmt.Errorf("failed to read activity: %w", err)
	}

	if err := e.store.RemoveIndexEntries(ctx, target); err != nil {
		return fmt.Errorf("failed to remove index entries: %w", err)
	}

	switch retracted.Kind() {
	case domain.KindFollow:
		if err := e.store.DeleteFollower(ctx, retracted.Object.ID, retracted.Actor); err != nil {
			return fmt.Errorf("failed to delete follower: %w", err)
		}
		log.Info("follow undone", zap.String("followee", retracted.Object.ID))
	case domain.KindJoin:
		if err := e.store.DeleteAttendee(ctx, retracted.Object.ID, retracted.Actor); err != nil {
			return fmt.Errorf("failed to delete attendee: %w", err)
		}
		log.Info("join undone", zap.String("event", retracted.Object.ID))
	default:
		log.Info("activity retracted", zap.String("type", retracted.Type))
	}
	return nil
}
