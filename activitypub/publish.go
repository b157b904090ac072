package activitypub

import (
	"context"
	"encoding/json"
	"net/url"
	"sync/atomic"

	"github.com/deemkeen/rendezvous/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PublishResult aggregates the delivery outcomes of one publication.
type PublishResult struct {
	Attempted int
	Succeeded int
}

// Publish delivers act to every inbox its addressing expands to. Deliveries
// run concurrently and failures are logged and recorded, never retried.
func (e *Engine) Publish(ctx context.Context, act *domain.Activity) PublishResult {
	log := e.log.With(zap.String("activity", act.ID), zap.String("type", act.Type))

	sender, err := e.localActor(ctx, act.Actor)
	if err == nil {
		ctx = ContextWithActor(ctx, sender)
	} else {
		sender = nil
	}

	inboxes := e.ExpandDestinations(ctx, act)
	if len(inboxes) == 0 {
		log.Debug("no destinations")
		return PublishResult{}
	}

	outgoing := act.ForDelivery()
	body, err := json.Marshal(outgoing)
	if err != nil {
		log.Error("failed to marshal activity", zap.Error(err))
		return PublishResult{Attempted: len(inboxes)}
	}

	var succeeded atomic.Int64
	var g errgroup.Group
	for _, inbox := range inboxes {
		g.Go(func() error {
			if e.deliver(ctx, inbox, outgoing, body, sender) {
				succeeded.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	result := PublishResult{Attempted: len(inboxes), Succeeded: int(succeeded.Load())}
	log.Info("published",
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded))
	return result
}

// publishAsync publishes act in the background. The publication outlives the
// caller's context; Wait blocks until it has settled.
func (e *Engine) publishAsync(ctx context.Context, act *domain.Activity) {
	ctx = context.WithoutCancel(ctx)
	e.publishing.Add(1)
	go func() {
		defer e.publishing.Done()
		e.Publish(ctx, act)
	}()
}

// Deliver sends act to a single inbox and reports whether it was accepted.
func (e *Engine) Deliver(ctx context.Context, inbox string, act *domain.Activity) bool {
	sender, err := e.localActor(ctx, act.Actor)
	if err != nil {
		sender = nil
	}
	outgoing := act.ForDelivery()
	body, err := json.Marshal(outgoing)
	if err != nil {
		e.log.Error("failed to marshal activity", zap.String("activity", act.ID), zap.Error(err))
		return false
	}
	return e.deliver(ctx, inbox, outgoing, body, sender)
}

func (e *Engine) deliver(ctx context.Context, inbox string, act *domain.Activity, body []byte, sender *domain.Actor) bool {
	log := e.log.With(zap.String("inbox", inbox), zap.String("activity", act.ID))

	var ok bool
	if e.IsLocal(inbox) {
		ok = e.deliverLocal(ctx, log, inbox, act)
	} else if err := e.transport.Post(ctx, inbox, body, sender); err != nil {
		log.Warn("delivery failed", zap.Error(err))
	} else {
		log.Debug("delivered")
		ok = true
	}

	record := &domain.Delivery{InboxURI: inbox, ActivityURI: act.ID, Success: ok}
	if err := e.store.RecordDelivery(ctx, record); err != nil {
		log.Warn("failed to record delivery", zap.Error(err))
	}
	return ok
}

// deliverLocal hands act straight to the inbox handler of a local actor or
// event. Once routed the delivery counts as successful.
func (e *Engine) deliverLocal(ctx context.Context, log *zap.Logger, inbox string, act *domain.Activity) bool {
	u, err := url.Parse(inbox)
	if err != nil {
		return false
	}
	p, ok := domain.ParseLocalPath(u.Path)
	if !ok || p.Endpoint != domain.Inbox {
		log.Warn("local destination is not an inbox")
		return false
	}

	owner := p.OwnerURI(e.base)
	if e.resolveLocal(ctx, owner) == nil {
		log.Warn("local inbox owner not found")
		return false
	}

	if err := e.ToInbox(ctx, owner, act); err != nil {
		log.Error("local delivery failed", zap.Error(err))
	}
	return true
}
