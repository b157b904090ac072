package activitypub

import (
	"context"
	"sort"
	"sync"

	"github.com/deemkeen/rendezvous/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ExpandDestinations turns the addressing fields of act into the set of
// inboxes it should be delivered to, sorted for stable output. The public
// address never contributes an inbox, unresolvable entries are dropped and
// collections are followed up to the configured depth.
func (e *Engine) ExpandDestinations(ctx context.Context, act *domain.Activity) []string {
	x := &expansion{
		engine:  e,
		scope:   newFetchScope(),
		visited: map[string]int{},
		inboxes: map[string]bool{},
	}

	var g errgroup.Group
	for _, candidate := range act.Recipients() {
		g.Go(func() error {
			x.expand(ctx, domain.IRI(candidate), 0)
			return nil
		})
	}
	g.Wait()

	out := make([]string, 0, len(x.inboxes))
	for inbox := range x.inboxes {
		out = append(out, inbox)
	}
	sort.Strings(out)
	return out
}

type expansion struct {
	engine *Engine
	scope  *fetchScope

	mu      sync.Mutex
	visited map[string]int
	inboxes map[string]bool
}

// visit records the shallowest depth id was reached at and reports whether
// this visit is shallower than any before it. Re-expanding at a smaller
// depth keeps the result independent of which branch arrives first.
func (x *expansion) visit(id string, depth int) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if seen, ok := x.visited[id]; ok && seen <= depth {
		return false
	}
	x.visited[id] = depth
	return true
}

func (x *expansion) add(inbox string) {
	x.mu.Lock()
	x.inboxes[inbox] = true
	x.mu.Unlock()
}

func (x *expansion) expand(ctx context.Context, ref domain.Reference, depth int) {
	if ref.IsZero() || domain.IsPublic(ref.ID) {
		return
	}
	if depth > x.engine.maxDepth {
		x.engine.log.Debug("expansion depth exceeded", zap.String("uri", ref.ID), zap.Int("depth", depth))
		return
	}
	if ref.ID != "" && !x.visit(ref.ID, depth) {
		return
	}

	var obj domain.Object
	if ref.IsInline() {
		obj, _ = ref.Object()
	}
	if !isExpandable(obj) {
		obj = x.engine.resolve(ctx, x.scope, ref.ID)
	}

	switch o := obj.(type) {
	case domain.Addressable:
		if inbox := o.GetInbox(); inbox != "" {
			x.add(inbox)
		}
	case *domain.Collection:
		// pages belong to the collection they continue, so only members
		// count against the depth bound
		var g errgroup.Group
		for _, r := range o.Members() {
			g.Go(func() error {
				x.expand(ctx, r, depth+1)
				return nil
			})
		}
		for _, r := range o.Continuations() {
			g.Go(func() error {
				x.expand(ctx, r, depth)
				return nil
			})
		}
		g.Wait()
	}
}

// isExpandable reports whether an inline document can be used without
// resolving its id.
func isExpandable(obj domain.Object) bool {
	switch o := obj.(type) {
	case domain.Addressable:
		return o.GetInbox() != ""
	case *domain.Collection:
		return true
	}
	return false
}
