package activitypub

import (
	"testing"

	"github.com/deemkeen/rendezvous/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteFollow(actor, target string) *domain.Activity {
	return &domain.Activity{
		Context: domain.ActivityStreamsContext,
		ID:      actor + "/follows/1",
		Type:    "Follow",
		Actor:   actor,
		Object:  domain.IRI(target),
		To:      domain.Addresses{target},
	}
}

func TestToInboxRejectsMissingID(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)

	err := f.engine.ToInbox(f.ctx, alice.ID, &domain.Activity{Type: "Follow", Actor: "https://remote.example/users/bob"})
	require.ErrorIs(t, err, ErrMissingID)
}

func TestToInboxFollowAddsFollowerAndAccepts(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	bob := f.remoteActor("bob", 1)
	follow := remoteFollow(bob, alice.ID)

	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, follow))
	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, follow))
	f.engine.Wait()

	followers, err := f.store.ReadFollowers(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, followers)

	inbox, err := f.store.ReadInbox(f.ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1, "redelivery must not index twice")
	assert.Equal(t, follow.ID, inbox[0].Activity)

	posts := f.remote.postsTo("/users/bob/inbox")
	require.NotEmpty(t, posts)
	accept, err := domain.ParseActivity(posts[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "Accept", accept.Type)
	assert.Equal(t, alice.ID, accept.Actor)
	assert.Equal(t, follow.ID, accept.Object.ID)
	assert.False(t, accept.Object.IsInline())
	assert.Contains(t, posts[0].Header.Get("Signature"), alice.KeyID())
}

func TestToInboxFollowForSomeoneElse(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	carol := f.localActor(t, "carol", 2)
	bob := f.remoteActor("bob", 1)

	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, remoteFollow(bob, carol.ID)))
	f.engine.Wait()

	for _, followee := range []string{alice.ID, carol.ID} {
		followers, err := f.store.ReadFollowers(f.ctx, followee)
		require.NoError(t, err)
		assert.Empty(t, followers)
	}
	assert.Zero(t, f.remote.postCount(), "no Accept for a follow that is not ours")
}

func TestToInboxUndoFollow(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	bob := f.remoteActor("bob", 1)
	follow := remoteFollow(bob, alice.ID)

	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, follow))
	f.engine.Wait()

	undo := &domain.Activity{
		ID:     bob + "/undos/1",
		Type:   "Undo",
		Actor:  bob,
		Object: domain.IRI(follow.ID),
	}
	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, undo))

	followers, err := f.store.ReadFollowers(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, followers)

	_, err = f.store.ReadActivityByURI(f.ctx, follow.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.store.ReadActivityByURI(f.ctx, undo.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "an undo is not stored")

	inbox, err := f.store.ReadInbox(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestToInboxUndoByAnotherActorIsIgnored(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	bob := f.remoteActor("bob", 1)
	mallory := f.remoteActor("mallory", 2)
	follow := remoteFollow(bob, alice.ID)

	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, follow))
	f.engine.Wait()

	undo := &domain.Activity{ID: mallory + "/undos/1", Type: "Undo", Actor: mallory, Object: domain.IRI(follow.ID)}
	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, undo))

	followers, err := f.store.ReadFollowers(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, followers)

	_, err = f.store.ReadActivityByURI(f.ctx, follow.ID)
	assert.NoError(t, err)
}

func TestToInboxUndoInlineUnknownActivity(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	bob := "https://remote.example/users/bob"

	require.NoError(t, f.store.CreateFollower(f.ctx, alice.ID, bob))

	inline, err := domain.Inline(remoteFollow(bob, alice.ID))
	require.NoError(t, err)
	undo := &domain.Activity{ID: bob + "/undos/1", Type: "Undo", Actor: bob, Object: inline}
	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, undo))

	followers, err := f.store.ReadFollowers(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, followers)
}

func TestToInboxJoinAndUndo(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	bob := "https://remote.example/users/bob"

	event := domain.NewLocalEvent(testBase, "e1", "Meetup", alice.ID, fixedStart, fixedStart)
	require.NoError(t, f.store.CreateObject(f.ctx, event))

	join := &domain.Activity{ID: bob + "/joins/1", Type: "Join", Actor: bob, Object: domain.IRI(event.ID)}
	require.NoError(t, f.engine.ToInbox(f.ctx, event.ID, join))

	attendees, err := f.store.ReadAttendees(f.ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, attendees)

	inbox, err := f.store.ReadInbox(f.ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)

	undo := &domain.Activity{ID: bob + "/undos/1", Type: "Undo", Actor: bob, Object: domain.IRI(join.ID)}
	require.NoError(t, f.engine.ToInbox(f.ctx, event.ID, undo))

	attendees, err = f.store.ReadAttendees(f.ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, attendees)
}

func TestToInboxJoinForAnotherEvent(t *testing.T) {
	f := newFixture(t)
	event := testBase + "/event/e1"
	bob := "https://remote.example/users/bob"

	join := &domain.Activity{ID: bob + "/joins/1", Type: "Join", Actor: bob, Object: domain.IRI(testBase + "/event/e2")}
	require.NoError(t, f.engine.ToInbox(f.ctx, event, join))

	attendees, err := f.store.ReadAttendees(f.ctx, event)
	require.NoError(t, err)
	assert.Empty(t, attendees)
}

func TestToInboxAcceptCreatesFollowing(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	bob := f.remoteActor("bob", 1)

	follow, err := f.engine.Follow(f.ctx, alice.ID, bob)
	require.NoError(t, err)
	f.engine.Wait()

	following, err := f.store.ReadFollowing(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, following, "following starts only once accepted")

	accept := &domain.Activity{ID: bob + "/accepts/1", Type: "Accept", Actor: bob, Object: domain.IRI(follow.ID)}
	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, accept))

	following, err = f.store.ReadFollowing(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, following)
}

func TestToInboxForgedAcceptIsIgnored(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	bob := f.remoteActor("bob", 1)
	mallory := f.remoteActor("mallory", 2)

	follow, err := f.engine.Follow(f.ctx, alice.ID, bob)
	require.NoError(t, err)
	f.engine.Wait()

	accept := &domain.Activity{ID: mallory + "/accepts/1", Type: "Accept", Actor: mallory, Object: domain.IRI(follow.ID)}
	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, accept))

	// an inline copy of a local activity is not trusted either
	forged, err := domain.Inline(&domain.Activity{ID: alice.ID + "/activities/forged", Type: "Follow", Actor: alice.ID, Object: domain.IRI(mallory)})
	require.NoError(t, err)
	accept = &domain.Activity{ID: mallory + "/accepts/2", Type: "Accept", Actor: mallory, Object: forged}
	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, accept))

	following, err := f.store.ReadFollowing(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, following)
}

func TestToInboxAcceptOfJoinByHost(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	bob := f.remoteActor("bob", 1)

	eventID := f.remote.URL + "/events/party"
	f.remote.addDoc("/events/party", map[string]any{
		"id":           eventID,
		"type":         "Event",
		"name":         "Party",
		"attributedTo": bob,
		"inbox":        eventID + "/inbox",
	})

	join, err := f.engine.Join(f.ctx, alice.ID, eventID)
	require.NoError(t, err)
	f.engine.Wait()

	accept := &domain.Activity{ID: bob + "/accepts/1", Type: "Accept", Actor: bob, Object: domain.IRI(join.ID)}
	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, accept))

	attending, err := f.store.ReadAttending(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{eventID}, attending)
}

func TestToInboxDanglingLocalActivity(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)

	ghost := &domain.Activity{ID: alice.ID + "/activities/ghost", Type: "Like", Actor: alice.ID, Object: domain.IRI("x")}
	err := f.engine.ToInbox(f.ctx, alice.ID, ghost)
	require.ErrorIs(t, err, ErrDanglingActivity)
}

func TestToInboxFirstSeenWins(t *testing.T) {
	f := newFixture(t)
	alice := f.localActor(t, "alice", 0)
	bob := "https://remote.example/users/bob"

	first := &domain.Activity{ID: bob + "/likes/1", Type: "Like", Actor: bob, Object: domain.IRI("https://remote.example/notes/1")}
	second := &domain.Activity{ID: bob + "/likes/1", Type: "Like", Actor: bob, Object: domain.IRI("https://remote.example/notes/2")}

	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, first))
	require.NoError(t, f.engine.ToInbox(f.ctx, alice.ID, second))

	stored, err := f.store.ReadActivityByURI(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://remote.example/notes/1", stored.Object.ID)
}
