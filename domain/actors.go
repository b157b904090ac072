package domain

import (
	"fmt"
	"time"
)

// PublicKey is the key material an actor publishes for signature checks.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Actor is a federated identity. Local actors also carry their private key,
// which never leaves the server.
type Actor struct {
	Context           any       `json:"@context,omitempty"`
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	PreferredUsername string    `json:"preferredUsername,omitempty"`
	Name              string    `json:"name,omitempty"`
	Inbox             string    `json:"inbox"`
	Outbox            string    `json:"outbox,omitempty"`
	Followers         string    `json:"followers,omitempty"`
	Following         string    `json:"following,omitempty"`
	PublicKey         PublicKey `json:"publicKey"`

	PrivateKeyPem string    `json:"-"`
	CreatedAt     time.Time `json:"-"`
}

func (a *Actor) GetID() string    { return a.ID }
func (a *Actor) GetType() string  { return a.Type }
func (a *Actor) GetInbox() string { return a.Inbox }

// KeyID is the identifier remote servers use to look up this actor's key.
func (a *Actor) KeyID() string {
	if a.PublicKey.ID != "" {
		return a.PublicKey.ID
	}
	return a.ID + "#main-key"
}

// NewLocalActor derives every URI of a local actor from its handle.
func NewLocalActor(base, handle, publicKeyPem string) *Actor {
	id := ActorURI(base, handle)
	return &Actor{
		Context:           []string{ActivityStreamsContext, SecurityContext},
		ID:                id,
		Type:              "Person",
		PreferredUsername: handle,
		Name:              handle,
		Inbox:             EndpointURI(id, Inbox),
		Outbox:            EndpointURI(id, Outbox),
		Followers:         EndpointURI(id, Followers),
		Following:         EndpointURI(id, Following),
		PublicKey: PublicKey{
			ID:           id + "#main-key",
			Owner:        id,
			PublicKeyPem: publicKeyPem,
		},
	}
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tHandle: %s \n\tInbox: %s \n\tCREATED_AT: %s)", a.ID, a.PreferredUsername, a.Inbox, a.CreatedAt)
}
