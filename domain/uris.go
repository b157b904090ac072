package domain

import (
	"strings"
)

// Endpoint names one of the URIs derived from an actor or event identifier.
type Endpoint uint

const (
	Self Endpoint = iota
	Inbox
	Outbox
	Followers
	Following
	Attending
	Attendees
	Activities
)

var endpointSuffixes = map[Endpoint]string{
	Inbox:      "inbox",
	Outbox:     "outbox",
	Followers:  "followers",
	Following:  "following",
	Attending:  "attending",
	Attendees:  "attendees",
	Activities: "activities",
}

func ActorURI(base, handle string) string {
	return base + "/user/" + handle
}

func EventURI(base, id string) string {
	return base + "/event/" + id
}

// ActivityURI scopes an activity identifier to the actor that issued it.
func ActivityURI(owner, id string) string {
	return owner + "/activities/" + id
}

func EndpointURI(owner string, e Endpoint) string {
	if e == Self {
		return owner
	}
	return owner + "/" + endpointSuffixes[e]
}

// LocalPath is a parsed path of a URI on this server.
type LocalPath struct {
	Owner      string // "user" or "event"
	Name       string // handle or event id
	Endpoint   Endpoint
	ActivityID string
}

// OwnerURI rebuilds the identifier of the actor or event the path belongs to.
func (p LocalPath) OwnerURI(base string) string {
	if p.Owner == "event" {
		return EventURI(base, p.Name)
	}
	return ActorURI(base, p.Name)
}

// ParseLocalPath recognizes /user/{h}[/...] and /event/{id}[/...] paths.
func ParseLocalPath(path string) (LocalPath, bool) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 || segs[1] == "" {
		return LocalPath{}, false
	}
	if segs[0] != "user" && segs[0] != "event" {
		return LocalPath{}, false
	}

	p := LocalPath{Owner: segs[0], Name: segs[1]}
	switch len(segs) {
	case 2:
		p.Endpoint = Self
		return p, true
	case 3:
		for e, suffix := range endpointSuffixes {
			if suffix == segs[2] && e != Activities {
				p.Endpoint = e
				return p, true
			}
		}
	case 4:
		if segs[2] == "activities" && segs[3] != "" {
			p.Endpoint = Activities
			p.ActivityID = segs[3]
			return p, true
		}
	}
	return LocalPath{}, false
}
