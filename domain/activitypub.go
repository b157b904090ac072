package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"
	PublicAddress          = "https://www.w3.org/ns/activitystreams#Public"
)

// ErrNotFound is returned by stores when no record matches.
var ErrNotFound = errors.New("record not found")

// IsPublic reports whether uri is the public-collection sentinel, in any of
// its accepted spellings.
func IsPublic(uri string) bool {
	switch uri {
	case PublicAddress, "as:Public", "Public":
		return true
	}
	return false
}

// Kind is the closed set of activity types the federation engine acts on.
// Everything else is KindOther: persisted, but without side effects.
type Kind int

const (
	KindOther Kind = iota
	KindCreate
	KindFollow
	KindAccept
	KindJoin
	KindUndo
)

func ParseKind(typ string) Kind {
	switch typ {
	case "Create":
		return KindCreate
	case "Follow":
		return KindFollow
	case "Accept":
		return KindAccept
	case "Join":
		return KindJoin
	case "Undo":
		return KindUndo
	default:
		return KindOther
	}
}

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "Create"
	case KindFollow:
		return "Follow"
	case KindAccept:
		return "Accept"
	case KindJoin:
		return "Join"
	case KindUndo:
		return "Undo"
	default:
		return "Other"
	}
}

// Addresses is an addressing field (to, cc, ...). On the wire it may be a
// single IRI, an array of IRIs, or an array of embedded objects with ids.
type Addresses []string

func (a *Addresses) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = nil
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Addresses{s}
		return nil
	}

	var items []Reference
	if err := json.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("invalid addressing field: %w", err)
	}

	out := make(Addresses, 0, len(items))
	for _, item := range items {
		if item.ID != "" {
			out = append(out, item.ID)
		}
	}
	*a = out
	return nil
}

// Reference is either a bare identifier or an inline document. Inline
// references keep the original JSON so nothing is lost on re-serialization.
type Reference struct {
	ID  string
	raw json.RawMessage
}

// IRI returns a reference holding only an identifier.
func IRI(id string) Reference {
	return Reference{ID: id}
}

// Inline embeds v as a document reference.
func Inline(v any) (Reference, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Reference{}, fmt.Errorf("failed to marshal inline object: %w", err)
	}
	var r Reference
	if err := r.UnmarshalJSON(b); err != nil {
		return Reference{}, err
	}
	return r, nil
}

func (r Reference) IsZero() bool {
	return r.ID == "" && len(r.raw) == 0
}

func (r Reference) IsInline() bool {
	return len(r.raw) > 0
}

// Bare drops the inline document and keeps the identifier.
func (r Reference) Bare() Reference {
	return IRI(r.ID)
}

// Decode unmarshals the inline document into v.
func (r Reference) Decode(v any) error {
	if !r.IsInline() {
		return fmt.Errorf("reference %q is not inline", r.ID)
	}
	return json.Unmarshal(r.raw, v)
}

// Object decodes the inline document into its typed form.
func (r Reference) Object() (Object, error) {
	if !r.IsInline() {
		return nil, fmt.Errorf("reference %q is not inline", r.ID)
	}
	return DecodeObject(r.raw)
}

func (r Reference) MarshalJSON() ([]byte, error) {
	if r.IsInline() {
		return r.raw, nil
	}
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

func (r *Reference) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*r = Reference{}
		return nil
	case b[0] == '"':
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = IRI(id)
		return nil
	case b[0] == '{':
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &head); err != nil {
			return fmt.Errorf("invalid object reference: %w", err)
		}
		*r = Reference{ID: head.ID, raw: append(json.RawMessage(nil), b...)}
		return nil
	default:
		return fmt.Errorf("invalid object reference: %s", string(b))
	}
}

// Activity is a verb-object record issued by an actor.
type Activity struct {
	Context   any        `json:"@context,omitempty"`
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Actor     string     `json:"actor"`
	Object    Reference  `json:"object"`
	To        Addresses  `json:"to,omitempty"`
	Bto       Addresses  `json:"bto,omitempty"`
	Cc        Addresses  `json:"cc,omitempty"`
	Bcc       Addresses  `json:"bcc,omitempty"`
	Audience  Addresses  `json:"audience,omitempty"`
	Published *time.Time `json:"published,omitempty"`
}

func (a *Activity) GetID() string   { return a.ID }
func (a *Activity) GetType() string { return a.Type }

func (a *Activity) Kind() Kind {
	return ParseKind(a.Type)
}

// Recipients concatenates every addressing field, duplicates included.
func (a *Activity) Recipients() []string {
	out := make([]string, 0, len(a.To)+len(a.Bto)+len(a.Cc)+len(a.Bcc)+len(a.Audience))
	out = append(out, a.To...)
	out = append(out, a.Bto...)
	out = append(out, a.Cc...)
	out = append(out, a.Bcc...)
	out = append(out, a.Audience...)
	return out
}

// ForDelivery returns a copy with blind recipients removed.
func (a *Activity) ForDelivery() *Activity {
	c := *a
	c.Bto = nil
	c.Bcc = nil
	if c.Context == nil {
		c.Context = ActivityStreamsContext
	}
	return &c
}

// ParseActivity decodes an activity body.
func ParseActivity(body []byte) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}
	return &a, nil
}
