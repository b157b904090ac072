package domain

import (
	"encoding/json"
	"fmt"
)

// Object is any document the resolver can hand back.
type Object interface {
	GetID() string
	GetType() string
}

// Addressable objects own an inbox that deliveries can target.
type Addressable interface {
	Object
	GetInbox() string
}

// Unknown holds a document of a type this server does not model.
type Unknown struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

func (u *Unknown) GetID() string   { return u.ID }
func (u *Unknown) GetType() string { return u.Type }

func (u *Unknown) MarshalJSON() ([]byte, error) {
	return u.Raw, nil
}

var actorTypes = map[string]bool{
	"Person":       true,
	"Service":      true,
	"Application":  true,
	"Group":        true,
	"Organization": true,
}

var collectionTypes = map[string]bool{
	"Collection":            true,
	"OrderedCollection":     true,
	"CollectionPage":        true,
	"OrderedCollectionPage": true,
}

// DecodeObject inspects the type of a JSON document and decodes it into the
// matching model. Documents with an actor field are treated as activities,
// anything else carrying an inbox as an actor.
func DecodeObject(raw []byte) (Object, error) {
	var head struct {
		ID    string    `json:"id"`
		Type  Addresses `json:"type"`
		Actor Reference `json:"actor"`
		Inbox string    `json:"inbox"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("failed to parse object: %w", err)
	}

	typ := ""
	if len(head.Type) > 0 {
		typ = head.Type[0]
	}

	var obj Object
	switch {
	case typ == "Event":
		obj = &Event{}
	case collectionTypes[typ]:
		obj = &Collection{}
	case actorTypes[typ]:
		obj = &Actor{}
	case ParseKind(typ) != KindOther || head.Actor.ID != "":
		obj = &Activity{}
	case head.Inbox != "":
		obj = &Actor{}
	default:
		return &Unknown{ID: head.ID, Type: typ, Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", typ, err)
	}
	return obj, nil
}

// Collection covers Collection, OrderedCollection and their pages.
type Collection struct {
	Context      any         `json:"@context,omitempty"`
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	TotalItems   int         `json:"totalItems"`
	Items        []Reference `json:"items,omitempty"`
	OrderedItems []Reference `json:"orderedItems,omitempty"`
	First        *Reference  `json:"first,omitempty"`
	Next         *Reference  `json:"next,omitempty"`
	PartOf       string      `json:"partOf,omitempty"`
}

func (c *Collection) GetID() string   { return c.ID }
func (c *Collection) GetType() string { return c.Type }

// Members returns items and orderedItems together.
func (c *Collection) Members() []Reference {
	out := make([]Reference, 0, len(c.Items)+len(c.OrderedItems))
	out = append(out, c.Items...)
	return append(out, c.OrderedItems...)
}

// Continuations returns the first/next page references, if any.
func (c *Collection) Continuations() []Reference {
	var out []Reference
	if c.First != nil && !c.First.IsZero() {
		out = append(out, *c.First)
	}
	if c.Next != nil && !c.Next.IsZero() {
		out = append(out, *c.Next)
	}
	return out
}

func NewCollection(id string, items []string) *Collection {
	refs := make([]Reference, 0, len(items))
	for _, item := range items {
		refs = append(refs, IRI(item))
	}
	return &Collection{
		Context:    ActivityStreamsContext,
		ID:         id,
		Type:       "Collection",
		TotalItems: len(refs),
		Items:      refs,
	}
}

func NewOrderedCollection(id string, items []string) *Collection {
	refs := make([]Reference, 0, len(items))
	for _, item := range items {
		refs = append(refs, IRI(item))
	}
	return &Collection{
		Context:      ActivityStreamsContext,
		ID:           id,
		Type:         "OrderedCollection",
		TotalItems:   len(refs),
		OrderedItems: refs,
	}
}
