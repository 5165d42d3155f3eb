package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Action is what a reviewer chose to do with a group of variants. It is one of
// CreateNew, LinkExisting or Skip.
type Action interface {
	actionName() string
}

// CreateNew resolves the variants to a new (or same-named existing) entity.
type CreateNew struct {
	CanonicalName string
}

// LinkExisting resolves the variants to an entity already in the catalog.
type LinkExisting struct {
	ExistingID uuid.UUID
}

// Skip leaves the values as they are.
type Skip struct{}

func (CreateNew) actionName() string    { return "create_new" }
func (LinkExisting) actionName() string { return "link_existing" }
func (Skip) actionName() string         { return "skip" }

// Decision is a reviewer's answer for one group.
type Decision struct {
	Field                   string
	Variants                []string
	Action                  Action
	SaveAsAliases           bool
	CreateIntelligenceRules bool
}

type decisionJSON struct {
	Field                   string     `json:"field"`
	Variants                []string   `json:"variants"`
	Action                  string     `json:"action"`
	CanonicalName           string     `json:"canonicalName,omitempty"`
	ExistingID              *uuid.UUID `json:"existingId,omitempty"`
	SaveAsAliases           bool       `json:"saveAsAliases"`
	CreateIntelligenceRules bool       `json:"createIntelligenceRules"`
}

// MarshalJSON flattens the action into the "action" discriminator.
func (d Decision) MarshalJSON() ([]byte, error) {
	out := decisionJSON{
		Field:                   d.Field,
		Variants:                d.Variants,
		SaveAsAliases:           d.SaveAsAliases,
		CreateIntelligenceRules: d.CreateIntelligenceRules,
	}
	switch a := d.Action.(type) {
	case CreateNew:
		out.Action = a.actionName()
		out.CanonicalName = a.CanonicalName
	case LinkExisting:
		out.Action = a.actionName()
		id := a.ExistingID
		out.ExistingID = &id
	case Skip, nil:
		out.Action = Skip{}.actionName()
	default:
		return nil, fmt.Errorf("unknown action %T", d.Action)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the "action" discriminator and checks that the
// fields it requires are present.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var in decisionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*d = Decision{
		Field:                   in.Field,
		Variants:                in.Variants,
		SaveAsAliases:           in.SaveAsAliases,
		CreateIntelligenceRules: in.CreateIntelligenceRules,
	}

	switch in.Action {
	case "create_new":
		name := strings.TrimSpace(in.CanonicalName)
		if name == "" {
			return fmt.Errorf("create_new requires canonicalName")
		}
		d.Action = CreateNew{CanonicalName: name}
	case "link_existing":
		if in.ExistingID == nil || *in.ExistingID == uuid.Nil {
			return fmt.Errorf("link_existing requires existingId")
		}
		d.Action = LinkExisting{ExistingID: *in.ExistingID}
	case "skip", "":
		d.Action = Skip{}
	default:
		return fmt.Errorf("unknown action %q", in.Action)
	}
	return nil
}

// NormalizedMapping is the resolution of one original value. It is consumed
// when line items are materialized.
type NormalizedMapping struct {
	Field         string     `json:"field"`
	OriginalValue string     `json:"originalValue"`
	ResolvedValue string     `json:"resolvedValue"`
	ResolvedID    *uuid.UUID `json:"resolvedId,omitempty"`
}

// PersistenceError records one failed store write or lookup inside a batch.
type PersistenceError struct {
	Item string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Item, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the failure for API responses.
func (e *PersistenceError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Item  string `json:"item"`
		Error string `json:"error"`
	}{e.Item, e.Err.Error()})
}
