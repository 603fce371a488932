package decision

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders v as compact JSON with lexicographically sorted keys.
// The round-trip through map[string]any drops field order so the output is
// stable regardless of struct layout.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical round-trip: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the SHA-1 hex digest of v's canonical JSON form.
func CanonicalHash(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeActionID hashes the action with its id field cleared so the id is a
// pure function of the action's content.
func ComputeActionID(a Action) (string, error) {
	a.ActionID = ""
	return CanonicalHash(a)
}

// StampActionID fills ActionID in place when it is empty.
func StampActionID(a *Action) error {
	if a.ActionID != "" {
		return nil
	}
	id, err := ComputeActionID(*a)
	if err != nil {
		return err
	}
	a.ActionID = id
	return nil
}

// ComputePlanVersion hashes the ordered action list. Action ids are cleared
// first so the version depends only on action content and order.
func ComputePlanVersion(actions []Action) (string, error) {
	stripped := make([]Action, len(actions))
	for i, a := range actions {
		a.ActionID = ""
		stripped[i] = a
	}
	return CanonicalHash(stripped)
}

// Finalize stamps every action id and the plan version. Existing ids are
// preserved; the version is always recomputed from the current action list.
func (p *Plan) Finalize() error {
	for i := range p.Actions {
		if err := StampActionID(&p.Actions[i]); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	for i := range p.AltOptions {
		if err := StampActionID(&p.AltOptions[i]); err != nil {
			return fmt.Errorf("alt option %d: %w", i, err)
		}
	}
	version, err := ComputePlanVersion(p.Actions)
	if err != nil {
		return err
	}
	p.PlanVersion = version
	return nil
}
