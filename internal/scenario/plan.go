package scenario

import (
	"fmt"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/internal/artifacts"
)

// PublishPlan writes the new plan as rec_plan.json, rotating the previous
// plan into rec_plan_prev.json so a revert can restore it.
func PublishPlan(store artifacts.Store, scope, date string, plan decision.Plan) error {
	cur := store.Path(scope, date, artifacts.RecPlan)
	prev := store.Path(scope, date, artifacts.RecPlanPrev)

	var old decision.Plan
	if err := artifacts.ReadJSON(cur, &old); err == nil {
		if err := artifacts.WriteJSON(prev, old); err != nil {
			return fmt.Errorf("rotate plan: %w", err)
		}
	} else if !artifacts.IsMissing(err) {
		return fmt.Errorf("read plan: %w", err)
	}
	if err := artifacts.WriteJSON(cur, plan); err != nil {
		return fmt.Errorf("publish plan: %w", err)
	}
	return nil
}

// RevertPlan swaps rec_plan.json with rec_plan_prev.json and returns the
// restored plan. Reverting with no prior plan is an error.
func RevertPlan(store artifacts.Store, scope, date string) (decision.Plan, error) {
	cur := store.Path(scope, date, artifacts.RecPlan)
	prevPath := store.Path(scope, date, artifacts.RecPlanPrev)

	var prev decision.Plan
	if err := artifacts.ReadJSON(prevPath, &prev); err != nil {
		if artifacts.IsMissing(err) {
			return decision.Plan{}, fmt.Errorf("no previous plan to revert to: %w", err)
		}
		return decision.Plan{}, fmt.Errorf("read previous plan: %w", err)
	}
	var current decision.Plan
	if err := artifacts.ReadJSON(cur, &current); err != nil && !artifacts.IsMissing(err) {
		return decision.Plan{}, fmt.Errorf("read current plan: %w", err)
	}

	if err := artifacts.WriteJSON(prevPath, current); err != nil {
		return decision.Plan{}, fmt.Errorf("rotate current plan: %w", err)
	}
	if err := artifacts.WriteJSON(cur, prev); err != nil {
		return decision.Plan{}, fmt.Errorf("restore plan: %w", err)
	}
	return prev, nil
}

// CurrentPlan reads the published plan, if any.
func CurrentPlan(store artifacts.Store, scope, date string) (decision.Plan, bool, error) {
	var plan decision.Plan
	err := artifacts.ReadJSON(store.Path(scope, date, artifacts.RecPlan), &plan)
	if artifacts.IsMissing(err) {
		return decision.Plan{}, false, nil
	}
	if err != nil {
		return decision.Plan{}, false, err
	}
	return plan, true, nil
}
