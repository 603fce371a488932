// section-cli is the operational surface over the artifact tree: inspect
// state, run the pipeline, record decisions, manage locks, and run what-if
// scenarios.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/api/timetable"
	"github.com/railops/section-control/internal/applyplan"
	"github.com/railops/section-control/internal/artifacts"
	"github.com/railops/section-control/internal/coord"
	"github.com/railops/section-control/internal/graph"
	"github.com/railops/section-control/internal/learn"
	"github.com/railops/section-control/internal/ledger"
	"github.com/railops/section-control/internal/normalize"
	"github.com/railops/section-control/internal/optimize"
	"github.com/railops/section-control/internal/policy"
	"github.com/railops/section-control/internal/radar"
	"github.com/railops/section-control/internal/scenario"
	"github.com/railops/section-control/internal/twin"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "normalize":
		err = cmdNormalize(rest)
	case "seed":
		err = cmdSeed(rest)
	case "get_state":
		err = cmdGetState(rest)
	case "get_radar":
		err = cmdGetRadar(rest)
	case "get_recommendations":
		err = cmdGetRecommendations(rest)
	case "optimize":
		err = cmdOptimize(rest)
	case "apply":
		err = cmdApply(rest)
	case "disruption":
		err = cmdDisruption(rest)
	case "plan/revert":
		err = cmdPlanRevert(rest)
	case "locks/resource":
		err = cmdLocksResource(rest)
	case "locks/precedence":
		err = cmdLocksPrecedence(rest)
	case "scenario/run":
		err = cmdScenarioRun(rest)
	case "scenario/batch":
		err = cmdScenarioBatch(rest)
	case "coord/handshake":
		err = cmdCoordHandshake(rest)
	default:
		printUsage()
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "section-cli %s: %v\n", cmd, err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps the error taxonomy onto the documented codes.
func exitCode(err error) int {
	switch {
	case artifacts.IsMissing(err):
		return 2
	case graph.IsBadTopology(err):
		return 3
	case twin.IsSafetyInvariantBroken(err):
		return 4
	default:
		return 1
	}
}

func printUsage() {
	fmt.Println("section-cli usage:")
	fmt.Println("  section-cli normalize           -scope S -date D -file raw.csv")
	fmt.Println("  section-cli seed                -scope S -date D [-trains N]")
	fmt.Println("  section-cli get_state           -scope S -date D")
	fmt.Println("  section-cli get_radar           -scope S -date D")
	fmt.Println("  section-cli get_recommendations -scope S -date D [-station ID]")
	fmt.Println("  section-cli optimize            -scope S -date D [-ga] [-seed N]")
	fmt.Println("  section-cli apply               -scope S -date D -action ID -decision APPLY|DISMISS|MODIFY|ACK -who W -role R [-reason ...] [-minutes M]")
	fmt.Println("  section-cli disruption          -scope S -date D -train T -station ID -delay MIN")
	fmt.Println("  section-cli plan/revert         -scope S -date D")
	fmt.Println("  section-cli locks/resource      -scope S -date D -type block|platform -id ID [-unlock]")
	fmt.Println("  section-cli locks/precedence    -scope S -date D -block ID -leader T1 -follower T2")
	fmt.Println("  section-cli scenario/run        -scope S -date D -kind K [template flags]")
	fmt.Println("  section-cli scenario/batch      -scope S -date D -file specs.json")
	fmt.Println("  section-cli coord/handshake     -scope S -date D -scope-b S2 -date-b D2 -boundary STN")
}

type runFlags struct {
	fs    *flag.FlagSet
	root  *string
	scope *string
	date  *string
}

func newFlags(name string) runFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return runFlags{
		fs:    fs,
		root:  fs.String("artifacts", "artifacts", "artifact tree root"),
		scope: fs.String("scope", "demo_section", "section scope"),
		date:  fs.String("date", time.Now().UTC().Format("2006-01-02"), "service date"),
	}
}

func (f runFlags) store() artifacts.Store { return artifacts.Store{Root: *f.root} }

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// loadBaseline reads the normalised events and graph for a run.
func loadBaseline(store artifacts.Store, scope, date string) ([]timetable.TrainEvent, *graph.SectionGraph, error) {
	events, err := artifacts.ReadParquet[timetable.TrainEvent](store.Path(scope, date, artifacts.EventsClean))
	if err != nil {
		return nil, nil, err
	}
	nodes, err := artifacts.ReadParquet[timetable.Station](store.Path(scope, date, artifacts.SectionNodes))
	if err != nil {
		return nil, nil, err
	}
	edges, err := artifacts.ReadParquet[timetable.Block](store.Path(scope, date, artifacts.SectionEdges))
	if err != nil {
		return nil, nil, err
	}
	g, err := graph.Build(nodes, edges)
	if err != nil {
		return nil, nil, err
	}
	return events, g, nil
}

// cmdNormalize turns a raw timetable CSV into the canonical event artifact,
// reusing and extending the persisted station map.
func cmdNormalize(args []string) error {
	f := newFlags("normalize")
	file := f.fs.String("file", "", "raw timetable CSV")
	serviceDate := f.fs.String("service-date", "", "override service date (derived when empty)")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	raw, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer raw.Close()

	r := csv.NewReader(raw)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", *file, err)
	}
	var rows []normalize.RawRecord
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", *file, err)
		}
		row := make(normalize.RawRecord, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	store := f.store()
	if _, err := store.Dir(*f.scope, *f.date); err != nil {
		return err
	}
	mapPath := store.Path(*f.scope, *f.date, artifacts.StationMap)
	stations, err := normalize.LoadStationMap(mapPath)
	if err != nil {
		return err
	}
	n := normalize.Normaliser{Stations: stations}
	res, err := n.Run(rows, *serviceDate)
	if err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(*f.scope, *f.date, artifacts.EventsClean), res.Events); err != nil {
		return err
	}
	if err := stations.Save(mapPath); err != nil {
		return err
	}
	fmt.Printf("normalised %d events for %s (%d rows skipped, schema %s)\n",
		len(res.Events), res.ServiceDate, res.SkippedRows, res.SchemaVersion)
	return nil
}

func cmdSeed(args []string) error {
	f := newFlags("seed")
	trains := f.fs.Int("trains", 8, "number of demo trains")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	spec := scenario.DefaultCorridor(*f.date)
	spec.Trains = *trains
	events, stations, blocks, err := scenario.Generate(spec)
	if err != nil {
		return err
	}
	store := f.store()
	if _, err := store.Dir(*f.scope, *f.date); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(*f.scope, *f.date, artifacts.EventsClean), events); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(*f.scope, *f.date, artifacts.SectionNodes), stations); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(*f.scope, *f.date, artifacts.SectionEdges), blocks); err != nil {
		return err
	}
	fmt.Printf("seeded %d trains over %d stations at %s/%s/%s\n", spec.Trains, len(stations), *f.root, *f.scope, *f.date)
	return nil
}

func cmdGetState(args []string) error {
	f := newFlags("get_state")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	store := f.store()
	occ, err := artifacts.ReadParquet[timetable.BlockOccupancy](store.Path(*f.scope, *f.date, artifacts.BlockOccupancy))
	if err != nil {
		return err
	}
	var kpis twin.KPIs
	if err := artifacts.ReadJSON(store.Path(*f.scope, *f.date, artifacts.SimKPIs), &kpis); err != nil && !artifacts.IsMissing(err) {
		return err
	}
	last := make(map[string]timetable.BlockOccupancy)
	for _, w := range occ {
		if prev, ok := last[w.TrainID]; !ok || w.ExitTime.After(prev.ExitTime) {
			last[w.TrainID] = w
		}
	}
	type position struct {
		TrainID string `json:"train_id"`
		BlockID string `json:"block_id"`
		U       string `json:"u"`
		V       string `json:"v"`
	}
	var state struct {
		Trains []position `json:"trains"`
		KPIs   twin.KPIs  `json:"kpis"`
	}
	for _, w := range last {
		state.Trains = append(state.Trains, position{TrainID: w.TrainID, BlockID: w.BlockID, U: w.U, V: w.V})
	}
	state.KPIs = kpis
	return printJSON(state)
}

func cmdGetRadar(args []string) error {
	f := newFlags("get_radar")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	var risks []decision.Risk
	if err := artifacts.ReadJSON(f.store().Path(*f.scope, *f.date, artifacts.ConflictRadar), &risks); err != nil {
		return err
	}
	return printJSON(risks)
}

func cmdGetRecommendations(args []string) error {
	f := newFlags("get_recommendations")
	station := f.fs.String("station", "", "filter and shape for one station")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	store := f.store()
	plan, ok, err := scenario.CurrentPlan(store, *f.scope, *f.date)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", artifacts.RecPlan, artifacts.ErrMissing)
	}

	if *station != "" {
		shaper := ledger.NewShaper(ledger.New(store, *f.scope, *f.date))
		allowed, err := shaper.Allow(*station)
		if err != nil {
			return err
		}
		if !allowed {
			return printJSON(decision.Plan{PlanVersion: plan.PlanVersion, Strategy: plan.Strategy})
		}
		var kept []decision.Action
		for _, a := range plan.Actions {
			if a.AtStation == *station || a.StationID == *station {
				kept = append(kept, a)
			}
		}
		plan.Actions = kept
	}
	return printJSON(plan)
}

// cmdOptimize runs the full pipeline over the baseline artifacts and
// publishes every downstream artifact.
func cmdOptimize(args []string) error {
	f := newFlags("optimize")
	useGA := f.fs.Bool("ga", false, "force the genetic fallback")
	seed := f.fs.Int64("seed", 0, "GA random seed")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	store := f.store()
	scope, date := *f.scope, *f.date

	events, g, err := loadBaseline(store, scope, date)
	if err != nil {
		return err
	}
	policies, err := policy.Open(store.Path(scope, date, ""))
	if err != nil {
		return err
	}

	sim, err := twin.Replay(g, events, twin.Overrides{})
	if err != nil {
		return err
	}
	pol := policies.Policy()
	rep := radar.Run(g, sim, radar.Scan{HorizonMin: pol.HorizonMin, BucketMin: pol.BucketMin})
	validation := radar.Validate(g, sim.BlockOccupancy, rep.Risks)

	heat := learn.BuildHeat(g, sim.WaitingLedger)
	if err := learn.SaveHeat(store, scope, date, heat); err != nil {
		return err
	}
	opt, err := optimize.Propose(optimize.Request{
		Graph:     g,
		Occupancy: sim.BlockOccupancy,
		Platforms: sim.PlatformOccupancy,
		Risks:     rep.Risks,
		Policy:    pol,
		Locks:     policies.Locks(),
		RiskHeat:  map[string]float64(heat),
		T0:        rep.T0,
		UseGA:     *useGA,
		Seed:      *seed,
	})
	if err != nil {
		return err
	}

	if err := writeRunArtifacts(store, scope, date, sim, rep, validation); err != nil {
		return err
	}
	if err := scenario.PublishPlan(store, scope, date, opt.Plan); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(store.Path(scope, date, artifacts.AltOptions), opt.Plan.AltOptions); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(store.Path(scope, date, artifacts.PlanMetrics), opt.Metrics); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(store.Path(scope, date, artifacts.AuditLog), opt.AuditLog); err != nil {
		return err
	}

	rows := learn.BuildExamples(learn.Inputs{
		Graph:  g,
		Twin:   sim,
		Radar:  rep,
		Plan:   opt.Plan.Actions,
		Events: events,
	})
	if err := learn.SaveExamples(store, scope, date, rows); err != nil {
		return err
	}
	return printJSON(opt.Plan)
}

func writeRunArtifacts(store artifacts.Store, scope, date string, sim *twin.Result, rep *radar.Report, validation radar.Validation) error {
	if _, err := store.Dir(scope, date); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(scope, date, artifacts.BlockOccupancy), sim.BlockOccupancy); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(scope, date, artifacts.PlatformOccupancy), sim.PlatformOccupancy); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(scope, date, artifacts.WaitingLedger), sim.WaitingLedger); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(store.Path(scope, date, artifacts.SimKPIs), sim.KPIs); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(store.Path(scope, date, artifacts.ConflictRadar), rep.Risks); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(store.Path(scope, date, artifacts.MitigationPreview), rep.Preview); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(scope, date, artifacts.RiskTimeline), rep.Timeline); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(store.Path(scope, date, artifacts.RiskKPIs), rep.KPIs()); err != nil {
		return err
	}
	return artifacts.WriteJSON(store.Path(scope, date, artifacts.RiskValidation), validation)
}

// cmdApply records a controller decision against the published plan and, for
// accepted holds, replays the plan to verify and mirrors an RL transition.
func cmdApply(args []string) error {
	f := newFlags("apply")
	actionID := f.fs.String("action", "", "action_id from the published plan")
	decisionStr := f.fs.String("decision", "", "APPLY, DISMISS, MODIFY or ACK")
	who := f.fs.String("who", "", "deciding user")
	role := f.fs.String("role", "SC", "role tag")
	reason := f.fs.String("reason", "", "free-text reason")
	minutes := f.fs.Float64("minutes", 0, "modified hold minutes (MODIFY)")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	store := f.store()
	scope, date := *f.scope, *f.date

	plan, ok, err := scenario.CurrentPlan(store, scope, date)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", artifacts.RecPlan, artifacts.ErrMissing)
	}
	var action *decision.Action
	for i := range plan.Actions {
		if plan.Actions[i].ActionID == *actionID {
			action = &plan.Actions[i]
			break
		}
	}
	if action == nil {
		return fmt.Errorf("action %q not in plan %s", *actionID, plan.PlanVersion)
	}

	dec := decision.Decision(*decisionStr)
	entry := decision.AuditEntry{
		Who:         *who,
		Role:        *role,
		ActionID:    action.ActionID,
		Decision:    dec,
		Reason:      *reason,
		PlanVersion: plan.PlanVersion,
		Action:      action,
	}
	if dec == decision.DecisionModify && *minutes > 0 {
		modified := *action
		modified.Minutes = *minutes
		entry.Details = map[string]any{"modified": modified}
		entry.Action = &modified
	}

	led := ledger.New(store, scope, date)
	entry, err = led.Append(entry)
	if err != nil {
		return err
	}

	report, err := verifyAndRecord(store, scope, date, plan, entry)
	if err != nil {
		return err
	}
	out := map[string]any{"entry": entry}
	if report != nil {
		out["report"] = report
	}
	return printJSON(out)
}

// verifyAndRecord runs apply-and-validate for accepted decisions and logs
// the offline-RL transition for accepted holds.
func verifyAndRecord(store artifacts.Store, scope, date string, plan decision.Plan, entry decision.AuditEntry) (*applyplan.Report, error) {
	switch entry.Decision {
	case decision.DecisionApply, decision.DecisionModify, decision.DecisionAck:
	default:
		return nil, nil
	}
	events, g, err := loadBaseline(store, scope, date)
	if err != nil {
		if artifacts.IsMissing(err) {
			return nil, nil
		}
		return nil, err
	}

	applied := plan
	applied.Actions = []decision.Action{*entry.Action}
	out, err := applyplan.Apply(g, events, applied, radar.Scan{})
	if err != nil {
		return nil, err
	}
	if err := artifacts.WriteJSON(store.Path(scope, date, artifacts.PlanApplyReport), out.Report); err != nil {
		return nil, err
	}

	if entry.Action.Type == decision.ActionHold {
		if err := recordTransition(store, scope, date, g, entry); err != nil {
			return nil, err
		}
	}
	return &out.Report, nil
}

func recordTransition(store artifacts.Store, scope, date string, g *graph.SectionGraph, entry decision.AuditEntry) error {
	var risks []decision.Risk
	if err := artifacts.ReadJSON(store.Path(scope, date, artifacts.ConflictRadar), &risks); err != nil {
		if artifacts.IsMissing(err) {
			return nil
		}
		return err
	}
	var previews []decision.MitigationPreview
	if err := artifacts.ReadJSON(store.Path(scope, date, artifacts.MitigationPreview), &previews); err != nil && !artifacts.IsMissing(err) {
		return err
	}

	// Tie the decision back to the risk it targets.
	var risk decision.Risk
	var preview *decision.MitigationPreview
	found := false
	for i, r := range risks {
		if r.PrimaryTrain() != entry.Action.TrainID {
			continue
		}
		if r.BlockID != "" && r.BlockID != entry.Action.BlockID && entry.Action.BlockID != "" {
			continue
		}
		risk = r
		for j := range previews {
			if previews[j].RiskIndex == i {
				preview = &previews[j]
				break
			}
		}
		found = true
		break
	}
	if !found {
		return nil
	}

	state := ledger.TransitionState{
		SeverityRank: risk.Severity.Rank(),
		LeadMin:      risk.LeadMin,
		Capacity:     1,
		Platforms:    1,
	}
	if b, ok := g.Block(risk.BlockID); ok {
		state.HeadwayMin = b.HeadwayMin
		state.Capacity = b.Capacity
	}
	if s, ok := g.Station(risk.StationID); ok {
		state.Platforms = s.Platforms
	}
	return ledger.NewTransitionLog(store).RecordHoldDecision(scope, date, entry, risk, preview, state, 0, 0)
}

func cmdDisruption(args []string) error {
	f := newFlags("disruption")
	train := f.fs.String("train", "", "train to delay")
	station := f.fs.String("station", "", "station of the delayed stop")
	delay := f.fs.Float64("delay", 5, "delay minutes")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	store := f.store()
	events, g, err := loadBaseline(store, *f.scope, *f.date)
	if err != nil {
		return err
	}
	ev, st, bl, err := scenario.Apply(scenario.Disruption(*train, *station, *delay), events, g.Stations(), g.Blocks())
	if err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(*f.scope, *f.date, artifacts.EventsClean), ev); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(*f.scope, *f.date, artifacts.SectionNodes), st); err != nil {
		return err
	}
	if err := artifacts.WriteParquet(store.Path(*f.scope, *f.date, artifacts.SectionEdges), bl); err != nil {
		return err
	}
	// Recompute and publish the new plan; the prior one rotates to prev.
	return cmdOptimize([]string{"-artifacts", *f.root, "-scope", *f.scope, "-date", *f.date})
}

func cmdPlanRevert(args []string) error {
	f := newFlags("plan/revert")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	plan, err := scenario.RevertPlan(f.store(), *f.scope, *f.date)
	if err != nil {
		return err
	}
	return printJSON(plan)
}

func cmdLocksResource(args []string) error {
	f := newFlags("locks/resource")
	typ := f.fs.String("type", "", "block or platform")
	id := f.fs.String("id", "", "resource id")
	unlock := f.fs.Bool("unlock", false, "release instead of lock")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	policies, err := policy.Open(f.store().Path(*f.scope, *f.date, ""))
	if err != nil {
		return err
	}
	lock := decision.ResourceLock{Type: *typ, ID: *id, Locked: !*unlock}
	if err := policies.SetResourceLock(lock); err != nil {
		return err
	}
	return printJSON(policies.Locks())
}

func cmdLocksPrecedence(args []string) error {
	f := newFlags("locks/precedence")
	block := f.fs.String("block", "", "block id")
	leader := f.fs.String("leader", "", "leading train")
	follower := f.fs.String("follower", "", "following train")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	policies, err := policy.Open(f.store().Path(*f.scope, *f.date, ""))
	if err != nil {
		return err
	}
	pin := decision.PrecedencePin{BlockID: *block, Leader: *leader, Follower: *follower}
	if err := policies.SetPrecedencePin(pin); err != nil {
		return err
	}
	return printJSON(policies.Locks())
}

func cmdScenarioRun(args []string) error {
	f := newFlags("scenario/run")
	kind := f.fs.String("kind", "", "late_start, platform_outage, speed_restriction or single_line_working")
	name := f.fs.String("name", "", "scenario name")
	train := f.fs.String("train", "", "train id (late_start)")
	station := f.fs.String("station", "", "station id")
	delay := f.fs.Float64("delay", 5, "delay minutes (late_start)")
	platforms := f.fs.Int("platforms", 1, "reduced platform count (platform_outage)")
	u := f.fs.String("u", "", "block origin (speed_restriction)")
	v := f.fs.String("v", "", "block destination (speed_restriction)")
	factor := f.fs.Float64("factor", 1.2, "run-time factor (speed_restriction)")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	spec := scenario.Spec{
		Kind:        scenario.Kind(*kind),
		Name:        *name,
		TrainID:     *train,
		StationID:   *station,
		DelayMin:    *delay,
		Platforms:   *platforms,
		U:           *u,
		V:           *v,
		SpeedFactor: *factor,
	}
	store := f.store()
	events, g, err := loadBaseline(store, *f.scope, *f.date)
	if err != nil {
		return err
	}
	policies, err := policy.Open(store.Path(*f.scope, *f.date, ""))
	if err != nil {
		return err
	}
	out, err := scenario.Run(spec, events, g.Stations(), g.Blocks(), policies.Policy(), radar.Scan{})
	if err != nil {
		return err
	}
	return printJSON(out)
}

func cmdScenarioBatch(args []string) error {
	f := newFlags("scenario/batch")
	file := f.fs.String("file", "", "JSON file with an array of scenario specs")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	var specs []scenario.Spec
	if err := artifacts.ReadJSON(*file, &specs); err != nil {
		return err
	}
	store := f.store()
	events, g, err := loadBaseline(store, *f.scope, *f.date)
	if err != nil {
		return err
	}
	policies, err := policy.Open(store.Path(*f.scope, *f.date, ""))
	if err != nil {
		return err
	}
	batch, err := scenario.RunBatch(specs, events, g.Stations(), g.Blocks(), policies.Policy(), radar.Scan{})
	if err != nil {
		return err
	}
	return printJSON(batch)
}

func cmdCoordHandshake(args []string) error {
	f := newFlags("coord/handshake")
	scopeB := f.fs.String("scope-b", "", "downstream section scope")
	dateB := f.fs.String("date-b", "", "downstream service date")
	boundary := f.fs.String("boundary", "", "shared boundary station")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if *dateB == "" {
		*dateB = *f.date
	}
	store := f.store()
	occA, err := artifacts.ReadParquet[timetable.BlockOccupancy](store.Path(*f.scope, *f.date, artifacts.BlockOccupancy))
	if err != nil {
		return err
	}
	occB, err := artifacts.ReadParquet[timetable.BlockOccupancy](store.Path(*scopeB, *dateB, artifacts.BlockOccupancy))
	if err != nil {
		return err
	}
	res, err := coord.Handshake(occA, occB, *scopeB, *boundary)
	if err != nil {
		return err
	}
	return printJSON(res)
}
