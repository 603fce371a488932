package artifacts

// Canonical artifact file names within a <scope>/<date> directory.
const (
	EventsClean       = "events_clean.parquet"
	SectionNodes      = "section_nodes.parquet"
	SectionEdges      = "section_edges.parquet"
	BlockOccupancy    = "national_block_occupancy.parquet"
	PlatformOccupancy = "national_platform_occupancy.parquet"
	WaitingLedger     = "national_waiting_ledger.parquet"
	SimKPIs           = "national_sim_kpis.json"
	ConflictRadar     = "conflict_radar.json"
	RiskTimeline      = "risk_timeline.parquet"
	MitigationPreview = "mitigation_preview.json"
	RiskKPIs          = "risk_kpis.json"
	RiskValidation    = "risk_validation.json"
	RecPlan           = "rec_plan.json"
	RecPlanPrev       = "rec_plan_prev.json"
	AltOptions        = "alt_options.json"
	PlanMetrics       = "plan_metrics.json"
	AuditLog          = "audit_log.json"
	PlanApplyReport   = "plan_apply_report.json"
	AuditTrail        = "audit_trail.json"
	Feedback          = "feedback.parquet"
	PolicyState       = "policy_state.json"
	Provenance        = "provenance.json"
	LocksState        = "locks_state.json"
	IncidentHeat      = "incident_heat.json"
	ILTraining        = "il_training.parquet"
	StationMap        = "station_map.csv"
	RateLimit         = "rate_limit.json"
	RLTransitions     = "rl_transitions.jsonl"
)
