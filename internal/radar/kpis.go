package radar

// KPISummary aggregates one radar report for dashboards and trend artifacts.
type KPISummary struct {
	Total       int            `json:"total"`
	ByType      map[string]int `json:"by_type"`
	BySeverity  map[string]int `json:"by_severity"`
	MinLeadMin  float64        `json:"min_lead_min"`
	MeanLeadMin float64        `json:"mean_lead_min"`
}

// KPIs summarises the report's risks by type, severity, and lead time.
func (r *Report) KPIs() KPISummary {
	sum := KPISummary{
		Total:      len(r.Risks),
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
	}
	var leadTotal float64
	for i, risk := range r.Risks {
		sum.ByType[string(risk.Type)]++
		sum.BySeverity[string(risk.Severity)]++
		leadTotal += risk.LeadMin
		if i == 0 || risk.LeadMin < sum.MinLeadMin {
			sum.MinLeadMin = risk.LeadMin
		}
	}
	if sum.Total > 0 {
		sum.MeanLeadMin = leadTotal / float64(sum.Total)
	}
	return sum
}
