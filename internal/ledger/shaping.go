package ledger

import (
	"fmt"
	"time"

	"github.com/railops/section-control/api/decision"
	"github.com/railops/section-control/internal/artifacts"
)

// Suggestion shaping limits on the recommendation read path.
const (
	RatePerMinute   = 20
	DismissCooldown = 5 * time.Minute
)

// Shaper throttles per-station suggestion reads and enforces the post-DISMISS
// cooldown. State is persisted so restarts do not reset the window.
type Shaper struct {
	ledger *Ledger
	now    func() time.Time
}

// NewShaper builds a shaper over the ledger's scope and date.
func NewShaper(l *Ledger) *Shaper {
	return &Shaper{ledger: l, now: time.Now}
}

// Allow reports whether suggestions may be served for the station now. A
// false return means the caller should respond with an empty suggestion set.
func (s *Shaper) Allow(stationID string) (bool, error) {
	if stationID == "" {
		return true, nil
	}
	now := s.now().UTC()

	cooling, err := s.inCooldown(stationID, now)
	if err != nil {
		return false, err
	}
	if cooling {
		return false, nil
	}
	return s.underRate(stationID, now)
}

// underRate counts reads in the trailing minute and records this one.
func (s *Shaper) underRate(stationID string, now time.Time) (bool, error) {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()

	path := s.ledger.store.Path(s.ledger.scope, s.ledger.date, artifacts.RateLimit)
	meta := make(map[string][]string)
	if err := artifacts.ReadJSON(path, &meta); err != nil && !artifacts.IsMissing(err) {
		return false, fmt.Errorf("read rate state: %w", err)
	}

	var recent []string
	for _, raw := range meta[stationID] {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		if now.Sub(t) < time.Minute {
			recent = append(recent, raw)
		}
	}
	if len(recent) >= RatePerMinute {
		return false, nil
	}
	meta[stationID] = append(recent, now.Format(time.RFC3339))
	if err := artifacts.WriteJSON(path, meta); err != nil {
		return false, fmt.Errorf("write rate state: %w", err)
	}
	return true, nil
}

// inCooldown reports whether the last DISMISS at the station is fresher than
// the cooldown window.
func (s *Shaper) inCooldown(stationID string, now time.Time) (bool, error) {
	trail, err := s.ledger.Trail()
	if err != nil {
		return false, err
	}
	for i := len(trail) - 1; i >= 0; i-- {
		e := trail[i]
		if e.Decision != decision.DecisionDismiss || e.Action == nil {
			continue
		}
		if e.Action.StationID != stationID && e.Action.AtStation != stationID {
			continue
		}
		ts, err := time.Parse(time.RFC3339, e.TS)
		if err != nil {
			continue
		}
		return now.Sub(ts) < DismissCooldown, nil
	}
	return false, nil
}
