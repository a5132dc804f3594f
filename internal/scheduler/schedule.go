package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/dag"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// effectiveSeconds resolves one ST's own declared schedule to §4.6's
// "effective_schedule" unit (seconds), or reports it as CALCULATED (no
// declared schedule of its own, inherits the minimum of its consumers').
// A cron expression's effective period is estimated as the gap between
// its next two fire times from now, since staleness comparisons need a
// single duration rather than a fire-time calendar.
func effectiveSeconds(st *catalog.StreamTable, now time.Time) (seconds int, calculated bool) {
	if st.CronExpr != nil {
		sched, err := cronParser.Parse(*st.CronExpr)
		if err != nil {
			return 0, false
		}
		first := sched.Next(now)
		second := sched.Next(first)
		return int(second.Sub(first).Seconds()), false
	}
	if st.ScheduleSeconds != nil {
		return *st.ScheduleSeconds, false
	}
	return 0, true
}

// resolveSchedules builds the calculated/userSchedule inputs
// dag.ResolveCalculatedSchedule needs and runs it.
func resolveSchedules(g *dag.Graph, byNode map[dag.NodeID]*catalog.StreamTable, fallback int, now time.Time) (map[dag.NodeID]int, error) {
	calculated := make(map[dag.NodeID]bool, len(byNode))
	userSchedule := make(map[dag.NodeID]int, len(byNode))
	for node, st := range byNode {
		secs, isCalculated := effectiveSeconds(st, now)
		calculated[node] = isCalculated
		userSchedule[node] = secs
	}
	return dag.ResolveCalculatedSchedule(g, calculated, userSchedule, fallback)
}

// isDue reports whether st's staleness has reached its effective
// schedule, clamped below by the configured minimum.
func isDue(st *catalog.StreamTable, effectiveSchedule, minScheduleSeconds int, now time.Time) bool {
	if !st.IsPopulated {
		return true
	}
	schedule := effectiveSchedule
	if schedule < minScheduleSeconds {
		schedule = minScheduleSeconds
	}
	if st.LastRefreshAt == nil {
		return true
	}
	staleness := now.Sub(*st.LastRefreshAt)
	return staleness >= time.Duration(schedule)*time.Second
}
