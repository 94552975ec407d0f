package jobs

import (
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
)

// ReconcileInterval is how often subscriptions are reconciled per org.
const ReconcileInterval = 24 * time.Hour

// PeriodicJobs builds the scheduled jobs: a pull sync per org on the cron
// schedule, and a daily subscription reconcile per org when reconcile is set.
// An empty schedule disables periodic pull sync.
func PeriodicJobs(schedule string, orgIDs []string, reconcile bool) ([]*river.PeriodicJob, error) {
	var out []*river.PeriodicJob
	if schedule != "" {
		sched, err := cron.ParseStandard(schedule)
		if err != nil {
			return nil, fmt.Errorf("parse sync schedule %q: %w", schedule, err)
		}
		for _, org := range orgIDs {
			out = append(out, river.NewPeriodicJob(
				sched,
				func() (river.JobArgs, *river.InsertOpts) {
					return PullSyncArgs{OrgID: org, Key: PullSyncKey(org)}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: false},
			))
		}
	}
	if reconcile {
		for _, org := range orgIDs {
			out = append(out, river.NewPeriodicJob(
				river.PeriodicInterval(ReconcileInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return SubscriptionReconcileArgs{OrgID: org, Key: ReconcileKey(org)}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			))
		}
	}
	return out, nil
}
