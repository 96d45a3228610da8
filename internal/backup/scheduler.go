package backup

import (
	"context"
	"fmt"

	"mysql-backup-sync/internal/database"
	"mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

// SchedulerOptions configures a Scheduler
type SchedulerOptions struct {
	Inspector database.Inspector
	Runner    Runner
	Include   []string
	Exclude   []string
	Logger    *logging.Logger
}

// Scheduler runs backup tasks for every database of every host with a
// bounded number of tasks in flight
type Scheduler struct {
	inspector database.Inspector
	runner    Runner
	include   []string
	exclude   []string
	logger    *logging.Logger
}

// NewScheduler creates a scheduler
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Scheduler{
		inspector: opts.Inspector,
		runner:    opts.Runner,
		include:   opts.Include,
		exclude:   opts.Exclude,
		logger:    opts.Logger,
	}
}

// inflight pairs a launched task with the unit it backs up
type inflight struct {
	host     string
	database string
	done     chan Outcome
}

// HostPlan is the set of databases selected on one reachable host
type HostPlan struct {
	Target    database.Target
	Databases []string
}

// Plan pings every host and lists the databases that would be backed up.
// Unreachable hosts are recorded in report and left out of the plan.
// Artifacts are named by date and database only, so a database name already
// planned on an earlier host is recorded as a failure and not planned again.
func (s *Scheduler) Plan(ctx context.Context, targets []database.Target, report *Report) []HostPlan {
	plans := make([]HostPlan, 0, len(targets))
	claimed := make(map[string]database.Target)
	for _, target := range targets {
		log := s.logger.With("host", target.Host)

		if err := s.inspector.Ping(ctx, target); err != nil {
			log.WithError(err).Error("Host unreachable, skipping all of its databases")
			report.RecordFailure(hostUnit(target), err)
			continue
		}

		names, err := s.inspector.ListDatabases(ctx, target)
		if err != nil {
			log.WithError(err).Error("Failed to list databases, skipping host")
			report.RecordFailure(hostUnit(target), err)
			continue
		}

		selected := s.claim(target, database.FilterDatabases(names, s.include, s.exclude), claimed, report)
		log.WithFields(map[string]interface{}{
			"listed":   len(names),
			"selected": len(selected),
		}).Info("Host reachable")

		plans = append(plans, HostPlan{Target: target, Databases: selected})
	}
	return plans
}

// RunAll backs up every selected database. At most maxConcurrency tasks are
// in flight; when the window is full the coordinator waits for the oldest
// one. Once ctx is cancelled no further task starts and the remaining
// databases are recorded as interrupted. Outcomes are folded into report by
// this goroutine only.
func (s *Scheduler) RunAll(ctx context.Context, targets []database.Target, maxConcurrency int, report *Report) {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	window := make([]*inflight, 0, maxConcurrency)

	reap := func() {
		oldest := window[0]
		window = window[1:]

		outcome := <-oldest.done
		outcome.Host = oldest.host
		outcome.Database = oldest.database
		report.Record(outcome)
	}

	for _, plan := range s.Plan(ctx, targets, report) {
		for _, db := range plan.Databases {
			if len(window) >= maxConcurrency {
				reap()
			}
			if err := ctx.Err(); err != nil {
				report.Record(Outcome{
					Host:     plan.Target.Host,
					Database: db,
					Status:   StatusFailed,
					Err:      errors.NewInterruptionError(err),
				})
				continue
			}
			window = append(window, s.launch(ctx, plan.Target, db))
		}
	}

	for len(window) > 0 {
		reap()
	}
}

func (s *Scheduler) launch(ctx context.Context, target database.Target, db string) *inflight {
	entry := &inflight{
		host:     target.Host,
		database: db,
		done:     make(chan Outcome, 1),
	}

	s.logger.With("host", target.Host).With("database", db).Debug("Launching backup task")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				entry.done <- Outcome{Status: StatusFailed, Err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		entry.done <- s.runner.Run(ctx, target, db)
	}()

	return entry
}

// claim keeps the databases whose artifact name no earlier host owns
func (s *Scheduler) claim(target database.Target, names []string, claimed map[string]database.Target, report *Report) []string {
	kept := make([]string, 0, len(names))
	for _, db := range names {
		if first, ok := claimed[db]; ok {
			err := errors.NewDumpError(fmt.Sprintf("artifact name collides with %s", first.Address()), nil).
				WithContext("database", db)
			s.logger.With("host", target.Host).With("database", db).WithError(err).
				Error("Database name already backed up from another host, skipping")
			report.RecordFailure(hostUnit(target)+"/"+db, err)
			continue
		}
		claimed[db] = target
		kept = append(kept, db)
	}
	return kept
}

func hostUnit(target database.Target) string {
	return target.Address()
}
