// Package janitor periodically removes task working directories past their
// retention period and expired context variables.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper deletes expired entries and reports how many it removed.
type Sweeper interface {
	Sweep(now time.Time) (int, error)
}

// Config configures a Janitor.
type Config struct {
	// Schedule is a 5-field cron expression or a descriptor such as
	// "@hourly" or "@every 10m".
	Schedule  string
	WorkDir   string
	Retention time.Duration
	Variables Sweeper
	// Active reports whether a task is still running; its directory is
	// never removed. May be nil.
	Active func(taskID string) bool
}

// Result summarizes one cleanup pass.
type Result struct {
	PrunedDirs  int
	ExpiredVars int
}

// Janitor runs cleanup passes on a cron schedule.
type Janitor struct {
	cfg      Config
	schedule cron.Schedule
	cron     *cron.Cron
	logger   *slog.Logger
}

// New validates the schedule and creates a janitor. It does not start.
func New(cfg Config, logger *slog.Logger) (*Janitor, error) {
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", cfg.Schedule, err)
	}
	return &Janitor{
		cfg:      cfg,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(parser)),
		logger:   logger,
	}, nil
}

// Start schedules cleanup passes in the background.
func (j *Janitor) Start() {
	j.cron.Schedule(j.schedule, cron.FuncJob(func() {
		j.RunOnce(time.Now())
	}))
	j.cron.Start()
	j.logger.Info("janitor started", "schedule", j.cfg.Schedule, "retention", j.cfg.Retention.String())
}

// Stop stops scheduling and returns a context that is done once a pass in
// progress has finished.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// RunOnce performs a single cleanup pass as of now. Errors are logged and
// do not abort the pass.
func (j *Janitor) RunOnce(now time.Time) Result {
	var res Result

	pruned, err := j.pruneWorkDirs(now)
	if err != nil {
		j.logger.Error("prune work directories", "error", err)
	}
	res.PrunedDirs = pruned
	prunedTotal.WithLabelValues("work_dir").Add(float64(pruned))

	if j.cfg.Variables != nil {
		n, err := j.cfg.Variables.Sweep(now)
		if err != nil {
			j.logger.Error("sweep context variables", "error", err)
		}
		res.ExpiredVars = n
		prunedTotal.WithLabelValues("context_var").Add(float64(n))
	}

	if res.PrunedDirs > 0 || res.ExpiredVars > 0 {
		j.logger.Info("janitor pass complete", "pruned_dirs", res.PrunedDirs, "expired_vars", res.ExpiredVars)
	}
	return res
}

// pruneWorkDirs removes <WorkDir>/tasks/<task_id> directories that were
// last modified before the retention cutoff.
func (j *Janitor) pruneWorkDirs(now time.Time) (int, error) {
	root := filepath.Join(j.cfg.WorkDir, "tasks")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", root, err)
	}

	cutoff := now.Add(-j.cfg.Retention)
	pruned := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		taskID := entry.Name()
		if j.cfg.Active != nil && j.cfg.Active(taskID) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		dir := filepath.Join(root, taskID)
		if err := os.RemoveAll(dir); err != nil {
			j.logger.Warn("remove work directory", "task_id", taskID, "local_path", dir, "error", err)
			continue
		}
		j.logger.Debug("removed work directory", "task_id", taskID, "local_path", dir)
		pruned++
	}
	return pruned, nil
}
