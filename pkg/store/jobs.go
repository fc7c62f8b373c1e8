package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/praxisworks/praxis/pkg/tools"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun computes the next firing instant for a cron expression after the
// given time. Identical inputs always yield the same instant.
func NextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(after), nil
}

// CreateScheduledJob inserts a job; name is unique per context and the
// initial next_run_at is computed from the cron expression.
func (s *Store) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	next, err := NextRun(job.Cron, time.Now().UTC())
	if err != nil {
		return err
	}
	job.NextRunAt = &next

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO scheduled_jobs (context_id, name, cron, skill_prompt, notify_channel, notify_target,
			enabled, run_count, failure_count, last_run_at, next_run_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, NULL, ?)`),
		job.ContextID, job.Name, job.Cron, job.SkillPrompt, job.NotifyChannel, job.NotifyTarget,
		job.Enabled, next)
	if err != nil {
		return fmt.Errorf("failed to create scheduled job %s: %w", job.Name, err)
	}
	return nil
}

// GetScheduledJob loads a job; missing returns (nil, nil).
func (s *Store) GetScheduledJob(ctx context.Context, contextID, name string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT context_id, name, cron, skill_prompt, notify_channel, notify_target,
			enabled, run_count, failure_count, last_run_at, next_run_at
		 FROM scheduled_jobs WHERE context_id = ? AND name = ?`), contextID, name)

	var job ScheduledJob
	var lastRun, nextRun sql.NullTime
	err := row.Scan(&job.ContextID, &job.Name, &job.Cron, &job.SkillPrompt, &job.NotifyChannel,
		&job.NotifyTarget, &job.Enabled, &job.RunCount, &job.FailureCount, &lastRun, &nextRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled job: %w", err)
	}
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return &job, nil
}

// DueJobs returns enabled jobs whose next_run_at has passed.
func (s *Store) DueJobs(ctx context.Context, now time.Time) ([]*ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT context_id, name, cron, skill_prompt, notify_channel, notify_target,
			enabled, run_count, failure_count, last_run_at, next_run_at
		 FROM scheduled_jobs WHERE enabled = ? AND next_run_at <= ?`), true, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*ScheduledJob
	for rows.Next() {
		var job ScheduledJob
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&job.ContextID, &job.Name, &job.Cron, &job.SkillPrompt, &job.NotifyChannel,
			&job.NotifyTarget, &job.Enabled, &job.RunCount, &job.FailureCount, &lastRun, &nextRun); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			job.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			job.NextRunAt = &nextRun.Time
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// MarkJobRun records a run and recomputes next_run_at from the unchanged
// cron expression.
func (s *Store) MarkJobRun(ctx context.Context, contextID, name string, succeeded bool, ranAt time.Time) error {
	job, err := s.GetScheduledJob(ctx, contextID, name)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("scheduled job %s/%s not found", contextID, name)
	}

	next, err := NextRun(job.Cron, ranAt)
	if err != nil {
		return err
	}

	failureDelta := 0
	if !succeeded {
		failureDelta = 1
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`UPDATE scheduled_jobs SET run_count = run_count + 1, failure_count = failure_count + ?,
			last_run_at = ?, next_run_at = ?
		 WHERE context_id = ? AND name = ?`),
		failureDelta, ranAt, next, contextID, name)
	if err != nil {
		return fmt.Errorf("failed to mark job run: %w", err)
	}
	return nil
}

// RecordPrice stores one price observation for the price tracker.
func (s *Store) RecordPrice(ctx context.Context, contextID string, p tools.PricePoint) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO prices (id, context_id, product, price, currency, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		uuid.New().String(), contextID, p.Product, p.Price, p.Currency, p.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to record price: %w", err)
	}
	return nil
}

// LatestPrices implements tools.PriceReader.
func (s *Store) LatestPrices(ctx context.Context, contextID, product string, n int) ([]tools.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT product, price, currency, observed_at FROM prices
		 WHERE context_id = ? AND product = ? ORDER BY observed_at DESC LIMIT ?`),
		contextID, product, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []tools.PricePoint
	for rows.Next() {
		var p tools.PricePoint
		if err := rows.Scan(&p.Product, &p.Price, &p.Currency, &p.ObservedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
