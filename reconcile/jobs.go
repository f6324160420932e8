// Package reconcile holds the idempotent repair jobs that keep dealers, users
// and requests consistent. Every job can be re-run at any time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scrap-pickup-api/metrics"
	"scrap-pickup-api/models"
	"scrap-pickup-api/store"
)

// Identity is the part of the identity store the jobs need.
type Identity interface {
	EnsureDealerUser(ctx context.Context, dealer models.Dealer) (created, updated bool, err error)
	RepointDealer(ctx context.Context, from, to models.ID) (int, error)
}

type Jobs struct {
	store *store.Store
	ids   Identity
	log   *zap.Logger
}

func NewJobs(st *store.Store, ids Identity, log *zap.Logger) *Jobs {
	if log == nil {
		log = zap.NewNop()
	}
	return &Jobs{store: st, ids: ids, log: log}
}

// Report summarizes one run of every job.
type Report struct {
	IDsBackfilled     int      `json:"idsBackfilled"`
	DealersMerged     int      `json:"dealersMerged"`
	UsersRepointed    int      `json:"usersRepointed"`
	RequestsRepointed int      `json:"requestsRepointed"`
	UsersCreated      int      `json:"usersCreated"`
	UsersUpdated      int      `json:"usersUpdated"`
	Errors            []string `json:"errors"`
}

func (r *Report) fail(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// RunAll backfills ids, merges duplicate dealers and then syncs dealer users.
// Failures are collected in the report; the run never stops early.
func (j *Jobs) RunAll(ctx context.Context) Report {
	start := time.Now()
	report := Report{Errors: []string{}}

	n, err := j.BackfillIDs(ctx)
	report.IDsBackfilled = n
	report.fail(err)

	dd, err := j.DedupeDealers(ctx)
	report.DealersMerged = dd.Merged
	report.UsersRepointed = dd.UsersRepointed
	report.RequestsRepointed = dd.RequestsRepointed
	report.fail(err)

	created, updated, err := j.SyncDealersToUsers(ctx)
	report.UsersCreated = created
	report.UsersUpdated = updated
	report.fail(err)

	j.log.Info("reconciliation finished",
		zap.Int("ids_backfilled", report.IDsBackfilled),
		zap.Int("dealers_merged", report.DealersMerged),
		zap.Int("users_repointed", report.UsersRepointed),
		zap.Int("requests_repointed", report.RequestsRepointed),
		zap.Int("users_created", report.UsersCreated),
		zap.Int("users_updated", report.UsersUpdated),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", time.Since(start)))
	return report
}

// BackfillIDs gives an id to every record stored without one, or repeating
// another record's id, in every collection.
func (j *Jobs) BackfillIDs(ctx context.Context) (int, error) {
	backend := j.store.Backend()
	total := 0
	var errs []error
	for _, c := range store.Collections {
		n, err := backend.AssignMissingIDs(ctx, c)
		total += n
		if err != nil {
			j.log.Error("backfill ids failed", zap.String("collection", string(c)), zap.Error(err))
			errs = append(errs, fmt.Errorf("backfill %s: %w", c, err))
			continue
		}
		if n > 0 {
			j.log.Info("backfilled ids", zap.String("collection", string(c)), zap.Int("count", n))
		}
	}
	metrics.RecordRepairs("backfill_ids", total)
	return total, errors.Join(errs...)
}

// DedupeResult counts what DedupeDealers changed.
type DedupeResult struct {
	Merged            int
	UsersRepointed    int
	RequestsRepointed int
}

// DedupeDealers keeps the first dealer per normalized phone and deletes the
// rest after pointing their users and requests at the survivor.
func (j *Jobs) DedupeDealers(ctx context.Context) (DedupeResult, error) {
	var res DedupeResult
	// records sharing an id cannot be deleted one at a time, so they get
	// their own ids before merging
	if n, err := j.store.Dealers.BackfillIDs(ctx); err != nil {
		return res, fmt.Errorf("separate dealer ids: %w", err)
	} else if n > 0 {
		j.log.Info("gave dealers their own ids before dedupe", zap.Int("count", n))
	}
	dealers, err := j.store.Dealers.List(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("list dealers: %w", err)
	}

	survivors := make(map[string]models.Dealer)
	var errs []error
	for _, d := range dealers {
		phone, err := d.Phone.Normalized()
		if err != nil {
			j.log.Warn("dealer has an unusable phone", zap.Int64("dealer_id", int64(d.ID)), zap.Error(err))
			continue
		}
		keep, seen := survivors[phone]
		if !seen {
			survivors[phone] = d
			continue
		}
		if d.ID == keep.ID {
			errs = append(errs, fmt.Errorf("dealer %d is stored twice: %w", d.ID, models.ErrConflict))
			continue
		}
		if err := j.merge(ctx, d, keep, &res); err != nil {
			j.log.Error("merge duplicate dealer failed",
				zap.Int64("dealer_id", int64(d.ID)), zap.Int64("survivor_id", int64(keep.ID)), zap.Error(err))
			errs = append(errs, fmt.Errorf("merge dealer %d into %d: %w", d.ID, keep.ID, err))
			continue
		}
		j.log.Info("merged duplicate dealer",
			zap.String("phone", phone), zap.Int64("dropped_id", int64(d.ID)), zap.Int64("survivor_id", int64(keep.ID)))
	}
	metrics.RecordRepairs("dedupe_dealers", res.Merged)
	return res, errors.Join(errs...)
}

// merge moves references from dropped to keep before deleting dropped, so a
// failure part way leaves both dealers in place for the next run.
func (j *Jobs) merge(ctx context.Context, dropped, keep models.Dealer, res *DedupeResult) error {
	moved, err := j.ids.RepointDealer(ctx, dropped.ID, keep.ID)
	res.UsersRepointed += moved
	if err != nil {
		return fmt.Errorf("repoint users: %w", err)
	}

	reqs, err := j.store.Requests.List(ctx, store.ByDealer(dropped.ID))
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	for _, r := range reqs {
		if _, err := j.store.Requests.Update(ctx, r.ID, func(r *models.Request) error {
			r.DealerID = keep.ID.Ptr()
			return nil
		}); err != nil {
			return fmt.Errorf("repoint request %d: %w", r.ID, err)
		}
		res.RequestsRepointed++
	}

	if err := j.store.Dealers.Delete(ctx, dropped.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("delete dealer: %w", err)
	}
	res.Merged++
	return nil
}

// SyncDealersToUsers makes sure every dealer has a dealer-role user.
func (j *Jobs) SyncDealersToUsers(ctx context.Context) (created, updated int, err error) {
	dealers, err := j.store.Dealers.List(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("list dealers: %w", err)
	}
	var errs []error
	for _, d := range dealers {
		c, u, err := j.ids.EnsureDealerUser(ctx, d)
		if err != nil {
			j.log.Error("sync dealer user failed", zap.Int64("dealer_id", int64(d.ID)), zap.Error(err))
			errs = append(errs, fmt.Errorf("sync dealer %d: %w", d.ID, err))
			continue
		}
		if c {
			created++
		}
		if u {
			updated++
		}
	}
	metrics.RecordRepairs("sync_dealer_users", created+updated)
	return created, updated, errors.Join(errs...)
}

// Start runs every job each interval until ctx is done. A zero interval
// disables the loop.
func (j *Jobs) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunAll(ctx)
			}
		}
	}()
}
