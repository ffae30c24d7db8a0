// Package syncer orchestrates one sync run: crash recovery, change
// discovery, task scheduling, fetching, and committing, in that order.
//
// A run is resumable at every point. Tasks and watermarks are durable, fact
// batches commit transactionally, and a re-fetch of any date is idempotent
// thanks to identity-keyed upserts, so the worst a crash costs is repeated
// work, never lost or duplicated rows.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
	"github.com/ledgerhound/ledgerhound/internal/partnerapi"
	"github.com/ledgerhound/ledgerhound/internal/retry"
	"github.com/ledgerhound/ledgerhound/internal/store"
	"github.com/ledgerhound/ledgerhound/internal/vault"
)

// batchSize bounds how many dates one scheduling round works through,
// keeping peak memory and remote load small. The API is the bottleneck, so
// dates inside a batch are fetched sequentially.
const batchSize = 3

// Syncer runs the sync pipeline for registered credentials.
type Syncer struct {
	store  *store.DB
	client *partnerapi.Client
	vault  *vault.Vault
	logger *zap.Logger
	retry  retry.Config
}

// New wires a syncer. The retry policy applies to transport failures only;
// protocol errors fail the date immediately.
func New(db *store.DB, client *partnerapi.Client, v *vault.Vault, logger *zap.Logger) *Syncer {
	cfg := retry.DefaultConfig()
	cfg.Retryable = func(err error) bool {
		var te *partnerapi.TransportError
		return errors.As(err, &te)
	}
	return &Syncer{store: db, client: client, vault: v, logger: logger, retry: cfg}
}

// Result summarizes one credential's sync run.
type Result struct {
	CredentialID   string
	DatesProcessed int
	DatesFailed    int
	Records        int
	Watermark      int64
}

// Run syncs one credential. It processes any pending tasks left over from
// earlier runs before asking the server for new changes, persists the new
// watermark regardless of how the fetch phase goes, and reports partial
// failure in the result rather than aborting the run.
func (s *Syncer) Run(ctx context.Context, credentialID string) (*Result, error) {
	log := s.logger.With(zap.String("credential_id", credentialID))

	secret, err := s.vault.Get(credentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential secret: %w", err)
	}

	// Dates already holding facts, snapshotted before new tasks clear any:
	// discovery ordering prefers days we have never seen.
	existing, err := s.store.ExistingDates(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	// Leftover work first. These tasks survived a crash or a failed fetch.
	pending, err := s.store.Pending(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	pendingDates := make(map[string]struct{}, len(pending))
	for _, t := range pending {
		pendingDates[t.Date] = struct{}{}
	}
	if len(pending) > 0 {
		log.Info("resuming pending sync tasks", zap.Int("count", len(pending)))
	}

	since, err := s.store.GetWatermark(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	disc, err := s.client.Discover(ctx, secret, since)
	if err != nil {
		return nil, fmt.Errorf("change discovery failed: %w", err)
	}
	log.Info("change discovery complete",
		zap.Int64("since", since),
		zap.Int64("watermark", disc.Watermark),
		zap.Int("changed_dates", len(disc.Dates)))

	// The watermark is persisted before fetching: the server already told
	// us which dates changed, and those dates live on as durable tasks, so
	// skipping this window on the next discovery loses nothing.
	if err := s.store.SetWatermark(ctx, credentialID, disc.Watermark); err != nil {
		return nil, err
	}

	// Enqueue every changed date. CreateTasks clears the date's stale facts
	// and resets any finished task, so re-discovery of an old day works.
	if err := s.store.CreateTasks(ctx, credentialID, disc.Dates); err != nil {
		return nil, err
	}
	discovered := make(map[string]struct{}, len(disc.Dates))
	for _, d := range disc.Dates {
		if _, ok := pendingDates[d]; !ok {
			discovered[d] = struct{}{}
		}
	}

	// Recovered work drains completely before anything this run's
	// discovery queued; within each pass, never-stored days come first.
	ordered := append(orderDates(pendingDates, existing), orderDates(discovered, existing)...)
	result := &Result{CredentialID: credentialID, Watermark: disc.Watermark}

	for start := 0; start < len(ordered); start += batchSize {
		end := start + batchSize
		if end > len(ordered) {
			end = len(ordered)
		}
		s.runBatch(ctx, log, secret, credentialID, ordered[start:end], result)

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	log.Info("sync run finished",
		zap.Int("dates_processed", result.DatesProcessed),
		zap.Int("dates_failed", result.DatesFailed),
		zap.Int("records", result.Records))
	return result, nil
}

// runBatch drives one batch of dates. Each date commits in its own
// transaction and becomes durable the moment its task goes done; a date
// that fails is released back to the queue and counted, without sinking
// its batchmates.
func (s *Syncer) runBatch(ctx context.Context, log *zap.Logger, secret, credentialID string, batch []string, result *Result) {
	for _, date := range batch {
		taskID := store.TaskID(credentialID, date)
		if err := s.store.Claim(ctx, taskID); err != nil {
			// Another loop owns it, or it is already done. Skip, loudly.
			log.Warn("could not claim sync task", zap.String("date", date), zap.Error(err))
			result.DatesFailed++
			continue
		}

		var dayFacts []ledger.Fact
		err := retry.WithBackoff(ctx, s.retry, log, "fetch "+date, func() error {
			var fetchErr error
			dayFacts, fetchErr = s.client.FetchDate(ctx, secret, credentialID, date)
			return fetchErr
		})
		if err != nil {
			log.Error("failed to fetch date", zap.String("date", date), zap.Error(err))
			s.release(ctx, log, taskID)
			result.DatesFailed++
			continue
		}

		// The whole day lands atomically; readers never see half a date.
		if err := s.store.UpsertFacts(ctx, dayFacts); err != nil {
			log.Error("failed to commit facts", zap.String("date", date), zap.Error(err))
			s.release(ctx, log, taskID)
			result.DatesFailed++
			continue
		}
		if err := s.store.Complete(ctx, taskID); err != nil {
			log.Warn("could not complete sync task", zap.String("date", date), zap.Error(err))
		}

		result.DatesProcessed++
		result.Records += len(dayFacts)
	}
}

// release puts a claimed task back in the queue, best effort. If it fails
// the task stays in_progress and the next startup's ResetStuck recovers it.
func (s *Syncer) release(ctx context.Context, log *zap.Logger, taskID string) {
	if err := s.store.Release(ctx, taskID); err != nil {
		log.Warn("could not release sync task", zap.String("task_id", taskID), zap.Error(err))
	}
}

// RunAll syncs every registered credential sequentially. Credentials are
// independent; one failing does not stop the rest. The returned error
// aggregates per-credential failures.
func (s *Syncer) RunAll(ctx context.Context) ([]Result, error) {
	creds, err := s.store.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	var results []Result
	var errs []error
	for _, cred := range creds {
		res, err := s.Run(ctx, cred.ID)
		if err != nil {
			s.logger.Error("sync run failed",
				zap.String("credential_id", cred.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("credential %s: %w", cred.ID, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		results = append(results, *res)
	}
	return results, errors.Join(errs...)
}

// orderDates returns never-seen dates first, then already-stored ones, each
// group in ascending calendar order. New days are what the user is waiting
// on; revisions to old days can ride behind them.
func orderDates(dates map[string]struct{}, existing map[string]struct{}) []string {
	ordered := make([]string, 0, len(dates))
	for d := range dates {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool {
		_, iOld := existing[ordered[i]]
		_, jOld := existing[ordered[j]]
		if iOld != jOld {
			return !iOld
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}
