package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/config"
	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/mapping"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/metrics"
	"github.com/pratik-mahalle/vitalsync/internal/providers"
	"github.com/pratik-mahalle/vitalsync/internal/synclock"
)

// SyncService runs sync passes: fetch every capability of a vendor, map,
// dedup, submit to the clinical store and advance the checkpoint. Failures
// local to one kind or one observation are reported in the result and never
// abort the run.
type SyncService struct {
	integrations integration.Service
	repo         integration.Repository
	tokens       *TokenService
	registry     *providers.Registry
	store        observation.Store
	ledger       observation.LedgerRepository
	locker       synclock.Locker
	cfg          config.SyncConfig
	logger       *logger.Logger
	now          func() time.Time
}

// NewSyncService creates the sync orchestrator
func NewSyncService(
	integrations integration.Service,
	repo integration.Repository,
	tokens *TokenService,
	registry *providers.Registry,
	store observation.Store,
	ledger observation.LedgerRepository,
	locker synclock.Locker,
	cfg config.SyncConfig,
	log *logger.Logger,
) *SyncService {
	return &SyncService{
		integrations: integrations,
		repo:         repo,
		tokens:       tokens,
		registry:     registry,
		store:        store,
		ledger:       ledger,
		locker:       locker,
		cfg:          cfg,
		logger:       log,
		now:          time.Now,
	}
}

var _ syncjob.Runner = (*SyncService)(nil)

// Sync runs one pass for a user's vendor. Precondition failures
// (NOT_CONNECTED, ALREADY_SYNCING, BAD_REQUEST) are returned as errors;
// everything else is reported per unit in the result.
func (s *SyncService) Sync(ctx context.Context, userID int64, vendor string, r *observation.DateRange) (*syncjob.Result, error) {
	client, err := s.registry.Client(vendor)
	if err != nil {
		return nil, err
	}

	in, err := s.integrations.Get(ctx, userID, vendor)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, errors.NotConnected(vendor)
	}
	if err != nil {
		return nil, err
	}
	if !in.CanSync() {
		return nil, errors.NotConnected(vendor)
	}

	rng, err := s.resolveRange(in, r)
	if err != nil {
		return nil, err
	}

	lease, err := s.locker.Acquire(ctx, lockKey(userID, vendor), s.cfg.LockTTL)
	if stderrors.Is(err, synclock.ErrLocked) {
		return nil, errors.AlreadySyncing(vendor)
	}
	if err != nil {
		return nil, errors.Internal("Failed to acquire sync lock", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log(in).WarnWithErr(err, "Failed to release sync lock")
		}
	}()

	started := s.now()
	result := &syncjob.Result{UserID: userID, Vendor: vendor, Range: rng, Errors: []syncjob.UnitError{}}
	defer s.finish(ctx, in, result, started)

	s.log(in).WithFields(map[string]interface{}{"range": rng.String()}).Info("Sync started")

	cred, err := s.tokens.Token(ctx, in)
	if err != nil {
		s.vendorFailure(ctx, in, result, err)
		return result, nil
	}

	sess := providers.Session{
		AccessToken:  cred.AccessToken,
		VendorUserID: cred.VendorUserID,
		Location:     in.Location(),
	}
	if sess.VendorUserID == "" {
		sess.VendorUserID = in.VendorUserID
	}

	samples, failedKinds, revoked := s.fetchAll(ctx, client, in, sess, rng, result)
	if revoked != nil {
		// A revoked grant voids the whole run, including kinds already fetched.
		s.vendorFailure(ctx, in, result, revoked)
		result.Errors = onlyVendorErrors(result.Errors)
		return result, nil
	}

	observations := s.mapSamples(samples, in.SubjectRef, result)
	pending := s.dedup(ctx, in, observations, result)
	failedDays := s.submitAll(ctx, in, pending, result)

	if failedKinds == 0 {
		s.advanceCheckpoint(ctx, in, rng, failedDays)
	}
	if in.Checkpoint != nil {
		result.Checkpoint = in.Checkpoint.Format(observation.DateLayout)
	}
	return result, nil
}

// resolveRange validates an explicit range or derives the default one:
// from the checkpoint (re-fetched, dedup keeps it idempotent) or today, to
// today in the integration's timezone. A default range longer than the limit
// is cut short and catches up over later runs.
func (s *SyncService) resolveRange(in *integration.Integration, r *observation.DateRange) (observation.DateRange, error) {
	maxDays := s.cfg.MaxRangeDays
	if r != nil {
		if maxDays > 0 && r.Len() > maxDays {
			return observation.DateRange{}, errors.BadRequest(fmt.Sprintf("range covers %d days, at most %d allowed", r.Len(), maxDays))
		}
		return *r, nil
	}

	today := observation.SingleDay(s.now().In(in.Location())).From
	from := today
	if in.Checkpoint != nil && in.Checkpoint.Before(today) {
		from = *in.Checkpoint
	}
	rng, err := observation.NewDateRange(from, today)
	if err != nil {
		return observation.DateRange{}, errors.Internal("Failed to build default range", err)
	}
	if maxDays > 0 && rng.Len() > maxDays {
		rng.To = rng.From.AddDate(0, 0, maxDays-1)
	}
	return rng, nil
}

// fetchAll fetches every capability concurrently. It returns the samples of
// the kinds that succeeded, the number of failed kinds, and a non-nil error
// when the vendor revoked the grant mid-run.
func (s *SyncService) fetchAll(ctx context.Context, client providers.Client, in *integration.Integration, sess providers.Session, rng observation.DateRange, result *syncjob.Result) ([]observation.RawSample, int, error) {
	kinds := client.Capabilities()

	type outcome struct {
		kind    observation.Kind
		samples []observation.RawSample
		err     error
	}
	outcomes := make([]outcome, len(kinds))

	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind observation.Kind) {
			defer wg.Done()
			samples, err := s.fetchKind(ctx, client, in, sess, kind, rng)
			outcomes[i] = outcome{kind: kind, samples: samples, err: err}
		}(i, kind)
	}
	wg.Wait()

	var samples []observation.RawSample
	failed := 0
	for _, o := range outcomes {
		if o.err == nil {
			samples = append(samples, o.samples...)
			continue
		}
		if errors.IsCode(o.err, errors.ErrCodeTokenRevoked) {
			return nil, failed + 1, o.err
		}
		failed++
		code := errors.CodeOf(o.err)
		metrics.RecordFetchError(in.Vendor, string(o.kind), code)
		result.AddError(string(o.kind), code, o.err.Error())
		s.log(in).WithFields(map[string]interface{}{"kind": o.kind, "code": code}).WarnWithErr(o.err, "Metric fetch failed")
	}
	return samples, failed, nil
}

// fetchKind fetches one kind with retries. Transient failures back off
// exponentially, rate limits wait the hinted delay up to a cap, and an
// unauthorized response triggers one forced refresh before retrying.
func (s *SyncService) fetchKind(ctx context.Context, client providers.Client, in *integration.Integration, sess providers.Session, kind observation.Kind, rng observation.DateRange) ([]observation.RawSample, error) {
	delays := backoff{base: s.cfg.BackoffBase, max: s.cfg.BackoffMax}
	attempts := s.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	refreshed := false

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		samples, err := client.FetchMetric(ctx, kind, sess, rng)
		if err == nil {
			return samples, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, errors.VendorTransient(in.Vendor, ctx.Err())
		}

		var wait time.Duration
		switch errors.CodeOf(err) {
		case errors.ErrCodeVendorUnauthorized:
			if refreshed {
				return nil, err
			}
			refreshed = true
			c, rerr := s.tokens.ForceRefresh(ctx, in, sess.AccessToken)
			if rerr != nil {
				return nil, rerr
			}
			sess.AccessToken = c.AccessToken
			// The retry after a refresh does not use up an attempt.
			attempt--
			continue
		case errors.ErrCodeVendorRateLimited:
			wait = errors.RetryAfterOf(err)
			if wait <= 0 {
				wait = delays.delay(attempt)
			}
			if s.cfg.RateLimitWaitMax > 0 && wait > s.cfg.RateLimitWaitMax {
				return nil, err
			}
		case errors.ErrCodeVendorTransient:
			wait = delays.delay(attempt)
		default:
			return nil, err
		}

		if attempt == attempts {
			break
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, errors.VendorTransient(in.Vendor, err)
		}
	}
	return nil, lastErr
}

func (s *SyncService) mapSamples(samples []observation.RawSample, subjectRef string, result *syncjob.Result) []*observation.Observation {
	out, failures := mapping.MapAll(samples, subjectRef)
	for _, f := range failures {
		result.AddError(string(f.Sample.Type), errors.CodeOf(f.Err), f.Err.Error())
	}
	return out
}

// dedup drops repeats within the batch and identifiers the ledger already
// holds. If the ledger cannot be read the store is asked directly.
func (s *SyncService) dedup(ctx context.Context, in *integration.Integration, obs []*observation.Observation, result *syncjob.Result) []*observation.Observation {
	seen := make(map[string]bool, len(obs))
	unique := make([]*observation.Observation, 0, len(obs))
	ids := make([]string, 0, len(obs))
	for _, o := range obs {
		if seen[o.DedupID] {
			continue
		}
		seen[o.DedupID] = true
		unique = append(unique, o)
		ids = append(ids, o.DedupID)
	}

	known, err := s.ledger.Existing(ctx, in.SubjectRef, ids)
	if err != nil {
		s.log(in).WarnWithErr(err, "Submission ledger unavailable, checking the store")
		known = s.existingInStore(ctx, in, unique)
	}

	pending := unique[:0]
	for _, o := range unique {
		if known[o.DedupID] {
			result.ObservationsSkipped++
			continue
		}
		pending = append(pending, o)
	}
	return pending
}

func (s *SyncService) existingInStore(ctx context.Context, in *integration.Integration, obs []*observation.Observation) map[string]bool {
	known := make(map[string]bool)
	for _, o := range obs {
		ok, err := s.store.Exists(ctx, in.SubjectRef, o.DedupID)
		if err != nil {
			// Conditional create still prevents a duplicate.
			continue
		}
		if ok {
			known[o.DedupID] = true
			s.record(ctx, in, o, "")
		}
	}
	return known
}

// submitAll submits observations with bounded retries and returns the days
// (in the integration's timezone) that had a failed submission.
func (s *SyncService) submitAll(ctx context.Context, in *integration.Integration, obs []*observation.Observation, result *syncjob.Result) map[time.Time]bool {
	failedDays := make(map[time.Time]bool)
	loc := in.Location()
	for _, o := range obs {
		id, created, err := s.submit(ctx, o)
		if err != nil {
			failedDays[observation.SingleDay(o.Effective.In(loc)).From] = true
			result.AddError(o.DedupID, errors.ErrCodeStoreSubmissionFailed, err.Error())
			continue
		}
		if created {
			result.ObservationsCreated++
		} else {
			result.ObservationsSkipped++
		}
		s.record(ctx, in, o, id)
	}
	return failedDays
}

func (s *SyncService) submit(ctx context.Context, o *observation.Observation) (string, bool, error) {
	delays := backoff{base: s.cfg.BackoffBase, max: s.cfg.BackoffMax}
	attempts := s.cfg.SubmitAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		id, created, err := s.store.Submit(ctx, o)
		if err == nil {
			return id, created, nil
		}
		lastErr = err
		if !errors.IsCode(err, errors.ErrCodeStoreUnavailable) || attempt == attempts {
			break
		}
		if err := sleepCtx(ctx, delays.delay(attempt)); err != nil {
			return "", false, err
		}
	}
	return "", false, lastErr
}

func (s *SyncService) record(ctx context.Context, in *integration.Integration, o *observation.Observation, storeID string) {
	entry := &observation.LedgerEntry{SubjectRef: o.SubjectRef, DedupID: o.DedupID, StoreID: storeID}
	if err := s.ledger.Record(ctx, entry); err != nil {
		s.log(in).WarnWithErr(err, "Failed to record submission")
	}
}

// advanceCheckpoint moves the checkpoint to the last day D of rng such that
// no day from the range start through D had a failed submission.
func (s *SyncService) advanceCheckpoint(ctx context.Context, in *integration.Integration, rng observation.DateRange, failedDays map[time.Time]bool) {
	var last *time.Time
	for _, day := range rng.Days() {
		if failedDays[day] {
			break
		}
		d := day
		last = &d
	}
	if last == nil {
		return
	}
	if in.Checkpoint != nil && !last.After(*in.Checkpoint) {
		return
	}

	ok, err := s.repo.AdvanceCheckpoint(ctx, in.ID, *last)
	if err != nil {
		s.log(in).WarnWithErr(err, "Failed to advance checkpoint")
		return
	}
	if ok {
		in.Checkpoint = last
	}
}

// vendorFailure records a run-wide failure. A revoked grant disconnects the
// integration.
func (s *SyncService) vendorFailure(ctx context.Context, in *integration.Integration, result *syncjob.Result, err error) {
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	result.AddError(syncjob.UnitVendor, code, err.Error())

	if code == errors.ErrCodeTokenRevoked {
		if rerr := s.integrations.Revoke(ctx, in); rerr != nil {
			s.log(in).ErrorWithErr(rerr, "Failed to disconnect revoked integration")
		}
		return
	}
	s.log(in).WithFields(map[string]interface{}{"code": code}).WarnWithErr(err, "Sync aborted")
}

func (s *SyncService) finish(ctx context.Context, in *integration.Integration, result *syncjob.Result, started time.Time) {
	outcome := result.Outcome()
	at := s.now()
	if err := s.repo.RecordSync(context.WithoutCancel(ctx), in.ID, at, outcome); err != nil {
		s.log(in).WarnWithErr(err, "Failed to record sync outcome")
	}

	metrics.RecordSync(in.Vendor, outcome, at.Sub(started))
	metrics.RecordObservations(in.Vendor, "created", result.ObservationsCreated)
	metrics.RecordObservations(in.Vendor, "skipped", result.ObservationsSkipped)

	s.log(in).WithFields(map[string]interface{}{
		"outcome": outcome,
		"created": result.ObservationsCreated,
		"skipped": result.ObservationsSkipped,
		"errors":  len(result.Errors),
	}).Info("Sync finished")
}

func (s *SyncService) log(in *integration.Integration) *logger.Logger {
	return s.logger.WithFields(map[string]interface{}{
		"user_id":        in.UserID,
		"vendor":         in.Vendor,
		"integration_id": in.ID,
	})
}

func lockKey(userID int64, vendor string) string {
	return fmt.Sprintf("%d:%s", userID, vendor)
}

func onlyVendorErrors(errs []syncjob.UnitError) []syncjob.UnitError {
	out := errs[:0]
	for _, e := range errs {
		if e.Unit == syncjob.UnitVendor {
			out = append(out, e)
		}
	}
	return out
}
