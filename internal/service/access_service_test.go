package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/bandscale/bandscale-backend/internal/model"
)

// fakeAttemptStore is an in-memory AttemptStore with the same compare-and-set
// semantics as the PostgreSQL repository. failNext injects transient errors to
// exercise the retry path.
type fakeAttemptStore struct {
	mu       sync.Mutex
	now      time.Time
	attempts map[uuid.UUID]*model.Attempt
	records  map[string]*model.ModuleRecord

	failNext      int
	startsApplied int
}

func newFakeStore() *fakeAttemptStore {
	return &fakeAttemptStore{
		now:      time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		attempts: make(map[uuid.UUID]*model.Attempt),
		records:  make(map[string]*model.ModuleRecord),
	}
}

func (f *fakeAttemptStore) addAttempt(studentID int, sequential bool) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.attempts[id] = &model.Attempt{
		ID:            id,
		TestID:        uuid.New(),
		StudentID:     studentID,
		OverallStatus: model.AttemptStatusNotStarted,
		Sequential:    sequential,
	}
	return id
}

func (f *fakeAttemptStore) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeAttemptStore) recordStatus(attemptID uuid.UUID, moduleType model.ModuleType) model.ModuleStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordKey(attemptID, moduleType)]
	if !ok {
		return ""
	}
	return rec.Status
}

func recordKey(attemptID uuid.UUID, moduleType model.ModuleType) string {
	return fmt.Sprintf("%s|%s", attemptID, moduleType)
}

// checkFail consumes one injected failure. Callers hold the lock.
func (f *fakeAttemptStore) checkFail() error {
	if f.failNext > 0 {
		f.failNext--
		return errors.New("connection reset by peer")
	}
	return nil
}

func (f *fakeAttemptStore) Now(_ context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return time.Time{}, err
	}
	return f.now, nil
}

func (f *fakeAttemptStore) GetAttempt(_ context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}
	attempt, ok := f.attempts[attemptID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *attempt
	return &cp, nil
}

func (f *fakeAttemptStore) GetOrCreateModuleRecord(_ context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}
	key := recordKey(attemptID, moduleType)
	if rec, ok := f.records[key]; ok {
		cp := *rec
		return &cp, nil
	}
	rec := &model.ModuleRecord{
		AttemptID:  attemptID,
		ModuleType: moduleType,
		Status:     model.ModuleStatusNotStarted,
	}
	f.records[key] = rec
	cp := *rec
	return &cp, nil
}

func (f *fakeAttemptStore) GetModuleRecord(_ context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}
	rec, ok := f.records[recordKey(attemptID, moduleType)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeAttemptStore) ListModuleRecords(_ context.Context, attemptID uuid.UUID) ([]model.ModuleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}
	var out []model.ModuleRecord
	for _, moduleType := range model.ModuleOrder {
		if rec, ok := f.records[recordKey(attemptID, moduleType)]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeAttemptStore) StartModule(_ context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, false, err
	}
	rec, ok := f.records[recordKey(attemptID, moduleType)]
	if !ok || rec.Status != model.ModuleStatusNotStarted {
		return nil, false, nil
	}
	startedAt := f.now
	rec.Status = model.ModuleStatusInProgress
	rec.StartedAt = &startedAt
	f.startsApplied++
	cp := *rec
	return &cp, true, nil
}

func (f *fakeAttemptStore) CompleteModule(_ context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, false, err
	}
	rec, ok := f.records[recordKey(attemptID, moduleType)]
	if !ok || rec.Status != model.ModuleStatusInProgress {
		return nil, false, nil
	}
	completedAt := f.now
	rec.Status = model.ModuleStatusCompleted
	rec.CompletedAt = &completedAt
	cp := *rec
	return &cp, true, nil
}

func (f *fakeAttemptStore) ExpireModule(_ context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return false, err
	}
	rec, ok := f.records[recordKey(attemptID, moduleType)]
	if !ok || rec.Status != model.ModuleStatusInProgress {
		return false, nil
	}
	rec.Status = model.ModuleStatusExpired
	return true, nil
}

func (f *fakeAttemptStore) ExpireAttempt(_ context.Context, attemptID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return false, err
	}
	attempt, ok := f.attempts[attemptID]
	if !ok || attempt.OverallStatus == model.AttemptStatusCompleted || attempt.OverallStatus == model.AttemptStatusExpired {
		return false, nil
	}
	attempt.OverallStatus = model.AttemptStatusExpired
	return true, nil
}

func (f *fakeAttemptStore) MarkAttemptInProgress(_ context.Context, attemptID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return err
	}
	attempt, ok := f.attempts[attemptID]
	if ok && attempt.OverallStatus == model.AttemptStatusNotStarted {
		attempt.OverallStatus = model.AttemptStatusInProgress
	}
	return nil
}

func (f *fakeAttemptStore) CompleteAttemptIfFinished(_ context.Context, attemptID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return false, err
	}
	for _, moduleType := range model.ModuleOrder {
		rec, ok := f.records[recordKey(attemptID, moduleType)]
		if !ok || rec.Status != model.ModuleStatusCompleted {
			return false, nil
		}
	}
	attempt, ok := f.attempts[attemptID]
	if !ok || attempt.OverallStatus != model.AttemptStatusInProgress {
		return false, nil
	}
	attempt.OverallStatus = model.AttemptStatusCompleted
	return true, nil
}

func newTestAccessService(store *fakeAttemptStore) *AccessService {
	return NewAccessService(store, nil, zerolog.Nop(), time.Second)
}

func TestValidateAccessFirstEntryStampsOnce(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)
	ctx := context.Background()

	first, err := svc.ValidateAccess(ctx, attemptID, model.ModuleListening, 7)
	if err != nil {
		t.Fatalf("first ValidateAccess: %v", err)
	}
	if !first.Allowed {
		t.Fatalf("first result = %+v, want allowed", first)
	}
	wantRemaining := int64(model.ModuleDurations[model.ModuleListening] / time.Second)
	if first.RemainingSeconds != wantRemaining {
		t.Fatalf("remaining = %d, want %d", first.RemainingSeconds, wantRemaining)
	}
	if first.StartedAt == nil {
		t.Fatal("first result has no started_at")
	}

	// A page reload re-validates without restarting the window.
	second, err := svc.ValidateAccess(ctx, attemptID, model.ModuleListening, 7)
	if err != nil {
		t.Fatalf("second ValidateAccess: %v", err)
	}
	if !second.Allowed {
		t.Fatalf("second result = %+v, want allowed", second)
	}
	if !second.StartedAt.Equal(*first.StartedAt) {
		t.Fatalf("started_at moved from %v to %v on re-entry", first.StartedAt, second.StartedAt)
	}
	if store.startsApplied != 1 {
		t.Fatalf("start transitions applied = %d, want 1", store.startsApplied)
	}
}

func TestValidateAccessConcurrentFirstEntry(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)

	const callers = 16
	results := make([]*ValidationResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ValidateAccess(context.Background(), attemptID, model.ModuleReading, 7)
		}(i)
	}
	wg.Wait()

	wantRemaining := int64(model.ModuleDurations[model.ModuleReading] / time.Second)
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !results[i].Allowed {
			t.Fatalf("caller %d result = %+v, want allowed", i, results[i])
		}
		if results[i].RemainingSeconds != wantRemaining {
			t.Fatalf("caller %d remaining = %d, want %d", i, results[i].RemainingSeconds, wantRemaining)
		}
		if !results[i].StartedAt.Equal(*results[0].StartedAt) {
			t.Fatalf("caller %d observed started_at %v, caller 0 observed %v",
				i, results[i].StartedAt, results[0].StartedAt)
		}
	}
	if store.startsApplied != 1 {
		t.Fatalf("start transitions applied = %d, want exactly 1", store.startsApplied)
	}
}

func TestValidateAccessAntiReplay(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)
	ctx := context.Background()

	if _, err := svc.ValidateAccess(ctx, attemptID, model.ModuleWriting, 7); err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	store.advance(10 * time.Minute)
	res, err := svc.CompleteModule(ctx, attemptID, model.ModuleWriting, 7)
	if err != nil || !res.Completed {
		t.Fatalf("CompleteModule = %+v, %v", res, err)
	}

	// Re-entry after completion is denied even though plenty of window time
	// remained at submission.
	v, err := svc.ValidateAccess(ctx, attemptID, model.ModuleWriting, 7)
	if err != nil {
		t.Fatalf("re-entry ValidateAccess: %v", err)
	}
	if v.Allowed || v.Reason != DenyAlreadyCompleted {
		t.Fatalf("re-entry result = %+v, want ALREADY_COMPLETED denial", v)
	}
	if v.RedirectHint != "/summary" {
		t.Fatalf("redirect = %s, want /summary", v.RedirectHint)
	}
}

func TestValidateAccessExpiresOverrunModule(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)
	ctx := context.Background()

	if _, err := svc.ValidateAccess(ctx, attemptID, model.ModuleSpeaking, 7); err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}

	duration := model.ModuleDurations[model.ModuleSpeaking]
	store.advance(duration - time.Second)
	v, err := svc.ValidateAccess(ctx, attemptID, model.ModuleSpeaking, 7)
	if err != nil {
		t.Fatalf("in-window ValidateAccess: %v", err)
	}
	if !v.Allowed || v.RemainingSeconds != 1 {
		t.Fatalf("in-window result = %+v, want allowed with 1s left", v)
	}

	store.advance(time.Second)
	v, err = svc.ValidateAccess(ctx, attemptID, model.ModuleSpeaking, 7)
	if err != nil {
		t.Fatalf("boundary ValidateAccess: %v", err)
	}
	if v.Allowed || v.Reason != DenyExpired {
		t.Fatalf("boundary result = %+v, want EXPIRED denial", v)
	}
	if got := store.recordStatus(attemptID, model.ModuleSpeaking); got != model.ModuleStatusExpired {
		t.Fatalf("persisted status = %s, want EXPIRED", got)
	}
}

func TestValidateAccessSequencing(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, true)
	ctx := context.Background()

	v, err := svc.ValidateAccess(ctx, attemptID, model.ModuleReading, 7)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if v.Allowed || v.Reason != DenyNotYetEligible {
		t.Fatalf("result = %+v, want NOT_YET_ELIGIBLE", v)
	}
	if v.RedirectHint != "/lobby" {
		t.Fatalf("redirect = %s, want /lobby", v.RedirectHint)
	}

	if _, err := svc.ValidateAccess(ctx, attemptID, model.ModuleListening, 7); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	store.advance(5 * time.Minute)
	if _, err := svc.CompleteModule(ctx, attemptID, model.ModuleListening, 7); err != nil {
		t.Fatalf("complete listening: %v", err)
	}

	v, err = svc.ValidateAccess(ctx, attemptID, model.ModuleReading, 7)
	if err != nil {
		t.Fatalf("re-check reading: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("reading after listening = %+v, want allowed", v)
	}
}

func TestValidateAccessIdentityErrors(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)
	ctx := context.Background()

	if _, err := svc.ValidateAccess(ctx, attemptID, model.ModuleListening, 99); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner err = %v, want ErrForbidden", err)
	}
	if _, err := svc.ValidateAccess(ctx, uuid.New(), model.ModuleListening, 7); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("unknown attempt err = %v, want ErrAttemptNotFound", err)
	}
}

func TestValidateAccessRetriesTransientFailures(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)
	ctx := context.Background()

	// One flaky call: the retry loop absorbs it.
	store.failNext = 1
	v, err := svc.ValidateAccess(ctx, attemptID, model.ModuleListening, 7)
	if err != nil {
		t.Fatalf("ValidateAccess with one failure: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("result = %+v, want allowed", v)
	}

	// A hard outage surfaces as ErrStoreUnavailable, never as a denial.
	store.failNext = 100
	v, err = svc.ValidateAccess(ctx, attemptID, model.ModuleListening, 7)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("outage err = %v, want ErrStoreUnavailable", err)
	}
	if v != nil {
		t.Fatalf("outage returned a result: %+v", v)
	}
}

func TestCompleteModuleIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)
	ctx := context.Background()

	if _, err := svc.ValidateAccess(ctx, attemptID, model.ModuleListening, 7); err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	store.advance(time.Minute)

	first, err := svc.CompleteModule(ctx, attemptID, model.ModuleListening, 7)
	if err != nil || !first.Completed {
		t.Fatalf("first CompleteModule = %+v, %v", first, err)
	}

	store.advance(time.Minute)
	second, err := svc.CompleteModule(ctx, attemptID, model.ModuleListening, 7)
	if err != nil || !second.Completed {
		t.Fatalf("second CompleteModule = %+v, %v", second, err)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("completed_at moved from %v to %v", first.CompletedAt, second.CompletedAt)
	}
}

func TestCompleteModuleRequiresStart(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)

	_, err := svc.CompleteModule(context.Background(), attemptID, model.ModuleListening, 7)
	if !errors.Is(err, ErrModuleNotStarted) {
		t.Fatalf("err = %v, want ErrModuleNotStarted", err)
	}
}

func TestCompleteModuleAfterWindowExpires(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)
	ctx := context.Background()

	if _, err := svc.ValidateAccess(ctx, attemptID, model.ModuleReading, 7); err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	store.advance(model.ModuleDurations[model.ModuleReading] + time.Second)

	res, err := svc.CompleteModule(ctx, attemptID, model.ModuleReading, 7)
	if err != nil {
		t.Fatalf("CompleteModule: %v", err)
	}
	if res.Completed || res.Reason != DenyExpired {
		t.Fatalf("result = %+v, want EXPIRED rejection", res)
	}
	if got := store.recordStatus(attemptID, model.ModuleReading); got != model.ModuleStatusExpired {
		t.Fatalf("persisted status = %s, want EXPIRED", got)
	}
}

func TestCompleteModuleRollsUpAttempt(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)
	ctx := context.Background()

	for _, moduleType := range model.ModuleOrder {
		if _, err := svc.ValidateAccess(ctx, attemptID, moduleType, 7); err != nil {
			t.Fatalf("start %s: %v", moduleType, err)
		}
		store.advance(time.Minute)
		res, err := svc.CompleteModule(ctx, attemptID, moduleType, 7)
		if err != nil || !res.Completed {
			t.Fatalf("complete %s = %+v, %v", moduleType, res, err)
		}
	}

	store.mu.Lock()
	status := store.attempts[attemptID].OverallStatus
	store.mu.Unlock()
	if status != model.AttemptStatusCompleted {
		t.Fatalf("attempt status = %s, want COMPLETED", status)
	}
}

func TestGetModuleState(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccessService(store)
	attemptID := store.addAttempt(7, false)
	ctx := context.Background()

	// No record yet: reported as NOT_STARTED with the full window.
	state, err := svc.GetModuleState(ctx, attemptID, model.ModuleWriting, 7)
	if err != nil {
		t.Fatalf("GetModuleState: %v", err)
	}
	if state.Status != model.ModuleStatusNotStarted {
		t.Fatalf("status = %s, want NOT_STARTED", state.Status)
	}
	if want := int64(model.ModuleDurations[model.ModuleWriting] / time.Second); state.RemainingSeconds != want {
		t.Fatalf("remaining = %d, want %d", state.RemainingSeconds, want)
	}

	if _, err := svc.ValidateAccess(ctx, attemptID, model.ModuleWriting, 7); err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	store.advance(10 * time.Minute)

	state, err = svc.GetModuleState(ctx, attemptID, model.ModuleWriting, 7)
	if err != nil {
		t.Fatalf("GetModuleState after start: %v", err)
	}
	if state.Status != model.ModuleStatusInProgress || state.StartedAt == nil {
		t.Fatalf("state = %+v, want IN_PROGRESS with started_at", state)
	}
	if want := int64((model.ModuleDurations[model.ModuleWriting] - 10*time.Minute) / time.Second); state.RemainingSeconds != want {
		t.Fatalf("remaining = %d, want %d", state.RemainingSeconds, want)
	}

	// The projection is advisory: it never flips the record to EXPIRED.
	store.advance(model.ModuleDurations[model.ModuleWriting])
	state, err = svc.GetModuleState(ctx, attemptID, model.ModuleWriting, 7)
	if err != nil {
		t.Fatalf("GetModuleState past window: %v", err)
	}
	if state.RemainingSeconds != 0 {
		t.Fatalf("remaining = %d, want 0", state.RemainingSeconds)
	}
	if got := store.recordStatus(attemptID, model.ModuleWriting); got != model.ModuleStatusInProgress {
		t.Fatalf("persisted status = %s, want IN_PROGRESS untouched", got)
	}
}
