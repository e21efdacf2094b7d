// Package memory holds in-process implementations of the repository
// interfaces. They back local development without DATABASE_URL and the
// service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"contest-core/internal/domain"
	"contest-core/internal/repository"
)

// Store keeps all state in maps. Writes that touch a contest hold that
// contest's lock first, then the structural lock.
type Store struct {
	mu sync.RWMutex

	contestLocks     map[string]*sync.RWMutex
	contests         map[string]*domain.Contest
	entries          map[string]*domain.Entry
	records          map[string][]domain.LedgerRecord // by entry id
	contestHasLedger map[string]bool
	versions         map[string]int64 // by contest id
	paymentRefs      map[string]domain.LedgerRecord
	intents          map[string]*domain.PaymentIntent // by order ref
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		contestLocks:     make(map[string]*sync.RWMutex),
		contests:         make(map[string]*domain.Contest),
		entries:          make(map[string]*domain.Entry),
		records:          make(map[string][]domain.LedgerRecord),
		contestHasLedger: make(map[string]bool),
		versions:         make(map[string]int64),
		paymentRefs:      make(map[string]domain.LedgerRecord),
		intents:          make(map[string]*domain.PaymentIntent),
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Contest: &ContestRepository{s: s},
		Entry:   &EntryRepository{s: s},
		Ledger:  &LedgerRepository{s: s},
		Payment: &PaymentRepository{s: s},
	}
}

func (s *Store) contestLock(id string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.contestLocks[id]
	if !ok {
		l = &sync.RWMutex{}
		s.contestLocks[id] = l
	}
	return l
}

func copyContest(c *domain.Contest) *domain.Contest {
	cp := *c
	if c.MaxParticipants != nil {
		v := *c.MaxParticipants
		cp.MaxParticipants = &v
	}
	if c.FrozenAt != nil {
		v := *c.FrozenAt
		cp.FrozenAt = &v
	}
	if c.ArchivedAt != nil {
		v := *c.ArchivedAt
		cp.ArchivedAt = &v
	}
	return &cp
}

func copyEntry(e *domain.Entry) *domain.Entry {
	cp := *e
	if e.ModeratedAt != nil {
		v := *e.ModeratedAt
		cp.ModeratedAt = &v
	}
	return &cp
}

func copyIntent(p *domain.PaymentIntent) *domain.PaymentIntent {
	cp := *p
	if p.CaptureClaimedAt != nil {
		v := *p.CaptureClaimedAt
		cp.CaptureClaimedAt = &v
	}
	if p.LateCaptureAt != nil {
		v := *p.LateCaptureAt
		cp.LateCaptureAt = &v
	}
	return &cp
}

// ContestRepository is the in-memory repository.ContestRepository.
type ContestRepository struct {
	s *Store
}

func (r *ContestRepository) Create(_ context.Context, contest *domain.Contest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.contests[contest.ID]; exists {
		return domain.Invalid("contest already exists")
	}
	r.s.contests[contest.ID] = copyContest(contest)
	return nil
}

func (r *ContestRepository) GetByID(_ context.Context, id string) (*domain.Contest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.contests[id]
	if !ok {
		return nil, nil
	}
	return copyContest(c), nil
}

func (r *ContestRepository) List(_ context.Context, includeArchived bool) ([]domain.Contest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Contest, 0, len(r.s.contests))
	for _, c := range r.s.contests {
		if c.ArchivedAt != nil && !includeArchived {
			continue
		}
		out = append(out, *copyContest(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *ContestRepository) Transition(_ context.Context, id string, fn func(contest *domain.Contest, hasLedger bool) error) (*domain.Contest, error) {
	lock := r.s.contestLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.s.mu.RLock()
	current, ok := r.s.contests[id]
	var working *domain.Contest
	if ok {
		working = copyContest(current)
	}
	hasLedger := r.s.contestHasLedger[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrContestNotFound
	}

	if err := fn(working, hasLedger); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	r.s.contests[id] = copyContest(working)
	r.s.mu.Unlock()
	return working, nil
}

func (r *ContestRepository) Delete(_ context.Context, id string) error {
	lock := r.s.contestLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.contests[id]; !ok {
		return domain.ErrContestNotFound
	}
	if r.s.contestHasLedger[id] {
		return domain.Invalid("contest has ledger records and can only be archived")
	}
	for entryID, e := range r.s.entries {
		if e.ContestID == id {
			delete(r.s.entries, entryID)
		}
	}
	delete(r.s.contests, id)
	delete(r.s.versions, id)
	return nil
}

// EntryRepository is the in-memory repository.EntryRepository.
type EntryRepository struct {
	s *Store
}

func (r *EntryRepository) Submit(_ context.Context, entry *domain.Entry, check func(contest *domain.Contest, activeEntries int) error) error {
	lock := r.s.contestLock(entry.ContestID)
	lock.Lock()
	defer lock.Unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	contest, ok := r.s.contests[entry.ContestID]
	if !ok {
		return domain.ErrContestNotFound
	}
	active := 0
	duplicate := false
	for _, e := range r.s.entries {
		if e.ContestID != entry.ContestID || e.ModerationState == domain.ModerationRejected {
			continue
		}
		active++
		if e.ParticipantID == entry.ParticipantID {
			duplicate = true
		}
	}
	if err := check(copyContest(contest), active); err != nil {
		return err
	}
	if duplicate {
		return domain.ErrDuplicateEntry
	}
	r.s.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (r *EntryRepository) GetByID(_ context.Context, id string) (*domain.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.entries[id]
	if !ok {
		return nil, nil
	}
	return copyEntry(e), nil
}

func (r *EntryRepository) ListByContest(_ context.Context, contestID string, state *domain.ModerationState) ([]domain.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Entry, 0)
	for _, e := range r.s.entries {
		if e.ContestID != contestID {
			continue
		}
		if state != nil && e.ModerationState != *state {
			continue
		}
		out = append(out, *copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *EntryRepository) Moderate(_ context.Context, id string, state domain.ModerationState, moderator string, at time.Time, check func(contest *domain.Contest) error) (*domain.Entry, error) {
	r.s.mu.RLock()
	e, ok := r.s.entries[id]
	var contestID string
	if ok {
		contestID = e.ContestID
	}
	r.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrEntryNotFound
	}

	lock := r.s.contestLock(contestID)
	lock.Lock()
	defer lock.Unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok = r.s.entries[id]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	if e.ModerationState != domain.ModerationPending {
		return nil, domain.ErrAlreadyModerated
	}
	contest, ok := r.s.contests[contestID]
	if !ok {
		return nil, domain.ErrContestNotFound
	}
	if err := check(copyContest(contest)); err != nil {
		return nil, err
	}
	if state == domain.ModerationApproved {
		r.s.versions[contestID]++
	}
	e.ModerationState = state
	e.ModeratedBy = moderator
	moderatedAt := at
	e.ModeratedAt = &moderatedAt
	return copyEntry(e), nil
}

// LedgerRepository is the in-memory repository.LedgerRepository.
type LedgerRepository struct {
	s *Store
}

func (r *LedgerRepository) Append(_ context.Context, record *domain.LedgerRecord, guard domain.CreditGuard) (*domain.LedgerRecord, bool, error) {
	lock := r.s.contestLock(record.ContestID)
	lock.Lock()
	defer lock.Unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if record.Source == domain.SourcePaid {
		if existing, ok := r.s.paymentRefs[record.PaymentRef]; ok {
			cp := existing
			return &cp, false, nil
		}
	}

	contest, ok := r.s.contests[record.ContestID]
	if !ok {
		return nil, false, domain.ErrContestNotFound
	}
	entry, ok := r.s.entries[record.EntryID]
	if !ok || entry.ContestID != record.ContestID {
		return nil, false, domain.ErrEntryNotFound
	}

	state := domain.CreditState{Contest: copyContest(contest), Entry: copyEntry(entry)}
	if record.Source == domain.SourceFree {
		for _, rec := range r.s.records[record.EntryID] {
			if rec.Source != domain.SourceFree || rec.Voter != record.Voter {
				continue
			}
			at := rec.CreatedAt
			if state.LastFreeCreditAt == nil || at.After(*state.LastFreeCreditAt) {
				state.LastFreeCreditAt = &at
			}
		}
	}
	if err := guard(state); err != nil {
		return nil, false, err
	}

	stored := *record
	r.s.records[record.EntryID] = append(r.s.records[record.EntryID], stored)
	r.s.contestHasLedger[record.ContestID] = true
	r.s.versions[record.ContestID]++
	if stored.Source == domain.SourcePaid {
		r.s.paymentRefs[stored.PaymentRef] = stored
	}
	return &stored, true, nil
}

func (r *LedgerRepository) GetByPaymentRef(_ context.Context, paymentRef string) (*domain.LedgerRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.paymentRefs[paymentRef]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *LedgerRepository) EntryTotal(_ context.Context, entryID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var total int64
	for _, rec := range r.s.records[entryID] {
		total += rec.Amount
	}
	return total, nil
}

func (r *LedgerRepository) Version(_ context.Context, contestID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.versions[contestID], nil
}

func (r *LedgerRepository) ContestTotals(_ context.Context, contestID string) ([]domain.EntryTotal, int64, error) {
	lock := r.s.contestLock(contestID)
	lock.RLock()
	defer lock.RUnlock()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]domain.EntryTotal, 0)
	for _, e := range r.s.entries {
		if e.ContestID != contestID || e.ModerationState != domain.ModerationApproved {
			continue
		}
		var total int64
		for _, rec := range r.s.records[e.ID] {
			total += rec.Amount
		}
		out = append(out, domain.EntryTotal{
			EntryID:       e.ID,
			ParticipantID: e.ParticipantID,
			Title:         e.Title,
			Total:         total,
			SubmittedAt:   e.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, r.s.versions[contestID], nil
}

func (r *LedgerRepository) ListByEntry(_ context.Context, entryID string) ([]domain.LedgerRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.LedgerRecord(nil), r.s.records[entryID]...), nil
}

// PaymentRepository is the in-memory repository.PaymentRepository.
type PaymentRepository struct {
	s *Store
}

func (r *PaymentRepository) Create(_ context.Context, intent *domain.PaymentIntent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.intents[intent.OrderRef]; exists {
		return domain.Invalid("order reference already registered")
	}
	r.s.intents[intent.OrderRef] = copyIntent(intent)
	return nil
}

func (r *PaymentRepository) GetByOrderRef(_ context.Context, orderRef string) (*domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.intents[orderRef]
	if !ok {
		return nil, nil
	}
	return copyIntent(p), nil
}

func (r *PaymentRepository) ClaimCapture(_ context.Context, orderRef string, now time.Time, staleAfter time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.intents[orderRef]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if p.Status != domain.PaymentCreated || p.Expired(now) {
		return false, nil
	}
	if p.CaptureClaimedAt != nil && now.Sub(*p.CaptureClaimedAt) < staleAfter {
		return false, nil
	}
	claimed := now
	p.CaptureClaimedAt = &claimed
	p.UpdatedAt = now
	return true, nil
}

func (r *PaymentRepository) ReleaseClaim(_ context.Context, orderRef string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.intents[orderRef]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if p.Status == domain.PaymentCreated {
		p.CaptureClaimedAt = nil
	}
	return nil
}

func (r *PaymentRepository) Complete(_ context.Context, orderRef string, status domain.PaymentStatus, captureID, reason string, now time.Time) (*domain.PaymentIntent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.intents[orderRef]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	if p.Status != domain.PaymentCreated {
		return copyIntent(p), nil
	}
	p.Status = status
	p.CaptureID = captureID
	p.FailureReason = reason
	p.CaptureClaimedAt = nil
	p.UpdatedAt = now
	return copyIntent(p), nil
}

func (r *PaymentRepository) MarkLateCapture(_ context.Context, orderRef string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.intents[orderRef]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	at := now
	p.LateCaptureAt = &at
	p.UpdatedAt = now
	return nil
}

func (r *PaymentRepository) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, p := range r.s.intents {
		if p.CaptureClaimedAt == nil && p.Expired(now) {
			p.Status = domain.PaymentExpired
			p.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *PaymentRepository) ListByStatus(_ context.Context, status domain.PaymentStatus) ([]domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.PaymentIntent, 0)
	for _, p := range r.s.intents {
		if p.Status == status {
			out = append(out, *copyIntent(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *PaymentRepository) ListClaimedBefore(_ context.Context, cutoff time.Time) ([]domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.PaymentIntent, 0)
	for _, p := range r.s.intents {
		if p.Status == domain.PaymentCreated && p.CaptureClaimedAt != nil && p.CaptureClaimedAt.Before(cutoff) {
			out = append(out, *copyIntent(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
