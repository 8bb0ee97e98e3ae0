package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"taxledger/internal/audit"
	"taxledger/internal/clients"
	"taxledger/internal/domain"
	"taxledger/internal/fincalc"
	"taxledger/internal/hashchain"
	"taxledger/internal/statemachine"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerStore is the persistence contract the engine needs: append-only
// writes with optimistic concurrency and ordered reads. Implementations live
// in internal/repository.
type LedgerStore interface {
	Append(ctx context.Context, e domain.LedgerEntry) error
	ReadAll(ctx context.Context, assessmentID string) ([]domain.LedgerEntry, error)
	ReadLatest(ctx context.Context, assessmentID string) (*domain.LedgerEntry, error)
}

// Actor is the audited identity performing a command. Authentication is out
// of scope; the transport layer resolves it.
type Actor struct {
	ID   string
	Role string
}

// EngineConfig carries the financial parameters and the clock. The clock is
// injectable so interest tests do not depend on wall time.
type EngineConfig struct {
	InterestRate     decimal.Decimal
	InterestBasis    fincalc.Basis
	CompoundInterest bool
	PenaltyRate      decimal.Decimal
	Now              func() time.Time
}

// Engine is the reconciliation core: it folds an assessment's ledger into
// derived state, checks command admissibility against the state machine,
// computes the financial effect, and appends a hash-linked entry. State is
// never mutated in place; it is always reproducible from the ledger alone.
type Engine struct {
	store LedgerStore
	redis *clients.RedisClient     // optional snapshot cache and halt flags
	ws    *clients.WebSocketClient // optional event notifications
	cfg   EngineConfig
}

func NewEngine(store LedgerStore, redis *clients.RedisClient, ws *clients.WebSocketClient, cfg EngineConfig) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.InterestBasis == "" {
		cfg.InterestBasis = fincalc.BasisDaily
	}
	return &Engine{store: store, redis: redis, ws: ws, cfg: cfg}
}

const (
	snapshotKeyPrefix = "assessment_state:"
	haltKeyPrefix     = "ledger_halted:"
	snapshotTTL       = 24 * time.Hour
)

// snapshot is the cached fold result. HeadHash ties it to the exact chain it
// was computed from; any append changes the head and invalidates it.
type snapshot struct {
	Assessment       domain.Assessment `json:"assessment"`
	HeadSequence     int64             `json:"head_sequence"`
	HeadHash         string            `json:"head_hash"`
	LastInterestDate string            `json:"last_interest_date"`
}

// CreateCommand is the input for Create.
type CreateCommand struct {
	AssessmentID    string // generated when empty
	TaxpayerID      string
	TaxType         string
	Period          string
	Year            int
	Currency        string
	PrincipalAmount int64
	DueDate         time.Time
}

// PaymentCommand is the input for RecordPayment.
type PaymentCommand struct {
	Amount          int64
	Method          domain.PaymentMethod
	ReferenceNumber string
}

// Create validates the command, writes the genesis CREATE entry and returns
// the initial derived state.
func (e *Engine) Create(ctx context.Context, cmd CreateCommand, actor Actor) (*domain.Assessment, *domain.LedgerEntry, error) {
	if cmd.TaxpayerID == "" {
		return nil, nil, &domain.ValidationError{Field: "taxpayer_id", Message: "required"}
	}
	if cmd.TaxType == "" {
		return nil, nil, &domain.ValidationError{Field: "tax_type", Message: "required"}
	}
	if cmd.Year == 0 {
		return nil, nil, &domain.ValidationError{Field: "year", Message: "required"}
	}
	if cmd.PrincipalAmount <= 0 {
		return nil, nil, &domain.ValidationError{Field: "principal_amount", Message: "must be positive"}
	}
	if cmd.DueDate.IsZero() {
		return nil, nil, &domain.ValidationError{Field: "due_date", Message: "required"}
	}
	if cmd.Currency == "" {
		cmd.Currency = "UGX"
	}
	if cmd.AssessmentID == "" {
		cmd.AssessmentID = uuid.NewString()
	}

	latest, err := e.store.ReadLatest(ctx, cmd.AssessmentID)
	if err != nil {
		return nil, nil, err
	}
	if latest != nil {
		return nil, nil, domain.ErrAssessmentExists
	}

	payload, err := json.Marshal(domain.CreatePayload{
		TaxpayerID:      cmd.TaxpayerID,
		TaxType:         cmd.TaxType,
		Period:          cmd.Period,
		Year:            cmd.Year,
		Currency:        cmd.Currency,
		PrincipalAmount: cmd.PrincipalAmount,
		DueDate:         cmd.DueDate.UTC(),
	})
	if err != nil {
		return nil, nil, err
	}

	entry := e.buildEntry(cmd.AssessmentID, 1, domain.GenesisHash, domain.EventCreate, actor, payload, nil)
	if err := e.store.Append(ctx, entry); err != nil {
		return nil, nil, err
	}
	e.afterAppend(ctx, entry)

	state, _, err := e.fold([]domain.LedgerEntry{entry})
	if err != nil {
		return nil, nil, err
	}
	e.cacheSnapshot(ctx, state, &entry, "")
	out := *state
	e.applyOverdue(&out)
	return &out, &entry, nil
}

// Update applies a whitelisted set of field changes, recording the diff.
// Disallowed once the assessment is PAID or CANCELLED.
func (e *Engine) Update(ctx context.Context, assessmentID string, fields map[string]any, actor Actor) (*domain.Assessment, *domain.LedgerEntry, error) {
	if len(fields) == 0 {
		return nil, nil, &domain.ValidationError{Field: "fields", Message: "no fields to update"}
	}

	cur, err := e.loadForWrite(ctx, assessmentID)
	if err != nil {
		return nil, nil, err
	}

	next := cur.state
	if _, err := statemachine.Check(next.Status, domain.EventUpdate); err != nil {
		return nil, nil, err
	}

	updated := next
	for key, value := range fields {
		if err := applyUpdateField(&updated, key, value); err != nil {
			return nil, nil, err
		}
	}

	changes := audit.Diff(audit.AssessmentSnapshot(&next), audit.AssessmentSnapshot(&updated))
	if len(changes) == 0 {
		return nil, nil, &domain.ValidationError{Field: "fields", Message: "no effective changes"}
	}

	payload, err := json.Marshal(domain.UpdatePayload{Fields: fields})
	if err != nil {
		return nil, nil, err
	}

	return e.appendAndRefold(ctx, cur, domain.EventUpdate, actor, payload, changes)
}

// ApplyInterest accrues interest as of the given date. A zero asOf means
// "now" on the engine clock. Each accrual charges only the days since the
// previous INTEREST_CALCULATED entry, so a daily scheduler calling this never
// counts a day twice; the fold sums the increments. Reapplying for a date at
// or before the last accrual returns the current state and the earlier entry
// without appending anything.
func (e *Engine) ApplyInterest(ctx context.Context, assessmentID string, asOf time.Time, actor Actor) (*domain.Assessment, *domain.LedgerEntry, error) {
	if asOf.IsZero() {
		asOf = e.cfg.Now()
	}

	cur, err := e.loadForWrite(ctx, assessmentID)
	if err != nil {
		return nil, nil, err
	}

	asOfDate := asOf.UTC().Format("2006-01-02")
	if cur.lastInterestDate != "" && asOfDate <= cur.lastInterestDate {
		prior := cur.latestInterestEntry()
		state := cur.state
		return &state, prior, nil
	}

	if _, err := statemachine.Check(cur.state.Status, domain.EventInterestCalculated); err != nil {
		return nil, nil, err
	}

	daysOverdue := daysBetween(cur.state.DueDate, asOf)
	accruedDays := 0
	if cur.lastInterestDate != "" {
		last, err := time.Parse("2006-01-02", cur.lastInterestDate)
		if err != nil {
			return nil, nil, fmt.Errorf("bad as_of_date %q in ledger for %s: %w", cur.lastInterestDate, assessmentID, err)
		}
		accruedDays = daysBetween(cur.state.DueDate, last)
	}

	// Increment = total-to-date minus total already accrued, both computed
	// from the same rounded formula so rounding never drifts across accruals.
	calc := fincalc.Interest
	if e.cfg.CompoundInterest {
		calc = fincalc.CompoundInterest
	}
	amount := calc(cur.state.PrincipalAmount, e.cfg.InterestRate, daysOverdue, e.cfg.InterestBasis) -
		calc(cur.state.PrincipalAmount, e.cfg.InterestRate, accruedDays, e.cfg.InterestBasis)

	payload, err := json.Marshal(domain.InterestPayload{
		AsOfDate:    asOfDate,
		DaysOverdue: daysOverdue,
		Rate:        e.cfg.InterestRate.String(),
		Basis:       string(e.cfg.InterestBasis),
		Amount:      amount,
	})
	if err != nil {
		return nil, nil, err
	}

	return e.appendAndRefold(ctx, cur, domain.EventInterestCalculated, actor, payload, nil)
}

// ApplyPenalty assesses a penalty of the configured rate. The penalty type
// decides the base: principal only, or principal plus accrued interest.
func (e *Engine) ApplyPenalty(ctx context.Context, assessmentID string, penaltyType fincalc.PenaltyType, actor Actor) (*domain.Assessment, *domain.LedgerEntry, error) {
	if !fincalc.ValidPenaltyType(penaltyType) {
		return nil, nil, &domain.ValidationError{Field: "penalty_type", Message: "unknown penalty type"}
	}

	cur, err := e.loadForWrite(ctx, assessmentID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := statemachine.Check(cur.state.Status, domain.EventPenaltyApplied); err != nil {
		return nil, nil, err
	}

	base := cur.state.PrincipalAmount
	if penaltyType == fincalc.PenaltyFlatTotal {
		base = cur.state.PrincipalAmount + cur.state.Interest
	}
	amount := fincalc.Penalty(base, e.cfg.PenaltyRate, penaltyType)

	payload, err := json.Marshal(domain.PenaltyPayload{
		PenaltyType: string(penaltyType),
		Rate:        e.cfg.PenaltyRate.String(),
		BaseAmount:  base,
		Amount:      amount,
	})
	if err != nil {
		return nil, nil, err
	}

	return e.appendAndRefold(ctx, cur, domain.EventPenaltyApplied, actor, payload, nil)
}

// RecordPayment applies a payment against the remaining balance. Overpayment
// and non-positive amounts fail without touching the ledger.
func (e *Engine) RecordPayment(ctx context.Context, assessmentID string, cmd PaymentCommand, actor Actor) (*domain.Assessment, *domain.LedgerEntry, *domain.Payment, error) {
	if cmd.Amount <= 0 {
		return nil, nil, nil, &domain.InvalidAmountError{Amount: cmd.Amount}
	}
	if !domain.ValidPaymentMethod(cmd.Method) {
		return nil, nil, nil, &domain.ValidationError{Field: "method", Message: "unknown payment method"}
	}

	cur, err := e.loadForWrite(ctx, assessmentID)
	if err != nil {
		return nil, nil, nil, err
	}
	if _, err := statemachine.Check(cur.state.Status, domain.EventPayment); err != nil {
		return nil, nil, nil, err
	}

	remaining := cur.state.RemainingBalance()
	if cmd.Amount > remaining {
		return nil, nil, nil, &domain.PaymentExceedsBalanceError{Amount: cmd.Amount, Remaining: remaining}
	}

	now := e.cfg.Now().UTC()
	pp := domain.PaymentPayload{
		ReceiptID:       uuid.NewString(),
		Amount:          cmd.Amount,
		Method:          string(cmd.Method),
		ReceivedBy:      actor.ID,
		PaymentDate:     now,
		ReferenceNumber: cmd.ReferenceNumber,
	}
	payload, err := json.Marshal(pp)
	if err != nil {
		return nil, nil, nil, err
	}

	state, entry, err := e.appendAndRefold(ctx, cur, domain.EventPayment, actor, payload, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	payment := &domain.Payment{
		ReceiptID:       pp.ReceiptID,
		AssessmentID:    assessmentID,
		Sequence:        entry.Sequence,
		Amount:          pp.Amount,
		Method:          cmd.Method,
		ReceivedBy:      pp.ReceivedBy,
		PaymentDate:     pp.PaymentDate,
		ReferenceNumber: pp.ReferenceNumber,
	}
	return state, entry, payment, nil
}

// Approve moves PENDING to OPEN, or resolves a dispute back to OPEN.
func (e *Engine) Approve(ctx context.Context, assessmentID string, actor Actor) (*domain.Assessment, *domain.LedgerEntry, error) {
	return e.simpleTransition(ctx, assessmentID, domain.EventApprove, actor, nil)
}

// Reject cancels a PENDING or DISPUTED assessment.
func (e *Engine) Reject(ctx context.Context, assessmentID string, actor Actor) (*domain.Assessment, *domain.LedgerEntry, error) {
	return e.simpleTransition(ctx, assessmentID, domain.EventReject, actor, nil)
}

// Cancel terminates the assessment with a CANCEL entry. The history is
// retained forever; nothing is deleted.
func (e *Engine) Cancel(ctx context.Context, assessmentID, reason string, actor Actor) (*domain.Assessment, *domain.LedgerEntry, error) {
	payload, err := json.Marshal(domain.CancelPayload{Reason: reason})
	if err != nil {
		return nil, nil, err
	}
	return e.simpleTransition(ctx, assessmentID, domain.EventCancel, actor, payload)
}

func (e *Engine) simpleTransition(ctx context.Context, assessmentID string, event domain.EventType, actor Actor, payload json.RawMessage) (*domain.Assessment, *domain.LedgerEntry, error) {
	cur, err := e.loadForWrite(ctx, assessmentID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := statemachine.Check(cur.state.Status, event); err != nil {
		return nil, nil, err
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return e.appendAndRefold(ctx, cur, event, actor, payload, nil)
}

// GetState returns the current derived state, from the snapshot cache when it
// still matches the chain head, otherwise by folding the full history.
func (e *Engine) GetState(ctx context.Context, assessmentID string) (*domain.Assessment, error) {
	latest, err := e.store.ReadLatest(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, domain.ErrAssessmentNotFound
	}

	if snap := e.loadSnapshot(ctx, assessmentID); snap != nil &&
		snap.HeadSequence == latest.Sequence && snap.HeadHash == latest.CurrentHash {
		state := snap.Assessment
		e.applyOverdue(&state)
		return &state, nil
	}

	entries, err := e.store.ReadAll(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	state, lastInterest, err := e.fold(entries)
	if err != nil {
		return nil, err
	}
	e.cacheSnapshot(ctx, state, &entries[len(entries)-1], lastInterest)
	out := *state
	e.applyOverdue(&out)
	return &out, nil
}

// GetHistory returns the full ordered ledger for an assessment.
func (e *Engine) GetHistory(ctx context.Context, assessmentID string) ([]domain.LedgerEntry, error) {
	entries, err := e.store.ReadAll(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrAssessmentNotFound
	}
	return entries, nil
}

// ListPayments returns the payments recorded against an assessment, derived
// from its PAYMENT entries.
func (e *Engine) ListPayments(ctx context.Context, assessmentID string) ([]domain.Payment, error) {
	entries, err := e.GetHistory(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	var payments []domain.Payment
	for _, entry := range entries {
		if entry.EventType != domain.EventPayment {
			continue
		}
		var pp domain.PaymentPayload
		if err := json.Unmarshal(entry.Payload, &pp); err != nil {
			return nil, fmt.Errorf("payment payload at sequence %d: %w", entry.Sequence, err)
		}
		payments = append(payments, domain.Payment{
			ReceiptID:       pp.ReceiptID,
			AssessmentID:    assessmentID,
			Sequence:        entry.Sequence,
			Amount:          pp.Amount,
			Method:          domain.PaymentMethod(pp.Method),
			ReceivedBy:      pp.ReceivedBy,
			PaymentDate:     pp.PaymentDate,
			ReferenceNumber: pp.ReferenceNumber,
		})
	}
	return payments, nil
}

// VerifyIntegrity recomputes the whole hash chain. On a break it flags the
// assessment so further writes are refused until someone clears the flag.
func (e *Engine) VerifyIntegrity(ctx context.Context, assessmentID string) error {
	entries, err := e.store.ReadAll(ctx, assessmentID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return domain.ErrAssessmentNotFound
	}

	if ok, brokenAt := hashchain.Verify(entries); !ok {
		e.haltWrites(ctx, assessmentID)
		log.Printf("[ENGINE] integrity violation: assessment=%s broken_at=%d", assessmentID, brokenAt)
		return &domain.IntegrityViolationError{AssessmentID: assessmentID, BrokenAt: brokenAt}
	}
	return nil
}

// loaded is the engine's working view of one assessment at a chain head.
type loaded struct {
	state            domain.Assessment
	head             *domain.LedgerEntry
	entries          []domain.LedgerEntry // nil when served from snapshot
	lastInterestDate string
}

func (l *loaded) latestInterestEntry() *domain.LedgerEntry {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].EventType == domain.EventInterestCalculated {
			return &l.entries[i]
		}
	}
	return nil
}

func (e *Engine) loadForWrite(ctx context.Context, assessmentID string) (*loaded, error) {
	if e.writesHalted(ctx, assessmentID) {
		return nil, domain.ErrWriteHalted
	}

	latest, err := e.store.ReadLatest(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, domain.ErrAssessmentNotFound
	}

	// The full history is read regardless of the snapshot: ApplyInterest
	// needs the prior interest entries and the fold verifies the chain, so
	// tampering is caught before any write extends a corrupt ledger.
	entries, err := e.store.ReadAll(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if ok, brokenAt := hashchain.Verify(entries); !ok {
		e.haltWrites(ctx, assessmentID)
		return nil, &domain.IntegrityViolationError{AssessmentID: assessmentID, BrokenAt: brokenAt}
	}

	state, lastInterest, err := e.fold(entries)
	if err != nil {
		return nil, err
	}
	cur := loaded{
		state:            *state,
		head:             &entries[len(entries)-1],
		entries:          entries,
		lastInterestDate: lastInterest,
	}
	e.applyOverdue(&cur.state)
	return &cur, nil
}

// applyOverdue is the automatic, time-based OVERDUE transition: a non-paid,
// non-terminal assessment past its due date reads as OVERDUE. It is an
// overlay computed from the injected clock at read time, never written to the
// ledger, so folding stays deterministic.
func (e *Engine) applyOverdue(a *domain.Assessment) {
	switch a.Status {
	case domain.StatusPending, domain.StatusOpen, domain.StatusPartiallyPaid:
		if daysBetween(a.DueDate, e.cfg.Now()) > 0 {
			a.Status = domain.StatusOverdue
		}
	}
}

func (e *Engine) buildEntry(assessmentID string, sequence int64, prevHash string, event domain.EventType, actor Actor, payload json.RawMessage, changes []domain.FieldChange) domain.LedgerEntry {
	entry := domain.LedgerEntry{
		AssessmentID: assessmentID,
		Sequence:     sequence,
		EventType:    event,
		Timestamp:    e.cfg.Now().UTC(),
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Payload:      payload,
		Changes:      changes,
		PreviousHash: prevHash,
	}
	entry.CurrentHash = hashchain.Compute(&entry)
	return entry
}

func (e *Engine) appendAndRefold(ctx context.Context, cur *loaded, event domain.EventType, actor Actor, payload json.RawMessage, changes []domain.FieldChange) (*domain.Assessment, *domain.LedgerEntry, error) {
	entry := e.buildEntry(cur.state.AssessmentID, cur.head.Sequence+1, cur.head.CurrentHash, event, actor, payload, changes)

	if err := e.store.Append(ctx, entry); err != nil {
		// ErrConcurrentAppend is passed through untouched: the caller must
		// reload and retry; the engine never retries so real conflicts stay
		// visible in the audit trail.
		return nil, nil, err
	}
	e.afterAppend(ctx, entry)

	all := append(cur.entries, entry)
	state, lastInterest, err := e.fold(all)
	if err != nil {
		return nil, nil, err
	}
	e.cacheSnapshot(ctx, state, &entry, lastInterest)
	out := *state
	e.applyOverdue(&out)
	return &out, &entry, nil
}

func (e *Engine) afterAppend(ctx context.Context, entry domain.LedgerEntry) {
	if e.ws == nil {
		return
	}
	if err := e.ws.NotifyLedgerEvent(ctx, entry.ActorID, entry.AssessmentID, string(entry.EventType), entry.Sequence); err != nil {
		log.Printf("[ENGINE] ws notify error: %v", err)
	}
}

// Snapshot cache and halt flags. All of this is best-effort: a nil or
// unreachable redis only costs extra folds, never correctness.

func (e *Engine) loadSnapshot(ctx context.Context, assessmentID string) *snapshot {
	if e.redis == nil {
		return nil
	}
	data, err := e.redis.Get(ctx, snapshotKeyPrefix+assessmentID)
	if err != nil {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil
	}
	return &snap
}

func (e *Engine) cacheSnapshot(ctx context.Context, state *domain.Assessment, head *domain.LedgerEntry, lastInterestDate string) {
	if e.redis == nil {
		return
	}
	snap := snapshot{
		Assessment:       *state,
		HeadSequence:     head.Sequence,
		HeadHash:         head.CurrentHash,
		LastInterestDate: lastInterestDate,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := e.redis.Set(ctx, snapshotKeyPrefix+state.AssessmentID, string(data), snapshotTTL); err != nil {
		log.Printf("[ENGINE] snapshot cache error: %v", err)
	}
}

func (e *Engine) haltWrites(ctx context.Context, assessmentID string) {
	if e.redis == nil {
		return
	}
	if err := e.redis.Set(ctx, haltKeyPrefix+assessmentID, "1", 0); err != nil {
		log.Printf("[ENGINE] halt flag error: %v", err)
	}
}

func (e *Engine) writesHalted(ctx context.Context, assessmentID string) bool {
	if e.redis == nil {
		return false
	}
	v, err := e.redis.Get(ctx, haltKeyPrefix+assessmentID)
	return err == nil && v == "1"
}

// daysBetween counts whole days from due (midnight UTC) to asOf, floored at
// zero.
func daysBetween(due, asOf time.Time) int {
	d := asOf.UTC().Truncate(24 * time.Hour).Sub(due.UTC().Truncate(24 * time.Hour))
	days := int(d.Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// errNoEntries guards fold against an empty chain; callers treat it as not
// found before folding.
var errNoEntries = errors.New("empty ledger")
