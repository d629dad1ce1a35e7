// Package session implements the per-unit scan state machine.
//
// A Session owns one ScanEntry per component. Only the lowest-sequence
// unscanned entry is ever validated against, and a barcode accepted once is
// never accepted again until Restart.
//
//	scanning -> all_scanned -> completing -> completed | failed
//
// Restart returns to scanning from any state except completing.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/validator"
)

// State of a session
type State string

const (
	StateScanning   State = "scanning"
	StateAllScanned State = "all_scanned"
	StateCompleting State = "completing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var (
	// ErrBusy is returned while a completion is in flight
	ErrBusy = errors.New("session is completing")

	// ErrClosed is returned once the session has been discarded
	ErrClosed = errors.New("session is closed")

	// ErrNotAllScanned is the completion precondition failure
	ErrNotAllScanned = models.NewError(models.KindPreconditionError, "not every component is scanned", nil)

	// ErrNoComponents is returned by New for an empty definition list
	ErrNoComponents = errors.New("session needs at least one component")
)

// Options configures a new Session
type Options struct {
	ID          string
	AssemblyID  string
	WorkOrderID string
	VariantID   string
	IsRework    bool
	Definitions []models.ComponentDefinition

	// AuditSize caps the audit log; defaults to 200
	AuditSize int

	// RequireDegradedAck holds scans while any component lacks a
	// verification code until AcknowledgeDegraded is called
	RequireDegradedAck bool

	// OnAudit, when set, receives every audit entry after the session lock
	// is released
	OnAudit func(AuditEntry)

	Clock func() time.Time
}

// Session is the scan state of one assembly unit
type Session struct {
	mu sync.Mutex

	id          string
	assemblyID  string
	workOrderID string
	variantID   string
	isRework    bool

	entries  []models.ScanEntry
	consumed map[string]struct{}
	state    State
	closed   bool

	// reworking is set while a rework request is with the backend
	reworking bool

	degraded     bool
	requireAck   bool
	acknowledged bool

	audit   *auditLog
	onAudit func(AuditEntry)
	clock   func() time.Time
	started time.Time
}

// New creates a session in the scanning state
func New(opts Options) (*Session, error) {
	if len(opts.Definitions) == 0 {
		return nil, ErrNoComponents
	}

	entries := make([]models.ScanEntry, len(opts.Definitions))
	seen := make(map[int]string, len(opts.Definitions))
	degraded := false
	for i, d := range opts.Definitions {
		if other, dup := seen[d.Sequence]; dup {
			return nil, fmt.Errorf("components %s and %s share sequence %d", other, d.ID, d.Sequence)
		}
		seen[d.Sequence] = d.ID

		def := d
		if d.VerificationCode != nil {
			code := *d.VerificationCode
			def.VerificationCode = &code
		} else {
			degraded = true
		}
		entries[i] = models.ScanEntry{ComponentDefinition: def}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	auditSize := opts.AuditSize
	if auditSize == 0 {
		auditSize = 200
	}

	return &Session{
		id:          id,
		assemblyID:  opts.AssemblyID,
		workOrderID: opts.WorkOrderID,
		variantID:   opts.VariantID,
		isRework:    opts.IsRework,
		entries:     entries,
		consumed:    make(map[string]struct{}),
		state:       StateScanning,
		degraded:    degraded,
		requireAck:  opts.RequireDegradedAck,
		audit:       newAuditLog(auditSize),
		onAudit:     opts.OnAudit,
		clock:       clock,
		started:     clock(),
	}, nil
}

func (s *Session) ID() string          { return s.id }
func (s *Session) AssemblyID() string  { return s.assemblyID }
func (s *Session) WorkOrderID() string { return s.workOrderID }
func (s *Session) VariantID() string   { return s.variantID }
func (s *Session) IsRework() bool      { return s.isRework }

// HandleScan processes one scanned barcode and reports the outcome
func (s *Session) HandleScan(barcode string) Feedback {
	s.mu.Lock()
	fb, entry := s.handleScan(barcode)
	s.mu.Unlock()

	s.emit(entry)
	return fb
}

func (s *Session) handleScan(barcode string) (Feedback, AuditEntry) {
	from := s.state
	fb := Feedback{Barcode: barcode}

	switch {
	case s.closed:
		fb.Kind, fb.Message = FeedbackClosed, "session was discarded"
	case s.state == StateCompleting:
		fb.Kind, fb.Message = FeedbackBusy, "completion in progress, scan ignored"
	case s.reworking:
		fb.Kind, fb.Message = FeedbackBusy, "rework in progress, scan ignored"
	case barcode == "":
		fb.Kind, fb.Message = FeedbackRejected, "empty barcode"
	case s.degraded && s.requireAck && !s.acknowledged:
		fb.Kind, fb.Message = FeedbackDegradedUnacknowledged, "verification codes unavailable, acknowledge degraded mode to continue"
	default:
		s.evaluate(barcode, &fb)
	}

	fb.State = s.state
	fb.Remaining = s.remaining()

	componentID := ""
	if fb.Entry != nil {
		componentID = fb.Entry.ID
	}
	return fb, s.record("scan", string(fb.Kind), barcode, componentID, from)
}

func (s *Session) evaluate(barcode string, fb *Feedback) {
	if _, used := s.consumed[barcode]; used {
		fb.Kind = FeedbackDuplicate
		fb.Message = "barcode already used in this assembly"
		fb.Error = models.NewError(models.KindDuplicateRejection, fb.Message, nil)
		return
	}

	idx := s.nextIndex()
	if idx < 0 {
		fb.Kind, fb.Message = FeedbackNoOp, "all components already scanned"
		return
	}

	next := &s.entries[idx]
	if !validator.IsValid(barcode, next.VerificationCode) {
		entry := *next
		fb.Kind = FeedbackRejected
		fb.Entry = &entry
		if err := validator.CheckCode(*next.VerificationCode); err != nil {
			fb.Message = fmt.Sprintf("%s can never validate until reconfigured", next.DisplayName)
			fb.Fault = true
			fb.Error = err
		} else {
			fb.Message = fmt.Sprintf("barcode does not match %s", next.DisplayName)
			fb.Error = models.NewError(models.KindValidationRejection, fb.Message, nil)
		}
		return
	}

	next.Scanned = true
	next.ScannedBarcode = barcode
	next.ScannedAt = s.clock()
	s.consumed[barcode] = struct{}{}

	entry := *next
	fb.Kind = FeedbackSuccess
	fb.Entry = &entry
	fb.Degraded = next.VerificationCode == nil
	fb.Message = fmt.Sprintf("%s scanned", next.DisplayName)

	if s.nextIndex() < 0 {
		s.state = StateAllScanned
	}
}

// Next returns the entry the next scan is validated against
func (s *Session) Next() (models.ScanEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.nextIndex()
	if idx < 0 {
		return models.ScanEntry{}, false
	}
	return s.entries[idx], true
}

// AllScanned reports whether every entry is scanned
func (s *Session) AllScanned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIndex() < 0
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Entries returns a copy of the scan entries ordered by sequence
func (s *Session) Entries() []models.ScanEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyEntries()
}

// Restart clears every entry and the duplicate set and returns to scanning
func (s *Session) Restart() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.busy() {
		s.mu.Unlock()
		return ErrBusy
	}

	from := s.state
	for i := range s.entries {
		s.entries[i].Scanned = false
		s.entries[i].ScannedBarcode = ""
		s.entries[i].ScannedAt = time.Time{}
	}
	s.consumed = make(map[string]struct{})
	s.state = StateScanning
	entry := s.record("restart", "ok", "", "", from)
	s.mu.Unlock()

	s.emit(entry)
	return nil
}

// BeginCompletion moves an all_scanned session to completing. It re-checks
// the entries, not just the state, before doing so.
func (s *Session) BeginCompletion() error {
	s.mu.Lock()

	var err error
	switch {
	case s.closed:
		err = ErrClosed
	case s.busy():
		err = ErrBusy
	case s.state != StateAllScanned:
		err = fmt.Errorf("state is %s: %w", s.state, ErrNotAllScanned)
	case s.nextIndex() >= 0:
		err = fmt.Errorf("state is all_scanned but %d component(s) are unscanned: %w", s.remaining(), ErrNotAllScanned)
	}

	if err != nil {
		entry := s.record("complete", "refused", "", "", s.state)
		s.mu.Unlock()
		s.emit(entry)
		return err
	}

	from := s.state
	s.state = StateCompleting
	entry := s.record("complete", "started", "", "", from)
	s.mu.Unlock()

	s.emit(entry)
	return nil
}

// FinishCompletion ends a completion started by BeginCompletion
func (s *Session) FinishCompletion(ok bool) {
	s.mu.Lock()
	if s.state != StateCompleting {
		s.mu.Unlock()
		return
	}

	from := s.state
	outcome := "completed"
	s.state = StateCompleted
	if !ok {
		outcome = "failed"
		s.state = StateFailed
	}
	entry := s.record("complete", outcome, "", "", from)
	s.mu.Unlock()

	s.emit(entry)
}

// Degraded reports whether any component validates without a code
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// AcknowledgeDegraded lets scans through while codes are unavailable
func (s *Session) AcknowledgeDegraded() {
	s.mu.Lock()
	s.acknowledged = true
	entry := s.record("acknowledge_degraded", "ok", "", "", s.state)
	s.mu.Unlock()

	s.emit(entry)
}

// Close discards the session; every later scan or restart is refused
func (s *Session) Close() error {
	s.mu.Lock()
	if s.busy() {
		s.mu.Unlock()
		return ErrBusy
	}
	s.closed = true
	entry := s.record("close", "ok", "", "", s.state)
	s.mu.Unlock()

	s.emit(entry)
	return nil
}

// BeginRework reserves the session for a rework request. Scans, restarts
// and completions are refused until FinishRework.
func (s *Session) BeginRework() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrClosed
	case s.busy():
		return ErrBusy
	}
	s.reworking = true
	return nil
}

// FinishRework releases the session. An accepted rework discards it.
func (s *Session) FinishRework(accepted bool) {
	s.mu.Lock()
	if !s.reworking {
		s.mu.Unlock()
		return
	}
	s.reworking = false
	if !accepted {
		s.mu.Unlock()
		return
	}

	s.closed = true
	entry := s.record("close", "rework", "", "", s.state)
	s.mu.Unlock()

	s.emit(entry)
}

// busy reports whether a completion or rework is in flight. Callers hold mu.
func (s *Session) busy() bool {
	return s.state == StateCompleting || s.reworking
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Audit returns the retained audit entries, oldest first
func (s *Session) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit.entries()
}

// Snapshot returns a consistent view of the session
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:                   s.id,
		AssemblyID:           s.assemblyID,
		WorkOrderID:          s.workOrderID,
		VariantID:            s.variantID,
		IsRework:             s.isRework,
		State:                s.state,
		Closed:               s.closed,
		Degraded:             s.degraded,
		DegradedAcknowledged: s.acknowledged,
		Entries:              s.copyEntries(),
		Total:                len(s.entries),
	}
	snap.Scanned = snap.Total - s.remaining()
	if idx := s.nextIndex(); idx >= 0 {
		next := s.entries[idx]
		snap.Next = &next
	}
	return snap
}

// nextIndex returns the lowest-sequence unscanned entry, or -1.
// Entries are kept sorted by sequence.
func (s *Session) nextIndex() int {
	for i := range s.entries {
		if !s.entries[i].Scanned {
			return i
		}
	}
	return -1
}

func (s *Session) remaining() int {
	n := 0
	for i := range s.entries {
		if !s.entries[i].Scanned {
			n++
		}
	}
	return n
}

func (s *Session) copyEntries() []models.ScanEntry {
	out := make([]models.ScanEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Session) record(action, outcome, barcode, componentID string, from State) AuditEntry {
	now := s.clock()
	return s.audit.append(AuditEntry{
		At:          now,
		Elapsed:     now.Sub(s.started),
		Action:      action,
		Outcome:     outcome,
		Barcode:     barcode,
		ComponentID: componentID,
		From:        from,
		To:          s.state,
	})
}

func (s *Session) emit(entry AuditEntry) {
	if s.onAudit != nil {
		s.onAudit(entry)
	}
}
