package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func code(s string) *string { return &s }

func defs(codes ...*string) []models.ComponentDefinition {
	out := make([]models.ComponentDefinition, len(codes))
	for i, c := range codes {
		out[i] = models.ComponentDefinition{
			ID:               fmt.Sprintf("comp_%d", i+1),
			ItemCode:         fmt.Sprintf("ITEM%d", i+1),
			DisplayName:      fmt.Sprintf("Component %d", i+1),
			Sequence:         i + 1,
			VerificationCode: c,
		}
	}
	return out
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.AssemblyID == "" {
		opts.AssemblyID = "ASM-1"
	}
	if opts.VariantID == "" {
		opts.VariantID = "5RS011027"
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

// Four components with codes "1", "2", "12", "A" driven to all_scanned,
// then a reused barcode is refused.
func TestHandleScan_FullSequenceThenDuplicate(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"), code("2"), code("12"), code("A"))})

	barcodes := []string{"ABCD1000", "ABCD2000", "ABCD1200", "ABCDA000"}
	for i, bc := range barcodes {
		fb := s.HandleScan(bc)
		require.Equal(t, FeedbackSuccess, fb.Kind, bc)
		require.NotNil(t, fb.Entry)
		assert.Equal(t, i+1, fb.Entry.Sequence)
		assert.Equal(t, len(barcodes)-i-1, fb.Remaining)
		assert.False(t, fb.Degraded)
	}

	assert.Equal(t, StateAllScanned, s.State())
	assert.True(t, s.AllScanned())

	for _, bc := range barcodes {
		fb := s.HandleScan(bc)
		assert.Equal(t, FeedbackDuplicate, fb.Kind, bc)
		assert.True(t, models.IsKind(fb.Error, models.KindDuplicateRejection))
	}

	fb := s.HandleScan("ABCD9999")
	assert.Equal(t, FeedbackNoOp, fb.Kind)
	assert.Equal(t, StateAllScanned, fb.State)
}

func TestHandleScan_DuplicateBeatsValidity(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"), code("1"))})

	require.Equal(t, FeedbackSuccess, s.HandleScan("ABCD1000").Kind)

	// would validate against comp_2 but was already consumed
	fb := s.HandleScan("ABCD1000")
	assert.Equal(t, FeedbackDuplicate, fb.Kind)

	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "comp_2", next.ID)
	assert.False(t, next.Scanned)
}

func TestHandleScan_OutOfOrderIsRejected(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"), code("2"))})

	fb := s.HandleScan("ABCD2000")
	assert.Equal(t, FeedbackRejected, fb.Kind)
	require.NotNil(t, fb.Entry)
	assert.Equal(t, "comp_1", fb.Entry.ID)
	assert.True(t, models.IsKind(fb.Error, models.KindValidationRejection))
	assert.False(t, fb.Blocking())
	assert.Equal(t, StateScanning, fb.State)

	// rejected barcodes are not consumed
	assert.Equal(t, FeedbackSuccess, s.HandleScan("ABCD1000").Kind)
	assert.Equal(t, FeedbackSuccess, s.HandleScan("ABCD2000").Kind)
}

func TestHandleScan_EmptyBarcode(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(nil)})
	s.AcknowledgeDegraded()

	fb := s.HandleScan("")
	assert.Equal(t, FeedbackRejected, fb.Kind)
	assert.Equal(t, StateScanning, s.State())
}

// A component hydrated with a four-character code can never be scanned.
func TestHandleScan_UnsupportedCodeLengthBlocks(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"), code("ABCD"))})

	mismatch := s.HandleScan("0000900")
	require.Equal(t, FeedbackRejected, mismatch.Kind)
	assert.False(t, mismatch.Fault)
	assert.False(t, mismatch.Blocking())

	first := s.HandleScan("0000100")
	require.Equal(t, FeedbackSuccess, first.Kind)
	assert.False(t, first.Fault)

	for _, bc := range []string{"0000ABCD", "XXXXABCDEF", "0000A", "ABCD"} {
		fb := s.HandleScan(bc)
		assert.Equal(t, FeedbackRejected, fb.Kind, bc)
		assert.ErrorIs(t, fb.Error, validator.ErrUnsupportedCodeLength)
		assert.True(t, fb.Fault)
		assert.True(t, fb.Blocking())
	}

	assert.False(t, s.AllScanned())
	assert.Equal(t, StateScanning, s.State())
	assert.ErrorIs(t, s.BeginCompletion(), ErrNotAllScanned)
}

func TestDegradedMode_RequiresAcknowledgement(t *testing.T) {
	s := newSession(t, Options{
		Definitions:        defs(code("1"), nil),
		RequireDegradedAck: true,
	})
	assert.True(t, s.Degraded())

	fb := s.HandleScan("ABCD1000")
	assert.Equal(t, FeedbackDegradedUnacknowledged, fb.Kind)
	assert.Equal(t, 2, fb.Remaining)

	s.AcknowledgeDegraded()

	assert.Equal(t, FeedbackSuccess, s.HandleScan("ABCD1000").Kind)

	fb = s.HandleScan("anything at all")
	assert.Equal(t, FeedbackSuccess, fb.Kind)
	assert.True(t, fb.Degraded, "acceptance without a code must be flagged")
	assert.Equal(t, StateAllScanned, s.State())

	snap := s.Snapshot()
	assert.True(t, snap.Degraded)
	assert.True(t, snap.DegradedAcknowledged)
}

func TestDegradedMode_WithoutAckRequirement(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(nil)})

	fb := s.HandleScan("X")
	assert.Equal(t, FeedbackSuccess, fb.Kind)
	assert.True(t, fb.Degraded)
}

func TestRestart_ClearsEntriesAndDuplicates(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"), code("2"))})
	s.HandleScan("ABCD1000")
	s.HandleScan("ABCD2000")
	require.Equal(t, StateAllScanned, s.State())

	require.NoError(t, s.Restart())

	assert.Equal(t, StateScanning, s.State())
	for _, e := range s.Entries() {
		assert.False(t, e.Scanned)
		assert.Empty(t, e.ScannedBarcode)
	}
	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, 1, next.Sequence)

	// the same physical barcode is accepted again
	assert.Equal(t, FeedbackSuccess, s.HandleScan("ABCD1000").Kind)
}

func TestCompletionLifecycle(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"))})

	err := s.BeginCompletion()
	assert.ErrorIs(t, err, ErrNotAllScanned)
	assert.True(t, models.IsKind(err, models.KindPreconditionError))

	s.HandleScan("ABCD1000")
	require.NoError(t, s.BeginCompletion())
	assert.Equal(t, StateCompleting, s.State())

	// no re-entrant completion, no scans, no restart while completing
	assert.ErrorIs(t, s.BeginCompletion(), ErrBusy)
	assert.Equal(t, FeedbackBusy, s.HandleScan("ABCD1001").Kind)
	assert.ErrorIs(t, s.Restart(), ErrBusy)
	assert.ErrorIs(t, s.Close(), ErrBusy)

	s.FinishCompletion(true)
	assert.Equal(t, StateCompleted, s.State())

	// completed sessions cannot be completed twice
	assert.ErrorIs(t, s.BeginCompletion(), ErrNotAllScanned)

	require.NoError(t, s.Restart())
	assert.Equal(t, StateScanning, s.State())
}

func TestFinishCompletion_Failed(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"))})
	s.HandleScan("ABCD1000")
	require.NoError(t, s.BeginCompletion())

	s.FinishCompletion(false)
	assert.Equal(t, StateFailed, s.State())

	require.NoError(t, s.Restart())
	assert.Equal(t, StateScanning, s.State())
}

func TestClose(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"))})
	require.NoError(t, s.Close())

	assert.True(t, s.Closed())
	assert.Equal(t, FeedbackClosed, s.HandleScan("ABCD1000").Kind)
	assert.ErrorIs(t, s.Restart(), ErrClosed)
	assert.ErrorIs(t, s.BeginCompletion(), ErrClosed)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoComponents)

	d := defs(code("1"), code("2"))
	d[1].Sequence = 1
	_, err = New(Options{Definitions: d})
	assert.Error(t, err)
}

func TestNew_SortsBySequence(t *testing.T) {
	d := defs(code("1"), code("2"), code("3"))
	d[0].Sequence, d[2].Sequence = 3, 1

	s := newSession(t, Options{Definitions: d})
	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "comp_3", next.ID)
}

func TestAudit_BoundedAndMonotonic(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var emitted []AuditEntry

	s := newSession(t, Options{
		Definitions: defs(code("1"), code("2")),
		AuditSize:   3,
		Clock: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
		OnAudit: func(e AuditEntry) { emitted = append(emitted, e) },
	})

	s.HandleScan("bad-x")
	s.HandleScan("bad-y")
	s.HandleScan("ABCD1000")
	s.HandleScan("ABCD2000")

	entries := s.Audit()
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(2), entries[0].Seq)
	assert.Equal(t, uint64(4), entries[2].Seq)
	assert.Equal(t, "success", entries[2].Outcome)
	assert.Equal(t, StateScanning, entries[2].From)
	assert.Equal(t, StateAllScanned, entries[2].To)

	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Elapsed, entries[i-1].Elapsed)
	}

	assert.Len(t, emitted, 4, "every entry reaches the hook even after eviction")
}

func TestBeginRework_GuardsSession(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"), code("22"))})
	require.Equal(t, FeedbackSuccess, s.HandleScan("AAAA1xyz").Kind)

	require.NoError(t, s.BeginRework())
	assert.ErrorIs(t, s.BeginRework(), ErrBusy)
	assert.ErrorIs(t, s.Restart(), ErrBusy)
	assert.ErrorIs(t, s.Close(), ErrBusy)
	assert.Equal(t, FeedbackBusy, s.HandleScan("BBBB22xy").Kind)

	// a refused rework leaves the session as it was
	s.FinishRework(false)
	assert.False(t, s.Closed())
	assert.Equal(t, FeedbackSuccess, s.HandleScan("BBBB22xy").Kind)

	require.NoError(t, s.BeginRework())
	s.FinishRework(true)
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.BeginRework(), ErrClosed)
	assert.ErrorIs(t, s.BeginCompletion(), ErrClosed)
}

func TestBeginRework_RefusedWhileCompleting(t *testing.T) {
	s := newSession(t, Options{Definitions: defs(code("1"), code("22"))})
	s.HandleScan("AAAA1xyz")
	s.HandleScan("BBBB22xy")
	require.NoError(t, s.BeginCompletion())

	assert.ErrorIs(t, s.BeginRework(), ErrBusy)
	s.FinishCompletion(true)
	require.NoError(t, s.BeginRework())
}
