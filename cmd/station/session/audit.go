package session

import "time"

// AuditEntry is one line of the session's troubleshooting log
type AuditEntry struct {
	Seq         uint64        `json:"seq"`
	At          time.Time     `json:"at"`
	Elapsed     time.Duration `json:"elapsed"`
	Action      string        `json:"action"`
	Outcome     string        `json:"outcome"`
	Barcode     string        `json:"barcode,omitempty"`
	ComponentID string        `json:"component_id,omitempty"`
	From        State         `json:"from"`
	To          State         `json:"to"`
}

// auditLog is a fixed-size ring; the oldest entries are overwritten
type auditLog struct {
	buf  []AuditEntry
	head int
	size int
	seq  uint64
}

func newAuditLog(capacity int) *auditLog {
	if capacity < 1 {
		capacity = 1
	}
	return &auditLog{buf: make([]AuditEntry, capacity)}
}

func (l *auditLog) append(e AuditEntry) AuditEntry {
	l.seq++
	e.Seq = l.seq

	l.buf[(l.head+l.size)%len(l.buf)] = e
	if l.size < len(l.buf) {
		l.size++
	} else {
		l.head = (l.head + 1) % len(l.buf)
	}
	return e
}

// entries returns the retained entries, oldest first
func (l *auditLog) entries() []AuditEntry {
	out := make([]AuditEntry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	return out
}
