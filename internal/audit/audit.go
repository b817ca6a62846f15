// Package audit is the Core's security event trail: every operation that
// touches a key's lifecycle or its private material is recorded here,
// both durably (through the configured keystore.Store, which is expected
// to retain at least 90 days of history) and in a fixed-size in-memory
// ring buffer for fast "what just happened" inspection without a storage
// round trip.
package audit

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/systmms/pqkeys/internal/keystore"
)

// ringSize is the capacity of the in-memory recent-events buffer.
const ringSize = 1000

// Severity classifies how urgently a SecurityEvent deserves operator
// attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Security event types. These are the SecurityEvent.type values the Core
// emits at the points spec.md calls out explicitly, distinct from the
// per-key usage/lifecycle Kind values on Event below: they describe the health of
// the Core itself, not a single key's history.
const (
	SystemInitialized          = "system_initialized"
	SystemShutdown             = "system_shutdown"
	SystemInitializationFailed = "system_initialization_failed"
	MasterKeysGenerated        = "master_keys_generated"
	KeyRotated                 = "key_rotated"
	KeyRevoked                 = "key_revoked"
)

// Event is the unified shape of anything the audit log records, whether
// it originated as a keystore.UsageEvent, a keystore.RotationEvent, or a
// standalone SecurityEvent. It exists so the ring buffer and the CLI's
// tail output don't need to care which kind of event they're looking at.
type Event struct {
	KeyID     string
	Kind      string // "usage", "lifecycle", or "security"
	Operation string // "encrypt", "decrypt", ..., or one of the SecurityEvent types above
	Severity  Severity
	Actor     string
	Success   bool
	Detail    string
	Timestamp time.Time
}

// Log is the audit trail. It writes through to a keystore.Store for
// durable retention and keeps the most recent events in memory.
type Log struct {
	store keystore.Store

	mu     sync.Mutex
	ring   []Event
	cursor int
	filled bool
}

// New creates a Log backed by store.
func New(store keystore.Store) *Log {
	return &Log{store: store, ring: make([]Event, ringSize)}
}

func (l *Log) push(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring[l.cursor] = ev
	l.cursor = (l.cursor + 1) % ringSize
	if l.cursor == 0 {
		l.filled = true
	}
}

// RecordUsage logs a successful or failed use of a key's private material
// (encrypt, decrypt, sign, verify).
func (l *Log) RecordUsage(keyID, operation, actor string, success bool, detail string) error {
	now := time.Now().UTC()
	if err := l.store.AppendUsage(&keystore.UsageEvent{
		KeyID: keyID, Operation: operation, Actor: actor, Success: success, Detail: detail, Timestamp: now,
	}); err != nil {
		return err
	}
	l.push(Event{KeyID: keyID, Kind: "usage", Operation: operation, Actor: actor, Success: success, Detail: detail, Timestamp: now})
	return nil
}

// RecordLifecycle logs a key lifecycle transition (generate, rotate,
// revoke).
func (l *Log) RecordLifecycle(keyID string, from, to keystore.State, successorID, reason, actor string) error {
	now := time.Now().UTC()
	if err := l.store.AppendRotation(&keystore.RotationEvent{
		KeyID: keyID, FromState: from, ToState: to, SuccessorID: successorID, Reason: reason, Actor: actor, Timestamp: now,
	}); err != nil {
		return err
	}
	l.push(Event{
		KeyID: keyID, Kind: "lifecycle", Operation: string(to), Actor: actor, Success: true,
		Detail: reason, Timestamp: now,
	})
	return nil
}

// RecordSecurity logs a Core-level SecurityEvent (system_initialized,
// key_rotated, key_revoked, ...) of the given severity. keyID may be
// empty for events that aren't scoped to one key.
func (l *Log) RecordSecurity(eventType string, severity Severity, keyID, description string) error {
	now := time.Now().UTC()
	id, err := newEventID()
	if err != nil {
		return err
	}
	if err := l.store.AppendSecurityEvent(&keystore.SecurityEvent{
		EventID: id, Type: eventType, Severity: string(severity), Description: description, KeyID: keyID, Timestamp: now,
	}); err != nil {
		return err
	}
	l.push(Event{
		KeyID: keyID, Kind: "security", Operation: eventType, Severity: severity, Success: true,
		Detail: description, Timestamp: now,
	})
	return nil
}

// SecurityEvents delegates to the underlying store for the durable
// SecurityEvent trail.
func (l *Log) SecurityEvents(limit int) ([]*keystore.SecurityEvent, error) {
	return l.store.SecurityEvents(limit)
}

func newEventID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Recent returns up to n of the most recently recorded events, newest
// first, served entirely from memory.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []Event
	if l.filled {
		ordered = append(ordered, l.ring[l.cursor:]...)
		ordered = append(ordered, l.ring[:l.cursor]...)
	} else {
		ordered = append(ordered, l.ring[:l.cursor]...)
	}

	// reverse to newest-first
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}

	if n > 0 && n < len(ordered) {
		ordered = ordered[:n]
	}
	return ordered
}

// UsageHistory delegates to the underlying store for a specific key's
// durable usage history.
func (l *Log) UsageHistory(keyID string, limit int) ([]*keystore.UsageEvent, error) {
	return l.store.UsageHistory(keyID, limit)
}

// RotationHistory delegates to the underlying store for a specific key's
// durable lifecycle history.
func (l *Log) RotationHistory(keyID string, limit int) ([]*keystore.RotationEvent, error) {
	return l.store.RotationHistory(keyID, limit)
}
