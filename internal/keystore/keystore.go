// Package keystore defines the persistence boundary for key records,
// usage logs, and rotation history. The Core talks only to the Store
// interface; internal/keystore/file and internal/keystore/sql are two
// interchangeable realizations of it, chosen by configuration.
package keystore

import "time"

// State is a key's lifecycle position. Transitions are one-directional:
// Active -> PendingRotation -> Expired via rotation, and
// Active|PendingRotation -> Compromised via revocation. Expired and
// Compromised are terminal; nothing transitions out of them.
type State string

const (
	Active          State = "active"
	PendingRotation State = "pending_rotation"
	Expired         State = "expired"
	Compromised     State = "compromised"
)

// Terminal reports whether no further lifecycle transition is valid from
// this state.
func (s State) Terminal() bool {
	return s == Expired || s == Compromised
}

// Record is one key's full stored state: everything the Core needs to
// serve encrypt/decrypt/sign/verify without recomputing anything, plus the
// protected private key blob a Protector produced.
type Record struct {
	KeyID          string
	Algorithm      string // primitive.Name, stored as a string to decouple storage from the primitive package
	Purpose        string // primitive.Purpose
	State          State
	ProtectorName  string // which backend produced ProtectedBlob ("local", "kms", "hsm")
	PublicKey      []byte
	ProtectedBlob  []byte
	Generation     int // incremented on every rotation; the replacement key created by rotation starts at Generation+1
	PredecessorID  string // the key id this one replaced, empty for a key's first generation
	CreatedAt      time.Time
	RotatedAt      time.Time // zero until a rotation has happened
	ExpiresAt      time.Time // zero means no expiry is set
	RevokedAt      time.Time // zero unless State == Compromised
	RevokedReason  string
	Tags           map[string]string
}

// UsageEvent records one operation against a key, successful or not, for
// the append-only usage audit trail.
type UsageEvent struct {
	KeyID     string
	Operation string // "encrypt", "decrypt", "sign", "verify"
	Actor     string
	Timestamp time.Time
	Success   bool
	Detail    string
}

// RotationEvent records one rotation or revocation transition for a key.
type RotationEvent struct {
	KeyID         string
	FromState     State
	ToState       State
	SuccessorID   string // populated on the Active -> PendingRotation transition that generated a replacement key
	Reason        string
	Actor         string
	Timestamp     time.Time
}

// SecurityEvent records a Core-level occurrence worth an operator's
// attention: system lifecycle (init/shutdown), a rotation or revocation,
// or an initialization failure. Unlike UsageEvent/RotationEvent it isn't
// always tied to one key — KeyID is empty for events like
// system_initialized.
type SecurityEvent struct {
	EventID     string
	Type        string // "system_initialized", "key_rotated", "key_revoked", ...
	Severity    string // "low", "medium", "high", "critical"
	Description string
	KeyID       string // empty when the event isn't key-scoped
	Timestamp   time.Time
	Extra       map[string]string
}

// Store is implemented once per storage backend (file, SQL). All methods
// must be safe for concurrent use; the Core itself serializes writes to a
// given key id with its own per-key lock, so a Store only needs to be
// correct under concurrent access to *different* keys plus the eventual
// concurrent appends every backend naturally supports.
type Store interface {
	// Insert persists a newly generated key record. It returns an error if
	// a record with the same KeyID already exists.
	Insert(rec *Record) error

	// Get returns the record for id regardless of lifecycle state ("get
	// any"). Verify relies on this to work against expired or compromised
	// keys; the Core's encrypt/decrypt/sign paths check the state
	// themselves and reject terminal keys.
	Get(id string) (*Record, error)

	// Update persists a modified record in place. Callers are expected to
	// have read-modify-written under the Core's per-key lock.
	Update(rec *Record) error

	// ListActive returns every key currently in the Active state.
	ListActive() ([]*Record, error)

	// ListExpiring returns every Active or PendingRotation key whose
	// ExpiresAt falls before the given horizon, for the rotation
	// scheduler's sweep.
	ListExpiring(horizon time.Time) ([]*Record, error)

	// AppendUsage appends one usage event to the audit trail.
	AppendUsage(ev *UsageEvent) error

	// AppendRotation appends one rotation/revocation event to the audit
	// trail.
	AppendRotation(ev *RotationEvent) error

	// UsageHistory returns the usage events recorded for a key, most
	// recent first, bounded by limit (0 means no limit).
	UsageHistory(keyID string, limit int) ([]*UsageEvent, error)

	// RotationHistory returns the rotation events recorded for a key,
	// most recent first.
	RotationHistory(keyID string, limit int) ([]*RotationEvent, error)

	// AppendSecurityEvent appends one Core-level SecurityEvent (system
	// init/shutdown, rotation, revocation) to the durable trail.
	AppendSecurityEvent(ev *SecurityEvent) error

	// SecurityEvents returns the most recently recorded SecurityEvents,
	// most recent first, bounded by limit (0 means no limit).
	SecurityEvents(limit int) ([]*SecurityEvent, error)

	// Count returns the number of keys in each lifecycle state, for
	// metrics and the CLI's status surface.
	Count() (map[State]int, error)

	// Close releases any resources (file handles, DB connections) held by
	// the store.
	Close() error
}

// ErrNotFound is returned by Get when no record exists for the given id.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "keystore: record not found" }

// ErrAlreadyExists is returned by Insert when KeyID collides with an
// existing record.
var ErrAlreadyExists = alreadyExistsError{}

type alreadyExistsError struct{}

func (alreadyExistsError) Error() string { return "keystore: record already exists" }
