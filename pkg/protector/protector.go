// Package protector defines the pluggable secret-protection boundary
// between the Core and whatever actually guards a private key's bytes at
// rest: a local KDF-derived key, a cloud KMS doing envelope encryption, or
// a remote HSM/vault that never releases raw key material at all.
//
// Every Protector produces and consumes a single self-describing blob: the
// tag at the front of the byte slice says which backend can open it, so a
// key store row never needs a side-channel "which backend protected this"
// column. Each backend opens only blobs carrying its own tag, and a Core
// holds a single Protector, so keys protected under one backend cannot be
// unprotected by a Core configured with another.
package protector

import "context"

// Blob tags. A Protector's Protect output always begins with one of these,
// and each backend's Unprotect rejects a blob that does not begin with its
// own tag.
const (
	// TagLocal marks a blob protected by the Local-Derived backend: a
	// memory-hard KDF output used as an AES-256-GCM key. The literal tag
	// is "L1" followed by a colon, then base64 framing handled internally
	// by the local package.
	TagLocal = "L1"
	// TagHSM marks a blob whose plaintext never left the HSM/vault; the
	// blob is an opaque reference the backend can resolve back to a
	// decrypt call, prefixed "H1:".
	TagHSM = "H1:"
	// TagKMS marks a JSON envelope produced by envelope encryption against
	// a cloud KMS: an object of the form {"b":"kms",...}.
	TagKMS = `{"b":"kms"`
)

// Protector is implemented once per secret-protection backend. The Core
// holds exactly one Protector at a time, chosen by configuration, and
// calls it to protect private key material before it is written to the
// key store and to unprotect it again before use.
type Protector interface {
	// Name identifies the backend for logging and metrics labels, e.g.
	// "local", "kms", "hsm".
	Name() string

	// Protect wraps plaintext private key material for the given key id
	// and purpose, returning an opaque, self-describing blob safe to
	// persist in the key store. The keyID and purpose are bound into the
	// protection (AES-GCM AAD for the local and KMS backends; for HSM they
	// are stored in the blob and compared on Unprotect) so a blob copied
	// onto a different key id fails to unprotect.
	Protect(ctx context.Context, keyID string, purpose string, plaintext []byte) ([]byte, error)

	// Unprotect reverses Protect. It returns an error if blob was not
	// produced by this backend, or if keyID/purpose do not match what the
	// blob was bound to.
	Unprotect(ctx context.Context, keyID string, purpose string, blob []byte) ([]byte, error)

	// Health reports whether the backend is currently reachable and
	// correctly configured. The Core calls this from Initialize and from
	// its own Health report.
	Health(ctx context.Context) error
}

// Dispatch inspects a blob's tag and returns which backend name produced
// it, for diagnostics. It does not itself unprotect anything.
func Dispatch(blob []byte) (backend string, ok bool) {
	s := string(blob)
	switch {
	case len(s) >= len(TagHSM) && s[:len(TagHSM)] == TagHSM:
		return "hsm", true
	case len(s) >= len(TagLocal)+1 && s[:len(TagLocal)+1] == TagLocal+":":
		return "local", true
	case len(s) >= len(TagKMS) && s[:len(TagKMS)] == TagKMS:
		return "kms", true
	default:
		return "", false
	}
}
