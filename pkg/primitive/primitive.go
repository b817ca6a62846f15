// Package primitive adapts the post-quantum algorithms the Core supports
// (Kyber-1024 for encapsulation, Dilithium-5 for signatures) to a single
// capability-typed interface. It is the only package in the module that
// imports a cryptographic primitive library directly; everything above it
// (protector, keystore, core) talks to Name and never to circl types.
package primitive

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	kemschemes "github.com/cloudflare/circl/kem/schemes"
	"github.com/cloudflare/circl/sign"
	signschemes "github.com/cloudflare/circl/sign/schemes"
)

// Name identifies a supported algorithm. The Core stores this string
// verbatim on every key record so that a later decrypt/verify uses the same
// algorithm the key was generated with, even after a library upgrade adds
// more names.
type Name string

const (
	// Kyber1024 is the Round 3 NIST PQC KEM at security category 5.
	Kyber1024 Name = "Kyber1024"
	// Dilithium5 is the Round 3 NIST PQC signature scheme at security
	// category 5.
	Dilithium5 Name = "Dilithium5"
)

// Purpose says what a key generated under a Name may be used for. The Core
// rejects operations that don't match the purpose a key was generated with
// (e.g. calling Sign with a Kyber key).
type Purpose string

const (
	PurposeEncapsulation Purpose = "encapsulation"
	PurposeSignature     Purpose = "signature"
)

// PurposeOf returns the Purpose a Name is used for, or false if the name is
// not recognized.
func PurposeOf(name Name) (Purpose, bool) {
	switch name {
	case Kyber1024:
		return PurposeEncapsulation, true
	case Dilithium5:
		return PurposeSignature, true
	default:
		return "", false
	}
}

// ErrUnsupportedAlgorithm is returned (wrapped) when Name does not resolve
// to a scheme the linked circl build provides. This is the condition
// spec'd as "primitive unavailable": it must fail fast at key-generation
// time, never partway through an encrypt/decrypt/sign/verify call.
type ErrUnsupportedAlgorithm struct {
	Name Name
}

func (e ErrUnsupportedAlgorithm) Error() string {
	return fmt.Sprintf("primitive: unsupported algorithm %q", e.Name)
}

// kemSchemeName/sigSchemeName map our stable Name constants to circl's
// scheme registry strings, which are allowed to carry version suffixes the
// library maintainers control.
var (
	kemSchemeName = map[Name]string{Kyber1024: "Kyber1024"}
	sigSchemeName = map[Name]string{Dilithium5: "Dilithium5"}
)

// KEMScheme resolves a KEM-capable Name to its circl kem.Scheme, or returns
// ErrUnsupportedAlgorithm.
func KEMScheme(name Name) (kem.Scheme, error) {
	sn, ok := kemSchemeName[name]
	if !ok {
		return nil, ErrUnsupportedAlgorithm{Name: name}
	}
	scheme := kemschemes.ByName(sn)
	if scheme == nil {
		return nil, ErrUnsupportedAlgorithm{Name: name}
	}
	return scheme, nil
}

// SignScheme resolves a signature-capable Name to its circl sign.Scheme, or
// returns ErrUnsupportedAlgorithm.
func SignScheme(name Name) (sign.Scheme, error) {
	sn, ok := sigSchemeName[name]
	if !ok {
		return nil, ErrUnsupportedAlgorithm{Name: name}
	}
	scheme := signschemes.ByName(sn)
	if scheme == nil {
		return nil, ErrUnsupportedAlgorithm{Name: name}
	}
	return scheme, nil
}

// KeyPair holds the raw encoded public and private key material for one
// generated key. Callers are responsible for protecting PrivateKey at
// rest; this package never persists anything.
type KeyPair struct {
	Algorithm  Name
	PublicKey  []byte
	PrivateKey []byte
}

// Generate produces a new key pair for the given algorithm using the
// system CSPRNG.
func Generate(name Name) (*KeyPair, error) {
	purpose, ok := PurposeOf(name)
	if !ok {
		return nil, ErrUnsupportedAlgorithm{Name: name}
	}

	switch purpose {
	case PurposeEncapsulation:
		scheme, err := KEMScheme(name)
		if err != nil {
			return nil, err
		}
		pub, priv, err := scheme.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("primitive: generate %s: %w", name, err)
		}
		pubBytes, err := pub.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("primitive: marshal %s public key: %w", name, err)
		}
		privBytes, err := priv.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("primitive: marshal %s private key: %w", name, err)
		}
		return &KeyPair{Algorithm: name, PublicKey: pubBytes, PrivateKey: privBytes}, nil

	case PurposeSignature:
		scheme, err := SignScheme(name)
		if err != nil {
			return nil, err
		}
		pub, priv, err := scheme.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("primitive: generate %s: %w", name, err)
		}
		pubBytes, err := pub.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("primitive: marshal %s public key: %w", name, err)
		}
		privBytes, err := priv.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("primitive: marshal %s private key: %w", name, err)
		}
		return &KeyPair{Algorithm: name, PublicKey: pubBytes, PrivateKey: privBytes}, nil
	}

	return nil, ErrUnsupportedAlgorithm{Name: name}
}

// Encapsulate derives a shared secret against a Kyber public key, returning
// the KEM ciphertext to send to the key owner alongside the secret to use
// locally. algorithm must have PurposeEncapsulation.
func Encapsulate(algorithm Name, publicKey []byte) (ciphertext, sharedSecret []byte, err error) {
	scheme, err := KEMScheme(algorithm)
	if err != nil {
		return nil, nil, err
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("primitive: unmarshal %s public key: %w", algorithm, err)
	}
	ct, ss, err := scheme.Encapsulate(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("primitive: encapsulate %s: %w", algorithm, err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from a KEM ciphertext using the
// owning private key.
func Decapsulate(algorithm Name, privateKey, ciphertext []byte) (sharedSecret []byte, err error) {
	scheme, err := KEMScheme(algorithm)
	if err != nil {
		return nil, err
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("primitive: unmarshal %s private key: %w", algorithm, err)
	}
	ss, err := scheme.Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("primitive: decapsulate %s: %w", algorithm, err)
	}
	return ss, nil
}

// Sign produces a Dilithium signature over message using the owning
// private key.
func Sign(algorithm Name, privateKey, message []byte) (signature []byte, err error) {
	scheme, err := SignScheme(algorithm)
	if err != nil {
		return nil, err
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("primitive: unmarshal %s private key: %w", algorithm, err)
	}
	sig := scheme.Sign(priv, message, nil)
	return sig, nil
}

// Verify checks a Dilithium signature over message against a public key.
// It returns (false, nil) for a cleanly rejected signature and (false, err)
// only when the inputs themselves are malformed.
func Verify(algorithm Name, publicKey, message, signature []byte) (bool, error) {
	scheme, err := SignScheme(algorithm)
	if err != nil {
		return false, err
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("primitive: unmarshal %s public key: %w", algorithm, err)
	}
	return scheme.Verify(pub, message, signature, nil), nil
}
