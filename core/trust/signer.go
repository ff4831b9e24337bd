// Package trust implements the cryptographically verified side of a
// Sharc database: the hash-chained ledger, the agent registry, the
// entitlement enforcer, and signed delta exchange between instances.
package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"math/big"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

// Signatures are ECDSA over NIST P-256 with SHA-256. Sign emits the
// fixed-length r‖s form (64 bytes); Verify also accepts DER.

const rsSignatureLen = 64

// Signer produces signatures on behalf of one agent. The private key
// stays wherever the implementation keeps it; the core only sees
// signatures.
type Signer interface {
	AgentID() string
	Public() *ecdsa.PublicKey
	Sign(message []byte) ([]byte, error)
}

// LocalSigner is a software-stored P-256 signer.
type LocalSigner struct {
	agentID string
	key     *ecdsa.PrivateKey
}

// NewLocalSigner generates a fresh P-256 keypair for the agent.
func NewLocalSigner(agentID string) (*LocalSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, sharcerr.Wrap(err, "generating agent key")
	}
	return &LocalSigner{agentID: agentID, key: key}, nil
}

// NewLocalSignerFromKey wraps an existing private key.
func NewLocalSignerFromKey(agentID string, key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{agentID: agentID, key: key}
}

// AgentID returns the agent this signer signs for.
func (s *LocalSigner) AgentID() string { return s.agentID }

// Public returns the public half of the keypair.
func (s *LocalSigner) Public() *ecdsa.PublicKey { return &s.key.PublicKey }

// Key returns the private key, for callers that persist it.
func (s *LocalSigner) Key() *ecdsa.PrivateKey { return s.key }

// Sign hashes the message with SHA-256 and returns a 64-byte r‖s
// signature.
func (s *LocalSigner) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	r, sv, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, sharcerr.Wrap(err, "signing")
	}
	sig := make([]byte, rsSignatureLen)
	r.FillBytes(sig[:32])
	sv.FillBytes(sig[32:])
	return sig, nil
}

// VerifySignature checks an ECDSA P-256 signature over message. Both the
// fixed-length r‖s form and DER are accepted. The check is side-effect
// free and does not branch on secret data.
func VerifySignature(pub *ecdsa.PublicKey, message, sig []byte) bool {
	if pub == nil {
		return false
	}
	digest := sha256.Sum256(message)

	if len(sig) == rsSignatureLen {
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		return ecdsa.Verify(pub, digest[:], r, s)
	}
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// MarshalPublicKey encodes a public key as SubjectPublicKeyInfo DER,
// the form stored in _sharc_agents.
func MarshalPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, sharcerr.Wrap(err, "encoding public key")
	}
	return der, nil
}

// ParsePublicKey decodes a SubjectPublicKeyInfo DER public key and
// checks it is P-256.
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "bad public key encoding")
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "public key is not ECDSA P-256")
	}
	return pub, nil
}
