package vericert

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/vericert/vericert/storage/model"
)

const (
	proofType        = "DataIntegrityProof"
	proofCryptosuite = "eddsa-jcs-2022"

	// ed25519PubMulticodec is the multicodec prefix for an Ed25519 public key.
	ed25519PubMulticodecHi = 0xed
	ed25519PubMulticodecLo = 0x01
)

// Proof is the Data Integrity proof block embedded in a signed credential.
type Proof struct {
	Type               string `json:"type"`
	Cryptosuite        string `json:"cryptosuite"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
}

// ProofStatus is the tri-state outcome of proof verification.
type ProofStatus int

// Constants for ProofStatus
const (
	// ProofValid: the signature verifies over the recomputed digest.
	ProofValid ProofStatus = iota
	// ProofInvalid: digest or signature mismatch.
	ProofInvalid
	// ProofNotVerifiable: proof missing or malformed; nothing to check.
	ProofNotVerifiable
)

// String returns the canonical string representation for the proof status.
func (s ProofStatus) String() string {
	switch s {
	case ProofValid:
		return "valid"
	case ProofInvalid:
		return "invalid"
	case ProofNotVerifiable:
		return "not_verifiable"
	default:
		return "unknown"
	}
}

// Signer holds the Ed25519 signing key and produces/verifies Data Integrity
// proofs over canonicalized documents.
type Signer struct {
	priv       ed25519.PrivateKey
	keyVersion int
}

// NewSigner wraps an existing Ed25519 private key.
func NewSigner(priv ed25519.PrivateKey, keyVersion int) *Signer {
	return &Signer{priv: priv, keyVersion: keyVersion}
}

// LoadSigner loads the Ed25519 signing key from a JWK file. If the file does
// not exist and generate is true, a fresh key is generated and written there.
func LoadSigner(path string, keyVersion int, generate bool) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) || !generate {
			return nil, errors.Wrapf(err, "could not read signing key '%s'", path)
		}
		return generateSigner(path, keyVersion)
	}
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse signing key jwk")
	}
	var priv ed25519.PrivateKey
	if err = jwk.Export(key, &priv); err != nil {
		return nil, errors.Wrap(err, "signing key is not an Ed25519 private key")
	}
	return &Signer{priv: priv, keyVersion: keyVersion}, nil
}

func generateSigner(path string, keyVersion int) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "could not generate signing key")
	}
	key, err := jwk.Import(priv)
	if err != nil {
		return nil, errors.Wrap(err, "could not convert signing key to jwk")
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize signing key")
	}
	if err = os.WriteFile(path, raw, 0600); err != nil {
		return nil, errors.Wrapf(err, "could not write signing key '%s'", path)
	}
	return &Signer{priv: priv, keyVersion: keyVersion}, nil
}

// Sign returns the raw Ed25519 signature over data.
func (s *Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.priv, data)
}

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// PublicKeyMultibase returns the z-base58btc multibase encoding of the
// multicodec-prefixed public key.
func (s *Signer) PublicKeyMultibase() string {
	return encodeEd25519Multibase(s.PublicKey())
}

// PublicKeyJWK returns the public key in JWK form for the admin API's key
// endpoint.
func (s *Signer) PublicKeyJWK() (jwk.Key, error) {
	key, err := jwk.Import(s.PublicKey())
	if err != nil {
		return nil, errors.Wrap(err, "could not convert public key to jwk")
	}
	return key, nil
}

// KeyVersion returns the published version number of the signing key.
func (s *Signer) KeyVersion() int {
	return s.keyVersion
}

// VerificationMethod returns the did:key verification method id for the
// signer's public key.
func (s *Signer) VerificationMethod() string {
	mb := s.PublicKeyMultibase()
	return "did:key:" + mb + "#" + mb
}

// proofDigest is the 64-byte digest signed by the eddsa-jcs-2022 suite:
// SHA-256 over the canonical proof options concatenated with SHA-256 over
// the canonical document. Binding the options hash in front of the document
// hash prevents proof metadata from being swapped after signing.
func proofDigest(canonicalOptions, canonicalDoc []byte) []byte {
	oh := sha256.Sum256(canonicalOptions)
	dh := sha256.Sum256(canonicalDoc)
	digest := make([]byte, 0, 64)
	digest = append(digest, oh[:]...)
	return append(digest, dh[:]...)
}

// CreateProof signs the document (which must not contain a "proof" member)
// and returns the proof block to embed.
func (s *Signer) CreateProof(doc map[string]any, purpose string) (*Proof, error) {
	if s == nil || len(s.priv) == 0 {
		return nil, model.UnavailableError("signing key is not configured")
	}
	if _, ok := doc["proof"]; ok {
		return nil, errors.New("document already carries a proof")
	}
	proof := &Proof{
		Type:               proofType,
		Cryptosuite:        proofCryptosuite,
		Created:            time.Now().UTC().Format(time.RFC3339),
		VerificationMethod: s.VerificationMethod(),
		ProofPurpose:       purpose,
	}
	canonicalOptions, err := Canonicalize(proofOptions(proof))
	if err != nil {
		return nil, err
	}
	canonicalDoc, err := Canonicalize(doc)
	if err != nil {
		return nil, err
	}
	sig := s.Sign(proofDigest(canonicalOptions, canonicalDoc))
	proof.ProofValue = "z" + base58.Encode(sig)
	return proof, nil
}

// VerifyProof checks the embedded proof of a signed document against the
// passed public key. It never returns an error for a bad document: malformed
// input yields ProofNotVerifiable, a mismatch yields ProofInvalid.
func VerifyProof(signed map[string]any, pub ed25519.PublicKey) ProofStatus {
	rawProof, ok := signed["proof"]
	if !ok || rawProof == nil {
		return ProofNotVerifiable
	}
	proofBytes, err := json.Marshal(rawProof)
	if err != nil {
		return ProofNotVerifiable
	}
	var proof Proof
	if err = json.Unmarshal(proofBytes, &proof); err != nil {
		return ProofNotVerifiable
	}
	if proof.Type != proofType || proof.Cryptosuite != proofCryptosuite || proof.ProofValue == "" {
		return ProofNotVerifiable
	}
	if len(proof.ProofValue) < 2 || proof.ProofValue[0] != 'z' {
		return ProofNotVerifiable
	}
	sig, err := base58.Decode(proof.ProofValue[1:])
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ProofNotVerifiable
	}

	doc := make(map[string]any, len(signed))
	for k, v := range signed {
		if k == "proof" {
			continue
		}
		doc[k] = v
	}
	canonicalOptions, err := Canonicalize(proofOptions(&proof))
	if err != nil {
		return ProofNotVerifiable
	}
	canonicalDoc, err := Canonicalize(doc)
	if err != nil {
		return ProofNotVerifiable
	}
	if ed25519.Verify(pub, proofDigest(canonicalOptions, canonicalDoc), sig) {
		return ProofValid
	}
	return ProofInvalid
}

// proofOptions returns the proof metadata that is bound into the signed
// digest: everything except the signature value itself.
func proofOptions(p *Proof) map[string]any {
	return map[string]any{
		"type":               p.Type,
		"cryptosuite":        p.Cryptosuite,
		"created":            p.Created,
		"verificationMethod": p.VerificationMethod,
		"proofPurpose":       p.ProofPurpose,
	}
}

func encodeEd25519Multibase(pub ed25519.PublicKey) string {
	prefixed := make([]byte, 0, len(pub)+2)
	prefixed = append(prefixed, ed25519PubMulticodecHi, ed25519PubMulticodecLo)
	prefixed = append(prefixed, pub...)
	return "z" + base58.Encode(prefixed)
}

// verifyDetached checks a raw Ed25519 signature, guarding against malformed
// key or signature sizes which would make ed25519.Verify panic.
func verifyDetached(pub []byte, digest, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
}

// DecodeEd25519Multibase extracts an Ed25519 public key from its z-base58btc
// multibase form.
func DecodeEd25519Multibase(mb string) (ed25519.PublicKey, error) {
	if len(mb) < 2 || mb[0] != 'z' {
		return nil, errors.New("not a base58btc multibase string")
	}
	raw, err := base58.Decode(mb[1:])
	if err != nil {
		return nil, errors.Wrap(err, "invalid base58btc encoding")
	}
	if len(raw) != ed25519.PublicKeySize+2 ||
		raw[0] != ed25519PubMulticodecHi || raw[1] != ed25519PubMulticodecLo {
		return nil, errors.New("not a multicodec Ed25519 public key")
	}
	return ed25519.PublicKey(raw[2:]), nil
}
