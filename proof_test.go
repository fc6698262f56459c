package vericert

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc() map[string]any {
	return map[string]any{
		"@context": []any{credentialContext},
		"id":       "https://certs.example.org/credentials/VC-2026-P-ABCDEFGH",
		"type":     []any{"VerifiableCredential"},
		"credentialSubject": map[string]any{
			"id": "impl-42",
		},
	}
}

func signedTestDoc(t *testing.T, signer *Signer) map[string]any {
	t.Helper()
	doc := testDoc()
	proof, err := signer.CreateProof(doc, "assertionMethod")
	require.NoError(t, err)
	signed := testDoc()
	signed["proof"] = map[string]any{
		"type":               proof.Type,
		"cryptosuite":        proof.Cryptosuite,
		"created":            proof.Created,
		"verificationMethod": proof.VerificationMethod,
		"proofPurpose":       proof.ProofPurpose,
		"proofValue":         proof.ProofValue,
	}
	return signed
}

func TestCreateProofAndVerify(t *testing.T) {
	signer := newTestSigner(t)
	signed := signedTestDoc(t, signer)
	assert.Equal(t, ProofValid, VerifyProof(signed, signer.PublicKey()))
}

func TestVerifyProofDetectsTamperedDocument(t *testing.T) {
	signer := newTestSigner(t)
	signed := signedTestDoc(t, signer)
	signed["credentialSubject"] = map[string]any{"id": "impl-43"}
	assert.Equal(t, ProofInvalid, VerifyProof(signed, signer.PublicKey()))
}

func TestVerifyProofDetectsTamperedOptions(t *testing.T) {
	signer := newTestSigner(t)
	signed := signedTestDoc(t, signer)
	proof := signed["proof"].(map[string]any)
	proof["created"] = "2001-01-01T00:00:00Z"
	assert.Equal(t, ProofInvalid, VerifyProof(signed, signer.PublicKey()))
}

func TestVerifyProofWrongKey(t *testing.T) {
	signer := newTestSigner(t)
	other := newTestSigner(t)
	signed := signedTestDoc(t, signer)
	assert.Equal(t, ProofInvalid, VerifyProof(signed, other.PublicKey()))
}

func TestVerifyProofMissingProof(t *testing.T) {
	signer := newTestSigner(t)
	assert.Equal(t, ProofNotVerifiable, VerifyProof(testDoc(), signer.PublicKey()))
}

func TestVerifyProofMalformedProof(t *testing.T) {
	signer := newTestSigner(t)
	for name, proof := range map[string]any{
		"wrong type":        map[string]any{"type": "Ed25519Signature2020", "cryptosuite": proofCryptosuite, "proofValue": "zabc"},
		"empty value":       map[string]any{"type": proofType, "cryptosuite": proofCryptosuite, "proofValue": ""},
		"no multibase":      map[string]any{"type": proofType, "cryptosuite": proofCryptosuite, "proofValue": "abc"},
		"bad base58":        map[string]any{"type": proofType, "cryptosuite": proofCryptosuite, "proofValue": "z0OIl"},
		"truncated sig":     map[string]any{"type": proofType, "cryptosuite": proofCryptosuite, "proofValue": "z2"},
		"not an object":     "proof",
		"wrong cryptosuite": map[string]any{"type": proofType, "cryptosuite": "eddsa-rdfc-2022", "proofValue": "zabc"},
	} {
		doc := testDoc()
		doc["proof"] = proof
		assert.Equalf(t, ProofNotVerifiable, VerifyProof(doc, signer.PublicKey()), "case %s", name)
	}
}

func TestCreateProofRejectsExistingProof(t *testing.T) {
	signer := newTestSigner(t)
	doc := testDoc()
	doc["proof"] = map[string]any{}
	_, err := signer.CreateProof(doc, "assertionMethod")
	assert.Error(t, err)
}

func TestCreateProofWithoutKey(t *testing.T) {
	var signer *Signer
	_, err := signer.CreateProof(testDoc(), "assertionMethod")
	assert.Error(t, err)
}

func TestPublicKeyMultibaseRoundtrip(t *testing.T) {
	signer := newTestSigner(t)
	mb := signer.PublicKeyMultibase()
	require.True(t, len(mb) > 1)
	assert.Equal(t, byte('z'), mb[0])

	pub, err := DecodeEd25519Multibase(mb)
	require.NoError(t, err)
	assert.Equal(t, []byte(signer.PublicKey()), []byte(pub))
}

func TestDecodeEd25519MultibaseRejectsGarbage(t *testing.T) {
	for _, mb := range []string{"", "z", "abc", "z0OIl", "zaaaa"} {
		_, err := DecodeEd25519Multibase(mb)
		assert.Errorf(t, err, "input %q", mb)
	}
}

func TestVerificationMethodUsesDIDKey(t *testing.T) {
	signer := newTestSigner(t)
	mb := signer.PublicKeyMultibase()
	assert.Equal(t, "did:key:"+mb+"#"+mb, signer.VerificationMethod())
}

func TestLoadSignerGeneratesAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.jwk")

	generated, err := LoadSigner(path, 2, true)
	require.NoError(t, err)
	require.NotNil(t, generated)
	assert.Equal(t, 2, generated.KeyVersion())

	reloaded, err := LoadSigner(path, 2, false)
	require.NoError(t, err)
	assert.Equal(t, generated.PublicKeyMultibase(), reloaded.PublicKeyMultibase())
}

func TestLoadSignerMissingWithoutGenerate(t *testing.T) {
	_, err := LoadSigner(filepath.Join(t.TempDir(), "nope.jwk"), 1, false)
	assert.Error(t, err)
}
