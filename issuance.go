package vericert

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/vericert/vericert/storage/model"
)

const entityTypeCertificate = "certificate"

// credentialContext is the JSON-LD context of issued credentials.
const credentialContext = "https://www.w3.org/ns/credentials/v2"

// verificationCodeLength is the fixed length of public verification codes.
const verificationCodeLength = 12

// tokenAlphabet excludes the lookalike characters 0, O, 1, I and L so codes
// survive being read aloud or retyped from print.
const tokenAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

var verificationCodePattern = regexp.MustCompile(
	fmt.Sprintf("^[%s]{%d}$", tokenAlphabet, verificationCodeLength),
)

// randomToken draws n characters from the restricted alphabet.
func randomToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "could not read randomness")
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}

// IssuerConfig identifies the issuing organization in credentials and
// controls certificate numbering and validity.
type IssuerConfig struct {
	// ID is the issuer URL embedded as issuer.id in credentials and used as
	// the base for credential and status-list identifiers.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// CertificatePrefix leads every certificate number, e.g. "VC" in
	// VC-2026-P-XXXXXXXX.
	CertificatePrefix string `yaml:"certificate_prefix"`

	// ValidityYears is the credential lifetime from issuance.
	ValidityYears int `yaml:"validity_years"`
}

// IssuanceEngine builds, signs and persists verifiable credentials for
// passing submissions, and answers public verification requests.
type IssuanceEngine struct {
	certificates model.CertificateStore
	submissions  model.SubmissionStore
	templates    model.TemplateStore
	kv           model.KeyValueStore
	signer       *Signer
	sink         AuditSink
	cache        StatusListCache
	conf         IssuerConfig
}

// NewIssuanceEngine wires the issuance engine. cache may be nil when no
// status list is served.
func NewIssuanceEngine(
	backends model.Backends, signer *Signer, sink AuditSink,
	cache StatusListCache, conf IssuerConfig,
) *IssuanceEngine {
	if conf.ValidityYears <= 0 {
		conf.ValidityYears = 3
	}
	if conf.CertificatePrefix == "" {
		conf.CertificatePrefix = "VC"
	}
	return &IssuanceEngine{
		certificates: backends.Certificates,
		submissions:  backends.Submissions,
		templates:    backends.Templates,
		kv:           backends.KV,
		signer:       signer,
		sink:         sink,
		cache:        cache,
		conf:         conf,
	}
}

// statusListURL is the public location of the status list for a year.
func (e *IssuanceEngine) statusListURL(year int) string {
	return fmt.Sprintf("%s/status-list/%d", e.conf.ID, year)
}

// buildCredential assembles the unsigned JSON-LD credential document.
func (e *IssuanceEngine) buildCredential(
	sub *model.Submission, template *model.Template, report *ScoreReport,
	certNumber string, statusListIndex int64, validFrom, validUntil time.Time,
) map[string]any {
	results := make([]any, 0, len(report.Categories))
	for _, cs := range report.Categories {
		results = append(
			results, map[string]any{
				"type":           "Result",
				"resultName":     cs.Name,
				"value":          fmt.Sprintf("%.2f", cs.Score),
				"achievedLevel":  sub.ControlGroup,
				"resultCategory": cs.Name,
			},
		)
	}
	return map[string]any{
		"@context":   []any{credentialContext},
		"id":         fmt.Sprintf("%s/credentials/%s", e.conf.ID, certNumber),
		"type":       []any{"VerifiableCredential"},
		"issuer":     map[string]any{"id": e.conf.ID, "name": e.conf.Name},
		"validFrom":  validFrom.UTC().Format(time.RFC3339),
		"validUntil": validUntil.UTC().Format(time.RFC3339),
		"credentialSubject": map[string]any{
			"id": sub.ImplementationID,
			"achievement": map[string]any{
				"type":        "Achievement",
				"name":        template.Name,
				"description": template.Description,
				"version":     strconv.Itoa(template.Version),
			},
			"result": results,
		},
		"credentialStatus": map[string]any{
			"id":                   fmt.Sprintf("%s#%d", e.statusListURL(validFrom.Year()), statusListIndex),
			"type":                 "BitstringStatusListEntry",
			"statusPurpose":        "revocation",
			"statusListIndex":      strconv.FormatInt(statusListIndex, 10),
			"statusListCredential": e.statusListURL(validFrom.Year()),
		},
	}
}

// IssueCertificate issues the credential for a passed submission exactly
// once. The per-category results in the credential are recomputed from the
// stored responses, never taken from the caller.
func (e *IssuanceEngine) IssueCertificate(submissionID uint, actor Actor) (*model.Certificate, error) {
	if e.signer == nil {
		return nil, model.UnavailableError("signing key is not configured")
	}
	sub, err := e.submissions.Get(submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.StatusPassed {
		return nil, model.InvalidStateErrorFmt(
			"cannot issue certificate for submission in status '%s'", sub.Status,
		)
	}
	if sub.CertificationResult == nil || sub.TotalScore == nil {
		return nil, model.InvalidStateError("submission carries no certification result")
	}
	template, err := e.templates.GetPublished(sub.TemplateID)
	if err != nil {
		return nil, err
	}
	report := ComputeScores(template, sub.Responses, sub.ControlGroup)

	now := time.Now().UTC()
	validUntil := now.AddDate(e.conf.ValidityYears, 0, 0)

	cert, err := e.certificates.Issue(
		submissionID, func(nextIndex int64) (*model.Certificate, error) {
			suffix, err := randomToken(8)
			if err != nil {
				return nil, err
			}
			certNumber := fmt.Sprintf("%s-%d-P-%s", e.conf.CertificatePrefix, now.Year(), suffix)
			code, err := randomToken(verificationCodeLength)
			if err != nil {
				return nil, err
			}

			doc := e.buildCredential(sub, template, report, certNumber, nextIndex, now, validUntil)
			canonical, err := Canonicalize(doc)
			if err != nil {
				return nil, err
			}
			contentHash := sha256.Sum256(canonical)

			proof, err := e.signer.CreateProof(doc, "assertionMethod")
			if err != nil {
				return nil, err
			}
			doc["proof"] = proof
			vcJSON, err := json.Marshal(doc)
			if err != nil {
				return nil, errors.Wrap(err, "credential marshal failed")
			}

			return &model.Certificate{
				CertificateNumber: certNumber,
				VerificationCode:  code,
				CertificateHash:   hex.EncodeToString(contentHash[:]),
				Signature:         proof.ProofValue,
				SigningKeyVersion: e.signer.KeyVersion(),
				VCJSON:            datatypes.JSON(vcJSON),
				ValidFrom:         now,
				ValidUntil:        validUntil,
				IssuedYear:        now.Year(),
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	e.recordInceptionYear(cert.IssuedYear)
	if e.cache != nil {
		e.cache.Invalidate(cert.IssuedYear)
	}
	if e.sink != nil {
		e.sink.Record(
			AuditEvent{
				EventType:  model.EventCertificateIssued,
				Action:     model.ActionIssue,
				EntityType: entityTypeCertificate,
				EntityID:   fmt.Sprintf("%d", cert.ID),
				EntityName: cert.CertificateNumber,
				Actor:      actor,
				New: map[string]any{
					"certificate_number": cert.CertificateNumber,
					"submission_id":      cert.SubmissionID,
					"status_list_index":  cert.StatusListIndex,
					"valid_until":        cert.ValidUntil,
				},
			},
		)
	}
	return cert, nil
}

// recordInceptionYear stores the first issuance year; the status list uses
// it as the lower bound of servable years.
func (e *IssuanceEngine) recordInceptionYear(year int) {
	if e.kv == nil {
		return
	}
	var existing int
	found, err := e.kv.GetAs(model.KeyValueScopeSigning, model.KeyValueKeyInceptionYear, &existing)
	if err != nil {
		log.WithError(err).Error("could not read inception year")
		return
	}
	if found && existing <= year {
		return
	}
	if err = e.kv.SetAny(model.KeyValueScopeSigning, model.KeyValueKeyInceptionYear, year); err != nil {
		log.WithError(err).Error("could not store inception year")
	}
}

// Revoke marks a certificate revoked and drops the cached status list of its
// issuance year so the next fetch reflects the revocation.
func (e *IssuanceEngine) Revoke(certificateID uint, reason, revokerID string, actor Actor) (*model.Certificate, error) {
	cert, err := e.certificates.Revoke(certificateID, reason, revokerID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Invalidate(cert.IssuedYear)
	}
	if e.sink != nil {
		e.sink.Record(
			AuditEvent{
				EventType:  model.EventCertificateRevoked,
				Action:     model.ActionRevoke,
				EntityType: entityTypeCertificate,
				EntityID:   fmt.Sprintf("%d", cert.ID),
				EntityName: cert.CertificateNumber,
				Actor:      actor,
				Old:        map[string]any{"is_revoked": false},
				New: map[string]any{
					"is_revoked":        true,
					"revocation_reason": reason,
					"revoked_by":        revokerID,
				},
			},
		)
	}
	return cert, nil
}

// Verification check names.
const (
	CheckFound      = "found"
	CheckNotExpired = "not_expired"
	CheckNotRevoked = "not_revoked"
	CheckSignature  = "signature"
	CheckContent    = "content_hash"
)

// VerificationCheck is the outcome of one individual verification step.
type VerificationCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// VerificationResult is the structured answer to a public verification
// request. Valid is true only when every check passed.
type VerificationResult struct {
	Valid             bool                `json:"valid"`
	CertificateNumber string              `json:"certificate_number,omitempty"`
	ValidUntil        *time.Time          `json:"valid_until,omitempty"`
	Checks            []VerificationCheck `json:"checks"`
}

func (r *VerificationResult) add(name string, passed bool, detail string) {
	r.Checks = append(r.Checks, VerificationCheck{Name: name, Passed: passed, Detail: detail})
	if !passed {
		r.Valid = false
	}
}

// Verify answers a public verification request for the passed verification
// code. Malformed codes are rejected before any store round-trip; for
// well-formed codes every individual check outcome is reported so a failure
// can be explained precisely. Internal errors degrade single checks instead
// of failing the request.
func (e *IssuanceEngine) Verify(code string, actor Actor) (*VerificationResult, error) {
	if !verificationCodePattern.MatchString(code) {
		return nil, model.ValidationError("malformed verification code")
	}
	result := &VerificationResult{Valid: true}
	cert, err := e.certificates.ByVerificationCode(code)
	if err != nil {
		var notFound model.NotFoundError
		if errors.As(err, &notFound) {
			result.add(CheckFound, false, "no certificate with this code")
			e.auditVerification(code, result, actor)
			return result, nil
		}
		return nil, err
	}
	result.add(CheckFound, true, "")
	result.CertificateNumber = cert.CertificateNumber
	result.ValidUntil = &cert.ValidUntil

	now := time.Now()
	expired := now.Before(cert.ValidFrom) || now.After(cert.ValidUntil)
	if expired {
		result.add(CheckNotExpired, false, "certificate is outside its validity window")
	} else {
		result.add(CheckNotExpired, true, "")
	}
	if cert.IsRevoked {
		detail := "certificate has been revoked"
		if cert.RevocationReason != nil {
			detail = "revoked: " + *cert.RevocationReason
		}
		result.add(CheckNotRevoked, false, detail)
	} else {
		result.add(CheckNotRevoked, true, "")
	}

	e.verifyCredentialDocument(cert, result)
	e.auditVerification(code, result, actor)
	return result, nil
}

// verifyCredentialDocument re-verifies the stored credential's proof and
// content hash independently of the issuance-time values.
func (e *IssuanceEngine) verifyCredentialDocument(cert *model.Certificate, result *VerificationResult) {
	var doc map[string]any
	if err := json.Unmarshal(cert.VCJSON, &doc); err != nil {
		result.add(CheckSignature, false, "stored credential is unreadable")
		result.add(CheckContent, false, "stored credential is unreadable")
		return
	}

	if e.signer == nil {
		result.add(CheckSignature, false, "no verification key configured")
	} else {
		switch VerifyProof(doc, e.signer.PublicKey()) {
		case ProofValid:
			result.add(CheckSignature, true, "")
		case ProofInvalid:
			result.add(CheckSignature, false, "credential signature does not verify")
		default:
			result.add(CheckSignature, false, "credential proof is not verifiable")
		}
	}

	unsigned := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "proof" {
			continue
		}
		unsigned[k] = v
	}
	canonical, err := Canonicalize(unsigned)
	if err != nil {
		result.add(CheckContent, false, "credential canonicalization failed")
		return
	}
	sum := sha256.Sum256(canonical)
	if hex.EncodeToString(sum[:]) == cert.CertificateHash {
		result.add(CheckContent, true, "")
	} else {
		result.add(CheckContent, false, "credential content does not match stored hash")
	}
}

func (e *IssuanceEngine) auditVerification(code string, result *VerificationResult, actor Actor) {
	if e.sink == nil {
		return
	}
	failed := make([]string, 0)
	for _, check := range result.Checks {
		if !check.Passed {
			failed = append(failed, check.Name)
		}
	}
	e.sink.Record(
		AuditEvent{
			EventType:  model.EventCertificateVerified,
			Action:     model.ActionVerify,
			EntityType: entityTypeCertificate,
			EntityID:   code,
			EntityName: result.CertificateNumber,
			Actor:      actor,
			New: map[string]any{
				"valid":         result.Valid,
				"failed_checks": failed,
			},
		},
	)
}

// VerifyByNumber looks a certificate up by its printed number and runs the
// same checks as Verify. Like code lookups, a miss is still an audited
// verification attempt.
func (e *IssuanceEngine) VerifyByNumber(number string, actor Actor) (*VerificationResult, error) {
	cert, err := e.certificates.ByNumber(number)
	if err != nil {
		var notFound model.NotFoundError
		if errors.As(err, &notFound) {
			result := &VerificationResult{}
			result.add(CheckFound, false, "no certificate with this number")
			e.auditVerification(number, result, actor)
			return result, nil
		}
		return nil, err
	}
	return e.Verify(cert.VerificationCode, actor)
}
