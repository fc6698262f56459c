package vericert

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vericert/vericert/storage/model"
)

// minStatusListBits is the minimum bitstring size. The W3C status-list
// format mandates at least 16KB of bits so a single list never narrows a
// holder down to a handful of credentials.
const minStatusListBits = 131072

// StatusListService produces the per-year revocation bitstring credentials
// consumed by credential verifiers.
type StatusListService struct {
	certificates model.CertificateStore
	kv           model.KeyValueStore
	signer       *Signer
	cache        StatusListCache
	issuer       IssuerConfig
}

// NewStatusListService wires the status-list service. cache must be the same
// instance the issuance engine invalidates on revocation.
func NewStatusListService(
	backends model.Backends, signer *Signer, cache StatusListCache, issuer IssuerConfig,
) *StatusListService {
	return &StatusListService{
		certificates: backends.Certificates,
		kv:           backends.KV,
		signer:       signer,
		cache:        cache,
		issuer:       issuer,
	}
}

// inceptionYear returns the first year certificates were issued. Before any
// issuance the current year is the only servable one.
func (s *StatusListService) inceptionYear() int {
	current := time.Now().Year()
	if s.kv == nil {
		return current
	}
	var year int
	found, err := s.kv.GetAs(model.KeyValueScopeSigning, model.KeyValueKeyInceptionYear, &year)
	if err != nil {
		log.WithError(err).Error("could not read inception year")
		return current
	}
	if !found || year > current {
		return current
	}
	return year
}

// YearInBounds reports whether a status list may be served for the passed
// year: nothing before the first issuance, nothing more than one year ahead.
func (s *StatusListService) YearInBounds(year int) bool {
	return year >= s.inceptionYear() && year <= time.Now().Year()+1
}

// encodeBitstring gzips the bitstring and wraps it in the multibase
// base64url-nopad form the credential format expects.
func encodeBitstring(bits []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(bits); err != nil {
		return "", errors.Wrap(err, "status list: compression failed")
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "status list: compression failed")
	}
	return "u" + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// buildBitstring sets one bit per revoked certificate at its status-list
// index. Indices come from the global allocation sequence, so the string is
// sized to the year's highest index and positions belonging to other years
// simply stay zero.
func buildBitstring(certs []model.Certificate) []byte {
	size := minStatusListBits
	for _, cert := range certs {
		if needed := int(cert.StatusListIndex) + 1; needed > size {
			size = needed
		}
	}
	bits := make([]byte, (size+7)/8)
	for _, cert := range certs {
		if !cert.IsRevoked {
			continue
		}
		i := cert.StatusListIndex
		bits[i>>3] |= 1 << (7 - uint(i&7))
	}
	return bits
}

// Generate builds and signs the status-list credential for a year, without
// touching the cache.
func (s *StatusListService) Generate(year int) (*CachedStatusList, error) {
	if !s.YearInBounds(year) {
		return nil, model.NotFoundErrorFmt("no status list for year %d", year)
	}
	certs, err := s.certificates.ListByYear(year)
	if err != nil {
		return nil, err
	}
	encodedList, err := encodeBitstring(buildBitstring(certs))
	if err != nil {
		return nil, err
	}

	listURL := fmt.Sprintf("%s/status-list/%d", s.issuer.ID, year)
	doc := map[string]any{
		"@context":  []any{credentialContext},
		"id":        listURL,
		"type":      []any{"VerifiableCredential", "BitstringStatusListCredential"},
		"issuer":    map[string]any{"id": s.issuer.ID, "name": s.issuer.Name},
		"validFrom": time.Now().UTC().Format(time.RFC3339),
		"credentialSubject": map[string]any{
			"id":            listURL + "#list",
			"type":          "BitstringStatusList",
			"statusPurpose": "revocation",
			"encodedList":   encodedList,
		},
	}
	if s.signer != nil {
		proof, err := s.signer.CreateProof(doc, "assertionMethod")
		if err != nil {
			return nil, err
		}
		doc["proof"] = proof
	}
	credential, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "status list: credential marshal failed")
	}

	// The ETag derives from the bitstring content, not the envelope, so it
	// only changes when a revocation status actually changed.
	sum := sha256.Sum256([]byte(encodedList))
	return &CachedStatusList{
		Credential:  credential,
		ETag:        `"` + hex.EncodeToString(sum[:16]) + `"`,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// addStatusListEndpoint mounts the public status-list endpoint. Responses
// carry a content ETag; a conditional fetch with a matching If-None-Match
// short-circuits to 304.
func (v *VeriCert) addStatusListEndpoint() {
	v.server.Get(
		"/status-list/:year", func(ctx *fiber.Ctx) error {
			year, err := ctx.ParamsInt("year")
			if err != nil {
				ctx.Status(fiber.StatusNotFound)
				return ctx.JSON(apiError{Error: "not_found", Description: "invalid year"})
			}
			entry, err := v.StatusList.Get(year)
			if err != nil {
				status, body := ErrorResponse(err)
				return ctx.Status(status).JSON(body)
			}
			ctx.Set(fiber.HeaderETag, entry.ETag)
			ctx.Set(fiber.HeaderCacheControl, "max-age=300, public")
			if match := ctx.Get(fiber.HeaderIfNoneMatch); match == entry.ETag {
				return ctx.SendStatus(fiber.StatusNotModified)
			}
			ctx.Set(fiber.HeaderContentType, "application/vc+ld+json")
			return ctx.Send(entry.Credential)
		},
	)
}

// Get returns the status list for a year, serving from cache when possible.
// Cache failures fall through to regeneration.
func (s *StatusListService) Get(year int) (*CachedStatusList, error) {
	if !s.YearInBounds(year) {
		return nil, model.NotFoundErrorFmt("no status list for year %d", year)
	}
	if s.cache != nil {
		entry, err := s.cache.Get(year)
		if err != nil {
			log.WithError(err).WithField("year", year).Error("status list cache read failed")
		} else if entry != nil {
			return entry, nil
		}
	}
	entry, err := s.Generate(year)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err = s.cache.Set(year, entry); err != nil {
			log.WithError(err).WithField("year", year).Error("status list cache write failed")
		}
	}
	return entry, nil
}
