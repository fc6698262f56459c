package vericert

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vericert/vericert/storage/model"
)

// EndpointConf is a type for configuring an endpoint with an internal and external path
type EndpointConf struct {
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
}

// IsSet returns a bool indicating if this endpoint was configured or not
func (c EndpointConf) IsSet() bool {
	return c.Path != "" || c.URL != ""
}

// ValidateURL validates that an external URL is set,
// and if not prefixes the internal path with the passed rootURL and sets it
// at the external url
func (c *EndpointConf) ValidateURL(rootURL string) string {
	if c.URL == "" {
		c.URL, _ = url.JoinPath(rootURL, c.Path)
	}
	return c.URL
}

// FiberServerConfig is the fiber.Config that is used to init the http fiber.App
var FiberServerConfig = fiber.Config{
	ReadTimeout:    3 * time.Second,
	WriteTimeout:   20 * time.Second,
	IdleTimeout:    150 * time.Second,
	ReadBufferSize: 8192,
	ErrorHandler:   handleError,
	Network:        "tcp",
}

// apiError is the error body returned by all endpoints.
type apiError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// ErrorResponse maps a service error to an http status and error body.
func ErrorResponse(err error) (int, apiError) {
	var (
		notFound     model.NotFoundError
		conflict     model.AlreadyExistsError
		invalidState model.InvalidStateError
		validation   model.ValidationError
		integrity    model.IntegrityError
		unavailable  model.UnavailableError
	)
	switch {
	case errors.As(err, &notFound):
		return fiber.StatusNotFound, apiError{Error: "not_found", Description: err.Error()}
	case errors.As(err, &conflict):
		return fiber.StatusConflict, apiError{Error: "conflict", Description: err.Error()}
	case errors.As(err, &invalidState):
		return fiber.StatusConflict, apiError{Error: "invalid_state", Description: err.Error()}
	case errors.As(err, &validation):
		return fiber.StatusBadRequest, apiError{Error: "invalid_request", Description: err.Error()}
	case errors.As(err, &integrity):
		return fiber.StatusInternalServerError, apiError{Error: "integrity_failure", Description: err.Error()}
	case errors.As(err, &unavailable):
		return fiber.StatusServiceUnavailable, apiError{Error: "unavailable", Description: err.Error()}
	default:
		return fiber.StatusInternalServerError, apiError{Error: "server_error", Description: err.Error()}
	}
}

func handleError(ctx *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return ctx.Status(fiberErr.Code).JSON(apiError{Error: http.StatusText(fiberErr.Code)})
	}
	status, body := ErrorResponse(err)
	if status == fiber.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	return ctx.Status(status).JSON(body)
}

// VeriCert is the assembled certification service: workflow, ledger,
// issuance and status list sharing one storage and one signing key.
type VeriCert struct {
	Ledger     *AuditLedger
	Workflow   *Workflow
	Issuer     *IssuanceEngine
	StatusList *StatusListService
	Retention  *RetentionService

	signer     *Signer
	server     *fiber.App
	serverConf ServerConf
}

// Config groups everything NewVeriCert needs beyond the storage backends.
type Config struct {
	Server    ServerConf
	Issuer    IssuerConfig
	Retention *RetentionPolicy
	Cache     StatusListCache
	Geo       GeoResolver
}

// NewVeriCert wires all services and mounts the public endpoints. The admin
// API is registered separately so the caller controls where it is exposed.
func NewVeriCert(conf Config, signer *Signer, backends model.Backends) (*VeriCert, error) {
	if conf.Issuer.ID == "" {
		return nil, errors.New("issuer id must be configured")
	}
	if conf.Retention == nil {
		conf.Retention = DefaultRetentionPolicy()
	}
	if conf.Cache == nil {
		conf.Cache = NewMemoryStatusListCache(0)
	}

	if tps := conf.Server.TrustedProxies; len(tps) > 0 {
		FiberServerConfig.TrustedProxies = tps
		FiberServerConfig.EnableTrustedProxyCheck = true
	}
	FiberServerConfig.ProxyHeader = conf.Server.ForwardedIPHeader
	server := fiber.New(FiberServerConfig)
	server.Use(recover.New())
	server.Use(compress.New())
	server.Use(logger.New())
	server.Use(requestid.New())

	ledger := NewAuditLedger(backends.Audit, backends.KV, signer, conf.Geo, conf.Retention)
	issuer := NewIssuanceEngine(backends, signer, ledger, conf.Cache, conf.Issuer)
	v := &VeriCert{
		Ledger:     ledger,
		Workflow:   NewWorkflow(backends.Submissions, backends.Templates, ledger, issuer),
		Issuer:     issuer,
		StatusList: NewStatusListService(backends, signer, conf.Cache, conf.Issuer),
		Retention:  NewRetentionService(backends.Audit, backends.KV, conf.Retention),
		signer:     signer,
		server:     server,
		serverConf: conf.Server,
	}
	v.addStatusListEndpoint()
	v.addVerificationEndpoint()
	v.addJWKSEndpoint()
	return v, nil
}

// Server exposes the underlying fiber app so callers can mount additional
// routes, e.g. the admin API.
func (v *VeriCert) Server() *fiber.App {
	return v.server
}

// Signer returns the configured signing key handle.
func (v *VeriCert) Signer() *Signer {
	return v.signer
}

// HttpHandlerFunc returns an http.HandlerFunc for serving all the necessary endpoints
func (v *VeriCert) HttpHandlerFunc() http.HandlerFunc {
	return adaptor.FiberApp(v.server)
}

// Listen starts an http server at the specific address for serving all the
// necessary endpoints
func (v *VeriCert) Listen(addr string) error {
	return v.server.Listen(addr)
}

// Start runs the server according to its ServerConf, blocking forever.
func (v *VeriCert) Start() {
	conf := v.serverConf
	if !conf.TLS.Enabled {
		log.WithField("port", conf.Port).Info("TLS is disabled starting http server")
		log.WithError(v.server.Listen(fmt.Sprintf(":%d", conf.Port))).Fatal()
	}
	if conf.TLS.RedirectHTTP {
		httpServer := fiber.New(FiberServerConfig)
		httpServer.All(
			"*", func(ctx *fiber.Ctx) error {
				return ctx.Redirect(
					strings.Replace(ctx.Request().URI().String(), "http://", "https://", 1),
					fiber.StatusPermanentRedirect,
				)
			},
		)
		log.Info("TLS and http redirect enabled, starting redirect server on port 80")
		go func() {
			log.WithError(httpServer.Listen(":80")).Fatal()
		}()
	}
	log.Info("TLS enabled, starting https server on port 443")
	log.WithError(v.server.ListenTLS(":443", conf.TLS.Cert, conf.TLS.Key)).Fatal()
}
