package main

import (
	"os"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	vericert "github.com/vericert/vericert"
	"github.com/vericert/vericert/api/adminapi"
	"github.com/vericert/vericert/cmd/vericert/config"
	"github.com/vericert/vericert/internal/geo"
	"github.com/vericert/vericert/internal/logger"
	"github.com/vericert/vericert/internal/version"
)

func main() {
	var configFile string
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}
	config.Load(configFile)
	c := config.Get()
	logger.Init(c.Logging.Internal)
	log.WithField("version", version.VERSION).Info("Loaded Config")

	signer, err := vericert.LoadSigner(
		c.Signing.KeyFile, c.Signing.KeyVersion, c.Signing.AutoGenerateKeys,
	)
	if err != nil {
		log.WithError(err).Fatal("could not load signing key")
	}
	log.Info("Loaded signing key")

	backends, err := config.LoadStorageBackends(c.Storage)
	if err != nil {
		log.WithError(err).Fatal("could not load storage backends")
	}

	var cache vericert.StatusListCache
	if !c.Caching.Disabled {
		if redisAddr := c.Caching.RedisAddr; redisAddr != "" {
			cache, err = vericert.NewRedisStatusListCache(
				&redis.Options{
					Addr:     redisAddr,
					Username: c.Caching.Username,
					Password: c.Caching.Password,
					DB:       c.Caching.RedisDB,
				}, c.Caching.MaxLifetime.Duration(),
			)
			if err != nil {
				log.WithError(err).Fatal("could not init redis cache")
			}
			log.Info("Loaded Redis Cache")
		} else {
			cache = vericert.NewMemoryStatusListCache(c.Caching.MaxLifetime.Duration())
		}
	}

	var geoResolver vericert.GeoResolver
	if c.Issuer.GeoIPDB != "" {
		resolver, err := geo.NewResolver(c.Issuer.GeoIPDB)
		if err != nil {
			log.WithError(err).Fatal("could not open geoip database")
		}
		defer resolver.Close()
		geoResolver = resolver
	}

	v, err := vericert.NewVeriCert(
		vericert.Config{
			Server:    c.Server,
			Issuer:    c.Issuer.IssuerConfig,
			Retention: &c.Retention.RetentionPolicy,
			Cache:     cache,
			Geo:       geoResolver,
		}, signer, backends,
	)
	if err != nil {
		log.WithError(err).Fatal("could not init service")
	}
	log.Info("Initialized Service")

	if c.API.Admin.Enabled {
		adminapi.Register(
			v.Server().Group("/api/v1/admin"), v, backends,
			&adminapi.Options{UsersEnabled: c.API.Admin.UsersEnabled},
		)
		log.Info("Registered admin API")
	}

	if interval := c.Retention.SweepInterval.Duration(); interval > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go v.Retention.RunPeriodic(interval, c.Retention.SweepBatch, stop)
		log.WithField("interval", interval).Info("Started periodic retention sweep")
	}

	v.Start()
}
