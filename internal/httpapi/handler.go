package httpapi

import (
	"net/http"
	"net/netip"

	"github.com/MrEthical07/authbroker"
	"github.com/MrEthical07/authbroker/internal/logger"
	"github.com/MrEthical07/authbroker/metrics/export/prometheus"
)

// Handler serves the authentication routes for one engine.
type Handler struct {
	engine        *authbroker.Engine
	logger        *logger.Logger
	secureCookies bool
	metrics       http.Handler

	// trustedProxies may set the client ip through X-Forwarded-For.
	trustedProxies []netip.Prefix
}

func NewHandler(engine *authbroker.Engine, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	httpCfg := engine.Config().HTTP
	trusted, err := httpCfg.TrustedProxyPrefixes()
	if err != nil {
		log.Warn().Err(err).Msg("trusted proxies ignored")
		trusted = nil
	}
	log.Info().Int("trusted_proxies", len(trusted)).Msg("http handler created")
	return &Handler{
		engine:         engine,
		logger:         log,
		secureCookies:  httpCfg.SecureCookies,
		metrics:        prometheus.NewExporter(engine).Handler(),
		trustedProxies: trusted,
	}
}
