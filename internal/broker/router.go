package broker

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/attestkit/internal/attestation"
	"github.com/aspect-build/attestkit/internal/broker/db"
	"github.com/aspect-build/attestkit/internal/broker/handler"
	"github.com/aspect-build/attestkit/internal/logx"
)

// NewVerifier builds the quote verifier selected by cfg.QuoteVerifier.
func NewVerifier(cfg *Config) *attestation.QuoteVerifier {
	if cfg.QuoteVerifier == VerifierInsecure {
		logx.Warnf("quote verification is disabled (KBS_DEV_QUOTE_VERIFIER=%s); every well-formed quote is accepted", VerifierInsecure)
		return attestation.NewQuoteVerifier(&attestation.FakeBackend{})
	}
	return attestation.NewQuoteVerifier(attestation.NewDCAPBackend(nil))
}

// NewRouter wires the key broker routes.
func NewRouter(store *db.Store, cfg *Config, verifier *attestation.QuoteVerifier) *gin.Engine {
	r := gin.Default()

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	admin := AdminAuth(cfg.AdminToken)
	policy := attestation.WarningPolicy{AllowWarnings: cfg.AllowWarnings}

	v1 := r.Group("/kbs/v1")
	{
		v1.POST("/keys", admin, handler.HandleCreateKey(store, cfg.MasterKey))
		v1.GET("/keys", admin, handler.HandleListKeys(store))
		v1.DELETE("/keys/:id", admin, handler.HandleDeleteKey(store))

		// Attested release; the quote is the credential.
		v1.POST("/keys/:id/transfer", handler.HandleTransfer(store, cfg.MasterKey, verifier, policy))
	}

	return r
}
