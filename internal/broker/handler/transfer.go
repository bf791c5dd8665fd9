package handler

import (
	"crypto/rsa"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/attestkit/internal/attestation"
	"github.com/aspect-build/attestkit/internal/broker/db"
	"github.com/aspect-build/attestkit/internal/crypto"
	"github.com/aspect-build/attestkit/internal/logx"
)

type transferRequest struct {
	Quote       string `json:"quote" binding:"required"`
	UserData    string `json:"user_data" binding:"required"`
	SignedNonce string `json:"signed_nonce"`
	EventLog    string `json:"event_log"`
}

type transferResponse struct {
	WrappedKey string `json:"wrapped_key"`
	WrappedSWK string `json:"wrapped_swk"`
}

// HandleTransfer handles POST /kbs/v1/keys/:id/transfer. The key is released
// only to the RSA public key whose SHA-512 sits in the report data of a quote
// that passes verification under policy.
func HandleTransfer(store *db.Store, masterKey [crypto.MasterKeyLen]byte, verifier *attestation.QuoteVerifier, policy attestation.WarningPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := keyIDParam(c)
		if !ok {
			return
		}

		var req transferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		quote, err := base64.StdEncoding.DecodeString(req.Quote)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quote must be standard base64"})
			return
		}
		userData, err := base64.StdEncoding.DecodeString(req.UserData)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_data must be standard base64"})
			return
		}
		reportData, err := attestation.ReportData(quote)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pub, err := parseRSAPublicKey(userData)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_data must be a DER RSA public key"})
			return
		}

		k, err := store.GetKey(id)
		if err != nil {
			log.Printf("GetKey(%q) error: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if k == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}

		outcome, err := verifier.Verify(c.Request.Context(), quote)
		if err != nil {
			logx.Errorf("transfer %s: quote verification unavailable: %v", id, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "quote verification unavailable"})
			return
		}
		if err := outcome.Check(policy); err != nil {
			logx.Warnf("transfer %s refused: %v", id, err)
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}

		digest := sha512.Sum512(userData)
		if subtle.ConstantTimeCompare(reportData[:], digest[:]) != 1 {
			logx.Warnf("transfer %s refused: report data does not bind user_data", id)
			c.JSON(http.StatusForbidden, gin.H{"error": "report data does not match SHA-512 of user_data"})
			return
		}

		plaintext, err := crypto.OpenAtRest(masterKey, k.KeyEncrypted, []byte(k.ID))
		if err != nil {
			log.Printf("OpenAtRest(%q) error: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "decryption failed"})
			return
		}
		wrappedKey, wrappedSWK, err := crypto.WrapSecret(pub, plaintext)
		clear(plaintext)
		if err != nil {
			log.Printf("WrapSecret(%q) error: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "wrapping failed"})
			return
		}

		if err := store.RecordTransfer(id); err != nil {
			log.Printf("RecordTransfer(%q) error: %v", id, err)
		}
		logx.Infof("transfer %s released (%s)", id, outcome)

		c.JSON(http.StatusOK, transferResponse{
			WrappedKey: base64.StdEncoding.EncodeToString(wrappedKey),
			WrappedSWK: base64.StdEncoding.EncodeToString(wrappedSWK),
		})
	}
}

func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, x509.ErrUnsupportedAlgorithm
	}
	return rsaPub, nil
}
