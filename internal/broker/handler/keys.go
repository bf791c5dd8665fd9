package handler

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aspect-build/attestkit/internal/broker/db"
	"github.com/aspect-build/attestkit/internal/crypto"
)

// DefaultKeyLen is the size of generated keys.
const DefaultKeyLen = 32

// maxKeyLen bounds imported keys.
const maxKeyLen = 1024

type createKeyRequest struct {
	// Key is optional base64 key material; omitted means generate.
	Key   string `json:"key"`
	Label string `json:"label"`
}

// HandleCreateKey handles POST /kbs/v1/keys.
func HandleCreateKey(store *db.Store, masterKey [crypto.MasterKeyLen]byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createKeyRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		var material []byte
		if req.Key != "" {
			var err error
			material, err = base64.StdEncoding.DecodeString(req.Key)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "key must be standard base64"})
				return
			}
			if len(material) == 0 || len(material) > maxKeyLen {
				c.JSON(http.StatusBadRequest, gin.H{"error": "key must be 1 to 1024 bytes"})
				return
			}
		} else {
			material = make([]byte, DefaultKeyLen)
			if _, err := rand.Read(material); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate key"})
				return
			}
		}
		defer clear(material)

		id := uuid.New().String()
		sealed, err := crypto.SealAtRest(masterKey, material, []byte(id))
		if err != nil {
			log.Printf("SealAtRest error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encryption failed"})
			return
		}

		k := &db.Key{ID: id, KeyEncrypted: sealed, Length: len(material), Label: req.Label}
		if err := store.CreateKey(k); err != nil {
			if errors.Is(err, db.ErrKeyDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": "key already exists"})
				return
			}
			log.Printf("CreateKey error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store key"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"id": id, "length": len(material), "status": "created"})
	}
}

// HandleListKeys handles GET /kbs/v1/keys.
func HandleListKeys(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := store.ListKeys()
		if err != nil {
			log.Printf("ListKeys error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list keys"})
			return
		}
		if keys == nil {
			keys = []db.Key{}
		}
		c.JSON(http.StatusOK, keys)
	}
}

// HandleDeleteKey handles DELETE /kbs/v1/keys/:id.
func HandleDeleteKey(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := keyIDParam(c)
		if !ok {
			return
		}
		deleted, err := store.DeleteKey(id)
		if err != nil {
			log.Printf("DeleteKey(%q) error: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete key"})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
	}
}

// keyIDParam returns the canonical form of the :id path parameter, or
// writes a 400 and returns false.
func keyIDParam(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key id must be a UUID"})
		return "", false
	}
	return id.String(), true
}
