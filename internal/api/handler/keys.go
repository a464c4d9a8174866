package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/mailmind/internal/api/middleware"
	"github.com/kiranshivaraju/mailmind/internal/api/response"
	"github.com/kiranshivaraju/mailmind/internal/store"
	"github.com/kiranshivaraju/mailmind/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix starts every raw API key.
const KeyPrefix = "mm_"

// Scopes an API key may hold.
const (
	ScopeRead  = mw.ScopeRead
	ScopeWrite = mw.ScopeWrite
	ScopeAdmin = mw.ScopeAdmin
)

var validScopes = []string{ScopeRead, ScopeWrite, ScopeAdmin}

// KeyStore is the API key part of the store.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// GenerateKey returns a new raw key for username and its stored form. The
// raw key is never persisted.
func GenerateKey(name, username string, scopes []string) (string, *models.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	raw := KeyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		Username:  username,
		KeyHash:   string(hash),
		KeyPrefix: raw[:8],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type createdKey struct {
	Key    string         `json:"key"`
	APIKey *models.APIKey `json:"api_key"`
}

// NewCreateKeyHandler handles POST /api/v1/admin/keys.
func NewCreateKeyHandler(ks KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string   `json:"name"`
			Username string   `json:"username"`
			Scopes   []string `json:"scopes"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			badRequest(w, "name is required")
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{ScopeRead, ScopeWrite}
		}
		for _, s := range req.Scopes {
			if !slices.Contains(validScopes, s) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					fmt.Sprintf("unknown scope %q", s), map[string]any{"valid_scopes": validScopes})
				return
			}
		}

		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" && !slices.Contains(req.Scopes, ScopeAdmin) {
			badRequest(w, "username is required for keys without the admin scope")
			return
		}

		raw, key, err := GenerateKey(req.Name, req.Username, req.Scopes)
		if err != nil {
			writeError(w, r, err, "Failed to create API key")
			return
		}
		if err := ks.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "Key collision, please retry", nil)
				return
			}
			writeError(w, r, err, "Failed to create API key")
			return
		}
		response.Created(w, createdKey{Key: raw, APIKey: key})
	}
}

// NewListKeysHandler handles GET /api/v1/admin/keys.
func NewListKeysHandler(ks KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := ks.ListAPIKeys(r.Context())
		if err != nil {
			writeError(w, r, err, "Failed to list API keys")
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler handles DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(ks KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			badRequest(w, "keyID must be a UUID")
			return
		}
		if err := ks.RevokeAPIKey(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
				return
			}
			writeError(w, r, err, "Failed to revoke API key")
			return
		}
		response.JSON(w, map[string]any{"id": id, "revoked": true})
	}
}
