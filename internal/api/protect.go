package api

import (
	"errors"
	"net/http"

	"github.com/acalanto-app/sentinela/internal/vault"
)

// handleProtect implements POST /v1/protect: encrypts sensitive data
// under the user's key.
func (d *Dependencies) handleProtect(w http.ResponseWriter, r *http.Request) {
	var req ProtectRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	payload, err := d.Security.Protect(r.Context(), req.UserID, req.Plaintext)
	if err != nil {
		if errors.Is(err, vault.ErrRevoked) {
			writeJSON(w, http.StatusForbidden, ErrorResp{Detail: "encryption keys revoked for this user"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ProtectResponse{Payload: payload})
}

// handleReveal implements POST /v1/reveal: decrypts a payload
// previously produced by protect.
func (d *Dependencies) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req RevealRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	plain, err := d.Security.Reveal(r.Context(), req.UserID, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrRevoked):
			writeJSON(w, http.StatusForbidden, ErrorResp{Detail: "encryption keys revoked for this user"})
		case errors.Is(err, vault.ErrKeyNotFound):
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "key not found"})
		case errors.Is(err, vault.ErrBadPayload):
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "malformed payload"})
		default:
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, RevealResponse{Plaintext: plain})
}

// handleRevokeKeys implements POST /v1/keys/revoke?user_id=. Terminal:
// called from the account-deletion flow, it makes every ciphertext the
// user owns permanently unreadable.
func (d *Dependencies) handleRevokeKeys(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	if err := d.Security.Vault().Revoke(r.Context(), userID); err != nil {
		d.Security.Audit().LogDataDelete(userID, clientIP(r), false)
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}
	d.Security.Audit().LogDataDelete(userID, clientIP(r), true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// handleRotateKey implements POST /v1/keys/rotate?user_id= (support
// tooling for incident response).
func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}
	if !d.Security.Vault().Available() {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "vault is in pass-through mode, no keys to rotate"})
		return
	}

	key, err := d.Security.Vault().Rotate(r.Context(), userID)
	if err != nil {
		if errors.Is(err, vault.ErrRevoked) {
			writeJSON(w, http.StatusForbidden, ErrorResp{Detail: "encryption keys revoked for this user"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "rotated",
		"key_id": key.KeyID,
	})
}
