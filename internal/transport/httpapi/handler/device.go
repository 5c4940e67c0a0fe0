package handler

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/kislikjeka/festpay/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// TokenIssuer issues device tokens
type TokenIssuer interface {
	GenerateToken(deviceID string) (string, time.Time, error)
}

// SecretProvisioner derives a device's signing secret
type SecretProvisioner interface {
	ProvisionSecret(deviceID string) ([]byte, error)
}

// DeviceHandler authenticates devices and provisions their signing secrets
type DeviceHandler struct {
	tokens        TokenIssuer
	secrets       SecretProvisioner
	enrollmentKey []byte
	logger        *logger.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(tokens TokenIssuer, secrets SecretProvisioner, enrollmentKey string, log *logger.Logger) *DeviceHandler {
	return &DeviceHandler{
		tokens:        tokens,
		secrets:       secrets,
		enrollmentKey: []byte(enrollmentKey),
		logger:        log.Component("device_handler"),
	}
}

// Authenticate handles POST /api/v1/auth/device
func (h *DeviceHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req ledgerapi.DeviceAuthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		respondError(w, "device_id is required", http.StatusBadRequest)
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.EnrollmentKey), h.enrollmentKey) != 1 {
		h.logger.Warn("device authentication refused", "device_id", req.DeviceID)
		respondError(w, "invalid enrollment key", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.tokens.GenerateToken(req.DeviceID)
	if err != nil {
		h.logger.Error("failed to issue token", "device_id", req.DeviceID, "error", err)
		respondError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	respondJSON(w, ledgerapi.DeviceAuthResponse{Token: token, ExpiresAt: expiresAt}, http.StatusOK)
}

// Provision handles POST /api/v1/devices/provision
func (h *DeviceHandler) Provision(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := middleware.GetDeviceIDFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	secret, err := h.secrets.ProvisionSecret(deviceID)
	if err != nil {
		h.logger.Error("failed to provision secret", "device_id", deviceID, "error", err)
		respondError(w, "failed to provision secret", http.StatusInternalServerError)
		return
	}

	h.logger.Info("device provisioned", "device_id", deviceID)
	respondJSON(w, ledgerapi.ProvisionResponse{
		DeviceID: deviceID,
		Secret:   base64.StdEncoding.EncodeToString(secret),
	}, http.StatusOK)
}
