// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/store"
)

// Config carries the API's dependencies.
type Config struct {
	Store  *store.Store
	Logger *slog.Logger
	Clock  clock.Clock

	// SigningKey signs and verifies account tokens. Required.
	SigningKey []byte

	// AccountTokenTTL is the lifetime of a login token.
	AccountTokenTTL time.Duration

	// DeviceTokenTTL is the lifetime of a device session token minted
	// at device registration.
	DeviceTokenTTL time.Duration
}

// API serves the account and device management routes.
type API struct {
	cfg    Config
	router *mux.Router
}

type contextKey struct{}

// New builds the API and its router.
func New(cfg Config) *API {
	a := &API{cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/api/register", a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/login", a.handleLogin).Methods(http.MethodPost)

	devices := r.PathPrefix("/api/devices").Subrouter()
	devices.Use(a.requireAccount)
	devices.HandleFunc("", a.handleCreateDevice).Methods(http.MethodPost)
	devices.HandleFunc("", a.handleListDevices).Methods(http.MethodGet)
	devices.HandleFunc("/{deviceId}", a.handleDeleteDevice).Methods(http.MethodDelete)

	a.router = r
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.cfg.Store.CreateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		a.cfg.Logger.Error("creating user", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.cfg.Store.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrBadCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		a.cfg.Logger.Error("authenticating user", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := a.issueAccountToken(user.ID)
	if err != nil {
		a.cfg.Logger.Error("signing account token", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
		},
	})
}

type createDeviceRequest struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

func (a *API) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	device, err := a.cfg.Store.CreateDevice(r.Context(), userID, req.Name, req.Platform)
	if err != nil {
		a.cfg.Logger.Error("creating device", "error", err)
		writeError(w, http.StatusInternalServerError, "device registration failed")
		return
	}
	session, err := a.cfg.Store.CreateDeviceSession(r.Context(), device.ID, userID, a.cfg.DeviceTokenTTL)
	if err != nil {
		a.cfg.Logger.Error("creating device session", "error", err)
		writeError(w, http.StatusInternalServerError, "device registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"deviceId":    device.ID,
		"deviceToken": session.Token,
		"name":        device.Name,
		"platform":    device.Platform,
	})
}

type deviceResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Online   bool   `json:"isOnline"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	devices, err := a.cfg.Store.DevicesByUser(r.Context(), userID)
	if err != nil {
		a.cfg.Logger.Error("listing devices", "error", err)
		writeError(w, http.StatusInternalServerError, "listing devices failed")
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		entry := deviceResponse{
			ID:       d.ID,
			Name:     d.Name,
			Platform: d.Platform,
			Online:   d.Online,
		}
		if !d.LastSeen.IsZero() {
			entry.LastSeen = d.LastSeen.Unix()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (a *API) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	deviceID := mux.Vars(r)["deviceId"]

	err := a.cfg.Store.DeleteDevice(r.Context(), userID, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		a.cfg.Logger.Error("deleting device", "error", err)
		writeError(w, http.StatusInternalServerError, "deleting device failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) issueAccountToken(userID string) (string, error) {
	now := a.cfg.Clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.AccountTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.SigningKey)
}

// requireAccount verifies the bearer token and threads the acting user
// through the request context. The user identity always comes from the
// verified token.
func (a *API) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(a.cfg.Clock.Now),
		)
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return a.cfg.SigningKey, nil
		})
		if err != nil || claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(contextKey{}).(string)
	return userID
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
