package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/middleware"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
	"github.com/kevin101681/cascadeconnect-sub000/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
}

func NewUserHandler(userRepo *repository.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

// GetProfile returns the caller's own record.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ref := middleware.GetRef(r.Context())

	u, err := h.userRepo.GetBySubject(r.Context(), ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// GetUser returns the public view of another user by subject.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.URL.Query().Get("subject"))
	if subject == "" {
		writeError(w, http.StatusBadRequest, "subject required")
		return
	}

	u, err := h.userRepo.GetBySubject(r.Context(), identity.Ref(subject))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, u.ToPublic())
}

// ProvisionUser registers a directory subject so it can participate in
// channels. Provisioning is idempotent: repeating a subject is a no-op.
func (h *UserHandler) ProvisionUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject     string `json:"subject"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject required")
		return
	}

	u := &model.User{
		Subject:     identity.Ref(req.Subject),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Email:       strings.TrimSpace(req.Email),
		CreatedAt:   time.Now(),
	}
	if err := h.userRepo.Provision(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to provision user")
		return
	}

	writeJSON(w, http.StatusCreated, u.ToPublic())
}
