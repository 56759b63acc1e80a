package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"invoicing-backend/internal/models"
)

type ClientHandler struct {
	clientRepo clientRepository
}

type clientRepository interface {
	Create(ctx context.Context, c *models.Client) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error)
	List(ctx context.Context) ([]*models.Client, error)
	Search(ctx context.Context, q string) ([]*models.Client, error)
	Update(ctx context.Context, c *models.Client) error
	Delete(ctx context.Context, id uuid.UUID) error
}

func NewClientHandler(clientRepo clientRepository) *ClientHandler {
	return &ClientHandler{clientRepo: clientRepo}
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		clients []*models.Client
		err     error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("search")); q != "" {
		clients, err = h.clientRepo.Search(r.Context(), q)
	} else {
		clients, err = h.clientRepo.List(r.Context())
	}
	if err != nil {
		handleRepoError(w, r, err, "Client not found")
		return
	}
	if clients == nil {
		clients = []*models.Client{}
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	client, fields := clientFromRequest(req)
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	if err := h.clientRepo.Create(r.Context(), client); err != nil {
		handleRepoError(w, r, err, "Client not found")
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	client, err := h.clientRepo.GetByID(r.Context(), id)
	if err != nil {
		handleRepoError(w, r, err, "Client not found")
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req models.CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	client, fields := clientFromRequest(req)
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	client.ID = id
	if err := h.clientRepo.Update(r.Context(), client); err != nil {
		handleRepoError(w, r, err, "Client not found")
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.clientRepo.Delete(r.Context(), id); err != nil {
		handleRepoError(w, r, err, "Client not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clientFromRequest trims and validates a create or update body.
func clientFromRequest(req models.CreateClientRequest) (*models.Client, map[string]string) {
	client := &models.Client{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Phone:   req.Phone,
		Address: strings.TrimSpace(req.Address),
	}
	fields := map[string]string{}
	if client.Name == "" {
		fields["name"] = "Name is required"
	}
	if client.Email == "" {
		fields["email"] = "Email is required"
	} else if !strings.Contains(client.Email, "@") {
		fields["email"] = "Email is invalid"
	}
	return client, fields
}
