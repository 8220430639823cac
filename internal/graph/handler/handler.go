// Package handler exposes the graph operations over HTTP. It owns nothing
// but translation: identity comes from the auth middleware, time from the
// injected clock, and everything else from the service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vicinity/internal/graph/models"
	"vicinity/internal/platform/middleware"
	id "vicinity/pkg/domain"
	dErrors "vicinity/pkg/domain-errors"
	"vicinity/pkg/platform/httputil"
)

// Clock supplies the millisecond timestamp consumed by the update gate. The
// core treats it as trusted input and never re-derives time.
type Clock interface {
	NowMillis() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) NowMillis() uint64 { return uint64(time.Now().UnixMilli()) }

// Service defines the graph operations the handler fronts.
type Service interface {
	Register(ctx context.Context, caller id.Identity, neighbors []id.PeerRef, now uint64) (models.UserRecord, error)
	Update(ctx context.Context, caller id.Identity, recordID id.RecordID, neighbors []id.PeerRef, now uint64) (models.UserRecord, error)
	SpawnSyntheticUser(ctx context.Context, caller, target id.Identity, neighbors []id.PeerRef, now uint64) (models.UserRecord, error)
	SyntheticUpdate(ctx context.Context, caller id.Identity, recordID id.RecordID, neighbors []id.PeerRef, now uint64) (models.UserRecord, error)
	GetRecord(ctx context.Context, recordID id.RecordID) (models.UserRecord, error)
	History(ctx context.Context, recordID id.RecordID) ([]models.Snapshot, error)
	RegisteredIdentities(ctx context.Context) ([]id.Identity, error)
}

type Handler struct {
	logger       *slog.Logger
	graph        Service
	clock        Clock
	jwtValidator middleware.JWTValidator
}

func New(graph Service, clock Clock, jwtValidator middleware.JWTValidator, logger *slog.Logger) *Handler {
	return &Handler{
		logger:       logger,
		graph:        graph,
		clock:        clock,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the graph routes with the standard middleware chain.
func (h *Handler) Register(r chi.Router) {
	graphRouter := chi.NewRouter()
	graphRouter.Use(middleware.RequestID)
	graphRouter.Use(middleware.Recovery(h.logger))
	graphRouter.Use(middleware.Logger(h.logger))
	graphRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	graphRouter.Post("/graph/users", h.handleRegister)
	graphRouter.Get("/graph/users/{recordID}", h.handleGetRecord)
	graphRouter.Get("/graph/users/{recordID}/history", h.handleHistory)
	graphRouter.Post("/graph/users/{recordID}/updates", h.handleUpdate)
	graphRouter.Post("/graph/synthetic/users", h.handleSpawnSynthetic)
	graphRouter.Post("/graph/synthetic/users/{recordID}/updates", h.handleSyntheticUpdate)
	graphRouter.Get("/graph/registry", h.handleListRegistry)

	r.Mount("/", graphRouter)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetIdentity(ctx)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.graph.Register(ctx, caller, toPeerRefs(req.Neighbors), h.clock.NowMillis())
	if err != nil {
		h.logError(ctx, "register failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(record))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetIdentity(ctx)

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.graph.Update(ctx, caller, recordID, toPeerRefs(req.Neighbors), h.clock.NowMillis())
	if err != nil {
		h.logError(ctx, "update failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleSpawnSynthetic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetIdentity(ctx)

	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	target, err := id.ParseIdentity(req.Target)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.graph.SpawnSyntheticUser(ctx, caller, target, toPeerRefs(req.Neighbors), h.clock.NowMillis())
	if err != nil {
		h.logError(ctx, "spawn synthetic failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(record))
}

func (h *Handler) handleSyntheticUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetIdentity(ctx)

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.graph.SyntheticUpdate(ctx, caller, recordID, toPeerRefs(req.Neighbors), h.clock.NowMillis())
	if err != nil {
		h.logError(ctx, "synthetic update failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.graph.GetRecord(r.Context(), recordID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	chain, err := h.graph.History(r.Context(), recordID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := historyResponse{
		RecordID:  recordID.String(),
		Snapshots: make([]snapshotResponse, len(chain)),
	}
	for i, snapshot := range chain {
		resp.Snapshots[i] = toSnapshotResponse(snapshot)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListRegistry(w http.ResponseWriter, r *http.Request) {
	identities, err := h.graph.RegisteredIdentities(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list registry"))
		return
	}

	resp := registryResponse{Identities: make([]string, len(identities))}
	for i, identity := range identities {
		resp.Identities[i] = identity.String()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"error", err.Error(),
		"code", string(dErrors.CodeOf(err)),
		"request_id", middleware.GetRequestID(ctx),
	)
}
