package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashita-ai/kanri/internal/auth"
	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/model"
)

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	mgr          *lifecycle.Manager
	jwtMgr       *auth.JWTManager
	adminKeyHash string // empty = auth disabled
	logger       *slog.Logger
	version      string
	maxBodyBytes int64
}

// HandlersDeps holds everything NewHandlers needs.
type HandlersDeps struct {
	Manager             *lifecycle.Manager
	JWTMgr              *auth.JWTManager
	AdminKeyHash        string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		mgr:          deps.Manager,
		jwtMgr:       deps.JWTMgr,
		adminKeyHash: deps.AdminKeyHash,
		logger:       deps.Logger,
		version:      deps.Version,
		maxBodyBytes: deps.MaxRequestBodyBytes,
	}
}

// statusForCode maps lifecycle error codes to HTTP status codes.
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeNotFound, model.ErrCodeNoBackup, model.ErrCodeBackupNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyExists:
		return http.StatusConflict
	case model.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case model.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeNotStarted:
		return http.StatusServiceUnavailable
	case model.ErrCodeBackupFailed, model.ErrCodeCollaboratorError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes a lifecycle operation result: the success envelope on
// success, the error envelope with a mapped status otherwise.
func writeResult(w http.ResponseWriter, r *http.Request, okStatus int, res model.LifecycleOperationResult) {
	if res.Success {
		writeJSON(w, r, okStatus, res)
		return
	}
	writeError(w, r, statusForCode(res.ErrorCode), res.ErrorCode, res.ErrorMessage)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := decodeJSON(r, target); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func author(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.AgentID
	}
	return ""
}

// HandleAuthToken exchanges the admin API key for a JWT.
// POST /auth/token
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.adminKeyHash == "" {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnauthorized,
			"authentication is disabled on this deployment")
		return
	}

	var req model.AuthTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent_id and api_key are required")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, h.adminKeyHash)
	if err != nil || !ok {
		// Keep failure timing uniform whether or not a real hash was checked.
		if err != nil {
			auth.DummyVerify()
		}
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.AgentID, auth.RoleAdmin)
	if err != nil {
		h.logger.Error("issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleCreateAgent creates a new agent definition.
// POST /v1/agents
func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAgentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res := h.mgr.CreateAgent(r.Context(), lifecycle.CreateInput{
		Name:      req.Name,
		Content:   req.Content,
		Tier:      model.AgentTier(req.Tier),
		AgentType: req.AgentType,
		Author:    author(r),
		Metadata:  req.Metadata,
	})
	writeResult(w, r, http.StatusCreated, res)
}

// HandleUpdateAgent replaces an agent's content.
// PUT /v1/agents/{name}
func (h *Handlers) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateAgentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res := h.mgr.UpdateAgent(r.Context(), lifecycle.UpdateInput{
		Name:     r.PathValue("name"),
		Content:  req.Content,
		Author:   author(r),
		Metadata: req.Metadata,
	})
	writeResult(w, r, http.StatusOK, res)
}

// HandleDeleteAgent deletes an agent, taking a backup first.
// DELETE /v1/agents/{name}
func (h *Handlers) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	// The body is optional; absent or empty means no reason given.
	var req model.DeleteAgentRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	_ = decodeJSON(r, &req)

	res := h.mgr.DeleteAgent(r.Context(), lifecycle.DeleteInput{
		Name:   r.PathValue("name"),
		Reason: req.Reason,
		Author: author(r),
	})
	writeResult(w, r, http.StatusOK, res)
}

// HandleRestoreAgent restores an agent from a backup.
// POST /v1/agents/{name}/restore
func (h *Handlers) HandleRestoreAgent(w http.ResponseWriter, r *http.Request) {
	var req model.RestoreAgentRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	_ = decodeJSON(r, &req)

	res := h.mgr.RestoreAgent(r.Context(), lifecycle.RestoreInput{
		Name:       r.PathValue("name"),
		BackupPath: req.BackupPath,
		Author:     author(r),
	})
	writeResult(w, r, http.StatusOK, res)
}

// HandleMigrateAgent moves an agent to another tier.
// POST /v1/agents/{name}/migrate
func (h *Handlers) HandleMigrateAgent(w http.ResponseWriter, r *http.Request) {
	var req model.MigrateAgentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res := h.mgr.MigrateAgent(r.Context(), r.PathValue("name"), model.AgentTier(req.TargetTier), author(r))
	writeResult(w, r, http.StatusOK, res)
}

// HandleReplicateAgent copies an agent's content into another tier.
// POST /v1/agents/{name}/replicate
func (h *Handlers) HandleReplicateAgent(w http.ResponseWriter, r *http.Request) {
	var req model.ReplicateAgentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res := h.mgr.ReplicateAgent(r.Context(), r.PathValue("name"), model.AgentTier(req.TargetTier), author(r))
	writeResult(w, r, http.StatusOK, res)
}

// HandleValidateAgent re-validates an agent's stored content.
// POST /v1/agents/{name}/validate
func (h *Handlers) HandleValidateAgent(w http.ResponseWriter, r *http.Request) {
	res := h.mgr.ValidateAgent(r.Context(), r.PathValue("name"))
	writeResult(w, r, http.StatusOK, res)
}

// HandleGetAgent returns the lifecycle record for one agent.
// GET /v1/agents/{name}
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rec := h.mgr.GetAgentStatus(name)
	if rec == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no agent named "+strconv.Quote(name))
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleAgentContent returns an agent's current definition content. Served
// through the lifecycle manager's profile cache, so repeat reads skip the
// tier directories.
// GET /v1/agents/{name}/content
func (h *Handlers) HandleAgentContent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	content, found, err := h.mgr.AgentContent(r.Context(), name)
	if err != nil {
		h.logger.Error("read agent content", "agent", name, "error", err)
		writeError(w, r, http.StatusBadGateway, model.ErrCodeCollaboratorError, "failed to read agent content")
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no agent named "+strconv.Quote(name))
		return
	}
	writeJSON(w, r, http.StatusOK, model.AgentContentResponse{AgentName: name, Content: content})
}

// HandleListAgents lists lifecycle records, optionally filtered by state.
// GET /v1/agents?state=
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	var filter *model.LifecycleState
	if s := r.URL.Query().Get("state"); s != "" {
		state, err := model.ParseLifecycleState(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		filter = &state
	}
	writeJSON(w, r, http.StatusOK, h.mgr.ListAgents(filter))
}

// HandleListBackups lists the backups available for an agent, oldest first.
// GET /v1/agents/{name}/backups
func (h *Handlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	paths, err := h.mgr.Backups(r.PathValue("name"))
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, r, http.StatusBadGateway, model.ErrCodeCollaboratorError, "failed to list backups")
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, r, http.StatusOK, paths)
}

// HandleListModifications returns an agent's modification records, newest first.
// GET /v1/agents/{name}/modifications?limit=
func (h *Handlers) HandleListModifications(w http.ResponseWriter, r *http.Request) {
	mods, err := h.mgr.ModificationHistory(r.Context(), r.PathValue("name"), queryLimit(r))
	if err != nil {
		h.logger.Error("list modifications", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list modifications")
		return
	}
	writeJSON(w, r, http.StatusOK, mods)
}

// HandleListOperations returns the operation history, newest first.
// GET /v1/operations?agent=&limit=
func (h *Handlers) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.mgr.OperationHistory(r.Context(), r.URL.Query().Get("agent"), queryLimit(r))
	if err != nil {
		h.logger.Error("list operations", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list operations")
		return
	}
	writeJSON(w, r, http.StatusOK, ops)
}

// HandleStats returns aggregate agent and operation statistics.
// GET /v1/stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.mgr.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to compute stats")
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleHealth is the liveness endpoint.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
