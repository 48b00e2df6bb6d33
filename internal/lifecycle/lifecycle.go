// Package lifecycle implements the agent lifecycle manager: the single
// facade through which agent definitions are created, updated, deleted,
// restored, and validated.
//
// The manager owns the agent-name -> record map, the per-agent lock table,
// and the operation-result contract. All collaborator I/O (content store,
// backup store, history log) runs under a bounded timeout so a stuck
// filesystem cannot hold an agent lock indefinitely. Collaborator faults
// are converted into failed operation results at this boundary — the public
// API never surfaces them as errors for ordinary failure modes.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kanri/internal/history"
	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/telemetry"
)

// ContentStore reads and writes agent definition files on the tiered
// filesystem. Content is opaque text; frontmatter semantics are entirely
// the store's concern.
type ContentStore interface {
	Read(name string) (string, bool, error)
	Write(name, content, tier string) (string, error)
	Delete(name string) (bool, error)
	Remove(name, tier string) error
	Exists(name, tier string) (bool, error)
}

// BackupStore writes timestamped copies of agent content before destructive
// operations and reads them back during restore.
type BackupStore interface {
	CreateBackup(name, content string) (string, error)
	ReadBackup(path string) (string, error)
	ListBackups(name string) ([]string, error)
}

// CacheInvalidator drops cached agent-profile entries. Failures are logged,
// not fatal: cache incoherence is a lesser failure than a lost write.
type CacheInvalidator interface {
	Invalidate(name string) error
}

// ProfileCache is an optional extension of CacheInvalidator. When the
// injected invalidator also implements it, AgentContent serves reads
// through the cache instead of hitting the tier directories every time.
// Mutations invalidate the entry, so a hit is never stale.
type ProfileCache interface {
	CacheInvalidator
	Get(name string) (string, bool)
	Set(name, content string)
}

// RegistrySynchronizer refreshes the discovery registry so the rest of the
// system sees newly created/updated/deleted agents. Same non-fatal posture
// as the cache invalidator.
type RegistrySynchronizer interface {
	Refresh(ctx context.Context, name string) error
}

// Tracker is the durable append-only log behind the manager: modification
// records, persistence operations, and operation history.
type Tracker interface {
	RecordModification(ctx context.Context, e history.ModificationEntry) error
	RecordPersistence(ctx context.Context, id, agentName, strategy, path string) error
	RecordOperation(ctx context.Context, e history.OperationEntry) error
	ListModifications(ctx context.Context, agentName string, limit int) ([]history.ModificationEntry, error)
	ListOperations(ctx context.Context, agentName string, limit int) ([]history.OperationEntry, error)
	OperationStats(ctx context.Context) (history.Stats, error)
}

// Config holds the manager's behavior switches.
type Config struct {
	EnableAutoBackup           bool
	EnableAutoValidation       bool
	EnableCacheInvalidation    bool
	EnableRegistrySync         bool
	DefaultPersistenceStrategy string
	CollaboratorTimeout        time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		EnableAutoBackup:           true,
		EnableAutoValidation:       true,
		EnableCacheInvalidation:    true,
		EnableRegistrySync:         true,
		DefaultPersistenceStrategy: "filesystem",
		CollaboratorTimeout:        10 * time.Second,
	}
}

// Manager orchestrates the content store, backup store, tracker, cache, and
// registry behind a single facade. All state mutation passes through it.
type Manager struct {
	cfg      Config
	contents ContentStore
	backups  BackupStore
	tracker  Tracker
	cache    CacheInvalidator
	profile  ProfileCache // non-nil when cache supports read-through
	registry RegistrySynchronizer
	logger   *slog.Logger

	mu      sync.RWMutex
	started bool
	records map[string]*model.AgentLifecycleRecord
	locks   map[string]*sync.Mutex

	opDuration metric.Float64Histogram
	opCount    metric.Int64Counter
}

// New creates a Manager. All collaborators are injected already
// constructed; cache and registry may be nil when the corresponding
// feature flag is off.
func New(cfg Config, contents ContentStore, backups BackupStore, tracker Tracker,
	cacheInv CacheInvalidator, registrySync RegistrySynchronizer, logger *slog.Logger) *Manager {

	meter := telemetry.Meter("kanri/lifecycle")
	opDur, _ := meter.Float64Histogram("kanri.lifecycle.operation.duration",
		metric.WithDescription("Lifecycle operation duration (ms)"),
		metric.WithUnit("ms"),
	)
	opCount, _ := meter.Int64Counter("kanri.lifecycle.operation.count",
		metric.WithDescription("Lifecycle operations by type and outcome"),
	)

	profile, _ := cacheInv.(ProfileCache)

	return &Manager{
		cfg:        cfg,
		contents:   contents,
		backups:    backups,
		tracker:    tracker,
		cache:      cacheInv,
		profile:    profile,
		registry:   registrySync,
		logger:     logger,
		records:    make(map[string]*model.AgentLifecycleRecord),
		locks:      make(map[string]*sync.Mutex),
		opDuration: opDur,
		opCount:    opCount,
	}
}

// Start marks the manager ready and warms the discovery registry.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	if m.cfg.EnableRegistrySync && m.registry != nil {
		if err := m.registry.Refresh(ctx, ""); err != nil {
			m.logger.Warn("lifecycle: initial registry refresh failed", "error", err)
		}
	}
	m.logger.Info("lifecycle manager started",
		"auto_backup", m.cfg.EnableAutoBackup,
		"auto_validation", m.cfg.EnableAutoValidation,
		"persistence_strategy", m.cfg.DefaultPersistenceStrategy,
	)
	return nil
}

// Stop marks the manager stopped. Subsequent mutating calls fail with
// NOT_STARTED.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	m.logger.Info("lifecycle manager stopped")
	return nil
}

// CreateInput holds the arguments for CreateAgent.
type CreateInput struct {
	Name      string
	Content   string
	Tier      model.AgentTier
	AgentType string
	Author    string
	Metadata  map[string]any
}

// UpdateInput holds the arguments for UpdateAgent.
type UpdateInput struct {
	Name     string
	Content  string
	Author   string
	Metadata map[string]any
}

// DeleteInput holds the arguments for DeleteAgent.
type DeleteInput struct {
	Name   string
	Reason string
	Author string
}

// RestoreInput holds the arguments for RestoreAgent. BackupPath is
// optional; the most recent backup is used when empty.
type RestoreInput struct {
	Name       string
	BackupPath string
	Author     string
}

// opState carries one in-flight operation's bookkeeping.
type opState struct {
	result  model.LifecycleOperationResult
	started time.Time
}

func (m *Manager) begin(op model.OperationType, name string) *opState {
	return &opState{
		result: model.LifecycleOperationResult{
			Operation: op,
			AgentName: name,
			Metadata:  make(map[string]any),
		},
		started: time.Now(),
	}
}

// fail finalizes a failed operation. Failures that got past input and
// existence validation (collaborator faults, backup failures) are persisted
// to the operation history; rejected inputs are not.
func (m *Manager) fail(ctx context.Context, st *opState, code, msg string, persist bool) model.LifecycleOperationResult {
	st.result.Success = false
	st.result.ErrorCode = code
	st.result.ErrorMessage = msg
	m.finalize(ctx, st, persist)
	m.logger.Warn("lifecycle operation failed",
		"operation", st.result.Operation,
		"agent", st.result.AgentName,
		"code", code,
		"error", msg,
	)
	return st.result
}

// succeed finalizes and persists a successful operation.
func (m *Manager) succeed(ctx context.Context, st *opState) model.LifecycleOperationResult {
	st.result.Success = true
	m.finalize(ctx, st, true)
	return st.result
}

func (m *Manager) finalize(ctx context.Context, st *opState, persist bool) {
	st.result.DurationMS = float64(time.Since(st.started).Microseconds()) / 1000
	st.result.Timestamp = time.Now().UTC()
	if len(st.result.Metadata) == 0 {
		st.result.Metadata = nil
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", string(st.result.Operation)),
		attribute.Bool("success", st.result.Success),
	)
	m.opDuration.Record(ctx, st.result.DurationMS, attrs)
	m.opCount.Add(ctx, 1, attrs)

	if !persist || m.tracker == nil {
		return
	}
	err := m.withTimeout(ctx, func(cctx context.Context) error {
		return m.tracker.RecordOperation(cctx, history.OperationEntry{
			Operation:        string(st.result.Operation),
			AgentName:        st.result.AgentName,
			Success:          st.result.Success,
			DurationMS:       st.result.DurationMS,
			ErrorCode:        st.result.ErrorCode,
			ErrorMessage:     st.result.ErrorMessage,
			ModificationID:   st.result.ModificationID,
			PersistenceID:    st.result.PersistenceID,
			CacheInvalidated: st.result.CacheInvalidated,
			RegistryUpdated:  st.result.RegistryUpdated,
			Metadata:         st.result.Metadata,
			Timestamp:        st.result.Timestamp,
		})
	})
	if err != nil {
		m.logger.Warn("lifecycle: record operation history", "agent", st.result.AgentName, "error", err)
	}
}

// withTimeout bounds a collaborator call. The call runs in its own
// goroutine so a blocked filesystem cannot hold the agent lock past the
// configured timeout.
func (m *Manager) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CollaboratorTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	select {
	case <-cctx.Done():
		return fmt.Errorf("lifecycle: collaborator call: %w", cctx.Err())
	case err := <-done:
		return err
	}
}

// agentLock returns the mutex serializing mutations for one agent name.
// Operations on different names proceed in parallel.
func (m *Manager) agentLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

func (m *Manager) isStarted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

func (m *Manager) record(name string) *model.AgentLifecycleRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[name]
}

// mutateRecord applies fn to the named record under the manager lock so
// readers always see a consistent record.
func (m *Manager) mutateRecord(name string, fn func(*model.AgentLifecycleRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[name]; ok {
		fn(rec)
	}
}

func (m *Manager) putRecord(rec *model.AgentLifecycleRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.AgentName] = rec
}

// bumpVersion increments the patch component of a semantic version string.
// Unparseable versions restart at the initial version.
func bumpVersion(v string) string {
	parts := strings.Split(v, ".")
	if len(parts) == 3 {
		if patch, err := strconv.Atoi(parts[2]); err == nil {
			return parts[0] + "." + parts[1] + "." + strconv.Itoa(patch+1)
		}
	}
	return initialVersion
}

const initialVersion = "1.0.0"

// CreateAgent writes a new agent definition and registers its lifecycle
// record. Fails with ALREADY_EXISTS if the target tier already holds a
// definition for the name.
func (m *Manager) CreateAgent(ctx context.Context, in CreateInput) model.LifecycleOperationResult {
	st := m.begin(model.OpCreate, in.Name)
	if !m.isStarted() {
		return m.fail(ctx, st, model.ErrCodeNotStarted, "lifecycle manager is not started", false)
	}
	if err := model.ValidateAgentName(in.Name); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}
	if err := model.ValidateContent(in.Content); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}
	if _, err := model.ParseAgentTier(string(in.Tier)); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}

	lock := m.agentLock(in.Name)
	lock.Lock()
	defer lock.Unlock()

	// A live record wins regardless of what is on disk; a DELETED record
	// may be superseded by a fresh create.
	if rec := m.record(in.Name); rec != nil && rec.CurrentState != model.StateDeleted {
		return m.fail(ctx, st, model.ErrCodeAlreadyExists,
			fmt.Sprintf("agent %q already exists in %s tier", in.Name, rec.Tier), false)
	}

	// Uniqueness is checked against the content store, not just the record
	// map, so the manager cannot diverge from disk.
	var exists bool
	err := m.withTimeout(ctx, func(cctx context.Context) error {
		var cerr error
		exists, cerr = m.contents.Exists(in.Name, string(in.Tier))
		return cerr
	})
	if err != nil {
		return m.fail(ctx, st, model.ErrCodeCollaboratorError, err.Error(), true)
	}
	if exists {
		return m.fail(ctx, st, model.ErrCodeAlreadyExists,
			fmt.Sprintf("agent %q already exists in %s tier", in.Name, in.Tier), false)
	}

	var filePath string
	err = m.withTimeout(ctx, func(cctx context.Context) error {
		var werr error
		filePath, werr = m.contents.Write(in.Name, in.Content, string(in.Tier))
		return werr
	})
	if err != nil {
		return m.fail(ctx, st, model.ErrCodeCollaboratorError, err.Error(), true)
	}

	now := time.Now().UTC()
	meta := make(map[string]any, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if in.AgentType != "" {
		meta["agent_type"] = in.AgentType
	}

	rec := &model.AgentLifecycleRecord{
		AgentName:        in.Name,
		CurrentState:     model.StateActive,
		Tier:             in.Tier,
		FilePath:         filePath,
		CreatedAt:        now,
		LastModified:     now,
		Version:          initialVersion,
		ValidationStatus: model.ValidationUnknown,
		Metadata:         meta,
	}
	if m.cfg.EnableAutoValidation {
		// Content passed the inline checks above.
		rec.ValidationStatus = model.ValidationPassed
	}
	// Recreating over a DELETED record keeps its backup trail reachable.
	if prev := m.record(in.Name); prev != nil {
		rec.BackupPaths = append([]string(nil), prev.BackupPaths...)
	}
	m.putRecord(rec)

	m.trackMutation(ctx, st, rec, model.OpCreate, "created via "+m.cfg.DefaultPersistenceStrategy, in.Author, filePath)
	m.invalidateAndSync(ctx, st, in.Name)

	st.result.Metadata["file_path"] = filePath
	st.result.Metadata["new_version"] = rec.Version
	st.result.Metadata["tier"] = string(in.Tier)
	return m.succeed(ctx, st)
}

// UpdateAgent replaces the content of an existing agent at its current
// tier. The version is bumped and reported as metadata.new_version.
func (m *Manager) UpdateAgent(ctx context.Context, in UpdateInput) model.LifecycleOperationResult {
	st := m.begin(model.OpUpdate, in.Name)
	if !m.isStarted() {
		return m.fail(ctx, st, model.ErrCodeNotStarted, "lifecycle manager is not started", false)
	}
	if err := model.ValidateAgentName(in.Name); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}
	if err := model.ValidateContent(in.Content); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}

	lock := m.agentLock(in.Name)
	lock.Lock()
	defer lock.Unlock()

	rec := m.record(in.Name)
	if rec == nil || rec.CurrentState == model.StateDeleted {
		return m.fail(ctx, st, model.ErrCodeNotFound,
			fmt.Sprintf("no agent named %q", in.Name), false)
	}
	if rec.CurrentState != model.StateActive && rec.CurrentState != model.StateModified {
		return m.fail(ctx, st, model.ErrCodeInvalidInput,
			fmt.Sprintf("agent %q cannot be updated in state %s", in.Name, rec.CurrentState), false)
	}

	var filePath string
	err := m.withTimeout(ctx, func(cctx context.Context) error {
		var werr error
		filePath, werr = m.contents.Write(in.Name, in.Content, string(rec.Tier))
		return werr
	})
	if err != nil {
		return m.fail(ctx, st, model.ErrCodeCollaboratorError, err.Error(), true)
	}

	var newVersion string
	m.mutateRecord(in.Name, func(r *model.AgentLifecycleRecord) {
		r.Version = bumpVersion(r.Version)
		r.CurrentState = model.StateModified
		r.LastModified = time.Now().UTC()
		r.FilePath = filePath
		if m.cfg.EnableAutoValidation {
			r.ValidationStatus = model.ValidationPassed
			r.ValidationErrors = nil
		}
		for k, v := range in.Metadata {
			if r.Metadata == nil {
				r.Metadata = make(map[string]any)
			}
			r.Metadata[k] = v
		}
		newVersion = r.Version
	})

	m.trackMutation(ctx, st, rec, model.OpUpdate, "content updated", in.Author, filePath)
	m.invalidateAndSync(ctx, st, in.Name)

	st.result.Metadata["file_path"] = filePath
	st.result.Metadata["new_version"] = newVersion
	return m.succeed(ctx, st)
}

// DeleteAgent removes an agent's definition, taking a backup first when
// auto-backup is enabled. A failed backup aborts the delete: content is
// never destroyed without a retrievable copy.
func (m *Manager) DeleteAgent(ctx context.Context, in DeleteInput) model.LifecycleOperationResult {
	st := m.begin(model.OpDelete, in.Name)
	if !m.isStarted() {
		return m.fail(ctx, st, model.ErrCodeNotStarted, "lifecycle manager is not started", false)
	}
	if err := model.ValidateAgentName(in.Name); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}

	lock := m.agentLock(in.Name)
	lock.Lock()
	defer lock.Unlock()

	rec := m.record(in.Name)
	if rec == nil || rec.CurrentState == model.StateDeleted {
		return m.fail(ctx, st, model.ErrCodeNotFound,
			fmt.Sprintf("no agent named %q", in.Name), false)
	}
	switch rec.CurrentState {
	case model.StateActive, model.StateModified, model.StateConflicted:
	default:
		return m.fail(ctx, st, model.ErrCodeInvalidInput,
			fmt.Sprintf("agent %q cannot be deleted in state %s", in.Name, rec.CurrentState), false)
	}

	if m.cfg.EnableAutoBackup {
		var current string
		var found bool
		err := m.withTimeout(ctx, func(cctx context.Context) error {
			var rerr error
			current, found, rerr = m.contents.Read(in.Name)
			return rerr
		})
		if err != nil {
			return m.fail(ctx, st, model.ErrCodeBackupFailed,
				fmt.Sprintf("cannot snapshot %q before delete: %v", in.Name, err), true)
		}
		if !found {
			return m.fail(ctx, st, model.ErrCodeBackupFailed,
				fmt.Sprintf("cannot snapshot %q before delete: content missing", in.Name), true)
		}

		var backupPath string
		err = m.withTimeout(ctx, func(cctx context.Context) error {
			var berr error
			backupPath, berr = m.backups.CreateBackup(in.Name, current)
			return berr
		})
		if err != nil {
			return m.fail(ctx, st, model.ErrCodeBackupFailed, err.Error(), true)
		}

		m.mutateRecord(in.Name, func(r *model.AgentLifecycleRecord) {
			r.BackupPaths = append(r.BackupPaths, backupPath)
		})
		st.result.Metadata["backup_path"] = backupPath
	}

	err := m.withTimeout(ctx, func(cctx context.Context) error {
		_, derr := m.contents.Delete(in.Name)
		return derr
	})
	if err != nil {
		return m.fail(ctx, st, model.ErrCodeCollaboratorError, err.Error(), true)
	}

	m.mutateRecord(in.Name, func(r *model.AgentLifecycleRecord) {
		r.CurrentState = model.StateDeleted
		r.LastModified = time.Now().UTC()
	})

	details := "deleted"
	if in.Reason != "" {
		details = "deleted: " + in.Reason
	}
	m.trackMutation(ctx, st, rec, model.OpDelete, details, in.Author, "")
	m.invalidateAndSync(ctx, st, in.Name)

	return m.succeed(ctx, st)
}

// RestoreAgent writes backed-up content back through the content store and
// transitions the agent to ACTIVE. With no explicit backup path, the most
// recent backup for the agent is used.
func (m *Manager) RestoreAgent(ctx context.Context, in RestoreInput) model.LifecycleOperationResult {
	st := m.begin(model.OpRestore, in.Name)
	if !m.isStarted() {
		return m.fail(ctx, st, model.ErrCodeNotStarted, "lifecycle manager is not started", false)
	}
	if err := model.ValidateAgentName(in.Name); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}

	lock := m.agentLock(in.Name)
	lock.Lock()
	defer lock.Unlock()

	rec := m.record(in.Name)

	backupPath := in.BackupPath
	if backupPath == "" {
		if rec == nil || len(rec.BackupPaths) == 0 {
			return m.fail(ctx, st, model.ErrCodeNoBackup,
				fmt.Sprintf("no backups recorded for agent %q", in.Name), false)
		}
		backupPath = rec.BackupPaths[len(rec.BackupPaths)-1]
	}

	var restored string
	err := m.withTimeout(ctx, func(cctx context.Context) error {
		var berr error
		restored, berr = m.backups.ReadBackup(backupPath)
		return berr
	})
	if err != nil {
		return m.fail(ctx, st, model.ErrCodeBackupNotFound,
			fmt.Sprintf("backup %s is unreadable: %v", backupPath, err), rec != nil)
	}

	tier := model.TierProject
	if rec != nil {
		tier = rec.Tier
	}
	var filePath string
	err = m.withTimeout(ctx, func(cctx context.Context) error {
		var werr error
		filePath, werr = m.contents.Write(in.Name, restored, string(tier))
		return werr
	})
	if err != nil {
		return m.fail(ctx, st, model.ErrCodeCollaboratorError, err.Error(), rec != nil)
	}

	now := time.Now().UTC()
	var newVersion string
	if rec == nil {
		// Restoring an agent the manager has no record of (e.g. a backup
		// path carried over from a previous process) re-creates the record.
		fresh := &model.AgentLifecycleRecord{
			AgentName:        in.Name,
			CurrentState:     model.StateActive,
			Tier:             tier,
			FilePath:         filePath,
			CreatedAt:        now,
			LastModified:     now,
			Version:          initialVersion,
			ValidationStatus: model.ValidationUnknown,
		}
		m.putRecord(fresh)
		rec = fresh
		newVersion = fresh.Version
	} else {
		m.mutateRecord(in.Name, func(r *model.AgentLifecycleRecord) {
			r.CurrentState = model.StateActive
			r.Version = bumpVersion(r.Version)
			r.LastModified = now
			r.FilePath = filePath
			newVersion = r.Version
		})
	}

	m.trackMutation(ctx, st, rec, model.OpRestore, "restored from "+backupPath, in.Author, filePath)
	m.invalidateAndSync(ctx, st, in.Name)

	st.result.Metadata["backup_path"] = backupPath
	st.result.Metadata["file_path"] = filePath
	st.result.Metadata["new_version"] = newVersion
	return m.succeed(ctx, st)
}

// MigrateAgent moves an agent's definition to another tier. The agent
// passes through MIGRATING and returns to its previous state; a fault after
// the target write leaves it CONFLICTED for the operator to resolve. The
// version is unchanged — migration moves content, it does not modify it.
func (m *Manager) MigrateAgent(ctx context.Context, name string, targetTier model.AgentTier, author string) model.LifecycleOperationResult {
	st := m.begin(model.OpMigrate, name)
	if !m.isStarted() {
		return m.fail(ctx, st, model.ErrCodeNotStarted, "lifecycle manager is not started", false)
	}
	if err := model.ValidateAgentName(name); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}
	if _, err := model.ParseAgentTier(string(targetTier)); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}

	lock := m.agentLock(name)
	lock.Lock()
	defer lock.Unlock()

	rec := m.record(name)
	if rec == nil || rec.CurrentState == model.StateDeleted {
		return m.fail(ctx, st, model.ErrCodeNotFound,
			fmt.Sprintf("no agent named %q", name), false)
	}
	if rec.CurrentState != model.StateActive && rec.CurrentState != model.StateModified {
		return m.fail(ctx, st, model.ErrCodeInvalidInput,
			fmt.Sprintf("agent %q cannot be migrated in state %s", name, rec.CurrentState), false)
	}
	if rec.Tier == targetTier {
		return m.fail(ctx, st, model.ErrCodeInvalidInput,
			fmt.Sprintf("agent %q is already in %s tier", name, targetTier), false)
	}

	sourceTier := rec.Tier
	prev := rec.CurrentState
	m.mutateRecord(name, func(r *model.AgentLifecycleRecord) {
		r.CurrentState = model.StateMigrating
	})
	// Any exit below either completes the migration or parks the record in
	// CONFLICTED; MIGRATING never outlives the call.

	var current string
	var found bool
	err := m.withTimeout(ctx, func(cctx context.Context) error {
		var rerr error
		current, found, rerr = m.contents.Read(name)
		return rerr
	})
	if err != nil || !found {
		m.mutateRecord(name, func(r *model.AgentLifecycleRecord) { r.CurrentState = prev })
		msg := "content missing from every tier"
		if err != nil {
			msg = err.Error()
		}
		return m.fail(ctx, st, model.ErrCodeCollaboratorError, msg, true)
	}

	var filePath string
	err = m.withTimeout(ctx, func(cctx context.Context) error {
		var werr error
		filePath, werr = m.contents.Write(name, current, string(targetTier))
		return werr
	})
	if err != nil {
		m.mutateRecord(name, func(r *model.AgentLifecycleRecord) { r.CurrentState = prev })
		return m.fail(ctx, st, model.ErrCodeCollaboratorError, err.Error(), true)
	}

	err = m.withTimeout(ctx, func(cctx context.Context) error {
		return m.contents.Remove(name, string(sourceTier))
	})
	if err != nil {
		// Target written but source still present: two tiers now hold the
		// definition and the record cannot say which is authoritative.
		m.mutateRecord(name, func(r *model.AgentLifecycleRecord) {
			r.CurrentState = model.StateConflicted
		})
		return m.fail(ctx, st, model.ErrCodeCollaboratorError,
			fmt.Sprintf("migrated to %s tier but source cleanup failed: %v", targetTier, err), true)
	}

	m.mutateRecord(name, func(r *model.AgentLifecycleRecord) {
		r.CurrentState = prev
		r.Tier = targetTier
		r.FilePath = filePath
		r.LastModified = time.Now().UTC()
	})

	m.trackMutation(ctx, st, rec, model.OpMigrate,
		fmt.Sprintf("migrated from %s to %s tier", sourceTier, targetTier), author, filePath)
	m.invalidateAndSync(ctx, st, name)

	st.result.Metadata["file_path"] = filePath
	st.result.Metadata["source_tier"] = string(sourceTier)
	st.result.Metadata["target_tier"] = string(targetTier)
	return m.succeed(ctx, st)
}

// ReplicateAgent copies an agent's current content into another tier
// without moving the record. The source tier stays authoritative; the copy
// is an independent definition from the store's point of view.
func (m *Manager) ReplicateAgent(ctx context.Context, name string, targetTier model.AgentTier, author string) model.LifecycleOperationResult {
	st := m.begin(model.OpReplicate, name)
	if !m.isStarted() {
		return m.fail(ctx, st, model.ErrCodeNotStarted, "lifecycle manager is not started", false)
	}
	if err := model.ValidateAgentName(name); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}
	if _, err := model.ParseAgentTier(string(targetTier)); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}

	lock := m.agentLock(name)
	lock.Lock()
	defer lock.Unlock()

	rec := m.record(name)
	if rec == nil || rec.CurrentState == model.StateDeleted {
		return m.fail(ctx, st, model.ErrCodeNotFound,
			fmt.Sprintf("no agent named %q", name), false)
	}
	if rec.Tier == targetTier {
		return m.fail(ctx, st, model.ErrCodeInvalidInput,
			fmt.Sprintf("agent %q already lives in %s tier", name, targetTier), false)
	}

	var current string
	var found bool
	err := m.withTimeout(ctx, func(cctx context.Context) error {
		var rerr error
		current, found, rerr = m.contents.Read(name)
		return rerr
	})
	if err != nil || !found {
		msg := "content missing from every tier"
		if err != nil {
			msg = err.Error()
		}
		return m.fail(ctx, st, model.ErrCodeCollaboratorError, msg, true)
	}

	var filePath string
	err = m.withTimeout(ctx, func(cctx context.Context) error {
		var werr error
		filePath, werr = m.contents.Write(name, current, string(targetTier))
		return werr
	})
	if err != nil {
		return m.fail(ctx, st, model.ErrCodeCollaboratorError, err.Error(), true)
	}

	m.trackMutation(ctx, st, rec, model.OpReplicate,
		fmt.Sprintf("replicated from %s to %s tier", rec.Tier, targetTier), author, filePath)
	m.invalidateAndSync(ctx, st, name)

	st.result.Metadata["file_path"] = filePath
	st.result.Metadata["source_tier"] = string(rec.Tier)
	st.result.Metadata["target_tier"] = string(targetTier)
	return m.succeed(ctx, st)
}

// ValidateAgent checks an agent's stored content. The agent passes through
// VALIDATING and returns to its previous state, or lands in CONFLICTED on
// failure. Validation runs from any known state, DELETED included — a
// deleted agent reports its missing content as the failure but stays
// DELETED rather than moving to CONFLICTED, so the restore path is
// unaffected. Validation appends no modification record — it changes no
// content.
func (m *Manager) ValidateAgent(ctx context.Context, name string) model.LifecycleOperationResult {
	st := m.begin(model.OpValidate, name)
	if !m.isStarted() {
		return m.fail(ctx, st, model.ErrCodeNotStarted, "lifecycle manager is not started", false)
	}
	if err := model.ValidateAgentName(name); err != nil {
		return m.fail(ctx, st, model.ErrCodeInvalidInput, err.Error(), false)
	}

	lock := m.agentLock(name)
	lock.Lock()
	defer lock.Unlock()

	rec := m.record(name)
	if rec == nil {
		return m.fail(ctx, st, model.ErrCodeNotFound,
			fmt.Sprintf("no agent named %q", name), false)
	}

	prev := rec.CurrentState
	m.mutateRecord(name, func(r *model.AgentLifecycleRecord) {
		r.CurrentState = model.StateValidating
	})

	var errs []string
	var stored string
	var found bool
	err := m.withTimeout(ctx, func(cctx context.Context) error {
		var rerr error
		stored, found, rerr = m.contents.Read(name)
		return rerr
	})
	switch {
	case err != nil:
		errs = append(errs, fmt.Sprintf("read content: %v", err))
	case !found:
		errs = append(errs, "content missing from every tier")
	default:
		if verr := model.ValidateContent(stored); verr != nil {
			errs = append(errs, verr.Error())
		}
	}

	passed := len(errs) == 0
	m.mutateRecord(name, func(r *model.AgentLifecycleRecord) {
		switch {
		case passed:
			r.CurrentState = prev
			r.ValidationStatus = model.ValidationPassed
			r.ValidationErrors = nil
		case prev == model.StateDeleted:
			// Deleted content is expected to be missing.
			r.CurrentState = prev
			r.ValidationStatus = model.ValidationFailed
			r.ValidationErrors = errs
		default:
			r.CurrentState = model.StateConflicted
			r.ValidationStatus = model.ValidationFailed
			r.ValidationErrors = errs
		}
	})

	st.result.Metadata["validation_status"] = string(model.ValidationPassed)
	if !passed {
		st.result.Metadata["validation_status"] = string(model.ValidationFailed)
		st.result.Metadata["validation_errors"] = errs
		return m.fail(ctx, st, model.ErrCodeValidationFailed, strings.Join(errs, "; "), true)
	}
	return m.succeed(ctx, st)
}

// trackMutation appends the modification and persistence records for a
// successful mutation and wires their IDs into the record and result.
// Tracker faults are logged, not fatal: the content operation already
// succeeded.
func (m *Manager) trackMutation(ctx context.Context, st *opState, rec *model.AgentLifecycleRecord,
	op model.OperationType, details, author, path string) {

	if m.tracker == nil {
		return
	}

	modID := uuid.New().String()
	err := m.withTimeout(ctx, func(cctx context.Context) error {
		return m.tracker.RecordModification(cctx, history.ModificationEntry{
			ID:        modID,
			AgentName: rec.AgentName,
			Operation: string(op),
			Details:   details,
			Author:    author,
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		m.logger.Warn("lifecycle: record modification", "agent", rec.AgentName, "error", err)
	} else {
		st.result.ModificationID = modID
		m.mutateRecord(rec.AgentName, func(r *model.AgentLifecycleRecord) {
			r.Modifications = append(r.Modifications, modID)
		})
	}

	if path == "" {
		return
	}
	persistID := uuid.New().String()
	err = m.withTimeout(ctx, func(cctx context.Context) error {
		return m.tracker.RecordPersistence(cctx, persistID, rec.AgentName, m.cfg.DefaultPersistenceStrategy, path)
	})
	if err != nil {
		m.logger.Warn("lifecycle: record persistence op", "agent", rec.AgentName, "error", err)
	} else {
		st.result.PersistenceID = persistID
		m.mutateRecord(rec.AgentName, func(r *model.AgentLifecycleRecord) {
			r.PersistenceOperations = append(r.PersistenceOperations, persistID)
		})
	}
}

// invalidateAndSync runs the non-fatal post-mutation side effects and
// reflects their outcome on the result.
func (m *Manager) invalidateAndSync(ctx context.Context, st *opState, name string) {
	if m.cfg.EnableCacheInvalidation && m.cache != nil {
		if err := m.cache.Invalidate(name); err != nil {
			m.logger.Warn("lifecycle: cache invalidation failed", "agent", name, "error", err)
		} else {
			st.result.CacheInvalidated = true
		}
	}

	if m.cfg.EnableRegistrySync && m.registry != nil {
		err := m.withTimeout(ctx, func(cctx context.Context) error {
			return m.registry.Refresh(cctx, name)
		})
		if err != nil {
			m.logger.Warn("lifecycle: registry sync failed", "agent", name, "error", err)
		} else {
			st.result.RegistryUpdated = true
		}
	}
}

// GetAgentStatus returns a copy of the lifecycle record for name, or nil if
// the manager has never seen the agent. Pure read: no modification record,
// no history entry.
func (m *Manager) GetAgentStatus(name string) *model.AgentLifecycleRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[name]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// AgentContent returns the agent's current definition content. With
// cache invalidation enabled and a read-through cache wired, repeat reads
// are served from the cache; every mutation invalidates the entry. Pure
// read: no modification record, no history entry.
func (m *Manager) AgentContent(ctx context.Context, name string) (string, bool, error) {
	rec := m.record(name)
	if rec == nil || rec.CurrentState == model.StateDeleted {
		return "", false, nil
	}

	cached := m.cfg.EnableCacheInvalidation && m.profile != nil
	if cached {
		if content, ok := m.profile.Get(name); ok {
			return content, true, nil
		}
	}

	var content string
	var found bool
	err := m.withTimeout(ctx, func(cctx context.Context) error {
		var rerr error
		content, found, rerr = m.contents.Read(name)
		return rerr
	})
	if err != nil {
		return "", false, fmt.Errorf("lifecycle: read content for %q: %w", name, err)
	}
	if found && cached {
		m.profile.Set(name, content)
	}
	return content, found, nil
}

// ListAgents returns copies of all known records, optionally filtered by
// state, sorted by last modification descending so active work surfaces
// first.
func (m *Manager) ListAgents(stateFilter *model.LifecycleState) []*model.AgentLifecycleRecord {
	m.mu.RLock()
	out := make([]*model.AgentLifecycleRecord, 0, len(m.records))
	for _, rec := range m.records {
		if stateFilter != nil && rec.CurrentState != *stateFilter {
			continue
		}
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		return out[i].AgentName < out[j].AgentName
	})
	return out
}

// OperationHistory returns the most recent operations, newest first,
// optionally filtered to one agent.
func (m *Manager) OperationHistory(ctx context.Context, agentName string, limit int) ([]history.OperationEntry, error) {
	return m.tracker.ListOperations(ctx, agentName, limit)
}

// ModificationHistory returns the most recent modification records for an
// agent, newest first.
func (m *Manager) ModificationHistory(ctx context.Context, agentName string, limit int) ([]history.ModificationEntry, error) {
	return m.tracker.ListModifications(ctx, agentName, limit)
}

// Backups lists the backup paths available for an agent, oldest first.
func (m *Manager) Backups(name string) ([]string, error) {
	return m.backups.ListBackups(name)
}

// StatsReport is the aggregate view returned by Stats.
type StatsReport struct {
	TotalAgents   int                  `json:"total_agents"`
	AgentsByState map[string]int       `json:"agents_by_state"`
	AgentsByTier  map[string]int       `json:"agents_by_tier"`
	Performance   model.OperationStats `json:"performance_metrics"`
}

// Stats aggregates agent counts and operation performance. A reporting view
// over existing state — nothing new is recorded.
func (m *Manager) Stats(ctx context.Context) (StatsReport, error) {
	report := StatsReport{
		AgentsByState: make(map[string]int),
		AgentsByTier:  make(map[string]int),
	}

	m.mu.RLock()
	report.TotalAgents = len(m.records)
	for _, rec := range m.records {
		report.AgentsByState[string(rec.CurrentState)]++
		report.AgentsByTier[string(rec.Tier)]++
	}
	m.mu.RUnlock()

	s, err := m.tracker.OperationStats(ctx)
	if err != nil {
		return StatsReport{}, fmt.Errorf("lifecycle: stats: %w", err)
	}
	report.Performance = model.OperationStats{
		TotalOperations:      s.TotalOperations,
		SuccessfulOperations: s.SuccessfulOperations,
		AverageDurationMS:    s.AverageDurationMS,
		OperationsLastHour:   s.OperationsLastHour,
	}
	return report, nil
}
