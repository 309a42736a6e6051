package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/shelter/internal/logging"
)

// ErrFileTooLarge is returned when an upload exceeds ServiceConfig.MaxFileSize.
var ErrFileTooLarge = errors.New("file too large")

// Default service limits.
const (
	DefaultMaxFileSize   = 10 << 20 // 10MB
	DefaultImportTimeout = 5 * time.Minute
)

// ServiceConfig holds the importer's limits.
type ServiceConfig struct {
	// MaxFileSize bounds preview input in bytes.
	MaxFileSize int64
	// MaxWaitTime is how long an apply waits for a running import.
	MaxWaitTime time.Duration
	// Timeout bounds a single apply once it holds the lock.
	Timeout time.Duration
	// HistorySize is how many runs History keeps.
	HistorySize int
}

// ImportCompleted is published after every apply that took the lock.
type ImportCompleted struct {
	ImportID   string      `json:"importId"`
	Status     string      `json:"status"`
	Result     ApplyResult `json:"result"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
}

// Publisher delivers import notifications. Delivery is best effort.
type Publisher interface {
	PublishImportCompleted(ctx context.Context, evt ImportCompleted) error
}

// Service is the entry point for previews, applies and exports.
// Safe for concurrent use. Applies are serialized by an ImportLimiter and,
// when the store implements ImportLocker, by the store's lock as well.
type Service struct {
	store     Store
	limiter   *ImportLimiter
	publisher Publisher
	history   *runHistory
	cfg       ServiceConfig

	now func() time.Time
}

// NewService creates a Service over store. publisher may be nil.
func NewService(store Store, publisher Publisher, cfg ServiceConfig) *Service {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultImportTimeout
	}
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = DefaultImportWaitTime
	}

	return &Service{
		store:     store,
		limiter:   NewImportLimiter(cfg.MaxWaitTime),
		publisher: publisher,
		history:   newRunHistory(cfg.HistorySize),
		cfg:       cfg,
		now:       time.Now,
	}
}

// MaxFileSize is the configured upload limit in bytes.
func (s *Service) MaxFileSize() int64 {
	return s.cfg.MaxFileSize
}

// Preview analyzes data without writing anything.
func (s *Service) Preview(ctx context.Context, data []byte) (*PreviewResponse, error) {
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.cfg.MaxFileSize)
	}

	resp, err := AnalyzeImport(ctx, s.store, data)
	if err != nil {
		return nil, err
	}

	observePreview(resp)
	return resp, nil
}

// Apply reconciles the confirmed rows against the store. Only one apply runs
// at a time across every Service sharing the store; a caller that cannot get
// both locks within MaxWaitTime gets ErrImportBusy. On failure the result
// holds the work completed so far.
func (s *Service) Apply(ctx context.Context, rows []CandidateRow) (ApplyResult, error) {
	if len(rows) == 0 {
		importRuns.WithLabelValues("rejected").Inc()
		return ApplyResult{}, ErrNoRowsConfirmed
	}

	importID := uuid.New().String()
	logger := logging.WithFields(ctx, "import_id", importID)
	ctx = logging.NewContext(ctx, logger)

	deadline := time.Now().Add(s.cfg.MaxWaitTime)
	if err := s.limiter.Acquire(ctx, importID); err != nil {
		if errors.Is(err, ErrImportBusy) {
			importRuns.WithLabelValues("busy").Inc()
		}
		return ApplyResult{}, fmt.Errorf("acquire import lock: %w", err)
	}
	defer s.limiter.Release()

	unlock, err := s.lockStore(ctx, importID, time.Until(deadline))
	if err != nil {
		if errors.Is(err, ErrImportBusy) {
			importRuns.WithLabelValues("busy").Inc()
		}
		return ApplyResult{}, fmt.Errorf("acquire store import lock: %w", err)
	}
	defer unlock()

	importInProgress.Set(1)
	defer importInProgress.Set(0)

	run := ImportRun{
		ID:        importID,
		StartedAt: s.now(),
		Rows:      len(rows),
		ClientIP:  IPAddressFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
	}
	logger.Info("import started", "rows", len(rows))

	applyCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	result, err := Reconcile(applyCtx, s.store, rows)

	run.FinishedAt = s.now()
	run.Result = result
	importDuration.Observe(run.Duration().Seconds())
	observeApply(result)

	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		run.ErrorCode = MapError(err).Code
		importRuns.WithLabelValues("failed").Inc()
		logger.Error("import failed",
			"error", err,
			"created", result.Created,
			"updated", result.Updated,
			"deleted", result.Deleted,
			"skipped", result.Skipped,
		)
	} else {
		run.Status = RunSucceeded
		importRuns.WithLabelValues("success").Inc()
		logger.Info("import completed",
			"created", result.Created,
			"updated", result.Updated,
			"deleted", result.Deleted,
			"skipped", result.Skipped,
			"duration", run.Duration(),
		)
	}

	s.history.add(run)
	s.notify(ctx, run)

	return result, err
}

// lockStore takes the store-wide import lock within wait. Stores without one
// rely on the in-process limiter alone.
func (s *Service) lockStore(ctx context.Context, importID string, wait time.Duration) (func(), error) {
	locker, ok := s.store.(ImportLocker)
	if !ok {
		return func() {}, nil
	}
	return locker.LockImports(ctx, importID, max(wait, 0))
}

// notify publishes the run outcome. Failures are logged only.
func (s *Service) notify(ctx context.Context, run ImportRun) {
	if s.publisher == nil {
		return
	}

	evt := ImportCompleted{
		ImportID:   run.ID,
		Status:     run.Status,
		Result:     run.Result,
		Error:      run.Error,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}

	// The request context may already be done after a failed apply
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.publisher.PublishImportCompleted(pubCtx, evt); err != nil {
		logging.FromContext(ctx).Warn("import notification failed", "import_id", run.ID, "error", err)
	}
}

// History returns recent import runs, newest first.
func (s *Service) History() []ImportRun {
	return s.history.list()
}

// Export writes all active animals as importable CSV.
func (s *Service) Export(ctx context.Context, w io.Writer) (int, error) {
	return ExportCSV(ctx, s.store, w)
}

// LimiterStatus reports whether an import is running.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until the running import finishes or ctx ends.
// Call during graceful shutdown after the HTTP server stops accepting work.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
