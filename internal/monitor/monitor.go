// Package monitor chains the detection stages and handles their output:
// reports are persisted, notified, and counted, and detector state is
// checkpointed across restarts.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/chodetect/internal/logger"
	"github.com/rewired-gh/chodetect/internal/metrics"
	"github.com/rewired-gh/chodetect/internal/models"
	"github.com/rewired-gh/chodetect/internal/storage"
)

// Stage is one filter of the pipeline. The events it returns are fed to the
// next stage in order.
type Stage interface {
	Process(ev models.Event) []models.Event
}

// Checkpointer is a stage whose per-segment state survives restarts.
type Checkpointer interface {
	Snapshot() []models.SegmentSnapshot
	Restore(snaps []models.SegmentSnapshot)
}

// Notifier delivers segment reports, pipeline errors and recoveries.
type Notifier interface {
	SendReport(ctx context.Context, report models.Report) error
	SendError(ctx context.Context, err error) error
	SendRecovery(ctx context.Context, failureCount int) error
}

type Config struct {
	// DetectionSignals are counted in metrics and recorded to storage.
	DetectionSignals   []models.SignalID
	RecordDetections   bool
	CheckpointInterval int
}

func DefaultConfig() Config {
	return Config{
		DetectionSignals:   []models.SignalID{models.SignalCHO, models.SignalPA},
		RecordDetections:   true,
		CheckpointInterval: 1000,
	}
}

type Monitor struct {
	storage      *storage.Storage
	notifier     Notifier
	stages       []Stage
	checkpointer Checkpointer
	config       Config

	runID string

	// mu guards the fields read by Status from other goroutines.
	mu        sync.Mutex
	active    map[models.SegmentID]struct{}
	reports   []models.Report
	processed int

	consecutiveFailures int
}

// Status is a point-in-time summary of the pipeline.
type Status struct {
	RunID          string
	ActiveSegments int
	Processed      int
	Reports        int
}

func (s Status) String() string {
	return fmt.Sprintf("run %s: %d events processed, %d active segments, %d reports",
		s.RunID, s.Processed, s.ActiveSegments, s.Reports)
}

// New builds the pipeline. s and n may be nil. The first stage implementing
// Checkpointer is restored from storage and checkpointed on Shutdown.
func New(s *storage.Storage, n Notifier, config Config, stages ...Stage) *Monitor {
	m := &Monitor{
		storage:  s,
		notifier: n,
		stages:   stages,
		config:   config,
		runID:    uuid.NewString(),
		active:   make(map[models.SegmentID]struct{}),
	}
	for _, stage := range stages {
		if cp, ok := stage.(Checkpointer); ok {
			m.checkpointer = cp
			break
		}
	}

	if s != nil && m.checkpointer != nil {
		persisted, err := s.LoadAllStates()
		if err != nil {
			logger.Warn("Failed to load persisted states: %v", err)
		} else {
			m.checkpointer.Restore(persisted)
			for _, snap := range persisted {
				m.active[snap.SegmentID] = struct{}{}
			}
			logger.Info("Loaded %d persisted segment states", len(persisted))
		}
	}
	metrics.SetActiveSegments(len(m.active))

	return m
}

// RunID identifies the reports of this run in storage.
func (m *Monitor) RunID() string {
	return m.runID
}

// Reports returns the segment reports produced so far.
func (m *Monitor) Reports() []models.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Report(nil), m.reports...)
}

// Status is safe to call while events are being processed.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		RunID:          m.runID,
		ActiveSegments: len(m.active),
		Processed:      m.processed,
		Reports:        len(m.reports),
	}
}

// Process pushes one event through every stage and returns what the last
// stage emitted. Invalid events are rejected without touching any state.
func (m *Monitor) Process(ctx context.Context, ev models.Event) ([]models.Event, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	start := time.Now()

	events := []models.Event{ev}
	for _, stage := range m.stages {
		var next []models.Event
		for _, e := range events {
			next = append(next, stage.Process(e)...)
		}
		events = next
	}

	for _, out := range events {
		m.handle(ctx, out)
	}

	switch ev.Kind {
	case models.KindLevel:
		m.mu.Lock()
		m.active[ev.Segment] = struct{}{}
		m.mu.Unlock()
	case models.KindSegmentStop:
		m.stopSegment(ev.Segment)
	}

	m.mu.Lock()
	m.processed++
	active, processed := len(m.active), m.processed
	m.mu.Unlock()

	metrics.ObserveEvent(ev.Kind, time.Since(start))
	metrics.SetActiveSegments(active)

	if m.config.CheckpointInterval > 0 && processed%m.config.CheckpointInterval == 0 {
		m.checkpoint()
	}

	return events, nil
}

func (m *Monitor) isDetection(signal models.SignalID) bool {
	for _, s := range m.config.DetectionSignals {
		if s == signal {
			return true
		}
	}
	return false
}

func (m *Monitor) handle(ctx context.Context, ev models.Event) {
	switch {
	case ev.Kind == models.KindInfo && ev.Report != nil:
		m.handleReport(ctx, *ev.Report)

	case ev.Kind == models.KindLevel && m.isDetection(ev.Signal):
		metrics.IncDetection(ev.Signal, ev.Level)
		if ev.Level <= 0 || !m.config.RecordDetections || m.storage == nil {
			return
		}
		if err := m.storage.RecordDetection(ev); err != nil {
			m.reportFailure(ctx, err)
			return
		}
		m.recovered(ctx)
	}
}

func (m *Monitor) handleReport(ctx context.Context, report models.Report) {
	if m.storage != nil {
		if err := m.storage.SaveReport(m.runID, &report); err != nil {
			m.reportFailure(ctx, err)
		} else {
			m.recovered(ctx)
		}
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}

	m.mu.Lock()
	m.reports = append(m.reports, report)
	m.mu.Unlock()
	metrics.IncReport(report)
	logger.WithSegment(uint64(report.Segment)).Info(report.String())

	if m.notifier != nil {
		if err := m.notifier.SendReport(ctx, report); err != nil {
			logger.Warn("Failed to send report of segment %d: %v", report.Segment, err)
		}
	}
}

// reportFailure logs a persistence failure and notifies only the first one of
// a consecutive sequence.
func (m *Monitor) reportFailure(ctx context.Context, err error) {
	m.consecutiveFailures++
	logger.Error("Storage failure (%d in a row): %v", m.consecutiveFailures, err)
	if m.consecutiveFailures > 1 {
		return
	}
	if m.notifier != nil {
		if sendErr := m.notifier.SendError(ctx, err); sendErr != nil {
			logger.Warn("Failed to send error notification: %v", sendErr)
		}
	}
}

// recovered resets the failure count and announces the recovery if
// persistence had been failing.
func (m *Monitor) recovered(ctx context.Context) {
	if m.consecutiveFailures == 0 {
		return
	}
	failures := m.consecutiveFailures
	m.consecutiveFailures = 0
	logger.Info("Storage recovered after %d consecutive failures", failures)
	if m.notifier != nil {
		if err := m.notifier.SendRecovery(ctx, failures); err != nil {
			logger.Warn("Failed to send recovery notification: %v", err)
		}
	}
}

func (m *Monitor) stopSegment(segment models.SegmentID) {
	m.mu.Lock()
	delete(m.active, segment)
	m.mu.Unlock()
	if m.storage == nil {
		return
	}
	if err := m.storage.DeleteState(segment); err != nil {
		logger.Warn("Failed to delete state of segment %d: %v", segment, err)
	}
}

func (m *Monitor) checkpoint() {
	if m.storage == nil || m.checkpointer == nil {
		return
	}
	snaps := m.checkpointer.Snapshot()
	if err := m.storage.SaveState(snaps); err != nil {
		logger.Warn("Failed to checkpoint %d segment states: %v", len(snaps), err)
		return
	}
	logger.Debug("Checkpointed %d segment states", len(snaps))
}

// Shutdown checkpoints detector state and trims storage.
func (m *Monitor) Shutdown() {
	if m.storage == nil {
		return
	}
	logger.Info("Checkpointing %d active segments before shutdown", len(m.active))
	m.checkpoint()
	if err := m.storage.RotateReports(); err != nil {
		logger.Warn("Failed to rotate reports: %v", err)
	}
}
