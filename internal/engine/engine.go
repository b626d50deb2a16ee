// Package engine runs the per-message behavior pipeline for agents: trigger
// detection, trigger processing, phase transitions, intensity, emotional
// influence, safety and guidance selection.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/safety"
)

// Store persists agent state. Update must apply fn atomically per agent and
// write nothing when fn fails.
type Store interface {
	Load(ctx context.Context, agentID string) (behavior.AgentState, error)
	Update(ctx context.Context, agentID string, fn func(*behavior.AgentState) error) (behavior.AgentState, error)
}

// Options wires an Engine. Zero values fall back to in-memory collaborators
// and the embedded tables.
type Options struct {
	Tables     *behavior.Tables
	Safety     *safety.Config
	Store      Store
	TriggerLog behavior.TriggerLog
	Consent    safety.ConsentStore
	Logger     zerolog.Logger
	// Workers bounds ProcessBatch fan-out across agents.
	Workers int
	Clock   func() time.Time
}

// Engine is safe for concurrent use. Messages of one agent are serialized;
// different agents run in parallel.
type Engine struct {
	tables    *behavior.Tables
	store     Store
	log       behavior.TriggerLog
	consent   safety.ConsentStore
	detector  *behavior.Detector
	processor *behavior.Processor
	phases    *behavior.PhaseManager
	calc      *behavior.Calculator
	emotions  *behavior.EmotionIntegrator
	guidance  *behavior.GuidanceSelector
	moderator *safety.Moderator
	gate      *safety.Gatekeeper
	logger    zerolog.Logger
	now       func() time.Time
	workers   int
	locks     *agentLocks
}

var ErrInvalidInput = errors.New("invalid input")

func New(opts Options) (*Engine, error) {
	tables := opts.Tables
	if tables == nil {
		var err error
		if tables, err = behavior.DefaultTables(); err != nil {
			return nil, err
		}
	}
	safetyCfg := opts.Safety
	if safetyCfg == nil {
		var err error
		if safetyCfg, err = safety.DefaultConfig(); err != nil {
			return nil, err
		}
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}
	log := opts.TriggerLog
	if log == nil {
		log = behavior.NewMemoryTriggerLog()
	}
	consent := opts.Consent
	if consent == nil {
		consent = safety.NewMemoryConsentStore()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	e := &Engine{
		tables:    tables,
		store:     store,
		log:       log,
		consent:   consent,
		detector:  behavior.NewDetector(tables.Triggers, opts.Logger),
		processor: behavior.NewProcessor(log, opts.Logger),
		phases:    behavior.NewPhaseManager(tables.Phases, log, opts.Logger),
		calc:      behavior.NewCalculator(tables.Intensity),
		emotions:  behavior.NewEmotionIntegrator(tables.Emotions),
		guidance:  behavior.NewGuidanceSelector(tables.Guidance, tables.Phases),
		moderator: safety.NewModerator(safetyCfg),
		gate:      safety.NewGatekeeper(safetyCfg, consent),
		logger:    opts.Logger.With().Str("component", "engine").Logger(),
		now:       now,
		workers:   workers,
		locks:     newAgentLocks(),
	}
	e.detector.SetClock(now)
	e.phases.SetClock(now)
	return e, nil
}

// Moderator exposes the content moderator used by the engine.
func (e *Engine) Moderator() *safety.Moderator { return e.moderator }

// Gate exposes the consent gate used by the engine.
func (e *Engine) Gate() *safety.Gatekeeper { return e.gate }

// Detector exposes the trigger detector used by the engine.
func (e *Engine) Detector() *behavior.Detector { return e.detector }

// Tables returns the configuration tables in use.
func (e *Engine) Tables() *behavior.Tables { return e.tables }
