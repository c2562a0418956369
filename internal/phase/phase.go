// Package phase infers the current print phase from the G-code response
// stream. The daemon echoes console output as notifications; a fixed pattern
// table maps recognizable lines to phases and transitions are reported
// through a callback.
package phase

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"sync"

	"github.com/printforge/moonbridge/internal/rpc"
)

const (
	handlerName         = "phase-detector"
	methodGcodeResponse = "notify_gcode_response"
)

// Phase is the inferred stage of the running job.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseHoming
	PhaseHeating
	PhaseLeveling
	PhasePrinting
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseHoming:
		return "homing"
	case PhaseHeating:
		return "heating"
	case PhaseLeveling:
		return "leveling"
	case PhasePrinting:
		return "printing"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Registry is the slice of the RPC client the detector needs.
type Registry interface {
	RegisterMethodHandler(method, name string, fn rpc.NotificationFunc)
	UnregisterMethodHandler(method, name string) bool
}

// ChangeFunc receives phase transitions.
type ChangeFunc func(from, to Phase)

type pattern struct {
	re    *regexp.Regexp
	phase Phase
}

// Ordered; the first matching pattern wins. Complete outranks printing so a
// "print finished" echo that also mentions printing resolves correctly.
var patterns = []pattern{
	{regexp.MustCompile(`(?i)print (?:complete|done|finished)`), PhaseComplete},
	{regexp.MustCompile(`(?i)(?:^|\s)G28(?:\s|$)|homing`), PhaseHoming},
	{regexp.MustCompile(`(?i)(?:^|\s)M10[49](?:\s|$)|(?:^|\s)M190(?:\s|$)|heating`), PhaseHeating},
	{regexp.MustCompile(`(?i)(?:^|\s)G29(?:\s|$)|bed_mesh|bed level|leveling`), PhaseLeveling},
	{regexp.MustCompile(`(?i)print (?:started|resumed)|resuming print`), PhasePrinting},
}

// Detector tracks the current phase from G-code response lines.
type Detector struct {
	registry Registry
	onChange ChangeFunc
	logger   *slog.Logger

	mu      sync.Mutex
	current Phase
}

// NewDetector creates a detector. onChange may be nil; transitions are then
// only logged.
func NewDetector(registry Registry, onChange ChangeFunc, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		registry: registry,
		onChange: onChange,
		logger:   logger,
	}
}

// Start registers the G-code response handler.
func (d *Detector) Start() {
	d.registry.RegisterMethodHandler(methodGcodeResponse, handlerName, d.onGcodeResponse)
}

// Stop unregisters the handler. The current phase is retained.
func (d *Detector) Stop() {
	d.registry.UnregisterMethodHandler(methodGcodeResponse, handlerName)
}

// Current returns the last inferred phase.
func (d *Detector) Current() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Reset returns the detector to the unknown phase, e.g. when a new job
// starts.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.current = PhaseUnknown
	d.mu.Unlock()
}

// onGcodeResponse handles one notification. Params is a JSON array of echoed
// console lines.
func (d *Detector) onGcodeResponse(n *rpc.Notification) {
	var lines []string
	if err := json.Unmarshal(n.Params, &lines); err != nil {
		d.logger.Debug("unparseable gcode response params", "error", err)
		return
	}
	for _, line := range lines {
		d.observe(line)
	}
}

func (d *Detector) observe(line string) {
	next := classify(line)
	if next == PhaseUnknown {
		return
	}

	d.mu.Lock()
	prev := d.current
	if next == prev {
		d.mu.Unlock()
		return
	}
	d.current = next
	d.mu.Unlock()

	d.logger.Info("phase transition", "from", prev, "to", next, "line", line)
	if d.onChange != nil {
		d.onChange(prev, next)
	}
}

func classify(line string) Phase {
	for _, p := range patterns {
		if p.re.MatchString(line) {
			return p.phase
		}
	}
	return PhaseUnknown
}
