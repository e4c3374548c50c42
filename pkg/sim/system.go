package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/rcedaq/daqlink-go/pkg/markup"
	"github.com/rcedaq/daqlink-go/pkg/model"
	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// Handling errors. They are also reported to clients in an error section.
var (
	ErrUnknownVariable = errors.New("unknown variable")
	ErrReadOnly        = errors.New("variable is read-only")
	ErrInvalidValue    = errors.New("invalid value")
	ErrUnknownCommand  = errors.New("unknown command")
)

// Paths used by the simulated run.
const (
	PathRunRate    = "daq:run:rate"
	PathRunState   = "daq:run:state"
	PathRunEvents  = "daq:run:events"
	PathRunComment = "daq:run:comment"
	PathTemp       = "detector:temp"

	CmdStart   = "Start"
	CmdStop    = "Stop"
	CmdComment = "run:comment"
)

// Run states.
const (
	StateStopped = "stopped"
	StateRunning = "running"
)

// Definition describes a simulated device.
type Definition struct {
	Variables []model.Variable
	Commands  []model.Command

	// Defaults holds the initial config and status values by path.
	// Variables without a default start empty.
	Defaults map[string]string
}

// DefaultDefinition returns a small readout system with a run controller,
// a trigger and two high-voltage channels.
func DefaultDefinition() Definition {
	hv := func(ch string) model.Variable {
		return model.Variable{
			Path: "detector:hv(" + ch + "):voltage", Kind: model.KindConfig, Type: "Float",
			CompA: "0", CompB: "1.0", CompUnits: "V", Min: "0", Max: "1500",
			PerInstance: true, Description: "channel bias voltage",
		}
	}
	return Definition{
		Variables: []model.Variable{
			{Path: PathRunRate, Kind: model.KindConfig, Type: "Int", Min: "0", Max: "100000",
				Description: "events per tick while running"},
			{Path: "daq:trigger:mode", Kind: model.KindConfig, Type: "Enum",
				Enums: []string{"internal", "external", "random"}},
			hv("0"),
			hv("1"),
			{Path: PathRunState, Kind: model.KindStatus, Type: model.StatusType,
				Enums: []string{StateStopped, StateRunning}},
			{Path: PathRunEvents, Kind: model.KindStatus, Type: model.StatusType},
			{Path: PathRunComment, Kind: model.KindStatus, Type: model.StatusType, Hidden: true},
			{Path: PathTemp, Kind: model.KindStatus, Type: model.StatusType, CompUnits: "C"},
		},
		Commands: []model.Command{
			{Path: CmdStart, Description: "start a run"},
			{Path: CmdStop, Description: "stop the run"},
			{Path: CmdComment, HasArg: true, Description: "set the run comment"},
		},
		Defaults: map[string]string{
			PathRunRate:              "100",
			"daq:trigger:mode":       "internal",
			"detector:hv(0):voltage": "0",
			"detector:hv(1):voltage": "0",
			PathRunState:             StateStopped,
			PathRunEvents:            "0",
			PathRunComment:           "",
			PathTemp:                 "21.5",
		},
	}
}

// System is the state of a simulated device. It is safe for concurrent
// use.
type System struct {
	def      Definition
	registry *model.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	config map[string]string
	status map[string]string
	events uint64
	ticks  uint64
}

// NewSystem creates a system at its default values.
func NewSystem(def Definition, logger *slog.Logger) *System {
	s := &System{
		def:      def,
		registry: model.NewRegistry(),
		logger:   logger,
	}
	for _, v := range def.Variables {
		s.registry.AddVariable(v)
	}
	for _, c := range def.Commands {
		s.registry.AddCommand(c)
	}
	s.config = s.defaults(model.KindConfig)
	s.status = s.defaults(model.KindStatus)
	return s
}

func (s *System) defaults(kind model.Kind) map[string]string {
	out := make(map[string]string)
	for _, v := range s.def.Variables {
		if v.Kind == kind {
			out[v.Path] = s.def.Defaults[v.Path]
		}
	}
	return out
}

// Registry returns the device structure.
func (s *System) Registry() *model.Registry { return s.registry }

// Config returns a configuration value.
func (s *System) Config(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.config[path]
	return v, ok
}

// Status returns a status value.
func (s *System) Status(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.status[path]
	return v, ok
}

// Snapshot renders structure, configuration and status in one frame.
func (s *System) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := reply{structure: true, config: maps.Clone(s.config), status: maps.Clone(s.status)}
	return s.render(r)
}

// reply collects what a request changed or asked for.
type reply struct {
	structure bool
	config    map[string]string
	status    map[string]string
	errors    []string
}

func (r *reply) setConfig(path, value string) {
	if r.config == nil {
		r.config = make(map[string]string)
	}
	r.config[path] = value
}

func (r *reply) setStatus(path, value string) {
	if r.status == nil {
		r.status = make(map[string]string)
	}
	r.status[path] = value
}

func (r *reply) fail(err error) {
	r.errors = append(r.errors, err.Error())
}

func (r *reply) empty() bool {
	return !r.structure && len(r.config) == 0 && len(r.status) == 0 && len(r.errors) == 0
}

// Handle applies one inbound frame payload and returns the reply frame,
// or nil when there is nothing to report. A malformed payload yields an
// error reply together with the decode error.
func (s *System) Handle(payload []byte) ([]byte, error) {
	msg, err := wire.Decode(payload)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.render(reply{errors: []string{"malformed message: " + err.Error()}}), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var r reply
	for _, u := range msg.Updates {
		switch u.Category {
		case wire.CategoryConfig:
			if err := s.write(u.Path, u.Value); err != nil {
				r.fail(err)
				continue
			}
			r.setConfig(u.Path, s.config[u.Path])
		case wire.CategoryStatus:
			r.fail(fmt.Errorf("%w: %s", ErrReadOnly, u.Path))
		case wire.CategoryCommand:
			s.command(&r, u.Path, u.Value)
		}
	}
	if r.empty() {
		return nil, nil
	}
	return s.render(r), nil
}

func (s *System) write(path, value string) error {
	v, err := s.registry.Variable(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownVariable, path)
	}
	if v.Kind != model.KindConfig {
		return fmt.Errorf("%w: %s", ErrReadOnly, path)
	}
	if !v.Allows(value) || !v.InRange(value) {
		return fmt.Errorf("%w for %s: %q", ErrInvalidValue, path, value)
	}
	s.config[path] = value
	s.debugLog("config written", "path", path, "value", value)
	return nil
}

func (s *System) command(r *reply, name, arg string) {
	s.debugLog("command", "name", name, "arg", arg)
	switch name {
	case wire.CmdReadConfig:
		r.config = maps.Clone(s.config)
	case wire.CmdReadStatus:
		r.status = maps.Clone(s.status)
	case wire.CmdSetDefaults:
		s.config = s.defaults(model.KindConfig)
		r.config = maps.Clone(s.config)
	case wire.CmdSoftReset:
		s.resetRun()
		r.status = maps.Clone(s.status)
	case wire.CmdHardReset:
		s.config = s.defaults(model.KindConfig)
		s.resetRun()
		r.structure = true
		r.config = maps.Clone(s.config)
		r.status = maps.Clone(s.status)
	case CmdStart:
		s.status[PathRunState] = StateRunning
		r.setStatus(PathRunState, StateRunning)
	case CmdStop:
		s.status[PathRunState] = StateStopped
		r.setStatus(PathRunState, StateStopped)
	case CmdComment:
		s.status[PathRunComment] = arg
		r.setStatus(PathRunComment, arg)
	default:
		r.fail(fmt.Errorf("%w: %s", ErrUnknownCommand, name))
	}
}

func (s *System) resetRun() {
	s.status = s.defaults(model.KindStatus)
	s.events = 0
	s.ticks = 0
}

// Running reports whether a run is active.
func (s *System) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[PathRunState] == StateRunning
}

// Tick advances the simulation by one step and returns a status frame with
// the values that changed. The temperature drifts on every tick; the event
// counter grows by the configured rate while running.
func (s *System) Tick() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	var r reply
	if _, ok := s.status[PathTemp]; ok {
		temp := 21.5 + 0.1*float64(s.ticks%10)
		v := strconv.FormatFloat(temp, 'f', 1, 64)
		s.status[PathTemp] = v
		r.setStatus(PathTemp, v)
	}
	if s.status[PathRunState] == StateRunning {
		rate, _ := strconv.ParseUint(s.config[PathRunRate], 10, 64)
		s.events += rate
		v := strconv.FormatUint(s.events, 10)
		s.status[PathRunEvents] = v
		r.setStatus(PathRunEvents, v)
	}
	if r.empty() {
		return nil
	}
	return s.render(r)
}

func (s *System) render(r reply) []byte {
	var sections []*markup.Element
	if r.structure {
		vars := append(s.registry.Variables(model.KindConfig), s.registry.Variables(model.KindStatus)...)
		sections = append(sections, wire.RenderStructure(vars, s.registry.Commands()))
	}
	for _, part := range []struct {
		cat    wire.Category
		values map[string]string
	}{
		{wire.CategoryConfig, r.config},
		{wire.CategoryStatus, r.status},
	} {
		if len(part.values) == 0 {
			continue
		}
		section, err := wire.RenderValues(part.cat, part.values)
		if err != nil {
			r.errors = append(r.errors, err.Error())
			continue
		}
		sections = append(sections, section)
	}
	if len(r.errors) > 0 {
		sections = append(sections, wire.RenderError(strings.Join(r.errors, "; ")))
	}
	return wire.Frame(wire.Document(sections...))
}

func (s *System) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
