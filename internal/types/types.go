package types

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// AuthMode selects how the SSH session authenticates
type AuthMode string

const (
	AuthPassword AuthMode = "p"
	AuthKey      AuthMode = "k"
)

// SudoMode selects privilege escalation for remote commands
type SudoMode string

const (
	SudoNone       SudoMode = ""
	SudoNoPassword SudoMode = "n"
	SudoPassword   SudoMode = "p"
)

// CommandAction selects the runner used for a command
type CommandAction string

const (
	ActionSSHCommand CommandAction = "ssh_command"
	ActionPlan       CommandAction = "plan"
)

// ActionKind is the branching decision taken after a plan line finishes
type ActionKind string

const (
	ExitWithCommandCode ActionKind = "e"
	ExitWithCustomCode  ActionKind = "ec"
	RunNextLine         ActionKind = "n"
)

// Valid reports whether k is one of the known action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ExitWithCommandCode, ExitWithCustomCode, RunNextLine:
		return true
	}
	return false
}

// Operator compares an exit code against an action value
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

var operatorFuncs = map[Operator]func(a, b int) bool{
	OpEqual:        func(a, b int) bool { return a == b },
	OpNotEqual:     func(a, b int) bool { return a != b },
	OpGreater:      func(a, b int) bool { return a > b },
	OpGreaterEqual: func(a, b int) bool { return a >= b },
	OpLess:         func(a, b int) bool { return a < b },
	OpLessEqual:    func(a, b int) bool { return a <= b },
}

// Valid reports whether op is one of the supported comparison operators.
func (op Operator) Valid() bool {
	_, ok := operatorFuncs[op]
	return ok
}

// KeyType tags a stored credential
type KeyType string

const (
	KeyTypeSSH    KeyType = "k"
	KeyTypeSecret KeyType = "s"
)

// Server holds everything needed to reach a remote host
type Server struct {
	ID          int64             `yaml:"-"`
	Reference   string            `yaml:"reference"`
	Name        string            `yaml:"name"`
	IPv4        string            `yaml:"ipv4,omitempty"`
	IPv6        string            `yaml:"ipv6,omitempty"`
	SSHPort     string            `yaml:"ssh_port,omitempty"`
	SSHUsername string            `yaml:"ssh_username"`
	SSHPassword string            `yaml:"ssh_password,omitempty"`
	SSHKeyRef   string            `yaml:"ssh_key,omitempty"` // reference of a key with type "k"
	SSHKeyID    int64             `yaml:"-"`
	SSHAuthMode AuthMode          `yaml:"ssh_auth_mode,omitempty"`
	UseSudo     SudoMode          `yaml:"use_sudo,omitempty"`
	Partner     string            `yaml:"partner,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty"` // catalog only, stored as variable values
}

// Host returns the IPv4 address when set, otherwise the IPv6 one.
func (s *Server) Host() string {
	if s.IPv4 != "" {
		return s.IPv4
	}
	return s.IPv6
}

// Port returns the SSH port, "22" when unset.
func (s *Server) Port() string {
	if strings.TrimSpace(s.SSHPort) == "" {
		return "22"
	}
	return s.SSHPort
}

// ResolveSudo returns the sudo mode a command runs with. A nil request
// falls back to the server setting. Root never uses sudo.
func (s *Server) ResolveSudo(requested *SudoMode) SudoMode {
	if s.SSHUsername == "root" {
		return SudoNone
	}
	if requested == nil {
		return s.UseSudo
	}
	return *requested
}

// Command is a named code template executed on servers
type Command struct {
	ID               int64         `yaml:"-"`
	Reference        string        `yaml:"reference"`
	Name             string        `yaml:"name"`
	Action           CommandAction `yaml:"action,omitempty"`
	Code             string        `yaml:"code,omitempty"`
	Path             string        `yaml:"path,omitempty"`
	Interpreter      string        `yaml:"interpreter,omitempty"`
	AllowParallelRun bool          `yaml:"allow_parallel_run,omitempty"`
	PlanRef          string        `yaml:"plan,omitempty"` // used with action "plan"
	PlanID           int64         `yaml:"-"`
}

// Plan is an ordered set of lines with branching rules
type Plan struct {
	ID               int64      `yaml:"-"`
	Reference        string     `yaml:"reference"`
	Name             string     `yaml:"name"`
	AllowParallelRun bool       `yaml:"allow_parallel_run,omitempty"`
	OnErrorAction    ActionKind `yaml:"on_error_action,omitempty"`
	CustomExitCode   int        `yaml:"custom_exit_code,omitempty"`
	Lines            []PlanLine `yaml:"lines"`
}

// SortLines orders lines by sequence, ties broken by creation order.
func (p *Plan) SortLines() {
	sort.SliceStable(p.Lines, func(i, j int) bool {
		if p.Lines[i].Sequence != p.Lines[j].Sequence {
			return p.Lines[i].Sequence < p.Lines[j].Sequence
		}
		return p.Lines[i].ID < p.Lines[j].ID
	})
	for i := range p.Lines {
		p.Lines[i].SortActions()
	}
}

// LineIndex returns the position of the line with the given id or -1.
func (p *Plan) LineIndex(lineID int64) int {
	for i := range p.Lines {
		if p.Lines[i].ID == lineID {
			return i
		}
	}
	return -1
}

// PlanLine is one step of a plan bound to a command
type PlanLine struct {
	ID         int64            `yaml:"-"`
	PlanID     int64            `yaml:"-"`
	Sequence   int              `yaml:"sequence"`
	CommandRef string           `yaml:"command"`
	CommandID  int64            `yaml:"-"`
	Path       string           `yaml:"path,omitempty"`
	Condition  string           `yaml:"condition,omitempty"`
	UseSudo    bool             `yaml:"use_sudo,omitempty"`
	Actions    []PlanLineAction `yaml:"actions,omitempty"`
}

// SortActions orders actions by sequence, ties broken by creation order.
func (l *PlanLine) SortActions() {
	sort.SliceStable(l.Actions, func(i, j int) bool {
		if l.Actions[i].Sequence != l.Actions[j].Sequence {
			return l.Actions[i].Sequence < l.Actions[j].Sequence
		}
		return l.Actions[i].ID < l.Actions[j].ID
	})
}

// PlanLineAction maps an exit code comparison to a branching decision
type PlanLineAction struct {
	ID             int64             `yaml:"-"`
	LineID         int64             `yaml:"-"`
	Sequence       int               `yaml:"sequence"`
	Operator       Operator          `yaml:"condition"`
	Value          string            `yaml:"value"`
	Action         ActionKind        `yaml:"action"`
	CustomExitCode int               `yaml:"custom_exit_code,omitempty"`
	VariableValues map[string]string `yaml:"variable_values,omitempty"`
}

// Matches evaluates "exitCode <operator> value". A value that is not an
// integer or an unknown operator never matches.
func (a *PlanLineAction) Matches(exitCode int) bool {
	fn, ok := operatorFuncs[a.Operator]
	if !ok {
		return false
	}
	v, err := strconv.Atoi(strings.TrimSpace(a.Value))
	if err != nil {
		return false
	}
	return fn(exitCode, v)
}

// Variable is a named template variable
type Variable struct {
	ID   int64
	Name string
}

// VariableValue binds a value to a variable, globally (ServerID 0) or for one server
type VariableValue struct {
	ID         int64
	VariableID int64
	Name       string
	ServerID   int64
	Value      string
}

// Key is a stored secret or SSH private key
type Key struct {
	ID          int64   `yaml:"-"`
	Name        string  `yaml:"name"`
	Reference   string  `yaml:"reference,omitempty"`
	Type        KeyType `yaml:"type,omitempty"`
	SecretValue string  `yaml:"secret_value"`
	ServerRef   string  `yaml:"server,omitempty"`
	ServerID    int64   `yaml:"-"`
	Partner     string  `yaml:"partner,omitempty"`
	Note        string  `yaml:"note,omitempty"`
}

// CommandLog records one command execution attempt
type CommandLog struct {
	ID                 int64
	ServerID           int64
	CommandID          int64
	PlanLogID          int64
	TriggeredPlanLogID int64
	RunID              string
	Label              string
	IsRunning          bool
	StartDate          time.Time
	FinishDate         time.Time
	Duration           float64
	Path               string
	Code               string
	UseSudo            SudoMode
	Status             int
	Response           string
	Error              string
	Condition          string
	IsSkipped          bool
}

// PlanLog records one plan execution on one server
type PlanLog struct {
	ID                 int64
	ServerID           int64
	PlanID             int64
	ParentPlanLogID    int64
	RunID              string
	Label              string
	IsRunning          bool
	StartDate          time.Time
	FinishDate         time.Time
	Duration           float64
	PlanLineExecutedID int64
	PlanStatus         int
}

// CommandResult is the outcome of a single command run
type CommandResult struct {
	Status   int
	Response string
	Error    string
}
