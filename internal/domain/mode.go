package domain

import (
	"fmt"
	"strings"
)

// DataEnvironment is the exchange environment market data is read from.
type DataEnvironment string

const (
	EnvDemo DataEnvironment = "demo"
	EnvProd DataEnvironment = "prod"
)

// ExecutionMode controls what happens to accepted decisions.
type ExecutionMode string

const (
	ExecTest     ExecutionMode = "test"     // demo data, API validation only
	ExecPaper    ExecutionMode = "paper"    // simulated fills
	ExecTraining ExecutionMode = "training" // would-trade logs, never submits
	ExecDemo     ExecutionMode = "demo"     // real orders on the demo exchange
	ExecProd     ExecutionMode = "prod"     // real orders with real money
)

// RunMode is a validated (data environment, execution mode) pair.
// The zero value is invalid; build it with NewRunMode or ParseRunMode.
type RunMode struct {
	data DataEnvironment
	exec ExecutionMode
}

// NewRunMode validates the pair.
func NewRunMode(data DataEnvironment, exec ExecutionMode) (RunMode, error) {
	switch data {
	case EnvDemo, EnvProd:
	default:
		return RunMode{}, fmt.Errorf("%w: unknown data environment %q", ErrInvalidRunMode, data)
	}

	switch exec {
	case ExecPaper, ExecTraining:
	case ExecTest, ExecDemo:
		if data != EnvDemo {
			return RunMode{}, fmt.Errorf("%w: execution %q requires demo data, got %q", ErrInvalidRunMode, exec, data)
		}
	case ExecProd:
		if data != EnvProd {
			return RunMode{}, fmt.Errorf("%w: execution %q requires prod data, got %q", ErrInvalidRunMode, exec, data)
		}
	default:
		return RunMode{}, fmt.Errorf("%w: unknown execution mode %q", ErrInvalidRunMode, exec)
	}

	return RunMode{data: data, exec: exec}, nil
}

// ParseRunMode parses user input, case-insensitive.
func ParseRunMode(data, exec string) (RunMode, error) {
	return NewRunMode(
		DataEnvironment(strings.ToLower(strings.TrimSpace(data))),
		ExecutionMode(strings.ToLower(strings.TrimSpace(exec))),
	)
}

func (m RunMode) Data() DataEnvironment    { return m.data }
func (m RunMode) Execution() ExecutionMode { return m.exec }

// IsZero reports whether the mode was never validated.
func (m RunMode) IsZero() bool { return m.data == "" && m.exec == "" }

func (m RunMode) String() string {
	if m.IsZero() {
		return "invalid"
	}
	return string(m.data) + "/" + string(m.exec)
}

// RequiresConfirmation is true for modes that submit real orders.
func (m RunMode) RequiresConfirmation() bool {
	return m.exec == ExecDemo || m.exec == ExecProd
}

// SubmitsOrders is true when accepted decisions reach the exchange.
func (m RunMode) SubmitsOrders() bool {
	return m.exec == ExecDemo || m.exec == ExecProd
}

// ExecutorKind maps the execution mode to its dispatcher variant.
func (m RunMode) ExecutorKind() ExecutorKind {
	switch m.exec {
	case ExecPaper:
		return ExecutorPaper
	case ExecDemo, ExecProd:
		return ExecutorLive
	default:
		return ExecutorTraining
	}
}

// MarshalText encodes the mode as "data/exec".
func (m RunMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes "data/exec" and validates it.
func (m *RunMode) UnmarshalText(b []byte) error {
	data, exec, ok := strings.Cut(string(b), "/")
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRunMode, string(b))
	}
	parsed, err := ParseRunMode(data, exec)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// LiveGrant is the capability required to build a live executor.
// Only GrantLive can produce a usable one.
type LiveGrant struct {
	mode RunMode
}

// GrantLive returns a LiveGrant for modes that submit orders.
func (m RunMode) GrantLive() (LiveGrant, error) {
	if !m.SubmitsOrders() {
		return LiveGrant{}, fmt.Errorf("%w: mode %s", ErrLiveNotPermitted, m)
	}
	return LiveGrant{mode: m}, nil
}

// Mode returns the run mode the grant was issued for.
func (g LiveGrant) Mode() RunMode { return g.mode }

// Valid reports whether the grant came from GrantLive.
func (g LiveGrant) Valid() bool { return g.mode.SubmitsOrders() }
