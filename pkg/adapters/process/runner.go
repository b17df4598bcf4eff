// Package process runs allow-listed local processes as integration collaborators.
//
// Arguments never reach the command line: each one is passed as an
// ATENDECHAT_ARG_<NAME> environment variable, which rules out flag injection.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
)

// EnvPrefix prefixes every argument variable.
const EnvPrefix = "ATENDECHAT_ARG_"

// DefaultGracePeriod is how long a process may run after the interrupt before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Runner implements ports.IntegrationInvoker by executing registered processes.
type Runner struct {
	registry map[string]IntegrationConfig
	baseDir  string
	grace    time.Duration
	logger   *slog.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(integrations map[string]IntegrationConfig) RunnerOption {
	return func(r *Runner) {
		for name, ic := range integrations {
			ic.Name = name
			r.registry[name] = ic
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithGracePeriod sets how long a cancelled process may take to exit after SIGINT.
func WithGracePeriod(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.grace = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a process runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]IntegrationConfig),
		grace:    DefaultGracePeriod,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = IntegrationConfig{Name: name, Command: command, Args: args}
}

// Invoke runs the integration and maps its stdout to a result.
//
// A JSON object with a "code" field is taken as {code, output}; any other
// output means code "success" with stdout (parsed when it is JSON) as output.
// A failing or unknown process is returned as an error.
func (r *Runner) Invoke(ctx context.Context, call domain.IntegrationCall) (domain.IntegrationResult, error) {
	ic, ok := r.registry[call.Name]
	if !ok {
		return domain.IntegrationResult{}, fmt.Errorf("integration not registered: %s", call.Name)
	}

	cmd := exec.CommandContext(ctx, ic.Command, ic.Args...)
	cmd.Dir = r.baseDir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.grace
	cmd.Env = append(cmd.Environ(), environment(ic, call)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	r.logger.Debug("integration finished", "integration", call.Name, "context_id", call.ContextID, "took", time.Since(started), "err", err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.IntegrationResult{}, fmt.Errorf("integration %s: %w", call.Name, ctxErr)
		}
		return domain.IntegrationResult{}, fmt.Errorf("integration %s failed: %w: %s", call.Name, err, strings.TrimSpace(stderr.String()))
	}
	return parseOutput(stdout.String()), nil
}

func environment(ic IntegrationConfig, call domain.IntegrationCall) []string {
	env := []string{
		"ATENDECHAT_CONTEXT_ID=" + call.ContextID,
		"ATENDECHAT_NODE_ID=" + call.NodeID,
	}
	for k, v := range ic.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range call.Args {
		env = append(env, EnvPrefix+strings.ToUpper(k)+"="+formatArg(v))
	}
	return env
}

// formatArg prints primitives as is and encodes everything else as JSON.
func formatArg(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case string, int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	}
	if encoded, err := json.Marshal(v); err == nil {
		return string(encoded)
	}
	return fmt.Sprintf("%v", v)
}

func parseOutput(out string) domain.IntegrationResult {
	trimmed := strings.TrimSpace(out)

	var envelope map[string]any
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &envelope) == nil {
		if code, ok := envelope["code"]; ok {
			return domain.IntegrationResult{Code: fmt.Sprint(code), Output: envelope["output"]}
		}
		return domain.IntegrationResult{Code: domain.HandleSuccess, Output: envelope}
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []any
		if json.Unmarshal([]byte(trimmed), &list) == nil {
			return domain.IntegrationResult{Code: domain.HandleSuccess, Output: list}
		}
	}
	return domain.IntegrationResult{Code: domain.HandleSuccess, Output: trimmed}
}
