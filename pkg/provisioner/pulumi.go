// Package provisioner implements the engine's provisioning primitive by
// driving the Pulumi CLI in each unit's work directory. It also provides
// per-run provider session caching and exec-based credential validation.
package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stackherd/stackherd/pkg/engine"
)

const defaultCommandTimeout = 30 * time.Minute

// Pulumi drives the Pulumi CLI for a single deployment unit at a time. The
// unit's Location is used as the command working directory, so every stack
// keeps its own Pulumi project files and state backend configuration.
type Pulumi struct {
	binary  string
	timeout time.Duration
	logger  zerolog.Logger
	tracer  trace.Tracer
	cache   *ProviderCache
	env     []string
}

// Option configures a Pulumi driver.
type Option func(*Pulumi)

// WithBinary overrides the pulumi binary path.
func WithBinary(path string) Option {
	return func(p *Pulumi) { p.binary = path }
}

// WithCommandTimeout bounds the runtime of a single CLI invocation.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(p *Pulumi) { p.timeout = timeout }
}

// WithLogger sets the driver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pulumi) { p.logger = logger }
}

// WithProviderCache attaches a per-run provider session cache.
func WithProviderCache(cache *ProviderCache) Option {
	return func(p *Pulumi) { p.cache = cache }
}

// WithEnv appends extra environment entries to every invocation.
func WithEnv(env ...string) Option {
	return func(p *Pulumi) { p.env = append(p.env, env...) }
}

// NewPulumi creates a Pulumi CLI driver.
func NewPulumi(opts ...Option) *Pulumi {
	p := &Pulumi{
		binary:  "pulumi",
		timeout: defaultCommandTimeout,
		logger:  zerolog.Nop(),
		tracer:  otel.Tracer("stackherd/provisioner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply creates or updates the unit's resources and returns stack outputs.
func (p *Pulumi) Apply(ctx context.Context, unit engine.DeploymentUnit) (map[string]string, error) {
	ctx, span := p.startSpan(ctx, unit, "apply")
	defer span.End()

	if _, err := p.run(ctx, unit, "up", "--yes", "--skip-preview", "--non-interactive"); err != nil {
		span.RecordError(err)
		return nil, err
	}

	outputs, err := p.stackOutputs(ctx, unit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return outputs, nil
}

// Destroy tears down the unit's resources.
func (p *Pulumi) Destroy(ctx context.Context, unit engine.DeploymentUnit) error {
	ctx, span := p.startSpan(ctx, unit, "destroy")
	defer span.End()

	if _, err := p.run(ctx, unit, "destroy", "--yes", "--non-interactive"); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Preview computes the changes an apply would make without performing them.
func (p *Pulumi) Preview(ctx context.Context, unit engine.DeploymentUnit) (*engine.ChangeSummary, error) {
	ctx, span := p.startSpan(ctx, unit, "preview")
	defer span.End()

	stdout, err := p.run(ctx, unit, "preview", "--json", "--non-interactive")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	summary, err := parseChangeSummary(stdout)
	if err != nil {
		span.RecordError(err)
		return nil, engine.NewPermanentError("failed to parse preview output", err).
			WithCode(engine.ErrCodeProvisioner).WithUnit(unit.Name).WithOperation("preview")
	}
	return summary, nil
}

// Refresh reconciles the unit's recorded state with real resources.
func (p *Pulumi) Refresh(ctx context.Context, unit engine.DeploymentUnit) error {
	ctx, span := p.startSpan(ctx, unit, "refresh")
	defer span.End()

	if _, err := p.run(ctx, unit, "refresh", "--yes", "--non-interactive"); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (p *Pulumi) startSpan(ctx context.Context, unit engine.DeploymentUnit, operation string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, fmt.Sprintf("provisioner.%s", operation),
		trace.WithAttributes(
			attribute.String("unit.name", unit.Name),
			attribute.String("unit.location", unit.Location),
		))
}

// stackOutputs reads the unit's stack outputs after a successful apply.
// Non-string output values are rendered with their JSON representation.
func (p *Pulumi) stackOutputs(ctx context.Context, unit engine.DeploymentUnit) (map[string]string, error) {
	stdout, err := p.run(ctx, unit, "stack", "output", "--json")
	if err != nil {
		return nil, err
	}

	raw := map[string]interface{}{}
	if len(bytes.TrimSpace(stdout)) > 0 {
		if err := json.Unmarshal(stdout, &raw); err != nil {
			return nil, engine.NewPermanentError("failed to parse stack outputs", err).
				WithCode(engine.ErrCodeProvisioner).WithUnit(unit.Name)
		}
	}

	outputs := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			outputs[key] = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, engine.NewPermanentError("failed to encode stack output", err).
					WithCode(engine.ErrCodeProvisioner).WithUnit(unit.Name)
			}
			outputs[key] = string(encoded)
		}
	}
	return outputs, nil
}

// run executes one pulumi command in the unit's work directory and returns
// its stdout. CLI failures are classified from stderr so the recovery layer
// can distinguish retryable faults from permanent ones.
func (p *Pulumi) run(ctx context.Context, unit engine.DeploymentUnit, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Dir = unit.Location
	cmd.Env = p.environment(unit)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	p.logger.Debug().
		Str("unit", unit.Name).
		Str("command", args[0]).
		Dur("duration", duration).
		Err(err).
		Msg("pulumi command finished")

	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctx.Err() != nil {
		return nil, engine.NewTransientError("pulumi command timed out", ctx.Err()).
			WithCode(engine.ErrCodeTimeout).WithUnit(unit.Name)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, engine.NewPermanentError("failed to start pulumi", err).
			WithCode(engine.ErrCodeProvisioner).WithUnit(unit.Name)
	}

	return nil, classifyOutput(stderr.String(), exitErr).WithUnit(unit.Name)
}

// environment builds the command environment. When a provider cache is
// attached the session env for the unit's credential and region pair is
// resolved once per run and reused across units sharing the pair.
func (p *Pulumi) environment(unit engine.DeploymentUnit) []string {
	env := append(os.Environ(), p.env...)
	if p.cache != nil {
		return append(env, p.cache.Session(unit).Env...)
	}
	if unit.CredentialRef != "" {
		env = append(env, "AWS_PROFILE="+unit.CredentialRef)
	}
	if region := unitRegion(unit); region != "" {
		env = append(env, "AWS_REGION="+region)
	}
	return env
}

// unitRegion returns the first region declared by the unit's resources.
func unitRegion(unit engine.DeploymentUnit) string {
	for _, spec := range unit.ResourceSpecs {
		if spec.Region != "" {
			return spec.Region
		}
	}
	return ""
}

// previewOutput is the subset of pulumi's preview JSON the engine cares about.
type previewOutput struct {
	ChangeSummary map[string]int `json:"changeSummary"`
}

func parseChangeSummary(stdout []byte) (*engine.ChangeSummary, error) {
	var out previewOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, err
	}
	return &engine.ChangeSummary{
		Create: out.ChangeSummary["create"],
		Update: out.ChangeSummary["update"],
		Delete: out.ChangeSummary["delete"],
		Same:   out.ChangeSummary["same"],
	}, nil
}

// classifyOutput maps CLI stderr text onto the engine's error classes. The
// markers follow the wording cloud providers and pulumi itself emit; anything
// unrecognized is treated as permanent so the recovery layer does not burn
// retries on it.
func classifyOutput(stderr string, err error) *engine.DeploymentError {
	lower := strings.ToLower(stderr)
	message := firstLine(stderr)
	if message == "" {
		message = "pulumi command failed"
	}

	switch {
	case containsAny(lower, "429", "throttl", "rate exceeded", "rate limit", "toomanyrequests"):
		return engine.NewThrottledError(message, err).WithCode(engine.ErrCodeRateLimited)
	case containsAny(lower, "conflict", "update in progress", "pending operation", "resourceinuse"):
		return engine.NewConflictError(message, err).WithCode(engine.ErrCodeConflict)
	case containsAny(lower, "timeout", "timed out", "connection reset", "connection refused",
		"service unavailable", "internal server error", "502", "503", "504"):
		return engine.NewTransientError(message, err).WithCode(engine.ErrCodeProvisioner)
	case containsAny(lower, "already exists"):
		return engine.NewPermanentError(message, err).WithCode(engine.ErrCodeAlreadyExists)
	case containsAny(lower, "unauthorized", "access denied", "permission denied", "forbidden", "403"):
		return engine.NewPermanentError(message, err).WithCode(engine.ErrCodePermissionDenied)
	default:
		return engine.NewPermanentError(message, err).WithCode(engine.ErrCodeProvisioner)
	}
}

func containsAny(s string, markers ...string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
