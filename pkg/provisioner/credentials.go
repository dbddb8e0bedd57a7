package provisioner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackherd/stackherd/pkg/engine"
)

const defaultProbeTimeout = 30 * time.Second

// ExecValidator validates a credential reference by running a probe command
// with the credential's environment applied. The default probe asks AWS STS
// for the caller identity, which fails fast on expired or missing profiles.
// Successful references are cached for the validator's lifetime.
type ExecValidator struct {
	probe   []string
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	valid map[string]bool
}

// ValidatorOption configures an ExecValidator.
type ValidatorOption func(*ExecValidator)

// WithProbe overrides the probe command and arguments.
func WithProbe(command string, args ...string) ValidatorOption {
	return func(v *ExecValidator) { v.probe = append([]string{command}, args...) }
}

// WithProbeTimeout bounds a single probe invocation.
func WithProbeTimeout(timeout time.Duration) ValidatorOption {
	return func(v *ExecValidator) { v.timeout = timeout }
}

// WithValidatorLogger sets the validator logger.
func WithValidatorLogger(logger zerolog.Logger) ValidatorOption {
	return func(v *ExecValidator) { v.logger = logger }
}

// NewExecValidator creates a credential validator.
func NewExecValidator(opts ...ValidatorOption) *ExecValidator {
	v := &ExecValidator{
		probe:   []string{"aws", "sts", "get-caller-identity", "--output", "json"},
		timeout: defaultProbeTimeout,
		logger:  zerolog.Nop(),
		valid:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns nil if the referenced credential can be assumed. An empty
// reference means the ambient environment credential and is probed like any
// other reference, under the cache key "".
func (v *ExecValidator) Validate(ctx context.Context, credentialRef string) error {
	v.mu.Lock()
	if v.valid[credentialRef] {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.probe[0], v.probe[1:]...)
	cmd.Env = os.Environ()
	if credentialRef != "" {
		cmd.Env = append(cmd.Env, "AWS_PROFILE="+credentialRef)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		v.logger.Warn().
			Str("credential_ref", credentialRef).
			Str("stderr", firstLine(stderr.String())).
			Msg("credential probe failed")

		message := firstLine(stderr.String())
		if message == "" {
			message = "credential probe failed"
		}
		return engine.NewPermanentError(message, err).WithCode(engine.ErrCodeCredential)
	}

	v.mu.Lock()
	v.valid[credentialRef] = true
	v.mu.Unlock()
	return nil
}
