package provisioner

import (
	"sync"

	"github.com/stackherd/stackherd/pkg/engine"
)

// ProviderSession is the resolved provider environment for one credential
// and region pair.
type ProviderSession struct {
	Key string
	Env []string
}

// ProviderCache caches provider sessions for the duration of one run. Units
// sharing a credential reference and region reuse the same session instead of
// resolving it per unit. Callers create one cache per run; sessions never
// outlive it.
type ProviderCache struct {
	mu       sync.Mutex
	sessions map[string]*ProviderSession

	// builds counts session constructions, for observability and tests.
	builds int
}

// NewProviderCache creates an empty per-run cache.
func NewProviderCache() *ProviderCache {
	return &ProviderCache{sessions: make(map[string]*ProviderSession)}
}

// Session returns the session for the unit's credential and region pair,
// building it on first use.
func (c *ProviderCache) Session(unit engine.DeploymentUnit) *ProviderSession {
	key := unit.CredentialRef + "/" + unitRegion(unit)

	c.mu.Lock()
	defer c.mu.Unlock()

	if session, ok := c.sessions[key]; ok {
		return session
	}

	session := &ProviderSession{Key: key, Env: sessionEnv(unit)}
	c.sessions[key] = session
	c.builds++
	return session
}

// Len returns the number of cached sessions.
func (c *ProviderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Builds returns how many sessions were constructed rather than reused.
func (c *ProviderCache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

func sessionEnv(unit engine.DeploymentUnit) []string {
	var env []string
	if unit.CredentialRef != "" {
		env = append(env, "AWS_PROFILE="+unit.CredentialRef)
	}
	if region := unitRegion(unit); region != "" {
		env = append(env, "AWS_REGION="+region)
	}
	return env
}
