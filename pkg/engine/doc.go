// Package engine implements the stackherd deployment orchestration core.
//
// The engine turns a declarative list of deployment units into a safe,
// concurrent execution of an opaque provisioning primitive:
//
//	Units -> Resolver -> Groups -> Orchestrator -> DeploymentSummary
//
// # Dependency resolution
//
// Resolver validates the unit set (unique names, no undeclared
// dependencies, no cycles) and assigns each unit a dependency level: zero
// for units with no dependencies, otherwise one more than the maximum level
// among its direct dependencies. Units sharing a level have no
// path-dependency on each other and form one concurrency-safe group.
//
//	resolver := engine.NewResolver()
//	groups, err := resolver.Resolve(units)
//
// # Orchestration
//
// Orchestrator executes groups strictly in ascending level order; no group
// starts until the previous group has fully settled. Within a group, units
// run concurrently (subject to DeployOptions). Each unit's operation is
// wrapped by the recovery policy, so transient provisioning failures are
// retried with exponential backoff while permanent failures fail
// immediately.
//
//	orch := engine.NewOrchestrator(driver,
//		engine.WithCredentialValidator(validator),
//		engine.WithRunStore(store),
//	)
//	summary, err := orch.DeployAll(ctx, units, engine.DefaultDeployOptions())
//
// A run always ends with a DeploymentSummary enumerating every attempted
// unit. Unit failures are recorded in the summary, never returned as
// errors; only configuration and pre-flight failures are.
//
// # Recovery
//
// ExecuteWithRecovery decorates any fallible operation with a retry,
// fail-fast, or continue strategy. Skip conditions mark errors retries
// cannot fix (already exists, permission denied, invalid configuration) so
// they do not consume the retry budget.
//
// # Failure policy
//
// DeployOptions selects what happens when a group has failures:
// ContinueOnFailure proceeds to later groups, RollbackOnFailure destroys
// all previously-successful units in reverse completion order, and neither
// flag aborts the run after the failing group. Rollback is best-effort and
// exhaustive: individual rollback failures are recorded and skipped, never
// escalated.
package engine
