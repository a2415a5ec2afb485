// Package core provides the foundational types shared by every stage of the
// resolution pipeline:
//
//   - PipelineState (the per-request record owned by the orchestrator)
//   - Event (ordered step records emitted in streaming mode)
//   - VerificationOutcome (result-shape judgement consumed by the retry loop)
//   - Error and Kind (the failure taxonomy surfaced to callers)
//   - ConcurrencyLimiter (the process-wide gate in front of the model collaborator)
//   - Content (role-tagged text passed to model adapters)
//
// The package has no knowledge of caches, pools or concrete collaborators so it
// can be imported from every other package without cycles.
package core
