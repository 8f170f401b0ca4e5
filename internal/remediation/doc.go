// Package remediation is the business boundary for Remedy's incident
// remediation system. It defines the Service (detection, lifecycle, async
// dispatch), Generator (deterministic candidate plans), Executor
// (policy-gated step execution), Pipeline (evidence -> candidates ->
// validation orchestration), the Store interface, and domain models.
package remediation
