// Package events carries pipeline progress notifications from the
// orchestrator to whoever tracks request status.
//
// The orchestrator emits a PipelineEvent whenever a request enters or leaves
// a stage, or when an optional branch fails. Handlers such as the status
// registry subscribe through an EventEmitter and never need a reference back
// to the orchestrator.
package events
