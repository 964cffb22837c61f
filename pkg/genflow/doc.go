// Package genflow streams text generation from pluggable model backends,
// with multi-step continuation, fan-out to multiple consumers, and deferred
// aggregate results.
//
// # Core Types
//
// Event is the fundamental unit of a generation stream, a tagged variant:
//   - text-delta: an incremental text fragment
//   - tool-call / tool-call-delta / tool-result: tool traffic, forwarded
//     verbatim (this package never executes tools)
//   - step-finish: one model invocation ended
//   - finish: the whole generation ended cleanly, with cumulative usage
//   - error: the generation ended abnormally
//
// Model is the backend capability: one GenerateStream call yields one
// ModelStream, a pull iterator over data events terminated by exactly one
// finish event and then io.EOF.
//
// # Demand-Driven Production
//
// Generate returns immediately; nothing is pulled from the model until a
// consumer demands events. Demand comes from stream views (Events,
// TextStream), from the pipes (PipeEvents, PipeText), or from the deferred
// accessors (Text, Usage, FinishReason, Messages, Steps, Wait). Production
// never runs more than a bounded window ahead of the slowest open view, and
// abandoning every view cancels the remaining model work.
//
// # Multi-Step Continuation
//
// With Options.ContinueSteps, a step that stops at the length limit is
// continued: the output so far is re-posed as a model turn and the model is
// invoked again, up to Options.MaxSteps. At each continued boundary the
// trailing text fragment is split by Options.SplitFragment so a partial
// word is regenerated by the next step instead of being emitted twice.
//
// # Data Flow
//
//	Model ─▶ step controller ─▶ fanout ─▶ event/text views, pipes
//	                              │
//	                              └─▶ OnChunk, aggregator ─▶ deferred results
package genflow
