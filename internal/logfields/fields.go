// Package logfields names the structured log field keys the scheduler
// core attaches to log entries, so call sites don't repeat string
// literals that need to stay consistent across packages.
package logfields

const (
	// Tree / group identity.

	Name      = "name"
	Operation = "operation"
	GroupID   = "group-id"
	ParentID  = "parent-id"

	// Scheduling unit identity.

	WorldID   = "world-id"
	VsmpID    = "vsmp-id"
	VcpuIndex = "vcpu-index"
	CellID    = "cell-id"
	NodeID    = "node-id"
	PcpuID    = "pcpu-id"

	// Common misc.

	Attempt   = "attemptNo"
	JSON      = "json"
	ErrorKind = "error-kind"
	Reason    = "reason"

	// Time.

	Duration  = "duration"
	EndTime   = "endTime"
	StartTime = "startTime"
	Timeout   = "timeout"

	// Keys/Values.

	Field   = "field"
	Key     = "key"
	Options = "options"
	Value   = "value"

	// Scheduling values.

	Shares = "shares"
	Owed   = "owed"
	Stride = "stride"

	// Golang types.

	ExpectedType = "expected-type"

	// Logging and tracing.

	TraceID      = "traceID"
	SpanID       = "spanID"
	ParentSpanID = "parentSpanID"
)
