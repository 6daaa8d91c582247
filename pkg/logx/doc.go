// Package logx wraps zerolog behind a small Logger value type.
//
// The Service owns the configured sinks (console and/or file) and can swap
// them at runtime via Apply(); Logger values created from a Service keep
// following the current sinks. The zero Logger is a safe no-op.
package logx
