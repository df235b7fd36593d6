// Package dsp is the reconnect-transparent client for a SymNet audio DSP.
//
// A Connection hides connection lifecycle behind a stable command and
// subscription API: it connects lazily, preserves queued and in-flight
// commands across a dropped link, retries timed-out commands with queue
// priority, and coalesces parameter subscriptions into the device's
// range-based subscribe commands.
//
// The Control/Device layer on top exposes named device parameters through
// value converters with cached reads and optional debounced writes.
package dsp
