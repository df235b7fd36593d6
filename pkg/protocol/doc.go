// Package protocol implements the SymNet wire protocol: CR-delimited line
// framing, typed reply tasks with single-shot completion, and the
// per-connection engine that serializes commands and classifies inbound
// lines as replies or unsolicited parameter updates.
//
// Key concepts:
//   - Framer: splits a raw byte stream into protocol lines
//   - Task: one issued command's expected-reply contract and completion cell
//   - Engine: FIFO of (command, Task) with a single task in flight at a time
package protocol
