package protocol

import "errors"

var (
	// ErrRejected reports that the device answered NAK.
	ErrRejected = errors.New("request rejected by device")

	// ErrUnexpectedReply reports a reply line that does not match the
	// task's expected shape.
	ErrUnexpectedReply = errors.New("unexpected reply")

	// ErrClosed reports an operation on a severed connection.
	ErrClosed = errors.New("connection closed")
)
