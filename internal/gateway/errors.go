package gateway

import (
	"errors"
	"fmt"
)

// Sentinel signals raised by a single connection attempt and classified by
// the keep-alive supervisor. These are ordinary error values, not unwinding
// control flow: runOnce returns exactly one of them (or a transport error)
// and the supervisor switches on the result.
var (
	// errZombie means the socket stayed open but stopped delivering data;
	// detected by the heartbeat task when no message arrives within one
	// heartbeat interval.
	errZombie = errors.New("zombie connection: no messages within heartbeat interval")

	// errReconnect means the server sent a RECONNECT opcode. The session is
	// preserved and resumed on the next attempt.
	errReconnect = errors.New("server requested reconnect")

	// ErrShardClosed is returned from Start when the shard shuts down before
	// ever reaching ready.
	ErrShardClosed = errors.New("shard closed before becoming ready")
)

// invalidSessionError is the INVALID_SESSION opcode. The payload carries
// whether the session may still be resumed.
type invalidSessionError struct {
	resumable bool
}

func (e *invalidSessionError) Error() string {
	return fmt.Sprintf("invalid session (resumable: %t)", e.resumable)
}

// CloseError is a close frame received from the server. Whether the session
// can resume, and whether reconnecting is worthwhile at all, both derive
// from the close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("server closed connection with code %d (%s)", e.Code, e.Reason)
}

// CanResume reports whether the session survives this close.
func (e *CloseError) CanResume() bool {
	return canResumeAfter(e.Code)
}

// Fatal reports whether reconnecting is pointless: the supervisor stops and
// propagates the error to the caller.
func (e *CloseError) Fatal() bool {
	return isFatalClose(e.Code)
}

// ProtocolError is a violation of the gateway protocol itself, e.g. a frame
// other than HELLO during the handshake. Always fatal.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "gateway protocol error: " + e.Message
}
