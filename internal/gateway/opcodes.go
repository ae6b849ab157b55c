package gateway

// opcode is a gateway payload opcode.
type opcode int

const (
	opDispatch            opcode = 0
	opHeartbeat           opcode = 1
	opIdentify            opcode = 2
	opPresenceUpdate      opcode = 3
	opVoiceStateUpdate    opcode = 4
	opResume              opcode = 6
	opReconnect           opcode = 7
	opRequestGuildMembers opcode = 8
	opInvalidSession      opcode = 9
	opHello               opcode = 10
	opHeartbeatACK        opcode = 11
)

// Close codes the state machine cares about. RFC 6455 codes below 4000 are
// generic WebSocket codes; 4xxx codes are platform-specific.
const (
	CloseNormal              = 1000
	CloseProtocolError       = 1002
	CloseUnexpectedCondition = 1011

	// The platform invalidates sessions on 1xxx closes from the client, so
	// closes that should leave the session resumable use this code instead.
	closeDoNotInvalidateSession = 3000

	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimeout       = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidVersion       = 4012
	CloseInvalidIntent        = 4013
	CloseDisallowedIntent     = 4014
)

// canResumeAfter reports whether a session survives a server close with the
// given code. Only a small allow-list of codes permits resuming; generic
// sub-4000 codes also leave the session intact.
func canResumeAfter(code int) bool {
	if code < 4000 {
		return true
	}
	switch code {
	case CloseUnknownError, CloseDecodeError, CloseInvalidSeq, CloseRateLimited, CloseSessionTimeout:
		return true
	}
	return false
}

// isFatalClose reports whether a server close with the given code is
// unrecoverable: reconnecting would just fail the same way (bad token,
// bad intents, sharding misconfiguration).
func isFatalClose(code int) bool {
	switch code {
	case CloseNotAuthenticated, CloseAuthenticationFailed, CloseAlreadyAuthenticated,
		CloseInvalidShard, CloseShardingRequired, CloseInvalidVersion,
		CloseInvalidIntent, CloseDisallowedIntent:
		return true
	}
	return false
}

// State is the lifecycle state of a shard connection.
type State int32

const (
	StateNotRunning State = iota
	StateConnecting
	StateWaitingForReady
	StateResuming
	StateReady
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotRunning:
		return "not_running"
	case StateConnecting:
		return "connecting"
	case StateWaitingForReady:
		return "waiting_for_ready"
	case StateResuming:
		return "resuming"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}
