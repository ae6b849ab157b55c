package gateway

import "encoding/json"

// payload is an inbound gateway frame. S and T are only set for dispatches.
type payload struct {
	Op opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// outPayload is an outbound gateway frame.
type outPayload struct {
	Op opcode `json:"op"`
	D  any    `json:"d"`
}

// helloData is the HELLO payload.
type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// identifyData is the IDENTIFY payload.
type identifyData struct {
	Token          string              `json:"token"`
	Compress       bool                `json:"compress"`
	LargeThreshold int                 `json:"large_threshold"`
	Properties     identifyProperties  `json:"properties"`
	Shard          [2]int              `json:"shard"`
	Intents        Intents             `json:"intents"`
	Presence       *presenceUpdateData `json:"presence,omitempty"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// resumeData is the RESUME payload.
type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// readyData is the subset of the READY dispatch the shard itself consumes;
// the rest of the event is forwarded verbatim to the event consumer.
type readyData struct {
	SessionID string `json:"session_id"`
	User      struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

// Activity is a single presence activity.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Presence is the status block a shard advertises, both at identify time and
// via UpdatePresence.
type Presence struct {
	Status     string
	AFK        bool
	IdleSince  int64 // unix millis, 0 = not idle
	Activities []Activity
}

// presenceUpdateData is the wire form of Presence (PRESENCE_UPDATE payload
// and the identify presence block).
type presenceUpdateData struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

func (p Presence) wire() *presenceUpdateData {
	out := &presenceUpdateData{
		Activities: p.Activities,
		Status:     p.Status,
		AFK:        p.AFK,
	}
	if out.Status == "" {
		out.Status = "online"
	}
	if out.Activities == nil {
		out.Activities = []Activity{}
	}
	if p.IdleSince != 0 {
		since := p.IdleSince
		out.Since = &since
	}
	return out
}

// voiceStateUpdateData is the VOICE_STATE_UPDATE payload.
type voiceStateUpdateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// requestGuildMembersData is the REQUEST_GUILD_MEMBERS payload.
type requestGuildMembersData struct {
	GuildID string `json:"guild_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

// Intents is the gateway intent bitmask sent at identify time.
type Intents uint64

// Intent flags.
const (
	IntentGuilds Intents = 1 << iota
	IntentGuildMembers
	IntentGuildModeration
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
)

// IntentsUnprivileged is every intent that does not require allow-listing.
const IntentsUnprivileged = IntentGuilds | IntentGuildModeration | IntentGuildEmojis |
	IntentGuildIntegrations | IntentGuildWebhooks | IntentGuildInvites |
	IntentGuildVoiceStates | IntentGuildMessages | IntentGuildMessageReactions |
	IntentGuildMessageTyping | IntentDirectMessages | IntentDirectMessageReactions |
	IntentDirectMessageTyping
