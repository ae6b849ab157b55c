package routes

import "net/http"

// Well-known API route templates. Call Compile with the placeholder values
// to obtain a CompiledRoute for a request.
var (
	GetGateway    = New(http.MethodGet, "/gateway")
	GetGatewayBot = New(http.MethodGet, "/gateway/bot")

	GetChannel    = New(http.MethodGet, "/channels/{channel}")
	PatchChannel  = New(http.MethodPatch, "/channels/{channel}")
	DeleteChannel = New(http.MethodDelete, "/channels/{channel}")

	GetChannelMessages   = New(http.MethodGet, "/channels/{channel}/messages")
	GetChannelMessage    = New(http.MethodGet, "/channels/{channel}/messages/{message}")
	PostChannelMessages  = New(http.MethodPost, "/channels/{channel}/messages")
	PatchChannelMessage  = New(http.MethodPatch, "/channels/{channel}/messages/{message}")
	DeleteChannelMessage = New(http.MethodDelete, "/channels/{channel}/messages/{message}")

	PutReaction    = New(http.MethodPut, "/channels/{channel}/messages/{message}/reactions/{emoji}/@me")
	DeleteReaction = New(http.MethodDelete, "/channels/{channel}/messages/{message}/reactions/{emoji}/@me")

	GetGuild         = New(http.MethodGet, "/guilds/{guild}")
	PatchGuild       = New(http.MethodPatch, "/guilds/{guild}")
	GetGuildChannels = New(http.MethodGet, "/guilds/{guild}/channels")
	GetGuildMembers  = New(http.MethodGet, "/guilds/{guild}/members")
	GetGuildMember   = New(http.MethodGet, "/guilds/{guild}/members/{user}")

	GetCurrentUser   = New(http.MethodGet, "/users/@me")
	GetCurrentGuilds = New(http.MethodGet, "/users/@me/guilds")
	PostDMChannel    = New(http.MethodPost, "/users/@me/channels")

	GetWebhook     = New(http.MethodGet, "/webhooks/{webhook}")
	PostWebhook    = New(http.MethodPost, "/webhooks/{webhook}/{token}")
	DeleteWebhook  = New(http.MethodDelete, "/webhooks/{webhook}")
	GetInvite      = New(http.MethodGet, "/invites/{invite}")
	DeleteInvite   = New(http.MethodDelete, "/invites/{invite}")
	GetVoiceRegions = New(http.MethodGet, "/voice/regions")
)
