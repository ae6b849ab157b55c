package rest

import (
	"context"

	"github.com/concordlib/concord/internal/routes"
)

// User is an account, human or bot.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// Channel is a guild channel or DM.
type Channel struct {
	ID      string `json:"id"`
	Type    int    `json:"type"`
	GuildID string `json:"guild_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Topic   string `json:"topic,omitempty"`
}

// Message is a message posted to a channel.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Guild is a guild the current user can see.
type Guild struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id,omitempty"`
}

// GuildMember is a user's membership in a guild.
type GuildMember struct {
	User  User     `json:"user"`
	Nick  string   `json:"nick,omitempty"`
	Roles []string `json:"roles"`
}

// Webhook is a channel webhook.
type Webhook struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Name      string `json:"name"`
	Token     string `json:"token,omitempty"`
}

// Invite is a guild invite.
type Invite struct {
	Code string `json:"code"`
}

// VoiceRegion is a selectable voice server region.
type VoiceRegion struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GatewayInfo is the unauthenticated gateway discovery response.
type GatewayInfo struct {
	URL string `json:"url"`
}

// GatewayBotInfo is the bot gateway discovery response, including the
// recommended shard count and identify budget.
type GatewayBotInfo struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfter     int `json:"reset_after"` // millis
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}

// CreateMessageParams is the body of a message create or edit.
type CreateMessageParams struct {
	Content string `json:"content,omitempty"`
	TTS     bool   `json:"tts,omitempty"`
}

// ModifyChannelParams is the body of a channel modify.
type ModifyChannelParams struct {
	Name  string `json:"name,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// ModifyGuildParams is the body of a guild modify.
type ModifyGuildParams struct {
	Name string `json:"name,omitempty"`
}

// GetGateway returns the gateway URL to connect shards to.
func (c *Client) GetGateway(ctx context.Context) (*GatewayInfo, error) {
	var out GatewayInfo
	if err := c.Do(ctx, routes.GetGateway.Compile(nil), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetGatewayBot returns the gateway URL plus sharding and identify limits
// for the current bot.
func (c *Client) GetGatewayBot(ctx context.Context) (*GatewayBotInfo, error) {
	var out GatewayBotInfo
	if err := c.Do(ctx, routes.GetGatewayBot.Compile(nil), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var out Channel
	cr := routes.GetChannel.Compile(map[string]string{"channel": channelID})
	if err := c.Do(ctx, cr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ModifyChannel(ctx context.Context, channelID string, params ModifyChannelParams) (*Channel, error) {
	var out Channel
	cr := routes.PatchChannel.Compile(map[string]string{"channel": channelID})
	if err := c.Do(ctx, cr, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	cr := routes.DeleteChannel.Compile(map[string]string{"channel": channelID})
	return c.Do(ctx, cr, nil, nil)
}

func (c *Client) GetChannelMessages(ctx context.Context, channelID string) ([]Message, error) {
	var out []Message
	cr := routes.GetChannelMessages.Compile(map[string]string{"channel": channelID})
	if err := c.Do(ctx, cr, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	var out Message
	cr := routes.GetChannelMessage.Compile(map[string]string{"channel": channelID, "message": messageID})
	if err := c.Do(ctx, cr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateMessage(ctx context.Context, channelID string, params CreateMessageParams) (*Message, error) {
	var out Message
	cr := routes.PostChannelMessages.Compile(map[string]string{"channel": channelID})
	if err := c.Do(ctx, cr, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, params CreateMessageParams) (*Message, error) {
	var out Message
	cr := routes.PatchChannelMessage.Compile(map[string]string{"channel": channelID, "message": messageID})
	if err := c.Do(ctx, cr, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	cr := routes.DeleteChannelMessage.Compile(map[string]string{"channel": channelID, "message": messageID})
	return c.Do(ctx, cr, nil, nil)
}

func (c *Client) CreateReaction(ctx context.Context, channelID, messageID, emoji string) error {
	cr := routes.PutReaction.Compile(map[string]string{"channel": channelID, "message": messageID, "emoji": emoji})
	return c.Do(ctx, cr, nil, nil)
}

func (c *Client) DeleteOwnReaction(ctx context.Context, channelID, messageID, emoji string) error {
	cr := routes.DeleteReaction.Compile(map[string]string{"channel": channelID, "message": messageID, "emoji": emoji})
	return c.Do(ctx, cr, nil, nil)
}

func (c *Client) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	var out Guild
	cr := routes.GetGuild.Compile(map[string]string{"guild": guildID})
	if err := c.Do(ctx, cr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ModifyGuild(ctx context.Context, guildID string, params ModifyGuildParams) (*Guild, error) {
	var out Guild
	cr := routes.PatchGuild.Compile(map[string]string{"guild": guildID})
	if err := c.Do(ctx, cr, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetGuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	var out []Channel
	cr := routes.GetGuildChannels.Compile(map[string]string{"guild": guildID})
	if err := c.Do(ctx, cr, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetGuildMembers(ctx context.Context, guildID string) ([]GuildMember, error) {
	var out []GuildMember
	cr := routes.GetGuildMembers.Compile(map[string]string{"guild": guildID})
	if err := c.Do(ctx, cr, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetGuildMember(ctx context.Context, guildID, userID string) (*GuildMember, error) {
	var out GuildMember
	cr := routes.GetGuildMember.Compile(map[string]string{"guild": guildID, "user": userID})
	if err := c.Do(ctx, cr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCurrentUser(ctx context.Context) (*User, error) {
	var out User
	if err := c.Do(ctx, routes.GetCurrentUser.Compile(nil), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCurrentUserGuilds(ctx context.Context) ([]Guild, error) {
	var out []Guild
	if err := c.Do(ctx, routes.GetCurrentGuilds.Compile(nil), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateDM(ctx context.Context, recipientID string) (*Channel, error) {
	var out Channel
	body := map[string]string{"recipient_id": recipientID}
	if err := c.Do(ctx, routes.PostDMChannel.Compile(nil), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetWebhook(ctx context.Context, webhookID string) (*Webhook, error) {
	var out Webhook
	cr := routes.GetWebhook.Compile(map[string]string{"webhook": webhookID})
	if err := c.Do(ctx, cr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExecuteWebhook(ctx context.Context, webhookID, token string, params CreateMessageParams) error {
	cr := routes.PostWebhook.Compile(map[string]string{"webhook": webhookID, "token": token})
	return c.Do(ctx, cr, params, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	cr := routes.DeleteWebhook.Compile(map[string]string{"webhook": webhookID})
	return c.Do(ctx, cr, nil, nil)
}

func (c *Client) GetInvite(ctx context.Context, code string) (*Invite, error) {
	var out Invite
	cr := routes.GetInvite.Compile(map[string]string{"invite": code})
	if err := c.Do(ctx, cr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteInvite(ctx context.Context, code string) error {
	cr := routes.DeleteInvite.Compile(map[string]string{"invite": code})
	return c.Do(ctx, cr, nil, nil)
}

func (c *Client) GetVoiceRegions(ctx context.Context) ([]VoiceRegion, error) {
	var out []VoiceRegion
	if err := c.Do(ctx, routes.GetVoiceRegions.Compile(nil), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
