package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"pool-verifier/internal/config"
	"pool-verifier/internal/constants"
	"pool-verifier/internal/domain"
	"pool-verifier/internal/ranks"
)

const chatAPIBase = "https://discord.com/api/v10"

// ChatClient is the REST client for the chat platform: role grants, direct
// messages, message deletion, attachment download. Rank roles are mutually
// exclusive per member; AssignRankRole enforces that by removing the other
// managed roles before granting the new one.
type ChatClient struct {
	baseURL     string
	token       string
	botUserID   string
	guildID     string
	rankRoleIDs []string
	client      *fasthttp.Client
	logger      zerolog.Logger
}

func NewChatClient(cfg *config.Config, table *ranks.Table, logger zerolog.Logger) *ChatClient {
	return &ChatClient{
		baseURL:     chatAPIBase,
		token:       cfg.BotToken,
		botUserID:   cfg.BotUserID,
		guildID:     cfg.GuildID,
		rankRoleIDs: table.RoleIDs(),
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

type memberResponse struct {
	Roles []string `json:"roles"`
}

type channelResponse struct {
	ID string `json:"id"`
}

type messageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Author    struct {
		ID string `json:"id"`
	} `json:"author"`
}

// AssignRankRole grants roleID to the user, removing any other managed rank
// role first. Granting a role the user already holds is a no-op.
func (c *ChatClient) AssignRankRole(ctx context.Context, userID, roleID string) error {
	url := fmt.Sprintf("%s/guilds/%s/members/%s", c.baseURL, c.guildID, userID)
	member, _, err := doJSON[memberResponse](ctx, c, fasthttp.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch member %s: %w", userID, err)
	}

	hasTarget := false
	for _, held := range member.Roles {
		if held == roleID {
			hasTarget = true
			continue
		}
		if !c.isRankRole(held) {
			continue
		}
		removeURL := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", c.baseURL, c.guildID, userID, held)
		if _, _, err := doJSON[struct{}](ctx, c, fasthttp.MethodDelete, removeURL, nil); err != nil {
			return fmt.Errorf("remove role %s from %s: %w", held, userID, err)
		}
		c.logger.Debug().Str("user_id", userID).Str("role_id", held).Msg("previous rank role removed")
	}

	if hasTarget {
		c.logger.Debug().Str("user_id", userID).Str("role_id", roleID).Msg("rank role already assigned")
		return nil
	}

	addURL := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", c.baseURL, c.guildID, userID, roleID)
	if _, _, err := doJSON[struct{}](ctx, c, fasthttp.MethodPut, addURL, nil); err != nil {
		return fmt.Errorf("assign role %s to %s: %w", roleID, userID, err)
	}

	c.logger.Info().Str("user_id", userID).Str("role_id", roleID).Msg("rank role assigned")
	return nil
}

func (c *ChatClient) isRankRole(roleID string) bool {
	for _, id := range c.rankRoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// SendDM delivers content to the user's direct-message channel and returns
// the handle of the sent message. A user who blocks DMs yields
// domain.ErrDeliveryFailed.
func (c *ChatClient) SendDM(ctx context.Context, userID, content string) (domain.MessageHandle, error) {
	channelURL := fmt.Sprintf("%s/users/@me/channels", c.baseURL)
	channel, status, err := doJSON[channelResponse](ctx, c, fasthttp.MethodPost, channelURL, map[string]string{
		"recipient_id": userID,
	})
	if err != nil {
		if status == fasthttp.StatusForbidden {
			return domain.MessageHandle{}, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
		}
		return domain.MessageHandle{}, fmt.Errorf("open dm channel for %s: %w", userID, err)
	}

	messageURL := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channel.ID)
	msg, status, err := doJSON[messageResponse](ctx, c, fasthttp.MethodPost, messageURL, map[string]string{
		"content": content,
	})
	if err != nil {
		if status == fasthttp.StatusForbidden {
			return domain.MessageHandle{}, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
		}
		return domain.MessageHandle{}, fmt.Errorf("send dm to %s: %w", userID, err)
	}

	handle := domain.MessageHandle{ChannelID: channel.ID, MessageID: msg.ID}
	c.logger.Debug().Str("user_id", userID).Str("message", handle.Key()).Msg("dm sent")
	return handle, nil
}

// DeleteMessage removes one message. A message that no longer exists maps
// to domain.ErrMessageNotFound so callers can treat it as already done.
func (c *ChatClient) DeleteMessage(ctx context.Context, handle domain.MessageHandle) error {
	url := fmt.Sprintf("%s/channels/%s/messages/%s", c.baseURL, handle.ChannelID, handle.MessageID)
	_, status, err := doJSON[struct{}](ctx, c, fasthttp.MethodDelete, url, nil)
	if err != nil {
		if status == fasthttp.StatusNotFound {
			return domain.ErrMessageNotFound
		}
		return fmt.Errorf("delete message %s: %w", handle.Key(), err)
	}
	return nil
}

// ListBotMessages returns handles of the most recent bot-authored messages
// in channelID.
func (c *ChatClient) ListBotMessages(ctx context.Context, channelID string) ([]domain.MessageHandle, error) {
	url := fmt.Sprintf("%s/channels/%s/messages?limit=%d", c.baseURL, channelID, constants.BulkCleanupLimit)
	messages, _, err := doJSON[[]messageResponse](ctx, c, fasthttp.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages in %s: %w", channelID, err)
	}

	var handles []domain.MessageHandle
	for _, m := range *messages {
		if m.Author.ID != c.botUserID {
			continue
		}
		handles = append(handles, domain.MessageHandle{ChannelID: channelID, MessageID: m.ID})
	}
	return handles, nil
}

// DownloadAttachment fetches one attachment's bytes from its CDN URL.
func (c *ChatClient) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode())
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

func (c *ChatClient) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.client.DoDeadline(req, resp, deadline)
	}
	return c.client.Do(req, resp)
}

// doJSON performs one authenticated JSON request and decodes the response
// into T. It returns the HTTP status alongside any error so callers can map
// platform statuses onto domain errors.
func doJSON[T any](ctx context.Context, c *ChatClient, method, url string, body any) (*T, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bot "+c.token)

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request body: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	if err := c.do(ctx, req, resp); err != nil {
		return nil, 0, err
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return nil, status, fmt.Errorf("chat API error: %d", status)
	}

	var result T
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return nil, status, fmt.Errorf("decode chat API response: %w", err)
		}
	}
	return &result, status, nil
}
