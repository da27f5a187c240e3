package line

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"go.uber.org/zap"
)

const (
	// MaxQuickReplyItems is the platform limit per message.
	MaxQuickReplyItems = 13
	// MaxPostbackData is the platform limit on postback data, in characters.
	MaxPostbackData = 300

	loadingTimeout = 5 * time.Second
)

// Choice is a tappable quick reply that sends a postback.
type Choice struct {
	Label string
	Data  string
}

type Client struct {
	api    *messaging_api.MessagingApiAPI
	logger *zap.Logger
}

// NewClient builds a Messaging API client. An empty apiBase keeps the SDK's
// default endpoint.
func NewClient(accessToken, apiBase string, logger *zap.Logger) (*Client, error) {
	opts := []messaging_api.MessagingApiAPIOption{
		messaging_api.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
	}
	if apiBase != "" {
		opts = append(opts, messaging_api.WithEndpoint(apiBase))
	}
	api, err := messaging_api.NewMessagingApiAPI(accessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create messaging api client: %w", err)
	}
	return &Client{api: api, logger: logger}, nil
}

// call returns a per-request copy; WithContext stores the context on the
// receiver, so the shared client must not be touched.
func (c *Client) call(ctx context.Context) *messaging_api.MessagingApiAPI {
	api := *c.api
	return api.WithContext(ctx)
}

// ReplyText sends one text message, with quick reply choices when given.
func (c *Client) ReplyText(ctx context.Context, replyToken, text string, choices []Choice) error {
	msg := &messaging_api.TextMessage{Text: text}
	if len(choices) > 0 {
		if len(choices) > MaxQuickReplyItems {
			c.logger.Warn("Too many quick reply choices, truncating",
				zap.Int("choices", len(choices)),
				zap.Int("max", MaxQuickReplyItems))
			choices = choices[:MaxQuickReplyItems]
		}
		items := make([]messaging_api.QuickReplyItem, 0, len(choices))
		for _, ch := range choices {
			items = append(items, messaging_api.QuickReplyItem{
				Type:   "action",
				Action: &messaging_api.PostbackAction{Label: ch.Label, Data: ch.Data},
			})
		}
		msg.QuickReply = &messaging_api.QuickReply{Items: items}
	}

	_, err := c.call(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   []messaging_api.MessageInterface{msg},
	})
	if err != nil {
		return fmt.Errorf("reply message: %w", err)
	}
	c.logger.Info("Replied with text message",
		zap.String("preview", truncateRunes(text, 50)),
		zap.Int("choices", len(choices)))
	return nil
}

// StartLoading shows the typing indicator in a one-to-one chat.
func (c *Client) StartLoading(ctx context.Context, userID string, seconds int) error {
	if seconds < 5 {
		seconds = 5
	} else if seconds > 60 {
		seconds = 60
	}
	ctx, cancel := context.WithTimeout(ctx, loadingTimeout)
	defer cancel()

	_, err := c.call(ctx).ShowLoadingAnimation(&messaging_api.ShowLoadingAnimationRequest{
		ChatId:         userID,
		LoadingSeconds: int32(seconds),
	})
	if err != nil {
		return fmt.Errorf("start loading: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
