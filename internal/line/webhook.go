// Package line adapts the LINE Messaging API SDK to the bot: webhook
// callbacks become flat Events and replies go out through MessagingApiAPI.
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// SignatureHeader carries base64(HMAC-SHA256(channel secret, raw body)).
const SignatureHeader = "X-Line-Signature"

const (
	EventTypeMessage  = "message"
	EventTypePostback = "postback"

	MessageTypeText = "text"
)

type CallbackRequest struct {
	Destination string
	Events      []Event
}

// Event is the subset of a webhook event the router acts on.
type Event struct {
	Type            string
	Mode            string
	Timestamp       int64
	WebhookEventID  string
	DeliveryContext *DeliveryContext
	ReplyToken      string
	Source          Source
	Message         *Message
	Postback        *Postback
}

type DeliveryContext struct {
	IsRedelivery bool
}

type Source struct {
	Type    string
	UserID  string
	GroupID string
	RoomID  string
}

type Message struct {
	ID   string
	Type string
	Text string
}

type Postback struct {
	Data string
}

// VerifySignature checks the signature header against the raw request body.
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	return webhook.ValidateSignature(channelSecret, signature, body)
}

// Sign produces the signature LINE would send for body.
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseCallback decodes an already verified webhook body.
func ParseCallback(body []byte) (*CallbackRequest, error) {
	var cb webhook.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	return FromWebhook(&cb), nil
}

func FromWebhook(cb *webhook.CallbackRequest) *CallbackRequest {
	out := &CallbackRequest{
		Destination: cb.Destination,
		Events:      make([]Event, 0, len(cb.Events)),
	}
	for _, ev := range cb.Events {
		if ev == nil {
			continue
		}
		out.Events = append(out.Events, convertEvent(ev))
	}
	return out
}

func convertEvent(ev webhook.EventInterface) Event {
	switch e := ev.(type) {
	case webhook.MessageEvent:
		return messageEvent(&e)
	case *webhook.MessageEvent:
		return messageEvent(e)
	case webhook.PostbackEvent:
		return postbackEvent(&e)
	case *webhook.PostbackEvent:
		return postbackEvent(e)
	default:
		return Event{Type: ev.GetType()}
	}
}

func messageEvent(e *webhook.MessageEvent) Event {
	out := Event{
		Type:            EventTypeMessage,
		Mode:            string(e.Mode),
		Timestamp:       e.Timestamp,
		WebhookEventID:  e.WebhookEventId,
		DeliveryContext: deliveryContext(e.DeliveryContext),
		ReplyToken:      e.ReplyToken,
		Source:          convertSource(e.Source),
	}
	switch m := e.Message.(type) {
	case webhook.TextMessageContent:
		out.Message = &Message{ID: m.Id, Type: MessageTypeText, Text: m.Text}
	case *webhook.TextMessageContent:
		out.Message = &Message{ID: m.Id, Type: MessageTypeText, Text: m.Text}
	case nil:
	default:
		out.Message = &Message{Type: m.GetType()}
	}
	return out
}

func postbackEvent(e *webhook.PostbackEvent) Event {
	out := Event{
		Type:            EventTypePostback,
		Mode:            string(e.Mode),
		Timestamp:       e.Timestamp,
		WebhookEventID:  e.WebhookEventId,
		DeliveryContext: deliveryContext(e.DeliveryContext),
		ReplyToken:      e.ReplyToken,
		Source:          convertSource(e.Source),
	}
	if e.Postback != nil {
		out.Postback = &Postback{Data: e.Postback.Data}
	}
	return out
}

func deliveryContext(dc *webhook.DeliveryContext) *DeliveryContext {
	if dc == nil {
		return nil
	}
	return &DeliveryContext{IsRedelivery: dc.IsRedelivery}
}

func convertSource(src webhook.SourceInterface) Source {
	switch s := src.(type) {
	case webhook.UserSource:
		return Source{Type: "user", UserID: s.UserId}
	case *webhook.UserSource:
		return Source{Type: "user", UserID: s.UserId}
	case webhook.GroupSource:
		return Source{Type: "group", UserID: s.UserId, GroupID: s.GroupId}
	case *webhook.GroupSource:
		return Source{Type: "group", UserID: s.UserId, GroupID: s.GroupId}
	case webhook.RoomSource:
		return Source{Type: "room", UserID: s.UserId, RoomID: s.RoomId}
	case *webhook.RoomSource:
		return Source{Type: "room", UserID: s.UserId, RoomID: s.RoomId}
	default:
		return Source{}
	}
}
