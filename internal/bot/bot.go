package bot

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xaenox/concept-bot/internal/dedup"
	"github.com/xaenox/concept-bot/internal/line"
	"github.com/xaenox/concept-bot/internal/menu"
	"github.com/xaenox/concept-bot/internal/models"
	"github.com/xaenox/concept-bot/internal/storage"
)

const (
	ActionShowTopic   = "SHOW_TOPIC"
	ActionAskQuestion = "ASK_QUESTION"
	ActionToggleLLM   = "TOGGLE_LLM"

	loadingSeconds = 30
	maxLabelRunes  = 20
)

const (
	assistantOnMessage  = "✅ 已開啟 LLM 解釋模式\n\n現在可以問我投資概念相關的問題，我會用 AI 為你解釋！"
	assistantOffMessage = "✅ 已切換為預約真人回應模式\n\nLLM 解釋已關閉。如需真人協助，請透過其他管道聯繫我們。"
	assistantDisabled   = "目前已關閉 LLM 解釋模式，請到選單開啟。"
	menuEmptyMessage    = "選單資料尚未設定，請聯繫管理員。"
	menuFailedMessage   = "選單顯示失敗，請稍後再試。"
	replyFailedMessage  = "訊息傳送失敗，請稍後再試。"
)

var menuKeywords = map[string]struct{}{
	"menu": {},
	"選單":   {},
	"メニュー": {},
	"選項":   {},
	"選項單":  {},
}

// postbackEscaper escapes only what url.ParseQuery treats as syntax, so
// CJK questions stay one character per rune within the postback data limit.
var postbackEscaper = strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D", "+", "%2B", ";", "%3B")

// Messenger sends replies back to the chat platform.
type Messenger interface {
	ReplyText(ctx context.Context, replyToken, text string, choices []line.Choice) error
	StartLoading(ctx context.Context, userID string, seconds int) error
}

// Responder produces the assistant answer for a user question.
type Responder interface {
	GetResponse(ctx context.Context, userText string, history []models.ChatTurn) string
}

// Router dispatches webhook events to the menu, the settings toggle or the
// assistant.
type Router struct {
	storage   storage.Storage
	responder Responder
	messenger Messenger
	catalog   *menu.Catalog
	dedup     dedup.Deduplicator
	logger    *zap.Logger
}

// delivery tracks whether one event has been answered.
type delivery struct {
	replyToken string
	replied    bool
}

func New(storage storage.Storage, responder Responder, messenger Messenger, catalog *menu.Catalog, d dedup.Deduplicator, logger *zap.Logger) *Router {
	if catalog == nil {
		catalog = &menu.Catalog{}
	}
	if d == nil {
		d = dedup.Nop{}
	}
	return &Router{
		storage:   storage,
		responder: responder,
		messenger: messenger,
		catalog:   catalog,
		dedup:     d,
		logger:    logger,
	}
}

// HandleEvents processes a delivery in order. A failing event does not stop
// the rest; all failures are combined into the returned error.
func (r *Router) HandleEvents(ctx context.Context, events []line.Event) error {
	var errs error
	for i := range events {
		event := &events[i]
		claimed, process := r.claim(ctx, event)
		if !process {
			continue
		}
		d := &delivery{replyToken: event.ReplyToken}
		var err error
		switch event.Type {
		case line.EventTypeMessage:
			err = r.handleMessage(ctx, event, d)
		case line.EventTypePostback:
			err = r.handlePostback(ctx, event, d)
		default:
			r.logger.Info("Unhandled event type", zap.String("type", event.Type))
		}
		if err != nil {
			r.logger.Error("Failed to handle event",
				zap.Error(err),
				zap.String("type", event.Type),
				zap.String("event_id", event.WebhookEventID),
				zap.Bool("replied", d.replied))
			errs = multierr.Append(errs, err)
			// An unanswered event must stay eligible for redelivery.
			if claimed && !d.replied {
				r.release(ctx, event.WebhookEventID)
			}
		}
	}
	return errs
}

// claim reports whether the event should be processed and whether its id is
// now held in the dedup store.
func (r *Router) claim(ctx context.Context, event *line.Event) (claimed, process bool) {
	if event.WebhookEventID == "" {
		return false, true
	}
	first, err := r.dedup.FirstSeen(ctx, event.WebhookEventID)
	if err != nil {
		r.logger.Warn("Event dedup unavailable", zap.Error(err), zap.String("event_id", event.WebhookEventID))
		return false, true
	}
	if !first {
		r.logger.Info("Skipping redelivered event", zap.String("event_id", event.WebhookEventID))
	}
	return first, first
}

func (r *Router) release(ctx context.Context, eventID string) {
	if err := r.dedup.Release(ctx, eventID); err != nil {
		r.logger.Warn("Failed to release event claim", zap.Error(err), zap.String("event_id", eventID))
	}
}

func (r *Router) ensureUser(ctx context.Context, event *line.Event) (string, error) {
	userID := event.Source.UserID
	if userID == "" {
		r.logger.Warn("Event without user id", zap.String("type", event.Type), zap.String("source", event.Source.Type))
		return "", nil
	}
	if err := r.storage.EnsureUser(ctx, userID); err != nil {
		return "", fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return userID, nil
}

func (r *Router) handleMessage(ctx context.Context, event *line.Event, d *delivery) error {
	userID, err := r.ensureUser(ctx, event)
	if err != nil || userID == "" {
		return err
	}
	if event.Message == nil || event.Message.Type != line.MessageTypeText {
		return nil
	}

	text := strings.TrimSpace(event.Message.Text)
	r.logger.Info("Received message", zap.String("user_id", userID), zap.Int("length", len(text)))

	if _, ok := menuKeywords[strings.ToLower(text)]; ok {
		r.showMenu(ctx, d)
		return nil
	}
	return r.handleLLMQuery(ctx, userID, d, text)
}

func (r *Router) showMenu(ctx context.Context, d *delivery) {
	topics := r.catalog.MenuTopics()
	if len(topics) == 0 {
		r.logger.Warn("Menu has no topics")
		r.reply(ctx, d, menuEmptyMessage, nil, "")
		return
	}

	choices := make([]line.Choice, 0, len(topics))
	for _, t := range topics {
		if c, ok := r.choice(t.Label, ActionShowTopic, "topic", t.Key); ok {
			choices = append(choices, c)
		}
	}
	if len(choices) == 0 {
		r.sendErrorMessage(ctx, d, menuFailedMessage)
		return
	}
	r.reply(ctx, d, r.catalog.Title(), choices, menuFailedMessage)
}

func (r *Router) handlePostback(ctx context.Context, event *line.Event, d *delivery) error {
	userID, err := r.ensureUser(ctx, event)
	if err != nil || userID == "" {
		return err
	}
	if event.Postback == nil {
		return nil
	}

	params, err := url.ParseQuery(event.Postback.Data)
	if err != nil {
		r.logger.Warn("Malformed postback data", zap.Error(err), zap.String("data", event.Postback.Data))
		return nil
	}
	action := params.Get("action_type")
	r.logger.Info("Received postback", zap.String("user_id", userID), zap.String("action", action))

	switch action {
	case ActionShowTopic:
		if key := params.Get("topic"); key != "" {
			r.showTopic(ctx, d, key)
		}
	case ActionAskQuestion:
		if q := params.Get("question_text"); q != "" {
			return r.handleLLMQuery(ctx, userID, d, q)
		}
	case ActionToggleLLM:
		return r.toggleAssistant(ctx, userID, d, params)
	default:
		r.logger.Warn("Unknown postback action", zap.String("action", action))
	}
	return nil
}

func (r *Router) showTopic(ctx context.Context, d *delivery, key string) {
	topic := r.catalog.Topic(key)
	choices := make([]line.Choice, 0, len(topic.Questions))
	for _, q := range topic.Questions {
		if c, ok := r.choice(choiceLabel(q), ActionAskQuestion, "topic", key, "question_text", q); ok {
			choices = append(choices, c)
		}
	}
	if len(choices) == 0 {
		r.logger.Warn("Topic has no usable questions", zap.String("topic", key))
		r.sendErrorMessage(ctx, d, menuFailedMessage)
		return
	}
	text := fmt.Sprintf("【%s】\n請選擇你想了解的問題：", topic.DisplayName)
	r.reply(ctx, d, text, choices, menuFailedMessage)
}

// choice builds a postback choice. Choices whose data would exceed the
// platform limit are dropped, since one of them fails the whole reply.
func (r *Router) choice(label, action string, kv ...string) (line.Choice, bool) {
	data := postbackData(action, kv...)
	if n := utf8.RuneCountInString(data); n > line.MaxPostbackData {
		r.logger.Warn("Dropping choice with oversized postback data",
			zap.String("label", label),
			zap.Int("length", n))
		return line.Choice{}, false
	}
	return line.Choice{Label: label, Data: data}, true
}

func postbackData(action string, kv ...string) string {
	var b strings.Builder
	b.WriteString("action_type=")
	b.WriteString(postbackEscaper.Replace(action))
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteByte('&')
		b.WriteString(postbackEscaper.Replace(kv[i]))
		b.WriteByte('=')
		b.WriteString(postbackEscaper.Replace(kv[i+1]))
	}
	return b.String()
}

func (r *Router) toggleAssistant(ctx context.Context, userID string, d *delivery, params url.Values) error {
	enabled := true
	if params.Has("enabled") {
		enabled = strings.EqualFold(params.Get("enabled"), "true")
	}
	if err := r.storage.SetAssistantEnabled(ctx, userID, enabled); err != nil {
		return fmt.Errorf("set assistant enabled for %s: %w", userID, err)
	}
	r.logger.Info("Assistant mode changed", zap.String("user_id", userID), zap.Bool("enabled", enabled))

	text := assistantOffMessage
	if enabled {
		text = assistantOnMessage
	}
	r.reply(ctx, d, text, nil, replyFailedMessage)
	return nil
}

func (r *Router) handleLLMQuery(ctx context.Context, userID string, d *delivery, text string) error {
	setting, err := r.storage.GetOrCreateSetting(ctx, userID)
	if err != nil {
		return fmt.Errorf("get setting for %s: %w", userID, err)
	}
	if !setting.AssistantEnabled {
		r.reply(ctx, d, assistantDisabled, nil, "")
		return nil
	}

	if err := r.messenger.StartLoading(ctx, userID, loadingSeconds); err != nil {
		r.logger.Warn("Failed to start loading indicator", zap.Error(err), zap.String("user_id", userID))
	}

	history, err := r.storage.RecentTurns(ctx, userID, storage.HistoryWindow)
	if err != nil {
		return fmt.Errorf("read history for %s: %w", userID, err)
	}

	answer := r.responder.GetResponse(ctx, text, history)

	// The answer is delivered even if recording it fails.
	saveErr := r.recordExchange(ctx, userID, text, answer)
	r.reply(ctx, d, answer, nil, replyFailedMessage)
	return saveErr
}

func (r *Router) recordExchange(ctx context.Context, userID, question, answer string) error {
	if err := r.storage.AppendTurn(ctx, userID, models.RoleUser, question); err != nil {
		return fmt.Errorf("save user turn for %s: %w", userID, err)
	}
	if err := r.storage.AppendTurn(ctx, userID, models.RoleAssistant, answer); err != nil {
		return fmt.Errorf("save assistant turn for %s: %w", userID, err)
	}
	if err := r.storage.TrimToLast(ctx, userID, storage.HistoryWindow); err != nil {
		return fmt.Errorf("trim history for %s: %w", userID, err)
	}
	return nil
}

// reply sends text and, when that fails and fallback is set, tries once more
// with the plain fallback text.
func (r *Router) reply(ctx context.Context, d *delivery, text string, choices []line.Choice, fallback string) {
	err := r.messenger.ReplyText(ctx, d.replyToken, text, choices)
	if err == nil {
		d.replied = true
		return
	}
	r.logger.Error("Failed to send reply", zap.Error(err), zap.Int("choices", len(choices)))
	if fallback != "" {
		r.sendErrorMessage(ctx, d, fallback)
	}
}

func (r *Router) sendErrorMessage(ctx context.Context, d *delivery, text string) {
	if err := r.messenger.ReplyText(ctx, d.replyToken, text, nil); err != nil {
		r.logger.Warn("Failed to send error message", zap.Error(err))
		return
	}
	d.replied = true
}

func choiceLabel(s string) string {
	runes := []rune(s)
	if len(runes) <= maxLabelRunes {
		return s
	}
	return string(runes[:maxLabelRunes-2]) + "..."
}
