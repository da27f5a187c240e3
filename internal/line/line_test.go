package line

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"destination":"U0","events":[]}`)
	sig := Sign("secret", body)

	if !VerifySignature("secret", body, sig) {
		t.Fatalf("valid signature rejected")
	}
	if VerifySignature("other-secret", body, sig) {
		t.Fatalf("signature with wrong secret accepted")
	}
	if VerifySignature("secret", append(body, ' '), sig) {
		t.Fatalf("tampered body accepted")
	}
	if VerifySignature("secret", body, "not base64!") {
		t.Fatalf("garbage signature accepted")
	}
}

func TestParseCallback(t *testing.T) {
	body := []byte(`{"destination":"Ubot","events":[
		{"type":"message","mode":"active","timestamp":1700000000000,"replyToken":"r1","webhookEventId":"E1",
		 "deliveryContext":{"isRedelivery":false},
		 "source":{"type":"user","userId":"U1"},"message":{"id":"m1","type":"text","text":" menu ","quoteToken":"q"}},
		{"type":"postback","mode":"active","timestamp":1700000000001,"replyToken":"r2","webhookEventId":"E2",
		 "deliveryContext":{"isRedelivery":true},
		 "source":{"type":"group","groupId":"G1","userId":"U1"},
		 "postback":{"data":"action_type=TOGGLE_LLM&enabled=false"}},
		{"type":"message","mode":"active","timestamp":1700000000002,"replyToken":"r3","webhookEventId":"E3",
		 "deliveryContext":{"isRedelivery":false},
		 "source":{"type":"user","userId":"U2"},"message":{"id":"m2","type":"sticker","packageId":"1","stickerId":"2","stickerResourceType":"STATIC"}},
		{"type":"follow","mode":"active","timestamp":1700000000003,"replyToken":"r4","webhookEventId":"E4",
		 "deliveryContext":{"isRedelivery":false},"source":{"type":"user","userId":"U3"},"follow":{"isUnblocked":false}}
	]}`)
	req, err := ParseCallback(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Destination != "Ubot" || len(req.Events) != 4 {
		t.Fatalf("unexpected callback: %+v", req)
	}

	ev := req.Events[0]
	if ev.Type != EventTypeMessage || ev.Message == nil || ev.Message.Type != MessageTypeText || ev.Message.Text != " menu " {
		t.Fatalf("message event decoded wrong: %+v", ev)
	}
	if ev.Source.UserID != "U1" || ev.Source.Type != "user" || ev.WebhookEventID != "E1" || ev.ReplyToken != "r1" {
		t.Fatalf("metadata decoded wrong: %+v", ev)
	}
	if ev.DeliveryContext == nil || ev.DeliveryContext.IsRedelivery {
		t.Fatalf("delivery context decoded wrong: %+v", ev.DeliveryContext)
	}

	pb := req.Events[1]
	if pb.Type != EventTypePostback || pb.Postback == nil || pb.Postback.Data != "action_type=TOGGLE_LLM&enabled=false" {
		t.Fatalf("postback decoded wrong: %+v", pb)
	}
	if pb.Source.GroupID != "G1" || pb.Source.UserID != "U1" || !pb.DeliveryContext.IsRedelivery {
		t.Fatalf("group source decoded wrong: %+v", pb)
	}

	if st := req.Events[2]; st.Message == nil || st.Message.Type != "sticker" || st.Message.Text != "" {
		t.Fatalf("sticker decoded wrong: %+v", st)
	}
	if req.Events[3].Type != "follow" {
		t.Fatalf("follow event type = %q", req.Events[3].Type)
	}

	if _, err := ParseCallback([]byte(`{"events":`)); err == nil {
		t.Fatalf("expected error on malformed body")
	}
}

type capturedRequest struct {
	path string
	auth string
	body map[string]any
}

type fakeLineAPI struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func (f *fakeLineAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, `{"message":"Invalid reply token"}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}
}

func newTestClient(t *testing.T, api *fakeLineAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewClient("token", srv.URL, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestReplyTextSendsQuickReply(t *testing.T) {
	api := &fakeLineAPI{}
	c := newTestClient(t, api)

	choices := make([]Choice, 15)
	for i := range choices {
		choices[i] = Choice{Label: fmt.Sprintf("c%d", i), Data: fmt.Sprintf("action_type=SHOW_TOPIC&topic=t%d", i)}
	}
	if err := c.ReplyText(context.Background(), "reply-token", "請選擇主題", choices); err != nil {
		t.Fatalf("reply: %v", err)
	}

	if len(api.requests) != 1 {
		t.Fatalf("want one request, got %d", len(api.requests))
	}
	got := api.requests[0]
	if got.path != "/v2/bot/message/reply" || got.auth != "Bearer token" {
		t.Fatalf("path=%q auth=%q", got.path, got.auth)
	}
	if got.body["replyToken"] != "reply-token" {
		t.Fatalf("reply token = %v", got.body["replyToken"])
	}
	messages := got.body["messages"].([]any)
	msg := messages[0].(map[string]any)
	if msg["type"] != "text" || msg["text"] != "請選擇主題" {
		t.Fatalf("unexpected message: %v", msg)
	}
	items := msg["quickReply"].(map[string]any)["items"].([]any)
	if len(items) != MaxQuickReplyItems {
		t.Fatalf("want %d items, got %d", MaxQuickReplyItems, len(items))
	}
	action := items[0].(map[string]any)["action"].(map[string]any)
	if action["type"] != "postback" || action["label"] != "c0" || action["data"] != "action_type=SHOW_TOPIC&topic=t0" {
		t.Fatalf("unexpected action: %v", action)
	}
}

func TestReplyTextWithoutChoices(t *testing.T) {
	api := &fakeLineAPI{}
	c := newTestClient(t, api)

	if err := c.ReplyText(context.Background(), "reply-token", "hi", nil); err != nil {
		t.Fatalf("reply: %v", err)
	}
	msg := api.requests[0].body["messages"].([]any)[0].(map[string]any)
	if _, ok := msg["quickReply"]; ok {
		t.Fatalf("quick reply should be omitted: %v", msg)
	}
}

func TestReplyTextReturnsAPIError(t *testing.T) {
	api := &fakeLineAPI{status: http.StatusBadRequest}
	c := newTestClient(t, api)

	if err := c.ReplyText(context.Background(), "stale", "hi", nil); err == nil {
		t.Fatalf("expected error for 400 answer")
	}
}

func TestStartLoadingClampsSeconds(t *testing.T) {
	api := &fakeLineAPI{}
	c := newTestClient(t, api)

	for _, s := range []int{1, 30, 90} {
		if err := c.StartLoading(context.Background(), "U1", s); err != nil {
			t.Fatalf("start loading: %v", err)
		}
	}
	want := []float64{5, 30, 60}
	for i, w := range want {
		req := api.requests[i]
		if req.path != "/v2/bot/chat/loading/start" {
			t.Fatalf("request %d path = %q", i, req.path)
		}
		if req.body["loadingSeconds"] != w || req.body["chatId"] != "U1" {
			t.Fatalf("request %d = %v, want seconds %v", i, req.body, w)
		}
	}
}
