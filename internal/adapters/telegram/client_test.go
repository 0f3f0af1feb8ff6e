package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// botServer fakes the Bot API: method name -> envelope body to return.
func botServer(t *testing.T, responses map[string]string, captured map[string]json.RawMessage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Path is /<token>/<method>
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]

		if captured != nil && r.Body != nil {
			var body json.RawMessage
			_ = json.NewDecoder(r.Body).Decode(&body)
			captured[method] = body
		}

		resp, ok := responses[method]
		if !ok {
			t.Errorf("unexpected method call: %s", method)
			resp = `{"ok": false, "description": "unexpected", "error_code": 400}`
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, resp)
	}))
}

func testClient(server *httptest.Server) *Client {
	return NewClientWithBaseURL(server.URL+"/", server.URL+"/file/", "test-token")
}

func TestSendMessage(t *testing.T) {
	captured := map[string]json.RawMessage{}
	server := botServer(t, map[string]string{
		"sendMessage": `{"ok": true, "result": {"message_id": 42, "chat": {"id": 100}}}`,
	}, captured)
	defer server.Close()

	client := testClient(server)
	msg, err := client.SendMessage(context.Background(), 100, "hello", "")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.MessageID != 42 {
		t.Errorf("MessageID = %d, want 42", msg.MessageID)
	}

	var req SendMessageRequest
	if err := json.Unmarshal(captured["sendMessage"], &req); err != nil {
		t.Fatalf("bad request body: %v", err)
	}
	if req.ChatID != 100 || req.Text != "hello" {
		t.Errorf("request = %+v", req)
	}
}

func TestSendMessageAPIError(t *testing.T) {
	server := botServer(t, map[string]string{
		"sendMessage": `{"ok": false, "description": "Bad Request: chat not found", "error_code": 400}`,
	}, nil)
	defer server.Close()

	client := testClient(server)
	_, err := client.SendMessage(context.Background(), 100, "hello", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %q, want the API description included", err)
	}
}

func TestSendMessageWithKeyboard(t *testing.T) {
	captured := map[string]json.RawMessage{}
	server := botServer(t, map[string]string{
		"sendMessage": `{"ok": true, "result": {"message_id": 7, "chat": {"id": 100}}}`,
	}, captured)
	defer server.Close()

	keyboard := [][]InlineKeyboardButton{
		{{Text: "Inbox", CallbackData: "project_1:500"}},
		{{Text: "Backlog", CallbackData: "project_2:500"}},
	}

	client := testClient(server)
	if _, err := client.SendMessageWithKeyboard(context.Background(), 100, "pick one", "", keyboard); err != nil {
		t.Fatalf("SendMessageWithKeyboard() error = %v", err)
	}

	var req struct {
		ReplyMarkup InlineKeyboardMarkup `json:"reply_markup"`
	}
	if err := json.Unmarshal(captured["sendMessage"], &req); err != nil {
		t.Fatalf("bad request body: %v", err)
	}
	if len(req.ReplyMarkup.InlineKeyboard) != 2 {
		t.Fatalf("keyboard rows = %d, want 2", len(req.ReplyMarkup.InlineKeyboard))
	}
	if req.ReplyMarkup.InlineKeyboard[0][0].CallbackData != "project_1:500" {
		t.Errorf("callback data = %q", req.ReplyMarkup.InlineKeyboard[0][0].CallbackData)
	}
}

func TestSendMessageWithReplyKeyboard(t *testing.T) {
	captured := map[string]json.RawMessage{}
	server := botServer(t, map[string]string{
		"sendMessage": `{"ok": true, "result": {"message_id": 8, "chat": {"id": 100}}}`,
	}, captured)
	defer server.Close()

	client := testClient(server)
	if _, err := client.SendMessageWithReplyKeyboard(context.Background(), 100, "menu",
		[][]string{{"A", "B"}, {"C"}}); err != nil {
		t.Fatalf("SendMessageWithReplyKeyboard() error = %v", err)
	}

	var req struct {
		ReplyMarkup ReplyKeyboardMarkup `json:"reply_markup"`
	}
	if err := json.Unmarshal(captured["sendMessage"], &req); err != nil {
		t.Fatalf("bad request body: %v", err)
	}
	if !req.ReplyMarkup.OneTimeKeyboard || !req.ReplyMarkup.ResizeKeyboard {
		t.Error("reply keyboard should be one-time and resized")
	}
	if len(req.ReplyMarkup.Keyboard) != 2 || req.ReplyMarkup.Keyboard[0][1].Text != "B" {
		t.Errorf("keyboard = %+v", req.ReplyMarkup.Keyboard)
	}
}

func TestGetUpdates(t *testing.T) {
	server := botServer(t, map[string]string{
		"getUpdates": `{"ok": true, "result": [
			{"update_id": 1, "message": {"message_id": 10, "chat": {"id": 100}, "text": "hi"}},
			{"update_id": 2, "callback_query": {"id": "cb1", "data": "project_1:500"}}
		]}`,
	}, nil)
	defer server.Close()

	client := testClient(server)
	updates, err := client.GetUpdates(context.Background(), 0, 30)
	if err != nil {
		t.Fatalf("GetUpdates() error = %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[0].Message == nil || updates[0].Message.Text != "hi" {
		t.Errorf("first update = %+v", updates[0])
	}
	if updates[1].CallbackQuery == nil || updates[1].CallbackQuery.Data != "project_1:500" {
		t.Errorf("second update = %+v", updates[1])
	}
}

func TestCheckSingletonConflict(t *testing.T) {
	server := botServer(t, map[string]string{
		"getUpdates": `{"ok": false, "description": "Conflict: terminated by other getUpdates request", "error_code": 409}`,
	}, nil)
	defer server.Close()

	client := testClient(server)
	err := client.CheckSingleton(context.Background())
	if !errors.Is(err, ErrConflict) {
		t.Errorf("CheckSingleton() error = %v, want ErrConflict", err)
	}
}

func TestFetchFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bot/test-token/getFile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "result": {"file_id": "f1", "file_path": "documents/report.pdf"}}`)
	})
	mux.HandleFunc("/file/test-token/documents/report.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "file-bytes")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClientWithBaseURL(server.URL+"/bot/", server.URL+"/file/", "test-token")
	content, err := client.FetchFile(context.Background(), "f1")
	if err != nil {
		t.Fatalf("FetchFile() error = %v", err)
	}
	if string(content) != "file-bytes" {
		t.Errorf("content = %q, want file-bytes", content)
	}
}

func TestFetchFileMissingPath(t *testing.T) {
	server := botServer(t, map[string]string{
		"getFile": `{"ok": true, "result": {"file_id": "f1"}}`,
	}, nil)
	defer server.Close()

	client := testClient(server)
	if _, err := client.FetchFile(context.Background(), "f1"); err == nil {
		t.Error("expected error when file_path is absent")
	}
}

func TestIsForwarded(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{name: "not forwarded", msg: Message{Text: "hi"}, want: false},
		{name: "forwarded from user", msg: Message{ForwardFrom: &User{ID: 1}}, want: true},
		{name: "forwarded from channel", msg: Message{ForwardFromChat: &Chat{ID: -1}}, want: true},
		{name: "privacy-stripped forward", msg: Message{ForwardDate: 1700000000}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsForwarded(); got != tt.want {
				t.Errorf("IsForwarded() = %v, want %v", got, tt.want)
			}
		})
	}
}
