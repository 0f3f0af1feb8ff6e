package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rcrlabs/taskbridge/internal/adapters/telegram"
	"github.com/rcrlabs/taskbridge/internal/config"
	"github.com/rcrlabs/taskbridge/internal/pipeline"
)

type sentMessage struct {
	chatID    int64
	messageID int64
	text      string
	inline    [][]telegram.InlineKeyboardButton
	reply     [][]string
}

// fakeAPI records outgoing Telegram calls in place of the real client.
type fakeAPI struct {
	mu       sync.Mutex
	nextID   int64
	sent     []sentMessage
	edits    []sentMessage
	answered []string
	sendErr  error
}

func (f *fakeAPI) SendMessage(ctx context.Context, chatID int64, text, parseMode string) (*telegram.Message, error) {
	return f.record(sentMessage{chatID: chatID, text: text})
}

func (f *fakeAPI) SendMessageWithKeyboard(ctx context.Context, chatID int64, text, parseMode string, keyboard [][]telegram.InlineKeyboardButton) (*telegram.Message, error) {
	return f.record(sentMessage{chatID: chatID, text: text, inline: keyboard})
}

func (f *fakeAPI) SendMessageWithReplyKeyboard(ctx context.Context, chatID int64, text string, keyboard [][]string) (*telegram.Message, error) {
	return f.record(sentMessage{chatID: chatID, text: text, reply: keyboard})
}

func (f *fakeAPI) EditMessage(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMessage{chatID: chatID, messageID: messageID, text: text})
	return nil
}

func (f *fakeAPI) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeAPI) record(m sentMessage) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	m.messageID = f.nextID
	f.sent = append(f.sent, m)
	return &telegram.Message{MessageID: m.messageID, Chat: &telegram.Chat{ID: m.chatID}}, nil
}

func (f *fakeAPI) waitForSends(t *testing.T, n int) []sentMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.sent) >= n {
			out := make([]sentMessage, len(f.sent))
			copy(out, f.sent)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent messages", n)
	return nil
}

func (f *fakeAPI) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeFinalizer struct {
	mu     sync.Mutex
	result *pipeline.FinalizeResult
	err    error
	calls  []struct {
		key int64
		gid string
	}
}

func (f *fakeFinalizer) Finalize(ctx context.Context, draftKey int64, projectGID string) (*pipeline.FinalizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		key int64
		gid string
	}{draftKey, projectGID})
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testProjects() []*config.ProjectConfig {
	return []*config.ProjectConfig{
		{Name: "Inbox", GID: "p1"},
		{Name: "Backlog", GID: "p2"},
	}
}

func newTestHandler(t *testing.T, allowedIDs []int64) (*Handler, *fakeAPI, *pipeline.Store, *fakeFinalizer) {
	t.Helper()
	api := &fakeAPI{}
	store := pipeline.NewStore(pipeline.Config{
		Debounce:         20 * time.Millisecond,
		TitleLookback:    5 * time.Second,
		DraftTTL:         30 * time.Minute,
		MaxRecentPrompts: 5,
	}, nil)
	t.Cleanup(store.Stop)

	finalizer := &fakeFinalizer{result: &pipeline.FinalizeResult{
		TaskGID: "task-1",
		TaskURL: "https://app.asana.com/0/p1/task-1",
		Title:   "Done",
	}}
	h := NewHandler(api, store, finalizer, testProjects(), allowedIDs)
	return h, api, store, finalizer
}

func forwardedUpdate(userID, chatID, messageID int64, text string) *telegram.Update {
	return &telegram.Update{
		UpdateID: messageID,
		Message: &telegram.Message{
			MessageID:   messageID,
			From:        &telegram.User{ID: userID, FirstName: "Test"},
			Chat:        &telegram.Chat{ID: chatID, Type: "private"},
			Text:        text,
			ForwardFrom: &telegram.User{ID: 777, FirstName: "Origin", Username: "origin"},
			ForwardDate: time.Now().Unix(),
		},
	}
}

func textUpdate(userID, chatID, messageID int64, text string) *telegram.Update {
	return &telegram.Update{
		UpdateID: messageID,
		Message: &telegram.Message{
			MessageID: messageID,
			From:      &telegram.User{ID: userID, FirstName: "Test"},
			Chat:      &telegram.Chat{ID: chatID, Type: "private"},
			Text:      text,
		},
	}
}

func replyUpdate(userID, chatID, messageID, replyTo int64, text string) *telegram.Update {
	u := textUpdate(userID, chatID, messageID, text)
	u.Message.ReplyToMessage = &telegram.Message{MessageID: replyTo}
	return u
}

func callbackUpdate(userID, chatID, messageID int64, data string) *telegram.Update {
	return &telegram.Update{
		UpdateID: messageID,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cb-1",
			From: &telegram.User{ID: userID},
			Message: &telegram.Message{
				MessageID: messageID,
				Chat:      &telegram.Chat{ID: chatID, Type: "private"},
			},
			Data: data,
		},
	}
}

func TestProcessUpdateIgnoresUnauthorized(t *testing.T) {
	h, api, store, _ := newTestHandler(t, []int64{1})
	ctx := context.Background()

	h.ProcessUpdate(ctx, forwardedUpdate(99, 99, 10, "intruder"))
	h.ProcessUpdate(ctx, textUpdate(99, 99, 11, "/start"))

	if store.HasOpenBatch(99) {
		t.Error("unauthorized forward must not open a batch")
	}
	if len(api.sentMessages()) != 0 {
		t.Errorf("unauthorized user got %d replies", len(api.sentMessages()))
	}
}

func TestForwardedMessageOpensBatch(t *testing.T) {
	h, _, store, _ := newTestHandler(t, nil)

	h.ProcessUpdate(context.Background(), forwardedUpdate(1, 100, 10, "forwarded text"))

	if !store.HasOpenBatch(1) {
		t.Error("forwarded message should open a batch")
	}
}

func TestEmptyForwardIsRejected(t *testing.T) {
	h, api, store, _ := newTestHandler(t, nil)

	u := forwardedUpdate(1, 100, 10, "")
	h.ProcessUpdate(context.Background(), u)

	if store.HasOpenBatch(1) {
		t.Error("empty forward must not open a batch")
	}
	sent := api.waitForSends(t, 1)
	if sent[0].text != msgEmptyForward {
		t.Errorf("reply = %q, want empty-forward notice", sent[0].text)
	}
}

func TestBatchExpiryPromptsForTitle(t *testing.T) {
	h, api, store, _ := newTestHandler(t, nil)

	h.ProcessUpdate(context.Background(), forwardedUpdate(1, 100, 10, "forwarded text"))

	sent := api.waitForSends(t, 1)
	if sent[0].text != msgTitlePrompt {
		t.Fatalf("prompt = %q, want title prompt", sent[0].text)
	}

	// The draft is keyed by the prompt message and awaits a title
	draft, ok := store.Draft(sent[0].messageID)
	if !ok {
		t.Fatal("no draft installed for the prompt message")
	}
	if draft.State != pipeline.StateAwaitingTitle {
		t.Errorf("draft state = %v, want awaiting title", draft.State)
	}
	if draft.CombinedText != "forwarded text" {
		t.Errorf("draft text = %q", draft.CombinedText)
	}
}

func TestBatchExpiryReusesCachedTitle(t *testing.T) {
	h, api, store, _ := newTestHandler(t, nil)
	ctx := context.Background()

	h.ProcessUpdate(ctx, textUpdate(1, 100, 9, "Fix the login flow"))
	h.ProcessUpdate(ctx, forwardedUpdate(1, 100, 10, "forwarded text"))

	sent := api.waitForSends(t, 1)
	if !strings.Contains(sent[0].text, "Fix the login flow") {
		t.Fatalf("prompt = %q, want it to announce the cached title", sent[0].text)
	}
	if len(sent[0].inline) != 2 {
		t.Fatalf("keyboard rows = %d, want one per project", len(sent[0].inline))
	}
	if sent[0].inline[0][0].CallbackData != FormatProjectCallback("p1", 10) {
		t.Errorf("callback data = %q", sent[0].inline[0][0].CallbackData)
	}

	// The draft skipped the title stage
	draft, ok := store.Draft(10)
	if !ok {
		t.Fatal("no draft keyed by the last forwarded message")
	}
	if draft.State != pipeline.StateAwaitingProject || draft.Title != "Fix the login flow" {
		t.Errorf("draft = %q/%v", draft.Title, draft.State)
	}
}

func TestTitleReplyAdvancesDraft(t *testing.T) {
	h, api, _, _ := newTestHandler(t, nil)
	ctx := context.Background()

	h.ProcessUpdate(ctx, forwardedUpdate(1, 100, 10, "forwarded text"))
	sent := api.waitForSends(t, 1)
	promptID := sent[0].messageID

	h.ProcessUpdate(ctx, replyUpdate(1, 100, 20, promptID, "My new task"))

	sent = api.waitForSends(t, 2)
	if sent[1].text != msgProjectPrompt {
		t.Fatalf("reply = %q, want project prompt", sent[1].text)
	}
	if len(sent[1].inline) != 2 {
		t.Fatalf("keyboard rows = %d, want 2", len(sent[1].inline))
	}
	wantData := FormatProjectCallback("p1", promptID)
	if sent[1].inline[0][0].CallbackData != wantData {
		t.Errorf("callback data = %q, want %q", sent[1].inline[0][0].CallbackData, wantData)
	}
}

func TestTitleReplyToUnknownPrompt(t *testing.T) {
	h, api, _, _ := newTestHandler(t, nil)

	h.ProcessUpdate(context.Background(), replyUpdate(1, 100, 20, 999, "My title"))

	sent := api.waitForSends(t, 1)
	if sent[0].text != msgPromptNotRecognized {
		t.Errorf("reply = %q, want not-recognized notice", sent[0].text)
	}
}

func TestStandaloneTitleForSinglePrompt(t *testing.T) {
	h, api, _, _ := newTestHandler(t, nil)
	ctx := context.Background()

	h.ProcessUpdate(ctx, forwardedUpdate(1, 100, 10, "forwarded text"))
	api.waitForSends(t, 1)

	// Plain message, no reply: unambiguous because only one prompt is open
	h.ProcessUpdate(ctx, textUpdate(1, 100, 20, "Implicit title"))

	sent := api.waitForSends(t, 2)
	if sent[1].text != msgProjectPrompt {
		t.Errorf("reply = %q, want project prompt", sent[1].text)
	}
}

func TestCallbackFinalizesDraft(t *testing.T) {
	h, api, _, finalizer := newTestHandler(t, nil)

	h.ProcessUpdate(context.Background(), callbackUpdate(1, 100, 50, "project_p1:500"))

	api.mu.Lock()
	answered := len(api.answered)
	edits := make([]sentMessage, len(api.edits))
	copy(edits, api.edits)
	api.mu.Unlock()

	if answered != 1 {
		t.Errorf("AnswerCallback called %d times, want 1", answered)
	}
	if len(finalizer.calls) != 1 || finalizer.calls[0].key != 500 || finalizer.calls[0].gid != "p1" {
		t.Errorf("finalizer calls = %+v", finalizer.calls)
	}
	if len(edits) != 1 || !strings.Contains(edits[0].text, "https://app.asana.com/0/p1/task-1") {
		t.Errorf("edits = %+v, want success message with task link", edits)
	}
}

func TestCallbackErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		err      error
		wantEdit string
	}{
		{
			name:     "malformed callback data",
			data:     "garbage",
			wantEdit: msgInvalidCallback,
		},
		{
			name:     "draft not found",
			data:     "project_p1:500",
			err:      pipeline.ErrDraftNotFound,
			wantEdit: msgDraftNotFound,
		},
		{
			name:     "already processed",
			data:     "project_p1:500",
			err:      pipeline.ErrAlreadyProcessed,
			wantEdit: msgAlreadyProcessed,
		},
		{
			name:     "tracker failure",
			data:     "project_p1:500",
			err:      pipeline.ErrTaskCreation,
			wantEdit: msgTaskCreateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, api, _, finalizer := newTestHandler(t, nil)
			finalizer.err = tt.err

			h.ProcessUpdate(context.Background(), callbackUpdate(1, 100, 50, tt.data))

			api.mu.Lock()
			defer api.mu.Unlock()
			if len(api.edits) != 1 || api.edits[0].text != tt.wantEdit {
				t.Errorf("edits = %+v, want %q", api.edits, tt.wantEdit)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	h, api, _, _ := newTestHandler(t, nil)
	ctx := context.Background()

	h.ProcessUpdate(ctx, textUpdate(1, 100, 10, "/start"))
	h.ProcessUpdate(ctx, textUpdate(1, 100, 11, "/help"))
	h.ProcessUpdate(ctx, textUpdate(1, 100, 12, "/menu"))

	sent := api.waitForSends(t, 3)
	if sent[0].text != msgWelcome {
		t.Errorf("/start reply = %q", sent[0].text)
	}
	if sent[1].text != msgHelp {
		t.Errorf("/help reply = %q", sent[1].text)
	}
	if sent[2].text != msgMenuPrompt || len(sent[2].reply) == 0 {
		t.Errorf("/menu reply = %+v, want menu with reply keyboard", sent[2])
	}
}

func TestMenuOptionProjects(t *testing.T) {
	h, api, _, _ := newTestHandler(t, nil)

	h.ProcessUpdate(context.Background(), textUpdate(1, 100, 10, menuProjects))

	sent := api.waitForSends(t, 1)
	if !strings.Contains(sent[0].text, "Inbox") || !strings.Contains(sent[0].text, "Backlog") {
		t.Errorf("projects reply = %q, want both project names", sent[0].text)
	}
}

func TestDirectMediaGetsForwardInstruction(t *testing.T) {
	h, api, store, _ := newTestHandler(t, nil)

	u := &telegram.Update{
		UpdateID: 10,
		Message: &telegram.Message{
			MessageID: 10,
			From:      &telegram.User{ID: 1},
			Chat:      &telegram.Chat{ID: 100, Type: "private"},
			Document:  &telegram.Document{FileID: "d1", FileName: "file.txt"},
		},
	}
	h.ProcessUpdate(context.Background(), u)

	if store.HasOpenBatch(1) {
		t.Error("direct media must not open a batch")
	}
	sent := api.waitForSends(t, 1)
	if sent[0].text != msgForwardInstruction {
		t.Errorf("reply = %q, want forward instruction", sent[0].text)
	}
}

func TestTitlePromptSendFailureDropsBatch(t *testing.T) {
	h, api, store, _ := newTestHandler(t, nil)
	api.sendErr = errors.New("network down")

	h.ProcessUpdate(context.Background(), forwardedUpdate(1, 100, 10, "forwarded text"))

	// Give the debounce timer time to fire and fail the send
	time.Sleep(100 * time.Millisecond)

	if prompts := store.RecentPrompts(1); len(prompts) != 0 {
		t.Errorf("prompts = %v, want none after a failed prompt send", prompts)
	}
	if _, ok := store.Draft(10); ok {
		t.Error("no draft should exist after a failed prompt send")
	}
}
