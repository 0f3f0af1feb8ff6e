// Package bot routes Telegram updates into the conversion pipeline and
// renders pipeline outcomes back to the user.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rcrlabs/taskbridge/internal/adapters/telegram"
	"github.com/rcrlabs/taskbridge/internal/config"
	"github.com/rcrlabs/taskbridge/internal/logging"
	"github.com/rcrlabs/taskbridge/internal/pipeline"
)

// API is the Telegram messaging surface the handler uses. The concrete
// client implements it; tests substitute a fake.
type API interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) (*telegram.Message, error)
	SendMessageWithKeyboard(ctx context.Context, chatID int64, text, parseMode string, keyboard [][]telegram.InlineKeyboardButton) (*telegram.Message, error)
	SendMessageWithReplyKeyboard(ctx context.Context, chatID int64, text string, keyboard [][]string) (*telegram.Message, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text, parseMode string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Finalizer turns a draft plus a project pick into a committed task.
type Finalizer interface {
	Finalize(ctx context.Context, draftKey int64, projectGID string) (*pipeline.FinalizeResult, error)
}

// Handler processes incoming Telegram updates
type Handler struct {
	api        API
	store      *pipeline.Store
	assembler  Finalizer
	projects   []*config.ProjectConfig
	allowedIDs map[int64]bool
}

// NewHandler creates a new update handler and wires itself in as the
// store's batch-expiry consumer.
func NewHandler(api API, store *pipeline.Store, assembler Finalizer, projects []*config.ProjectConfig, allowedIDs []int64) *Handler {
	allowed := make(map[int64]bool)
	for _, id := range allowedIDs {
		allowed[id] = true
	}

	h := &Handler{
		api:        api,
		store:      store,
		assembler:  assembler,
		projects:   projects,
		allowedIDs: allowed,
	}
	store.SetExpiryHandler(h.handleBatchExpiry)
	return h
}

// ProcessUpdate handles a single update
func (h *Handler) ProcessUpdate(ctx context.Context, update *telegram.Update) {
	if update.CallbackQuery != nil {
		h.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.Message == nil {
		return
	}
	msg := update.Message
	if msg.From == nil || msg.Chat == nil {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !h.allowed(chatID, userID) {
		logging.WithComponent("bot").Debug("Ignoring message from unauthorized chat/user",
			slog.Int64("chat_id", chatID), slog.Int64("user_id", userID))
		return
	}

	// Every non-forwarded plain text is a potential implicit title; record
	// it before routing so replies and menu picks also refresh the cache.
	// Commands are never titles.
	if msg.Text != "" && !msg.IsForwarded() && !strings.HasPrefix(msg.Text, "/") {
		h.store.RecordStandaloneText(userID, msg.Text)
	}

	switch {
	case msg.Text != "" && strings.HasPrefix(msg.Text, "/"):
		h.handleCommand(ctx, chatID, msg.Text)
	case msg.IsForwarded():
		h.handleForwarded(ctx, msg)
	case msg.ReplyToMessage != nil && msg.Text != "":
		h.handleTitleReply(ctx, msg)
	case msg.Text != "" && isMenuOption(msg.Text):
		h.handleMenuOption(ctx, chatID, msg.Text)
	case msg.Text != "":
		h.handleStandaloneText(ctx, userID, chatID, msg.Text)
	case msg.Document != nil || len(msg.Photo) > 0:
		// Media sent directly rather than forwarded
		_, _ = h.api.SendMessage(ctx, chatID, msgForwardInstruction, "")
	}
}

// allowed applies the optional user/chat allowlist.
func (h *Handler) allowed(chatID, userID int64) bool {
	if len(h.allowedIDs) == 0 {
		return true
	}
	return h.allowedIDs[chatID] || h.allowedIDs[userID]
}

// handleForwarded feeds one forwarded message into the batch accumulator.
func (h *Handler) handleForwarded(ctx context.Context, msg *telegram.Message) {
	frag := fragmentFromMessage(msg)
	if frag.Empty() {
		logging.WithUser(msg.From.ID).Warn("Forwarded message has no text or attachments")
		_, _ = h.api.SendMessage(ctx, msg.Chat.ID, msgEmptyForward, "")
		return
	}

	meta := forwardMetaFromMessage(msg)
	h.store.Ingest(msg.From.ID, msg.Chat.ID, msg.MessageID, frag, meta)

	logging.WithUser(msg.From.ID).Debug("Batched forwarded fragment",
		slog.Int64("message_id", msg.MessageID),
		slog.Int("attachments", len(frag.Attachments)))
}

// fragmentFromMessage extracts the text/attachment payload of a forward.
func fragmentFromMessage(msg *telegram.Message) pipeline.Fragment {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var attachments []pipeline.AttachmentRef
	if msg.Document != nil {
		attachments = append(attachments, pipeline.AttachmentRef{
			FileID:    msg.Document.FileID,
			FileName:  msg.Document.FileName,
			MimeType:  msg.Document.MimeType,
			SizeBytes: msg.Document.FileSize,
			Kind:      pipeline.AttachmentDocument,
		})
	}
	if len(msg.Photo) > 0 {
		// Telegram lists photo sizes smallest first; take the largest
		photo := msg.Photo[len(msg.Photo)-1]
		attachments = append(attachments, pipeline.AttachmentRef{
			FileID:    photo.FileID,
			FileName:  fmt.Sprintf("photo_%d.jpg", msg.MessageID),
			MimeType:  "image/jpeg",
			SizeBytes: photo.FileSize,
			Kind:      pipeline.AttachmentPhoto,
		})
	}

	return pipeline.Fragment{Text: text, Attachments: attachments}
}

// forwardMetaFromMessage captures where the forward originally came from.
// Privacy settings may strip the origin, leaving only the forward date.
func forwardMetaFromMessage(msg *telegram.Message) pipeline.ForwardMeta {
	meta := pipeline.ForwardMeta{}
	if msg.ForwardDate != 0 {
		meta.ForwardedAt = time.Unix(msg.ForwardDate, 0)
	}

	switch {
	case msg.ForwardFrom != nil:
		name := msg.ForwardFrom.FirstName
		if msg.ForwardFrom.LastName != "" {
			name += " " + msg.ForwardFrom.LastName
		}
		meta.SenderName = name
		meta.SenderHandle = msg.ForwardFrom.Username
	case msg.ForwardFromChat != nil:
		meta.SenderName = msg.ForwardFromChat.Title
		meta.SenderHandle = msg.ForwardFromChat.Username
		meta.FromChannel = msg.ForwardFromChat.Type == "channel"
	}

	return meta
}

// handleBatchExpiry is the title-resolution step: it runs when a debounce
// window closes and decides between reusing a cached standalone message as
// the title or soliciting one interactively.
func (h *Handler) handleBatchExpiry(b *pipeline.Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if title, ok := h.store.CachedTitle(b.UserID, b.ExpiredAt); ok {
		draft := h.store.InstallDraftWithTitle(b, title)
		logging.WithUser(b.UserID).Debug("Reusing standalone message as title",
			slog.Int64("draft_key", draft.Key))
		h.sendProjectKeyboard(ctx, b.ChatID, formatCachedTitlePrompt(title), draft.Key)
		return
	}

	sent, err := h.api.SendMessage(ctx, b.ChatID, msgTitlePrompt, "")
	if err != nil {
		logging.WithUser(b.UserID).Error("Failed to send title prompt, dropping batch",
			slog.Any("error", err))
		return
	}

	draft := h.store.InstallDraftAwaitingTitle(sent.MessageID, b)
	logging.WithUser(b.UserID).Debug("Prompted for title",
		slog.Int64("draft_key", draft.Key))
}

// handleTitleReply applies a reply-to-prompt message as the draft title.
func (h *Handler) handleTitleReply(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	replyTarget := msg.ReplyToMessage.MessageID

	draft, reason := h.store.AttachTitle(userID, replyTarget, msg.Text)
	switch reason {
	case pipeline.RejectNone:
		h.sendProjectKeyboard(ctx, chatID, msgProjectPrompt, draft.Key)
	case pipeline.RejectPromptNotRecognized:
		logging.WithUser(userID).Warn("Reply target not among recent prompts",
			slog.Int64("reply_target", replyTarget))
		_, _ = h.api.SendMessage(ctx, chatID, msgPromptNotRecognized, "")
	case pipeline.RejectPromptExpired:
		_, _ = h.api.SendMessage(ctx, chatID, msgPromptExpired, "")
	case pipeline.RejectAlreadyProcessed:
		_, _ = h.api.SendMessage(ctx, chatID, msgAlreadyProcessed, "")
	default:
		// Cross-user replies and wrong-state drafts are ignored silently
		logging.WithUser(userID).Debug("Ignored title reply",
			slog.Int64("reply_target", replyTarget),
			slog.Int("reason", int(reason)))
	}
}

// handleStandaloneText tries a plain message as a title for the user's
// single outstanding prompt. Ambiguity makes it a silent no-op.
func (h *Handler) handleStandaloneText(ctx context.Context, userID, chatID int64, text string) {
	draft, ok := h.store.AttachTitleStandalone(userID, text)
	if !ok {
		return
	}

	logging.WithUser(userID).Debug("Standalone title accepted",
		slog.Int64("draft_key", draft.Key))
	h.sendProjectKeyboard(ctx, chatID, msgProjectPrompt, draft.Key)
}

// sendProjectKeyboard emits the project-selection prompt for a draft.
func (h *Handler) sendProjectKeyboard(ctx context.Context, chatID int64, text string, draftKey int64) {
	keyboard := make([][]telegram.InlineKeyboardButton, 0, len(h.projects))
	for _, p := range h.projects {
		keyboard = append(keyboard, []telegram.InlineKeyboardButton{{
			Text:         p.Name,
			CallbackData: FormatProjectCallback(p.GID, draftKey),
		}})
	}

	if _, err := h.api.SendMessageWithKeyboard(ctx, chatID, text, "", keyboard); err != nil {
		logging.WithComponent("bot").Warn("Failed to send project keyboard",
			slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

// handleCallback finalizes a draft when a project button is pressed.
func (h *Handler) handleCallback(ctx context.Context, callback *telegram.CallbackQuery) {
	if callback.Message == nil || callback.Message.Chat == nil {
		return
	}

	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID

	if callback.From != nil && !h.allowed(chatID, callback.From.ID) {
		return
	}

	// Answer immediately to clear the client's loading state
	_ = h.api.AnswerCallback(ctx, callback.ID, "")

	projectGID, draftKey, err := ParseProjectCallback(callback.Data)
	if err != nil {
		logging.WithComponent("bot").Warn("Malformed callback token",
			slog.String("data", callback.Data), slog.Any("error", err))
		h.editMessage(ctx, chatID, messageID, msgInvalidCallback)
		return
	}

	result, err := h.assembler.Finalize(ctx, draftKey, projectGID)
	switch {
	case err == nil:
		h.editMessage(ctx, chatID, messageID, formatTaskCreated(result))
	case errors.Is(err, pipeline.ErrDraftNotFound):
		h.editMessage(ctx, chatID, messageID, msgDraftNotFound)
	case errors.Is(err, pipeline.ErrAlreadyProcessed):
		h.editMessage(ctx, chatID, messageID, msgAlreadyProcessed)
	default:
		// Draft stays active; the user may tap the project button again
		h.editMessage(ctx, chatID, messageID, msgTaskCreateFailed)
	}
}

// editMessage edits a sent message, tolerating Telegram's "message is not
// modified" error on repeated identical edits.
func (h *Handler) editMessage(ctx context.Context, chatID, messageID int64, text string) {
	err := h.api.EditMessage(ctx, chatID, messageID, text, "")
	if err == nil {
		return
	}
	if strings.Contains(err.Error(), "message is not modified") {
		logging.WithComponent("bot").Debug("Edit skipped, content unchanged",
			slog.Int64("message_id", messageID))
		return
	}
	logging.WithComponent("bot").Warn("Failed to edit message",
		slog.Int64("message_id", messageID), slog.Any("error", err))
}
