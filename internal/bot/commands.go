package bot

import (
	"context"
	"strings"

	"github.com/rcrlabs/taskbridge/internal/adapters/telegram"
)

// Menu reply-keyboard labels
const (
	menuCreateTask = "📋 Create Task"
	menuProjects   = "🗂 Projects"
	menuHelp       = "❓ Help"
	menuAbout      = "ℹ️ About"
)

// Commands returns the command set registered with Telegram at startup.
func Commands() []telegram.BotCommand {
	return []telegram.BotCommand{
		{Command: "start", Description: "Start the bot"},
		{Command: "menu", Description: "Show the main menu"},
		{Command: "help", Description: "Show help information"},
	}
}

// handleCommand processes /commands.
func (h *Handler) handleCommand(ctx context.Context, chatID int64, text string) {
	cmd := strings.Fields(text)[0]
	// Strip the @botname suffix used in group chats
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case "/start":
		_, _ = h.api.SendMessage(ctx, chatID, msgWelcome, "")
	case "/help":
		_, _ = h.api.SendMessage(ctx, chatID, msgHelp, "")
	case "/menu":
		keyboard := [][]string{
			{menuCreateTask, menuProjects},
			{menuHelp, menuAbout},
		}
		_, _ = h.api.SendMessageWithReplyKeyboard(ctx, chatID, msgMenuPrompt, keyboard)
	}
}

// isMenuOption reports whether text matches a reply-keyboard label.
func isMenuOption(text string) bool {
	switch text {
	case menuCreateTask, menuProjects, menuHelp, menuAbout:
		return true
	}
	return false
}

// handleMenuOption responds to a reply-keyboard pick.
func (h *Handler) handleMenuOption(ctx context.Context, chatID int64, text string) {
	switch text {
	case menuCreateTask:
		_, _ = h.api.SendMessage(ctx, chatID, msgCreateTaskHint, "")
	case menuProjects:
		var sb strings.Builder
		sb.WriteString("Your projects:\n")
		for _, p := range h.projects {
			sb.WriteString("- " + p.Name + "\n")
		}
		_, _ = h.api.SendMessage(ctx, chatID, strings.TrimRight(sb.String(), "\n"), "")
	case menuHelp:
		_, _ = h.api.SendMessage(ctx, chatID, msgHelpLong, "")
	case menuAbout:
		_, _ = h.api.SendMessage(ctx, chatID, msgAbout, "")
	}
}
