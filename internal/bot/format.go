package bot

import (
	"fmt"

	"github.com/rcrlabs/taskbridge/internal/pipeline"
)

// User-facing message texts. Failure replies describe the problem category;
// diagnostic detail goes to the log, never to the user.
const (
	msgWelcome = "👋 Hi! Forward any message to me and I'll help you create a task!"

	msgHelp = "📝 How to use:\n1. Forward a message\n2. Select project\n3. Get task link!"

	msgHelpLong = "Forward messages to create tasks. After forwarding, reply with a title, " +
		"then pick a project. The bot will use AI to help format your task!"

	msgAbout = "taskbridge — turns forwarded chat messages into tracker tasks, " +
		"with AI-assisted titles and descriptions."

	msgMenuPrompt = "Please choose an option:"

	msgCreateTaskHint = "Just forward one or more messages to me to start creating a task!"

	msgForwardInstruction = "Please forward a message to create a task."

	msgEmptyForward = "Please forward a text message or a media message with a caption."

	msgTitlePrompt = "What should the title of the task be?\n(Reply to this message with your title.)"

	msgProjectPrompt = "📋 Which project should I add this task to?"

	msgPromptNotRecognized = "This prompt is no longer active. Please forward new messages to create a new task."

	msgPromptExpired = "This prompt has expired. Please forward new messages to create a new task."

	msgAlreadyProcessed = "This task has already been processed. Please forward new messages to create a new task."

	msgDraftNotFound = "Error: Message not found."

	msgInvalidCallback = "Error: Invalid callback data."

	msgTaskCreateFailed = "❌ Error creating task. Please try again later."
)

// formatCachedTitlePrompt announces the implicit title reuse before the
// project pick.
func formatCachedTitlePrompt(title string) string {
	return fmt.Sprintf("📋 Using your previous message as the title:\n%s\n\n%s", title, msgProjectPrompt)
}

// formatTaskCreated renders the success confirmation with the task link.
// Skipped attachments are mentioned but never treated as a failure.
func formatTaskCreated(result *pipeline.FinalizeResult) string {
	msg := fmt.Sprintf("✅ Task created: %s", result.TaskURL)
	if result.Failed > 0 {
		msg += fmt.Sprintf("\n⚠️ %d of %d attachments could not be uploaded.", result.Failed, result.Attachments)
	}
	return msg
}

// formatDraftExpired notifies the owner of a garbage-collected draft.
func formatDraftExpired(title string) string {
	if title != "" {
		return fmt.Sprintf("⏰ Draft \"%s\" expired without a project selection. Forward the messages again to retry.", title)
	}
	return "⏰ A pending task draft expired. Forward the messages again to retry."
}
