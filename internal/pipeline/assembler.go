package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rcrlabs/taskbridge/internal/adapters/asana"
	"github.com/rcrlabs/taskbridge/internal/ai"
	"github.com/rcrlabs/taskbridge/internal/logging"
)

// Finalize failure sentinels, checked with errors.Is by the handler.
var (
	// ErrDraftNotFound means no draft exists for the key.
	ErrDraftNotFound = errors.New("draft not found")
	// ErrAlreadyProcessed means the draft was already finalized.
	ErrAlreadyProcessed = errors.New("draft already processed")
	// ErrTaskCreation means the tracker rejected or failed the create call.
	// The draft stays active so the user may retry the project selection.
	ErrTaskCreation = errors.New("task creation failed")
)

// Normalizer produces a cleaned-up title/description pair.
type Normalizer interface {
	Normalize(ctx context.Context, userTitle, originalText string) (ai.NormalizedTask, error)
}

// Tracker is the task-tracker surface the assembler needs.
type Tracker interface {
	CreateTask(ctx context.Context, name, notes, projectGID string) (*asana.Task, error)
	UploadAttachment(ctx context.Context, taskGID, fileName string, content []byte) (*asana.Attachment, error)
}

// FileFetcher downloads attachment content from the chat platform.
type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// FinalizeResult reports what the assembler created.
type FinalizeResult struct {
	TaskGID     string
	TaskURL     string
	Title       string
	Uploaded    int
	Failed      int
	Attachments int
}

// Assembler merges a claimed draft, AI output and attachments into one
// committed tracker task.
type Assembler struct {
	store   *Store
	ai      Normalizer
	tracker Tracker
	files   FileFetcher
}

// NewAssembler creates a task assembler.
func NewAssembler(store *Store, normalizer Normalizer, tracker Tracker, files FileFetcher) *Assembler {
	return &Assembler{
		store:   store,
		ai:      normalizer,
		tracker: tracker,
		files:   files,
	}
}

// Finalize creates the tracker task for a draft. Task creation is attempted
// at most once per draft: the claim on the draft rejects duplicate
// invocations from double-taps or retried callbacks. Attachment failures
// are logged and skipped, never rolled back, and never fail the task.
func (a *Assembler) Finalize(ctx context.Context, draftKey int64, projectGID string) (*FinalizeResult, error) {
	draft, reason := a.store.ClaimFinalize(draftKey)
	switch reason {
	case RejectNone:
	case RejectNotFound:
		return nil, ErrDraftNotFound
	default:
		return nil, ErrAlreadyProcessed
	}

	log := logging.WithCorrelationID(uuid.NewString()).With(
		slog.Int64("draft_key", draftKey),
		slog.Int64("user_id", draft.OwnerID),
		slog.String("project_gid", projectGID))

	// AI normalization runs without holding any pipeline lock; malformed
	// output falls back to the raw user title and never aborts creation.
	normalized, err := a.ai.Normalize(ctx, draft.Title, draft.CombinedText)
	if err != nil {
		log.Warn("AI normalization unavailable, using raw title", slog.Any("error", err))
		normalized = ai.NormalizedTask{Title: draft.Title}
	}
	if normalized.Title == "" {
		normalized.Title = draft.Title
	}

	body := ComposeBody(normalized.Description, draft.CombinedText, draft.Forward)

	task, err := a.tracker.CreateTask(ctx, normalized.Title, body, projectGID)
	if err != nil {
		a.store.ReleaseFinalize(draftKey)
		log.Error("Tracker task creation failed", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrTaskCreation, err)
	}

	log.Info("Task created", slog.String("task_gid", task.GID))

	result := &FinalizeResult{
		TaskGID:     task.GID,
		TaskURL:     asana.TaskURL(projectGID, task.GID),
		Title:       normalized.Title,
		Attachments: len(draft.Attachments),
	}

	for _, ref := range draft.Attachments {
		if err := a.uploadAttachment(ctx, task.GID, ref); err != nil {
			log.Warn("Attachment upload skipped",
				slog.String("file_id", ref.FileID),
				slog.String("file_name", ref.FileName),
				slog.Any("error", err))
			result.Failed++
			continue
		}
		result.Uploaded++
	}

	a.store.CompleteFinalize(draftKey)
	return result, nil
}

// uploadAttachment fetches one attachment from the chat platform and
// uploads it to the task.
func (a *Assembler) uploadAttachment(ctx context.Context, taskGID string, ref AttachmentRef) error {
	content, err := a.files.FetchFile(ctx, ref.FileID)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	name := ref.FileName
	if name == "" {
		if ref.Kind == AttachmentPhoto {
			name = "photo.jpg"
		} else {
			name = "attachment"
		}
	}

	if _, err := a.tracker.UploadAttachment(ctx, taskGID, name, content); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}
