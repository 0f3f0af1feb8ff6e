// Package pipeline implements the stateful forward-to-task conversion
// pipeline: debounced batching of forwarded fragments, the draft registry
// with its title-resolution state machine, and the task assembly step.
package pipeline

import "time"

// DraftState tracks how far a draft has progressed. Transitions only move
// forward: AwaitingTitle -> AwaitingProject -> Completed.
type DraftState int

const (
	// StateAwaitingTitle means the user still has to supply a title.
	StateAwaitingTitle DraftState = iota
	// StateAwaitingProject means a title is set and a project pick is pending.
	StateAwaitingProject
	// StateCompleted means the task was created and the draft is retired.
	StateCompleted
)

// String returns the state name for logs.
func (s DraftState) String() string {
	switch s {
	case StateAwaitingTitle:
		return "awaiting_title"
	case StateAwaitingProject:
		return "awaiting_project"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// RejectionReason explains why a title or finalize attempt was refused.
type RejectionReason int

const (
	// RejectNone means the operation succeeded.
	RejectNone RejectionReason = iota
	// RejectPromptNotRecognized: the reply target is not a recent prompt.
	RejectPromptNotRecognized
	// RejectPromptExpired: the prompt was recent but its draft is gone.
	RejectPromptExpired
	// RejectAlreadyProcessed: the draft was already finalized.
	RejectAlreadyProcessed
	// RejectWrongOwner: the actor does not own the draft. Not surfaced.
	RejectWrongOwner
	// RejectWrongState: the draft is not awaiting a title. Not surfaced.
	RejectWrongState
	// RejectNotFound: no draft exists for the key.
	RejectNotFound
)

// AttachmentKind distinguishes documents from photos.
type AttachmentKind int

const (
	AttachmentDocument AttachmentKind = iota
	AttachmentPhoto
)

// AttachmentRef points at a file on the chat platform, fetched lazily at
// assembly time.
type AttachmentRef struct {
	FileID    string
	FileName  string
	MimeType  string
	SizeBytes int64
	Kind      AttachmentKind
}

// Fragment is one forwarded message's payload prior to batching.
type Fragment struct {
	Text        string
	Attachments []AttachmentRef
}

// Empty reports whether the fragment carries neither text nor attachments.
func (f Fragment) Empty() bool {
	return f.Text == "" && len(f.Attachments) == 0
}

// ForwardMeta describes where a forwarded message originally came from.
type ForwardMeta struct {
	SenderName    string // Original sender display name or channel title
	SenderHandle  string // Public @username, if the source exposes one
	FromChannel   bool   // True when forwarded from a channel rather than a user
	ForwardedAt   time.Time
}

// Draft is the conversion-in-progress record for one logical forward event.
// It is keyed by the prompt message shown to the user, or by the last
// forwarded fragment when a cached title was reused.
type Draft struct {
	Key          int64
	OwnerID      int64
	ChatID       int64
	CombinedText string
	Title        string
	Attachments  []AttachmentRef
	Forward      ForwardMeta
	State        DraftState
	Active       bool
	CreatedAt    time.Time

	// inFlight guards against duplicate finalize attempts while a task
	// creation call is in progress.
	inFlight bool
}

// clone returns a deep copy safe to use outside the store's lock.
func (d *Draft) clone() *Draft {
	c := *d
	c.Attachments = make([]AttachmentRef, len(d.Attachments))
	copy(c.Attachments, d.Attachments)
	return &c
}
