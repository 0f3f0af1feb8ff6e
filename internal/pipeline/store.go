package pipeline

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rcrlabs/taskbridge/internal/logging"
)

// Config holds the pipeline tunables.
type Config struct {
	Debounce         time.Duration // Window extending a forward batch
	TitleLookback    time.Duration // Max age of a standalone message reused as title
	DraftTTL         time.Duration // Stale drafts are retired after this
	MaxRecentPrompts int           // Per-user recent prompt history size
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:         2 * time.Second,
		TitleLookback:    5 * time.Second,
		DraftTTL:         30 * time.Minute,
		MaxRecentPrompts: 5,
	}
}

// Batch is the immutable snapshot handed to the expiry consumer once the
// debounce window closes. The store retains no reference to it.
type Batch struct {
	UserID         int64
	ChatID         int64
	LastFragmentID int64
	CombinedText   string
	Attachments    []AttachmentRef
	Forward        ForwardMeta
	ExpiredAt      time.Time
}

// RetiredDraft describes a draft removed by the stale-draft sweep.
type RetiredDraft struct {
	Key     int64
	OwnerID int64
	ChatID  int64
	Title   string
}

// batch is the mutable per-user accumulator while the debounce timer runs.
type batch struct {
	userID         int64
	chatID         int64
	fragments      []Fragment
	lastFragmentID int64
	forward        ForwardMeta
	timer          *time.Timer
	seq            uint64
}

type standaloneText struct {
	text string
	at   time.Time
}

// Store owns all mutable pipeline state: open batches, live drafts, the
// per-user recent-prompt index and the last-standalone-message cache. One
// mutex guards every read-modify-write sequence, so a timer firing while a
// fragment is appended always observes a consistent batch.
type Store struct {
	mu sync.Mutex

	cfg     Config
	batches map[int64]*batch
	drafts  map[int64]*Draft
	recent  map[int64][]int64
	lastMsg map[int64]standaloneText

	seq     uint64
	onBatch func(*Batch)
	now     func() time.Time
}

// NewStore creates a store. onBatch is invoked, outside the store's lock,
// with the batch snapshot each time a debounce window expires.
func NewStore(cfg Config, onBatch func(*Batch)) *Store {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.TitleLookback <= 0 {
		cfg.TitleLookback = DefaultConfig().TitleLookback
	}
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = DefaultConfig().DraftTTL
	}
	if cfg.MaxRecentPrompts <= 0 {
		cfg.MaxRecentPrompts = DefaultConfig().MaxRecentPrompts
	}

	return &Store{
		cfg:     cfg,
		batches: make(map[int64]*batch),
		drafts:  make(map[int64]*Draft),
		recent:  make(map[int64][]int64),
		lastMsg: make(map[int64]standaloneText),
		onBatch: onBatch,
		now:     time.Now,
	}
}

// SetExpiryHandler installs the batch-expiry consumer. Must be called
// before the first Ingest when the consumer was not passed to NewStore.
func (s *Store) SetExpiryHandler(fn func(*Batch)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBatch = fn
}

// Stop cancels all pending debounce timers. Used on shutdown and in tests.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, b := range s.batches {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(s.batches, userID)
	}
}

// RecordStandaloneText remembers a user's most recent non-forwarded text
// for implicit-title inference. Every new message overwrites the previous.
func (s *Store) RecordStandaloneText(userID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMsg[userID] = standaloneText{text: text, at: s.now()}
}

// CachedTitle returns the user's last standalone message if it falls inside
// the lookback window ending at expiry.
func (s *Store) CachedTitle(userID int64, expiry time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lastMsg[userID]
	if !ok {
		return "", false
	}
	if expiry.Sub(entry.at) > s.cfg.TitleLookback {
		return "", false
	}
	return entry.text, true
}

// Ingest appends a forwarded fragment to the user's open batch, creating
// one if needed, and rearms the debounce timer. Cancel-old, install-new and
// append happen atomically with respect to a concurrently firing timer.
func (s *Store) Ingest(userID, chatID, fragmentID int64, frag Fragment, meta ForwardMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[userID]
	if !ok {
		b = &batch{userID: userID, chatID: chatID}
		s.batches[userID] = b
	}

	b.fragments = append(b.fragments, frag)
	b.chatID = chatID
	b.lastFragmentID = fragmentID
	b.forward = meta

	if b.timer != nil {
		b.timer.Stop()
	}
	s.seq++
	seq := s.seq
	b.seq = seq
	b.timer = time.AfterFunc(s.cfg.Debounce, func() {
		s.expireBatch(userID, seq)
	})
}

// expireBatch converts an open batch into a snapshot and hands it to the
// expiry consumer. A stale timer whose batch was superseded or already
// consumed is a no-op.
func (s *Store) expireBatch(userID int64, seq uint64) {
	s.mu.Lock()

	b, ok := s.batches[userID]
	if !ok || b.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.batches, userID)

	var texts []string
	var attachments []AttachmentRef
	for _, f := range b.fragments {
		if f.Text != "" {
			texts = append(texts, f.Text)
		}
		attachments = append(attachments, f.Attachments...)
	}

	snapshot := &Batch{
		UserID:         b.userID,
		ChatID:         b.chatID,
		LastFragmentID: b.lastFragmentID,
		CombinedText:   strings.Join(texts, "\n"),
		Attachments:    attachments,
		Forward:        b.forward,
		ExpiredAt:      s.now(),
	}
	onBatch := s.onBatch
	s.mu.Unlock()

	if onBatch != nil {
		onBatch(snapshot)
	}
}

// InstallDraftWithTitle creates a draft already in the awaiting-project
// state, keyed by the batch's last fragment. Used when a cached standalone
// message supplies the title.
func (s *Store) InstallDraftWithTitle(b *Batch, title string) *Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &Draft{
		Key:          b.LastFragmentID,
		OwnerID:      b.UserID,
		ChatID:       b.ChatID,
		CombinedText: b.CombinedText,
		Title:        title,
		Attachments:  b.Attachments,
		Forward:      b.Forward,
		State:        StateAwaitingProject,
		Active:       true,
		CreatedAt:    s.now(),
	}
	s.drafts[d.Key] = d
	return d.clone()
}

// InstallDraftAwaitingTitle creates a draft keyed by the title prompt
// message and records the prompt in the user's recent-prompt index,
// evicting the oldest entry past capacity.
func (s *Store) InstallDraftAwaitingTitle(promptID int64, b *Batch) *Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &Draft{
		Key:          promptID,
		OwnerID:      b.UserID,
		ChatID:       b.ChatID,
		CombinedText: b.CombinedText,
		Attachments:  b.Attachments,
		Forward:      b.Forward,
		State:        StateAwaitingTitle,
		Active:       true,
		CreatedAt:    s.now(),
	}
	s.drafts[d.Key] = d

	prompts := append(s.recent[b.UserID], promptID)
	if len(prompts) > s.cfg.MaxRecentPrompts {
		prompts = prompts[len(prompts)-s.cfg.MaxRecentPrompts:]
	}
	s.recent[b.UserID] = prompts

	return d.clone()
}

// AttachTitle applies a reply-to-prompt title to the matching draft and
// advances it to awaiting-project. The validation order determines which
// rejection the user sees; owner and state mismatches stay silent.
func (s *Store) AttachTitle(userID, replyTarget int64, title string) (*Draft, RejectionReason) {
	title = strings.TrimSpace(title)

	s.mu.Lock()
	defer s.mu.Unlock()

	recognized := false
	for _, id := range s.recent[userID] {
		if id == replyTarget {
			recognized = true
			break
		}
	}
	if !recognized {
		return nil, RejectPromptNotRecognized
	}

	d, ok := s.drafts[replyTarget]
	if !ok {
		return nil, RejectPromptExpired
	}
	if !d.Active {
		return nil, RejectAlreadyProcessed
	}
	if d.OwnerID != userID {
		return nil, RejectWrongOwner
	}
	if d.State != StateAwaitingTitle {
		return nil, RejectWrongState
	}

	d.Title = title
	d.State = StateAwaitingProject
	return d.clone(), RejectNone
}

// AttachTitleStandalone applies a plain (non-reply) message as a title when
// the target draft is unambiguous: the user must have exactly one active
// prompt. Zero or multiple active prompts make this a silent no-op, to
// avoid mis-attributing a title across concurrent conversions.
func (s *Store) AttachTitleStandalone(userID int64, title string) (*Draft, bool) {
	title = strings.TrimSpace(title)

	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*Draft
	for _, id := range s.recent[userID] {
		if d, ok := s.drafts[id]; ok && d.Active {
			active = append(active, d)
		}
	}
	if len(active) != 1 {
		return nil, false
	}

	d := active[0]
	if d.OwnerID != userID || d.State != StateAwaitingTitle {
		return nil, false
	}

	d.Title = title
	d.State = StateAwaitingProject
	return d.clone(), true
}

// ClaimFinalize marks a draft as having a finalize attempt in flight and
// returns a snapshot for assembly. A second claim while the first is in
// flight, or after completion, reports RejectAlreadyProcessed, which keeps
// task creation at-most-once per draft.
func (s *Store) ClaimFinalize(key int64) (*Draft, RejectionReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[key]
	if !ok {
		return nil, RejectNotFound
	}
	if !d.Active || d.inFlight {
		return nil, RejectAlreadyProcessed
	}

	d.inFlight = true
	return d.clone(), RejectNone
}

// CompleteFinalize retires a draft after a successful task creation: state
// moves to completed, the draft is deactivated, and its prompt entry is
// dropped from the owner's recent-prompt index. The inactive record stays in
// the registry so a duplicate finalize reports AlreadyProcessed rather than
// NotFound; the TTL sweep removes it later.
func (s *Store) CompleteFinalize(key int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[key]
	if !ok {
		return
	}
	d.State = StateCompleted
	d.Active = false
	d.inFlight = false
	s.removePromptLocked(d.OwnerID, key)
}

// ReleaseFinalize returns a draft to the retryable awaiting-project state
// after a failed task creation, so the user can tap the project button
// again instead of re-forwarding everything.
func (s *Store) ReleaseFinalize(key int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.drafts[key]; ok {
		d.inFlight = false
	}
}

// SweepExpired removes drafts older than the draft TTL. Drafts with a
// finalize attempt in flight are skipped; already-completed drafts are
// dropped silently. Returns the still-active drafts that were abandoned so
// the caller can notify their owners.
func (s *Store) SweepExpired() []RetiredDraft {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.DraftTTL)
	var retired []RetiredDraft
	for key, d := range s.drafts {
		if d.inFlight || !d.CreatedAt.Before(cutoff) {
			continue
		}
		wasActive := d.Active
		d.Active = false
		delete(s.drafts, key)
		s.removePromptLocked(d.OwnerID, key)
		if !wasActive {
			continue
		}
		retired = append(retired, RetiredDraft{
			Key:     key,
			OwnerID: d.OwnerID,
			ChatID:  d.ChatID,
			Title:   d.Title,
		})
		logging.WithDraft(key).Debug("Retired stale draft",
			slog.Int64("user_id", d.OwnerID))
	}
	return retired
}

// removePromptLocked drops a prompt key from a user's recent-prompt index.
// Callers must hold s.mu.
func (s *Store) removePromptLocked(userID, key int64) {
	prompts := s.recent[userID]
	for i, id := range prompts {
		if id == key {
			s.recent[userID] = append(prompts[:i], prompts[i+1:]...)
			break
		}
	}
	if len(s.recent[userID]) == 0 {
		delete(s.recent, userID)
	}
}

// Draft returns a snapshot of a live draft, mainly for tests and commands.
func (s *Store) Draft(key int64) (*Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[key]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// RecentPrompts returns the user's recent prompt keys, newest last.
func (s *Store) RecentPrompts(userID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	prompts := make([]int64, len(s.recent[userID]))
	copy(prompts, s.recent[userID])
	return prompts
}

// HasOpenBatch reports whether the user has a batch awaiting expiry.
func (s *Store) HasOpenBatch(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.batches[userID]
	return ok
}
