// Package feed keeps the social feed in memory and applies every user action
// optimistically: the change is visible at once, the request runs, and on
// failure the inverse of that one change is applied to the same entity.
//
// Each post and comment carries a state. While it is not Idle, further
// actions on it return ErrBusy, which stands in for a disabled control.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"mentorhub/pkg/domain"
)

var (
	ErrBusy     = errors.New("feed: action already in progress")
	ErrNotFound = errors.New("feed: not found")
	ErrClosed   = errors.New("feed: closed")
	// ErrDiscarded is returned when a response arrives after Reset or Close,
	// or when a comment list was overtaken by local comment changes; the
	// response is not applied.
	ErrDiscarded = errors.New("feed: response discarded")
)

// State is the per-entity optimistic state.
type State int

const (
	Idle State = iota
	PendingCreate
	PendingDelete
	PendingReact
)

func (s State) String() string {
	switch s {
	case PendingCreate:
		return "pending-create"
	case PendingDelete:
		return "pending-delete"
	case PendingReact:
		return "pending-react"
	default:
		return "idle"
	}
}

// API is the slice of the REST client used by the feed.
type API interface {
	ListPosts(ctx context.Context, token, cursor string) (domain.PostPage, error)
	CreatePost(ctx context.Context, token, content string) (domain.Post, error)
	DeletePost(ctx context.Context, token string, postID domain.ID) error
	ReactPost(ctx context.Context, token string, postID domain.ID, reaction domain.Reaction) error
	UnreactPost(ctx context.Context, token string, postID domain.ID, reaction domain.Reaction) error
	ListComments(ctx context.Context, token string, postID domain.ID) ([]domain.Comment, error)
	CreateComment(ctx context.Context, token string, postID, parentID domain.ID, content string) (domain.Comment, error)
	DeleteComment(ctx context.Context, token string, commentID domain.ID) error
	ReactComment(ctx context.Context, token string, commentID domain.ID, reaction domain.Reaction) error
	UnreactComment(ctx context.Context, token string, commentID domain.ID, reaction domain.Reaction) error
}

// TokenSource supplies the bearer token. *session.Store implements it.
type TokenSource interface {
	AccessToken() (string, error)
}

// NotifyFunc receives every failed action, after its rollback.
type NotifyFunc func(op string, err error)

type Option func(*Feed)

func WithNotifier(fn NotifyFunc) Option {
	return func(f *Feed) { f.notify = fn }
}

// WithAuthor sets the author shown on optimistic posts and comments.
func WithAuthor(fn func() domain.UserSummary) Option {
	return func(f *Feed) { f.author = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		if now != nil {
			f.now = now
		}
	}
}

// WithPrefetchLimit bounds concurrent comment fetches.
func WithPrefetchLimit(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.prefetchLimit = n
		}
	}
}

type postEntry struct {
	post           domain.Post
	state          State
	comments       []*commentEntry
	commentsLoaded bool
	// commentsRev counts local comment changes; a comment list fetched
	// across a change is stale.
	commentsRev uint64
}

type commentEntry struct {
	comment domain.Comment
	state   State
	replies []*commentEntry
}

// Feed is the in-memory post collection.
type Feed struct {
	api           API
	tokens        TokenSource
	notify        NotifyFunc
	author        func() domain.UserSummary
	logger        *slog.Logger
	now           func() time.Time
	prefetchLimit int

	mu        sync.Mutex
	posts     []*postEntry
	index     map[domain.ID]*postEntry
	cursor    string
	exhausted bool
	loading   bool
	gen       uint64
	closed    bool
}

// New builds an empty feed.
func New(api API, tokens TokenSource, opts ...Option) *Feed {
	f := &Feed{
		api:           api,
		tokens:        tokens,
		logger:        slog.Default(),
		now:           time.Now,
		prefetchLimit: 4,
		index:         make(map[domain.ID]*postEntry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Reset drops every post and the cursor. Responses to requests started
// before the reset are discarded.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = nil
	f.index = make(map[domain.ID]*postEntry)
	f.cursor = ""
	f.exhausted = false
	f.loading = false
	f.gen++
}

// Close detaches the feed from its owner; later responses are discarded and
// new actions return ErrClosed.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.gen++
}

// HasMore reports whether another page may exist.
func (f *Feed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.exhausted
}

func (f *Feed) token(op string) (string, error) {
	tok, err := f.tokens.AccessToken()
	if err != nil {
		f.report(op, err)
		return "", err
	}
	return tok, nil
}

// report must be called without f.mu held; the notifier may call back into the feed.
func (f *Feed) report(op string, err error) {
	if err == nil || errors.Is(err, ErrDiscarded) {
		return
	}
	f.logger.Debug("feed_action_failed", "op", op, "err", err)
	if f.notify != nil {
		f.notify(op, err)
	}
}

func (f *Feed) usableLocked() error {
	if f.closed {
		return ErrClosed
	}
	return nil
}

func (f *Feed) placeholderID() domain.ID {
	return domain.ID("tmp-" + uuid.NewString())
}

func (f *Feed) currentAuthor() domain.UserSummary {
	if f.author == nil {
		return domain.UserSummary{}
	}
	return f.author()
}

// quiet reports whether neither the post nor any of its comments has an action in flight.
func (p *postEntry) quiet() bool {
	if p.state != Idle {
		return false
	}
	for _, c := range p.comments {
		if c.state != Idle {
			return false
		}
		for _, r := range c.replies {
			if r.state != Idle {
				return false
			}
		}
	}
	return true
}

// IsPlaceholder reports whether id was generated locally for an optimistic entity.
func IsPlaceholder(id domain.ID) bool {
	return len(id) > 4 && id[:4] == "tmp-"
}
