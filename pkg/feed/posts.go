package feed

import (
	"context"
	"fmt"
	"strings"

	"mentorhub/pkg/apiclient"
	"mentorhub/pkg/domain"
)

// LoadNextPage fetches the page after the current cursor and appends posts
// not already present. Once the server omits a cursor the feed is exhausted
// and further calls return 0, nil.
func (f *Feed) LoadNextPage(ctx context.Context) (int, error) {
	token, err := f.token("load_posts")
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return 0, err
	}
	if f.loading {
		f.mu.Unlock()
		return 0, ErrBusy
	}
	if f.exhausted {
		f.mu.Unlock()
		return 0, nil
	}
	f.loading = true
	cursor, gen := f.cursor, f.gen
	f.mu.Unlock()

	page, err := f.api.ListPosts(ctx, token, cursor)

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return 0, ErrDiscarded
	}
	f.loading = false
	if err != nil {
		f.mu.Unlock()
		err = fmt.Errorf("load posts: %w", err)
		f.report("load_posts", err)
		return 0, err
	}
	added := 0
	for _, p := range page.Items {
		if p.ID.IsZero() || f.index[p.ID] != nil {
			continue
		}
		entry := &postEntry{post: p}
		f.posts = append(f.posts, entry)
		f.index[p.ID] = entry
		added++
	}
	f.cursor = page.NextCursor
	f.exhausted = page.NextCursor == ""
	f.mu.Unlock()
	return added, nil
}

// CreatePost shows a placeholder at the top of the feed and swaps in the
// server's post once it is created.
func (f *Feed) CreatePost(ctx context.Context, content string) (domain.Post, error) {
	content = strings.TrimSpace(content)
	if err := apiclient.ValidateContent("content", content); err != nil {
		return domain.Post{}, err
	}
	token, err := f.token("create_post")
	if err != nil {
		return domain.Post{}, err
	}

	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return domain.Post{}, err
	}
	entry := &postEntry{
		post: domain.Post{
			ID:           f.placeholderID(),
			Author:       f.currentAuthor(),
			Content:      content,
			CreatedAt:    f.now().UTC(),
			UserReaction: domain.ReactionNone,
		},
		state:          PendingCreate,
		commentsLoaded: true,
	}
	tmpID := entry.post.ID
	f.posts = append([]*postEntry{entry}, f.posts...)
	f.index[tmpID] = entry
	gen := f.gen
	f.mu.Unlock()

	created, err := f.api.CreatePost(ctx, token, content)

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return domain.Post{}, ErrDiscarded
	}
	if err != nil {
		f.removePostLocked(entry)
		f.mu.Unlock()
		err = fmt.Errorf("create post: %w", err)
		f.report("create_post", err)
		return domain.Post{}, err
	}
	delete(f.index, tmpID)
	if created.ID.IsZero() {
		created.ID = tmpID
		f.logger.Warn("create_post_missing_id")
	}
	if created.Author.ID.IsZero() {
		created.Author = entry.post.Author
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = entry.post.CreatedAt
	}
	if created.UserReaction == "" {
		created.UserReaction = domain.ReactionNone
	}
	if existing := f.index[created.ID]; existing != nil && existing != entry {
		// A page load already brought the canonical post in.
		f.removePostLocked(entry)
		f.mu.Unlock()
		return created, nil
	}
	entry.post = created
	entry.state = Idle
	f.index[created.ID] = entry
	f.mu.Unlock()
	return created, nil
}

// DeletePost hides the post at once and removes it when the server confirms.
func (f *Feed) DeletePost(ctx context.Context, id domain.ID) error {
	token, err := f.token("delete_post")
	if err != nil {
		return err
	}
	f.mu.Lock()
	entry, err := f.idlePostLocked(id)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if !entry.quiet() {
		f.mu.Unlock()
		return ErrBusy
	}
	entry.state = PendingDelete
	gen := f.gen
	f.mu.Unlock()

	err = f.api.DeletePost(ctx, token, id)

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return ErrDiscarded
	}
	if err != nil {
		entry.state = Idle
		f.mu.Unlock()
		err = fmt.Errorf("delete post %s: %w", id, err)
		f.report("delete_post", err)
		return err
	}
	f.removePostLocked(entry)
	f.mu.Unlock()
	return nil
}

// TogglePostReaction likes an unliked post or unlikes a liked one, moving the
// count by exactly one.
func (f *Feed) TogglePostReaction(ctx context.Context, id domain.ID) (domain.Post, error) {
	token, err := f.token("react_post")
	if err != nil {
		return domain.Post{}, err
	}
	f.mu.Lock()
	entry, err := f.idlePostLocked(id)
	if err != nil {
		f.mu.Unlock()
		return domain.Post{}, err
	}
	liked := entry.post.UserReaction.Liked()
	undo := toggle(&entry.post.UserReaction, &entry.post.ReactionCount)
	entry.state = PendingReact
	gen := f.gen
	f.mu.Unlock()

	if liked {
		err = f.api.UnreactPost(ctx, token, id, domain.ReactionLike)
	} else {
		err = f.api.ReactPost(ctx, token, id, domain.ReactionLike)
	}

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return domain.Post{}, ErrDiscarded
	}
	entry.state = Idle
	if err != nil {
		undo()
		post := entry.post
		f.mu.Unlock()
		err = fmt.Errorf("react to post %s: %w", id, err)
		f.report("react_post", err)
		return post, err
	}
	post := entry.post
	f.mu.Unlock()
	return post, nil
}

// idlePostLocked finds a visible post that has no action in flight.
func (f *Feed) idlePostLocked(id domain.ID) (*postEntry, error) {
	if err := f.usableLocked(); err != nil {
		return nil, err
	}
	entry := f.index[id]
	if entry == nil || entry.state == PendingDelete {
		return nil, ErrNotFound
	}
	if entry.state != Idle {
		return nil, ErrBusy
	}
	return entry, nil
}

func (f *Feed) removePostLocked(entry *postEntry) {
	for i, p := range f.posts {
		if p == entry {
			f.posts = append(f.posts[:i], f.posts[i+1:]...)
			break
		}
	}
	if f.index[entry.post.ID] == entry {
		delete(f.index, entry.post.ID)
	}
}

// toggle flips a like and returns its inverse.
func toggle(reaction *domain.Reaction, count *int) func() {
	prevReaction := *reaction
	if reaction.Liked() {
		*reaction = domain.ReactionNone
		*count--
		return func() {
			*reaction = prevReaction
			*count++
		}
	}
	*reaction = domain.ReactionLike
	*count++
	return func() {
		*reaction = prevReaction
		*count--
	}
}
