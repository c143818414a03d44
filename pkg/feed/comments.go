package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"mentorhub/pkg/apiclient"
	"mentorhub/pkg/domain"
)

// LoadComments fetches a post's comments and rebuilds its comment tree.
func (f *Feed) LoadComments(ctx context.Context, postID domain.ID) error {
	token, err := f.token("load_comments")
	if err != nil {
		return err
	}
	f.mu.Lock()
	entry, err := f.quietPostLocked(postID)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	gen, rev := f.gen, entry.commentsRev
	f.mu.Unlock()

	list, err := f.api.ListComments(ctx, token, postID)
	if err != nil {
		err = fmt.Errorf("load comments for post %s: %w", postID, err)
		f.report("load_comments", err)
		return err
	}
	return f.applyComments(gen, postID, rev, list)
}

// PrefetchComments loads the comments of several posts concurrently. Posts
// with an action in flight are skipped.
func (f *Feed) PrefetchComments(ctx context.Context, postIDs []domain.ID) error {
	token, err := f.token("load_comments")
	if err != nil {
		return err
	}
	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	gen := f.gen
	revs := make([]uint64, len(postIDs))
	for i, id := range postIDs {
		if entry := f.index[id]; entry != nil {
			revs[i] = entry.commentsRev
		}
	}
	f.mu.Unlock()

	results := make([][]domain.Comment, len(postIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.prefetchLimit)
	for i, id := range postIDs {
		i, id := i, id
		g.Go(func() error {
			list, err := f.api.ListComments(gctx, token, id)
			if err != nil {
				return fmt.Errorf("load comments for post %s: %w", id, err)
			}
			results[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		f.report("load_comments", err)
		return err
	}
	for i, id := range postIDs {
		err := f.applyComments(gen, id, revs[i], results[i])
		if err != nil && !errors.Is(err, ErrBusy) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDiscarded) {
			return err
		}
	}
	return nil
}

func (f *Feed) applyComments(gen uint64, postID domain.ID, rev uint64, list []domain.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return ErrDiscarded
	}
	entry, err := f.quietPostLocked(postID)
	if err != nil {
		return err
	}
	if entry.commentsRev != rev {
		f.logger.Debug("stale_comments_dropped", "post_id", postID.String())
		return ErrDiscarded
	}
	entry.comments = f.buildTree(postID, list)
	entry.commentsLoaded = true
	return nil
}

// AddComment appends a top-level comment placeholder and bumps the post's
// comment count.
func (f *Feed) AddComment(ctx context.Context, postID domain.ID, content string) (domain.Comment, error) {
	return f.addComment(ctx, postID, "", content)
}

// AddReply appends a reply under a top-level comment. Replies to replies are
// rejected before any request is sent.
func (f *Feed) AddReply(ctx context.Context, postID, parentID domain.ID, content string) (domain.Comment, error) {
	if parentID.IsZero() {
		return domain.Comment{}, &apiclient.ValidationError{Field: "parent_comment_id", Message: "parent comment is required"}
	}
	return f.addComment(ctx, postID, parentID, content)
}

func (f *Feed) addComment(ctx context.Context, postID, parentID domain.ID, content string) (domain.Comment, error) {
	op := "add_comment"
	if !parentID.IsZero() {
		op = "add_reply"
	}
	content = strings.TrimSpace(content)
	if err := apiclient.ValidateContent("content", content); err != nil {
		return domain.Comment{}, err
	}
	token, err := f.token(op)
	if err != nil {
		return domain.Comment{}, err
	}

	f.mu.Lock()
	post, err := f.commentablePostLocked(postID)
	if err != nil {
		f.mu.Unlock()
		return domain.Comment{}, err
	}
	var parent *commentEntry
	if !parentID.IsZero() {
		owner, grand, c := f.locateCommentLocked(parentID)
		switch {
		case c == nil || owner != post || c.state == PendingDelete:
			f.mu.Unlock()
			return domain.Comment{}, ErrNotFound
		case grand != nil:
			f.mu.Unlock()
			return domain.Comment{}, &apiclient.ValidationError{Field: "parent_comment_id", Message: "replies cannot be nested"}
		case c.state == PendingCreate:
			f.mu.Unlock()
			return domain.Comment{}, ErrBusy
		}
		parent = c
	}
	entry := &commentEntry{
		comment: domain.Comment{
			ID:              f.placeholderID(),
			PostID:          postID,
			ParentCommentID: parentID,
			Author:          f.currentAuthor(),
			Content:         content,
			CreatedAt:       f.now().UTC(),
			UserReaction:    domain.ReactionNone,
		},
		state: PendingCreate,
	}
	if parent != nil {
		parent.replies = append(parent.replies, entry)
	} else {
		post.comments = append(post.comments, entry)
	}
	post.post.CommentCount++
	post.commentsRev++
	gen := f.gen
	f.mu.Unlock()

	created, err := f.api.CreateComment(ctx, token, postID, parentID, content)

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return domain.Comment{}, ErrDiscarded
	}
	if err != nil {
		if parent != nil {
			parent.replies = removeComment(parent.replies, entry)
		} else {
			post.comments = removeComment(post.comments, entry)
		}
		post.post.CommentCount--
		f.mu.Unlock()
		err = fmt.Errorf("%s on post %s: %w", strings.ReplaceAll(op, "_", " "), postID, err)
		f.report(op, err)
		return domain.Comment{}, err
	}
	created.Replies = nil
	if created.ID.IsZero() {
		created.ID = entry.comment.ID
		f.logger.Warn("create_comment_missing_id", "post_id", postID.String())
	}
	if created.PostID.IsZero() {
		created.PostID = postID
	}
	if created.ParentCommentID.IsZero() {
		created.ParentCommentID = parentID
	}
	if created.Author.ID.IsZero() {
		created.Author = entry.comment.Author
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = entry.comment.CreatedAt
	}
	if created.UserReaction == "" {
		created.UserReaction = domain.ReactionNone
	}
	entry.comment = created
	entry.state = Idle
	f.mu.Unlock()
	return created, nil
}

// DeleteComment hides the comment (and its replies) and removes it from
// whichever list holds it once the server confirms.
func (f *Feed) DeleteComment(ctx context.Context, commentID domain.ID) error {
	token, err := f.token("delete_comment")
	if err != nil {
		return err
	}
	f.mu.Lock()
	post, parent, entry, err := f.idleCommentLocked(commentID)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	for _, r := range entry.replies {
		if r.state != Idle {
			f.mu.Unlock()
			return ErrBusy
		}
	}
	delta := 1 + len(entry.replies)
	entry.state = PendingDelete
	post.post.CommentCount -= delta
	post.commentsRev++
	gen := f.gen
	f.mu.Unlock()

	err = f.api.DeleteComment(ctx, token, commentID)

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return ErrDiscarded
	}
	if err != nil {
		entry.state = Idle
		post.post.CommentCount += delta
		f.mu.Unlock()
		err = fmt.Errorf("delete comment %s: %w", commentID, err)
		f.report("delete_comment", err)
		return err
	}
	if parent != nil {
		parent.replies = removeComment(parent.replies, entry)
	} else {
		post.comments = removeComment(post.comments, entry)
	}
	f.mu.Unlock()
	return nil
}

// ToggleCommentReaction likes or unlikes a comment or reply.
func (f *Feed) ToggleCommentReaction(ctx context.Context, commentID domain.ID) (domain.Comment, error) {
	token, err := f.token("react_comment")
	if err != nil {
		return domain.Comment{}, err
	}
	f.mu.Lock()
	post, _, entry, err := f.idleCommentLocked(commentID)
	if err != nil {
		f.mu.Unlock()
		return domain.Comment{}, err
	}
	post.commentsRev++
	liked := entry.comment.UserReaction.Liked()
	undo := toggle(&entry.comment.UserReaction, &entry.comment.ReactionCount)
	entry.state = PendingReact
	gen := f.gen
	f.mu.Unlock()

	if liked {
		err = f.api.UnreactComment(ctx, token, commentID, domain.ReactionLike)
	} else {
		err = f.api.ReactComment(ctx, token, commentID, domain.ReactionLike)
	}

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return domain.Comment{}, ErrDiscarded
	}
	entry.state = Idle
	if err != nil {
		undo()
		c := entry.comment
		f.mu.Unlock()
		err = fmt.Errorf("react to comment %s: %w", commentID, err)
		f.report("react_comment", err)
		return c, err
	}
	c := entry.comment
	f.mu.Unlock()
	return c, nil
}

// quietPostLocked finds a visible post with nothing in flight on it or its comments.
func (f *Feed) quietPostLocked(id domain.ID) (*postEntry, error) {
	entry, err := f.idlePostLocked(id)
	if err != nil {
		return nil, err
	}
	if !entry.quiet() {
		return nil, ErrBusy
	}
	return entry, nil
}

// commentablePostLocked finds a visible post that already has a server id.
// A reaction in flight on the post does not block commenting.
func (f *Feed) commentablePostLocked(id domain.ID) (*postEntry, error) {
	if err := f.usableLocked(); err != nil {
		return nil, err
	}
	entry := f.index[id]
	if entry == nil || entry.state == PendingDelete {
		return nil, ErrNotFound
	}
	if entry.state == PendingCreate {
		return nil, ErrBusy
	}
	return entry, nil
}

// idleCommentLocked finds a visible comment with no action in flight.
func (f *Feed) idleCommentLocked(id domain.ID) (*postEntry, *commentEntry, *commentEntry, error) {
	if err := f.usableLocked(); err != nil {
		return nil, nil, nil, err
	}
	post, parent, entry := f.locateCommentLocked(id)
	if entry == nil || entry.state == PendingDelete || post.state == PendingDelete ||
		(parent != nil && parent.state == PendingDelete) {
		return nil, nil, nil, ErrNotFound
	}
	if entry.state != Idle || post.state == PendingCreate {
		return nil, nil, nil, ErrBusy
	}
	return post, parent, entry, nil
}

// locateCommentLocked returns the post holding the comment, the comment's
// parent (nil for top-level comments) and the comment itself.
func (f *Feed) locateCommentLocked(id domain.ID) (*postEntry, *commentEntry, *commentEntry) {
	for _, p := range f.posts {
		for _, c := range p.comments {
			if c.comment.ID == id {
				return p, nil, c
			}
			for _, r := range c.replies {
				if r.comment.ID == id {
					return p, c, r
				}
			}
		}
	}
	return nil, nil, nil
}

// buildTree turns a server comment list (flat, nested, or both) into top-level
// comments holding one level of replies. Deeper replies hang under their
// top-level ancestor.
func (f *Feed) buildTree(postID domain.ID, list []domain.Comment) []*commentEntry {
	var flat []domain.Comment
	var walk func(c domain.Comment, parent domain.ID)
	walk = func(c domain.Comment, parent domain.ID) {
		children := c.Replies
		c.Replies = nil
		if c.ParentCommentID.IsZero() {
			c.ParentCommentID = parent
		}
		if c.PostID.IsZero() {
			c.PostID = postID
		}
		if c.UserReaction == "" {
			c.UserReaction = domain.ReactionNone
		}
		flat = append(flat, c)
		for _, child := range children {
			walk(child, c.ID)
		}
	}
	for _, c := range list {
		walk(c, "")
	}

	parentOf := make(map[domain.ID]domain.ID, len(flat))
	unique := flat[:0]
	for _, c := range flat {
		if _, dup := parentOf[c.ID]; dup || c.ID.IsZero() {
			continue
		}
		parentOf[c.ID] = c.ParentCommentID
		unique = append(unique, c)
	}

	tops := make(map[domain.ID]*commentEntry)
	var out []*commentEntry
	for _, c := range unique {
		if c.IsReply() {
			continue
		}
		entry := &commentEntry{comment: c}
		tops[c.ID] = entry
		out = append(out, entry)
	}
	for _, c := range unique {
		if !c.IsReply() {
			continue
		}
		root := c.ParentCommentID
		for hops := 0; hops < len(unique); hops++ {
			next, ok := parentOf[root]
			if !ok || next.IsZero() {
				break
			}
			root = next
		}
		top := tops[root]
		if top == nil {
			f.logger.Debug("orphan_reply_dropped", "post_id", postID.String(), "comment_id", c.ID.String())
			continue
		}
		c.ParentCommentID = top.comment.ID
		top.replies = append(top.replies, &commentEntry{comment: c})
	}
	return out
}

func removeComment(list []*commentEntry, target *commentEntry) []*commentEntry {
	for i, c := range list {
		if c == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
