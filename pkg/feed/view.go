package feed

import "mentorhub/pkg/domain"

// PostView is a read-only copy of a post as the UI should show it.
type PostView struct {
	Post           domain.Post
	State          State
	CommentsLoaded bool
	Comments       []CommentView
}

// CommentView is a read-only copy of a comment and its replies.
type CommentView struct {
	Comment domain.Comment
	State   State
	Replies []CommentView
}

// Posts returns the visible posts in feed order. Entities pending deletion
// are hidden.
func (f *Feed) Posts() []PostView {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PostView, 0, len(f.posts))
	for _, p := range f.posts {
		if p.state == PendingDelete {
			continue
		}
		out = append(out, p.view())
	}
	return out
}

// Post returns one visible post.
func (f *Feed) Post(id domain.ID) (PostView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.index[id]
	if p == nil || p.state == PendingDelete {
		return PostView{}, false
	}
	return p.view(), true
}

func (p *postEntry) view() PostView {
	return PostView{
		Post:           p.post,
		State:          p.state,
		CommentsLoaded: p.commentsLoaded,
		Comments:       commentViews(p.comments),
	}
}

func commentViews(list []*commentEntry) []CommentView {
	var out []CommentView
	for _, c := range list {
		if c.state == PendingDelete {
			continue
		}
		out = append(out, CommentView{
			Comment: c.comment,
			State:   c.state,
			Replies: commentViews(c.replies),
		})
	}
	return out
}
