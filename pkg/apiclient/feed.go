package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"mentorhub/pkg/domain"
)

// ListPosts returns one feed page. An empty cursor requests the first page.
func (c *Client) ListPosts(ctx context.Context, token, cursor string) (domain.PostPage, error) {
	path := "/feed/posts"
	if cursor != "" {
		path += "?" + url.Values{"cursor": {cursor}}.Encode()
	}
	var page domain.PostPage
	if err := c.doAuthed(ctx, http.MethodGet, path, token, nil, &page); err != nil {
		return domain.PostPage{}, err
	}
	return page, nil
}

// CreatePost publishes a post and returns the canonical record.
func (c *Client) CreatePost(ctx context.Context, token, content string) (domain.Post, error) {
	if err := ValidateContent("content", content); err != nil {
		return domain.Post{}, err
	}
	var post domain.Post
	payload := map[string]string{"content": content}
	if err := c.doAuthed(ctx, http.MethodPost, "/feed/posts", token, payload, &post); err != nil {
		return domain.Post{}, err
	}
	return post, nil
}

func (c *Client) DeletePost(ctx context.Context, token string, postID domain.ID) error {
	return c.doAuthed(ctx, http.MethodDelete, "/feed/posts/"+escapeID(postID), token, nil, nil)
}

// ReactPost adds the viewer's reaction to a post.
func (c *Client) ReactPost(ctx context.Context, token string, postID domain.ID, reaction domain.Reaction) error {
	return c.doAuthed(ctx, http.MethodPut, reactionPath("/feed/posts/", postID, reaction), token, nil, nil)
}

// UnreactPost removes the viewer's reaction from a post.
func (c *Client) UnreactPost(ctx context.Context, token string, postID domain.ID, reaction domain.Reaction) error {
	return c.doAuthed(ctx, http.MethodDelete, reactionPath("/feed/posts/", postID, reaction), token, nil, nil)
}

// ListComments returns the comments of a post, replies included.
func (c *Client) ListComments(ctx context.Context, token string, postID domain.ID) ([]domain.Comment, error) {
	var resp listResponse[domain.Comment]
	if err := c.doAuthed(ctx, http.MethodGet, "/feed/posts/"+escapeID(postID)+"/comments", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// CreateComment adds a comment, or a reply when parentID is set.
func (c *Client) CreateComment(ctx context.Context, token string, postID, parentID domain.ID, content string) (domain.Comment, error) {
	if err := ValidateContent("content", content); err != nil {
		return domain.Comment{}, err
	}
	payload := map[string]any{"content": content}
	if !parentID.IsZero() {
		payload["parent_comment_id"] = parentID
	}
	var comment domain.Comment
	if err := c.doAuthed(ctx, http.MethodPost, "/feed/posts/"+escapeID(postID)+"/comments", token, payload, &comment); err != nil {
		return domain.Comment{}, err
	}
	return comment, nil
}

func (c *Client) DeleteComment(ctx context.Context, token string, commentID domain.ID) error {
	return c.doAuthed(ctx, http.MethodDelete, "/feed/comments/"+escapeID(commentID), token, nil, nil)
}

func (c *Client) ReactComment(ctx context.Context, token string, commentID domain.ID, reaction domain.Reaction) error {
	return c.doAuthed(ctx, http.MethodPut, reactionPath("/feed/comments/", commentID, reaction), token, nil, nil)
}

func (c *Client) UnreactComment(ctx context.Context, token string, commentID domain.ID, reaction domain.Reaction) error {
	return c.doAuthed(ctx, http.MethodDelete, reactionPath("/feed/comments/", commentID, reaction), token, nil, nil)
}

func reactionPath(prefix string, id domain.ID, reaction domain.Reaction) string {
	return prefix + escapeID(id) + "/reactions?" + url.Values{"type": {string(reaction)}}.Encode()
}
