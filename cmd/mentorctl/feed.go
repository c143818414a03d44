package main

import (
	"context"
	"fmt"
	"strings"

	"mentorhub/pkg/domain"
	"mentorhub/pkg/feed"
)

func (c *client) newFeed() *feed.Feed {
	return feed.New(c.api, c.session,
		feed.WithNotifier(c.notify),
		feed.WithLogger(c.logger),
		feed.WithAuthor(func() domain.UserSummary {
			user, _ := c.session.CurrentUser()
			return user.Summary()
		}),
	)
}

func cmdFeed(ctx context.Context, c *client, args []string) error {
	fs := newFlags("feed")
	pages := fs.Int("pages", 1, "number of pages to load")
	withComments := fs.Bool("comments", false, "load comments for every post")
	if err := fs.Parse(args); err != nil || *pages < 1 {
		return usagef("feed [-pages N] [-comments]")
	}
	f := c.newFeed()
	defer f.Close()
	for i := 0; i < *pages && f.HasMore(); i++ {
		if _, err := f.LoadNextPage(ctx); err != nil {
			return err
		}
	}
	posts := f.Posts()
	if *withComments {
		ids := make([]domain.ID, 0, len(posts))
		for _, p := range posts {
			ids = append(ids, p.Post.ID)
		}
		if err := f.PrefetchComments(ctx, ids); err != nil {
			return err
		}
		posts = f.Posts()
	}
	if len(posts) == 0 {
		c.printf("no posts yet\n")
		return nil
	}
	for _, p := range posts {
		c.printPost(p)
	}
	if f.HasMore() {
		c.printf("(more posts: run with -pages %d)\n", *pages+1)
	}
	return nil
}

func cmdPost(ctx context.Context, c *client, args []string) error {
	if len(args) == 0 {
		return usagef("post TEXT")
	}
	f := c.newFeed()
	defer f.Close()
	post, err := f.CreatePost(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	c.printf("posted %s\n", post.ID)
	return nil
}

func cmdLike(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return usagef("like POST_ID")
	}
	f := c.newFeed()
	defer f.Close()
	id := domain.ID(args[0])
	if err := findPost(ctx, f, id); err != nil {
		return err
	}
	post, err := f.TogglePostReaction(ctx, id)
	if err != nil {
		return err
	}
	c.printf("%s post %s (%d likes)\n", likedVerb(post.UserReaction), post.ID, post.ReactionCount)
	return nil
}

func cmdLikeComment(ctx context.Context, c *client, args []string) error {
	if len(args) != 2 {
		return usagef("like-comment POST_ID COMMENT_ID")
	}
	f, err := c.feedWithComments(ctx, domain.ID(args[0]))
	if err != nil {
		return err
	}
	defer f.Close()
	comment, err := f.ToggleCommentReaction(ctx, domain.ID(args[1]))
	if err != nil {
		return err
	}
	c.printf("%s comment %s (%d likes)\n", likedVerb(comment.UserReaction), comment.ID, comment.ReactionCount)
	return nil
}

func cmdComment(ctx context.Context, c *client, args []string) error {
	if len(args) < 2 {
		return usagef("comment POST_ID TEXT")
	}
	f, err := c.feedWithComments(ctx, domain.ID(args[0]))
	if err != nil {
		return err
	}
	defer f.Close()
	comment, err := f.AddComment(ctx, domain.ID(args[0]), strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	c.printf("commented %s\n", comment.ID)
	return nil
}

func cmdReply(ctx context.Context, c *client, args []string) error {
	if len(args) < 3 {
		return usagef("reply POST_ID COMMENT_ID TEXT")
	}
	f, err := c.feedWithComments(ctx, domain.ID(args[0]))
	if err != nil {
		return err
	}
	defer f.Close()
	reply, err := f.AddReply(ctx, domain.ID(args[0]), domain.ID(args[1]), strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	c.printf("replied %s\n", reply.ID)
	return nil
}

func cmdDeletePost(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return usagef("delete-post POST_ID")
	}
	f := c.newFeed()
	defer f.Close()
	id := domain.ID(args[0])
	if err := findPost(ctx, f, id); err != nil {
		return err
	}
	if err := f.DeletePost(ctx, id); err != nil {
		return err
	}
	c.printf("deleted post %s\n", id)
	return nil
}

func cmdDeleteComment(ctx context.Context, c *client, args []string) error {
	if len(args) != 2 {
		return usagef("delete-comment POST_ID COMMENT_ID")
	}
	f, err := c.feedWithComments(ctx, domain.ID(args[0]))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.DeleteComment(ctx, domain.ID(args[1])); err != nil {
		return err
	}
	c.printf("deleted comment %s\n", args[1])
	return nil
}

// findPost pages through the feed until the post is loaded.
func findPost(ctx context.Context, f *feed.Feed, id domain.ID) error {
	for {
		if _, ok := f.Post(id); ok {
			return nil
		}
		if !f.HasMore() {
			return fmt.Errorf("post %s: %w", id, feed.ErrNotFound)
		}
		if _, err := f.LoadNextPage(ctx); err != nil {
			return err
		}
	}
}

func (c *client) feedWithComments(ctx context.Context, postID domain.ID) (*feed.Feed, error) {
	f := c.newFeed()
	if err := findPost(ctx, f, postID); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.LoadComments(ctx, postID); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (c *client) printPost(p feed.PostView) {
	post := p.Post
	c.printf("[%s] %s · %s\n", post.ID, post.Author.Name, post.CreatedAt.Local().Format("2006-01-02 15:04"))
	c.printf("  %s\n", post.Content)
	c.printf("  %d likes%s · %d comments\n", post.ReactionCount, likedMark(post.UserReaction), post.CommentCount)
	for _, cm := range p.Comments {
		c.printComment(cm, "    ")
		for _, reply := range cm.Replies {
			c.printComment(reply, "      ↳ ")
		}
	}
}

func (c *client) printComment(cm feed.CommentView, indent string) {
	c.printf("%s[%s] %s: %s (%d likes%s)\n", indent, cm.Comment.ID, cm.Comment.Author.Name,
		cm.Comment.Content, cm.Comment.ReactionCount, likedMark(cm.Comment.UserReaction))
}

func likedMark(r domain.Reaction) string {
	if r.Liked() {
		return ", liked"
	}
	return ""
}

func likedVerb(r domain.Reaction) string {
	if r.Liked() {
		return "liked"
	}
	return "unliked"
}
