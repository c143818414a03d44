// Command mentorctl is a terminal client for the mentorship platform. It keeps
// the session between runs in MENTORHUB_STATE_DIR.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"mentorhub/pkg/apiclient"
)

type command struct {
	summary string
	run     func(ctx context.Context, c *client, args []string) error
}

var commands = map[string]command{
	"login":           {"sign in: login -u EMAIL [-p PASSWORD]", cmdLogin},
	"logout":          {"sign out and revoke the session", cmdLogout},
	"whoami":          {"show the signed-in user", cmdWhoami},
	"refresh":         {"rotate the token pair", cmdRefresh},
	"register":        {"create an account", cmdRegister},
	"forgot-password": {"request a password reset email: forgot-password EMAIL", cmdForgotPassword},
	"reset-password":  {"set a new password: reset-password -token T -p PASSWORD -confirm PASSWORD", cmdResetPassword},
	"onboard":         {"finish onboarding: onboard [-type ROLE] key=value...", cmdOnboard},
	"feed":            {"list posts: feed [-pages N] [-comments]", cmdFeed},
	"post":            {"publish a post: post TEXT", cmdPost},
	"like":            {"toggle like on a post: like POST_ID", cmdLike},
	"like-comment":    {"toggle like on a comment: like-comment POST_ID COMMENT_ID", cmdLikeComment},
	"comment":         {"comment on a post: comment POST_ID TEXT", cmdComment},
	"reply":           {"reply to a comment: reply POST_ID COMMENT_ID TEXT", cmdReply},
	"delete-post":     {"delete a post: delete-post POST_ID", cmdDeletePost},
	"delete-comment":  {"delete a comment and its replies: delete-comment POST_ID COMMENT_ID", cmdDeleteComment},
	"bookings":        {"bookings [-page N] [-size N] | bookings confirm|cancel|delete ID", cmdBookings},
	"admin":           {"admin users|events|targets [-page N] [-size N]", cmdAdmin},
	"chat":            {"chat rooms | chat create NAME [USER_ID...] | chat history ROOM | chat send ROOM TEXT | chat listen ROOM", cmdChat},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, getenv env, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stderr)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
	c, err := newClient(ctx, getenv, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "mentorctl: %v\n", err)
		return 1
	}
	err = cmd.run(ctx, c, args[1:])
	// Let a background remote logout finish before the process exits.
	c.session.Wait()
	if err != nil {
		if isUsage(err) {
			fmt.Fprintf(stderr, "usage: mentorctl %s\n", err)
			return 2
		}
		fmt.Fprintf(stderr, "mentorctl: %s\n", apiclient.UserMessage(err))
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: mentorctl <command> [flags]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}
}
