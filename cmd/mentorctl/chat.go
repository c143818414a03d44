package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mentorhub/pkg/chat"
	"mentorhub/pkg/domain"
)

var errNotDelivered = errors.New("message not delivered: chat connection is closed")

func cmdChat(ctx context.Context, c *client, args []string) error {
	const usage = "chat rooms | chat create NAME [USER_ID...] | chat history ROOM | chat send [-wait D] ROOM TEXT | chat listen ROOM"
	if len(args) == 0 {
		return usagef(usage)
	}
	token, err := c.session.AccessToken()
	if err != nil {
		return err
	}
	switch args[0] {
	case "rooms":
		rooms, err := c.api.ListChatRooms(ctx, token)
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			c.printf("no rooms\n")
		}
		for _, r := range rooms {
			c.printf("[%s] %s (%d participants)\n", r.ID, r.Name, len(r.Participants))
		}
		return nil
	case "create":
		if len(args) < 2 {
			return usagef(usage)
		}
		participants := make([]domain.ID, 0, len(args)-2)
		for _, id := range args[2:] {
			participants = append(participants, domain.ID(id))
		}
		room, err := c.api.CreateChatRoom(ctx, token, args[1], participants)
		if err != nil {
			return err
		}
		c.printf("created room %s\n", room.ID)
		return nil
	case "history":
		if len(args) != 2 {
			return usagef(usage)
		}
		room := domain.ID(args[1])
		timeline := chat.NewTimeline()
		if err := c.loadHistory(ctx, token, room, timeline); err != nil {
			return err
		}
		c.printTimeline(timeline, room)
		return nil
	case "send":
		fs := newFlags("chat send")
		wait := fs.Duration("wait", 5*time.Second, "how long to wait for the server echo")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() < 2 {
			return usagef(usage)
		}
		return c.chatSend(ctx, token, domain.ID(fs.Arg(0)), strings.Join(fs.Args()[1:], " "), *wait)
	case "listen":
		if len(args) != 2 {
			return usagef(usage)
		}
		return c.chatListen(ctx, token, domain.ID(args[1]))
	default:
		return usagef(usage)
	}
}

func (c *client) loadHistory(ctx context.Context, token string, room domain.ID, timeline *chat.Timeline) error {
	history, err := c.api.ListRoomMessages(ctx, token, room)
	if err != nil {
		return err
	}
	timeline.Merge(room, history)
	return nil
}

func (c *client) openChat(ctx context.Context, token string, room domain.ID) (*chat.Session, error) {
	user, err := c.signedIn()
	if err != nil {
		return nil, err
	}
	s, err := chat.NewSession(c.wsURL, chat.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	if err := c.loadHistory(ctx, token, room, s.Timeline()); err != nil {
		return nil, err
	}
	s.OnStatus(func(open bool) {
		if open {
			fmt.Fprintln(c.errOut, "connected")
		} else {
			fmt.Fprintln(c.errOut, "disconnected")
		}
	})
	if err := s.Connect(ctx, token, user.ID); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *client) chatSend(ctx context.Context, token string, room domain.ID, text string, wait time.Duration) error {
	s, err := c.openChat(ctx, token, room)
	if err != nil {
		return err
	}
	defer s.Close()

	confirmed := make(chan chat.Entry, 1)
	s.OnMessage(func(in chat.Incoming) {
		if in.RoomID == room && in.Entry.LocalID != "" {
			select {
			case confirmed <- in.Entry:
			default:
			}
		}
	})
	if !s.Send(text, room) {
		return errNotDelivered
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case e := <-confirmed:
		c.printf("sent %s at %s\n", e.Message.ID, formatTime(e.Message.Timestamp))
	case <-timer.C:
		c.printf("sent; no confirmation within %s (message is pending)\n", wait)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *client) chatListen(ctx context.Context, token string, room domain.ID) error {
	s, err := c.openChat(ctx, token, room)
	if err != nil {
		return err
	}
	defer s.Close()

	c.printTimeline(s.Timeline(), room)
	closed := make(chan struct{})
	s.OnStatus(func(open bool) {
		if !open {
			close(closed)
		}
	})
	s.OnMessage(func(in chat.Incoming) {
		if in.RoomID == room {
			c.printEntry(in.Entry)
		}
	})
	select {
	case <-ctx.Done():
		return nil
	case <-closed:
		// Reconnecting is left to the user.
		return errors.New("chat connection closed by the server")
	}
}

func (c *client) printTimeline(t *chat.Timeline, room domain.ID) {
	entries := t.Messages(room)
	if len(entries) == 0 {
		c.printf("no messages in room %s\n", room)
		return
	}
	for _, e := range entries {
		c.printEntry(e)
	}
}

func (c *client) printEntry(e chat.Entry) {
	mark := ""
	if e.Status != chat.StatusSent {
		mark = " (" + e.Status.String() + ")"
	}
	c.printf("%s  %s: %s%s\n", formatTime(e.Message.Timestamp), e.Message.SenderID, e.Message.Content, mark)
}
