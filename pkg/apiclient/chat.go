package apiclient

import (
	"context"
	"net/http"
	"sort"

	"mentorhub/pkg/domain"
)

func (c *Client) ListChatRooms(ctx context.Context, token string) ([]domain.ChatRoom, error) {
	return listAll[domain.ChatRoom](ctx, c, "/chat/rooms", token)
}

// CreateChatRoom opens a room with the given participants.
func (c *Client) CreateChatRoom(ctx context.Context, token, name string, participants []domain.ID) (domain.ChatRoom, error) {
	if err := ValidateContent("name", name); err != nil {
		return domain.ChatRoom{}, err
	}
	payload := map[string]any{"name": name, "participants": participants}
	var room domain.ChatRoom
	if err := c.doAuthed(ctx, http.MethodPost, "/chat/rooms", token, payload, &room); err != nil {
		return domain.ChatRoom{}, err
	}
	return room, nil
}

// ListRoomMessages returns the room history ordered by timestamp ascending.
func (c *Client) ListRoomMessages(ctx context.Context, token string, roomID domain.ID) ([]domain.Message, error) {
	msgs, err := listAll[domain.Message](ctx, c, "/chat/rooms/"+escapeID(roomID)+"/messages", token)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].RoomID.IsZero() {
			msgs[i].RoomID = roomID
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}
