package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is an opaque identifier. The REST API emits numeric ids for most
// resources; both numbers and strings decode into the same value.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers so round trips to the API keep their type.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

type UserType string

const (
	UserTypeRegular UserType = "regular"
	UserTypeMentor  UserType = "mentor"
	UserTypeMentee  UserType = "mentee"
	UserTypeAdmin   UserType = "admin"
)

// Valid reports whether t is one of the known user types.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeRegular, UserTypeMentor, UserTypeMentee, UserTypeAdmin:
		return true
	default:
		return false
	}
}

type User struct {
	ID           ID             `json:"id"`
	Name         string         `json:"name,omitempty"`
	FirstName    string         `json:"first_name,omitempty"`
	LastName     string         `json:"last_name,omitempty"`
	Email        string         `json:"email,omitempty"`
	UserType     UserType       `json:"user_type,omitempty"`
	RoleValues   map[string]any `json:"new_role_values"`
	ProfileImage string         `json:"profile_image,omitempty"`
}

// NeedsOnboarding reports whether the onboarding wizard has not been completed.
func (u User) NeedsOnboarding() bool {
	return u.RoleValues == nil
}

// IsZero reports whether no field was set, as when a response had no body.
func (u User) IsZero() bool {
	return u.ID.IsZero() && u.Name == "" && u.FirstName == "" && u.LastName == "" &&
		u.Email == "" && u.UserType == "" && u.RoleValues == nil && u.ProfileImage == ""
}

// DisplayName prefers the full name and falls back to the email.
func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	return u.Email
}

// Summary returns the author card embedded in posts and comments.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:           u.ID,
		Name:         u.DisplayName(),
		UserType:     u.UserType,
		ProfileImage: u.ProfileImage,
	}
}

type UserSummary struct {
	ID           ID       `json:"id"`
	Name         string   `json:"name"`
	UserType     UserType `json:"user_type,omitempty"`
	ProfileImage string   `json:"profile_image,omitempty"`
}

// Session is the authenticated state shared by every REST call.
type Session struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// Authenticated reports whether the session carries an access token.
func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// AuthPayload is the login/refresh response of the REST API.
type AuthPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user_profile"`
}

type Reaction string

const (
	ReactionNone Reaction = "none"
	ReactionLike Reaction = "like"
)

// Liked reports whether the viewer has liked the entity. An empty value means none.
func (r Reaction) Liked() bool { return r == ReactionLike }

type Post struct {
	ID            ID          `json:"id"`
	Author        UserSummary `json:"author"`
	Content       string      `json:"content"`
	CreatedAt     time.Time   `json:"created_at"`
	ReactionCount int         `json:"reaction_count"`
	UserReaction  Reaction    `json:"user_reaction"`
	CommentCount  int         `json:"comment_count"`
}

type PostPage struct {
	Items      []Post `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

type Comment struct {
	ID              ID          `json:"id"`
	PostID          ID          `json:"post_id"`
	ParentCommentID ID          `json:"parent_comment_id,omitempty"`
	Author          UserSummary `json:"author"`
	Content         string      `json:"content"`
	CreatedAt       time.Time   `json:"created_at"`
	ReactionCount   int         `json:"reaction_count"`
	UserReaction    Reaction    `json:"user_reaction"`
	Replies         []Comment   `json:"replies,omitempty"`
}

// IsReply reports whether the comment hangs under another comment.
func (c Comment) IsReply() bool { return !c.ParentCommentID.IsZero() }

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

type Booking struct {
	ID          ID            `json:"id"`
	MentorID    ID            `json:"mentor_id"`
	MenteeID    ID            `json:"mentee_id,omitempty"`
	PackageID   ID            `json:"package_id"`
	BookingDate time.Time     `json:"booking_date"`
	Status      BookingStatus `json:"status"`
}

type Event struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Location    string    `json:"location,omitempty"`
}

type AnnualTarget struct {
	ID            ID  `json:"id"`
	Year          int `json:"year"`
	MentorTarget  int `json:"mentor_target"`
	MenteeTarget  int `json:"mentee_target"`
	SessionTarget int `json:"session_target"`
}

type ChatRoom struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	CreatedBy    ID     `json:"created_by"`
	Participants []ID   `json:"participants,omitempty"`
}

type Message struct {
	ID        ID        `json:"id,omitempty"`
	RoomID    ID        `json:"room_id,omitempty"`
	SenderID  ID        `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}
