package models

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleBusiness Role = "business"
	RoleAdmin    Role = "admin"
	RoleUnknown  Role = ""
)

// ParseRole maps the API's role string onto the closed set of roles.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser
	case RoleBusiness:
		return RoleBusiness
	case RoleAdmin:
		return RoleAdmin
	}
	return RoleUnknown
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*r = ParseRole(s)
	return nil
}

type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UnmarshalJSON accepts coordinates sent either as numbers or as strings.
func (l *Location) UnmarshalJSON(b []byte) error {
	var raw struct {
		Latitude  Text `json:"latitude"`
		Longitude Text `json:"longitude"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var err error
	if l.Latitude, err = raw.Latitude.Float(); err != nil {
		return err
	}
	l.Longitude, err = raw.Longitude.Float()
	return err
}

// Text holds a scalar the API sends as either a JSON string or a number.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(b)
	return nil
}

func (t Text) Float() (float64, error) {
	if strings.TrimSpace(string(t)) == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
}

type Owner struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// OwnerField is the business "owner" member, which the API sends either as a
// bare id or as an embedded user document.
type OwnerField struct {
	Owner
}

func (o *OwnerField) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &o.ID)
	}
	var aux struct {
		ID       string `json:"_id"`
		AltID    string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	o.ID = aux.ID
	if o.ID == "" {
		o.ID = aux.AltID
	}
	o.Username = aux.Username
	o.Email = aux.Email
	return nil
}

func (o OwnerField) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Owner)
}

type Business struct {
	ID          string     `json:"_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Phone       Text       `json:"phone"`
	Email       string     `json:"email"`
	Owner       OwnerField `json:"owner"`
	IsVerified  bool       `json:"isVerified"`
	Address     string     `json:"address"`
	Image       string     `json:"image"`
	Location    Location   `json:"location"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// BusinessRef is the slice of a listing used to label a chat thread.
type BusinessRef struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Image   string `json:"image"`
}

func (b Business) Ref() BusinessRef {
	return BusinessRef{
		ID:      b.ID,
		OwnerID: b.Owner.ID,
		Name:    b.Name,
		Address: b.Address,
		Image:   b.Image,
	}
}

// BusinessInput is the multipart payload for registering or editing a listing.
type BusinessInput struct {
	Name        string
	Description string
	Phone       string
	Email       string
	Address     string
	Latitude    float64
	Longitude   float64

	ImageName string
	Image     io.Reader
}

type Comment struct {
	ID            string    `json:"_id"`
	Author        Owner     `json:"userId"`
	BusinessOwner string    `json:"businessOwner"`
	BusinessID    string    `json:"businessId"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type AnalyticsPoint struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type AnalyticsSeries struct {
	BusinessName string           `json:"businessName"`
	Data         []AnalyticsPoint `json:"data"`
}

// ChatRecord is one persisted message of a thread as returned by the history
// endpoint. The API spells the receiver member "recieverId".
type ChatRecord struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"recieverId"`
	BusinessID string    `json:"businessId,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type ChatHead struct {
	ID      string `json:"_id"`
	Sender  Owner  `json:"sender"`
	Message string `json:"message"`
}

// PrivateMessage is the relay payload of the "private message" event.
type PrivateMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	BusinessID string `json:"businessId"`
}

// ChatMessage is a client-local, unpersisted entry of an open thread.
type ChatMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Self   bool   `json:"self"`
}

// ThreadKey identifies a conversation.
type ThreadKey struct {
	BusinessID    string
	CounterpartID string
}

func (k ThreadKey) String() string {
	return k.BusinessID + "/" + k.CounterpartID
}
