package user

import (
	"encoding/json"
	"strings"
	"time"
)

type Type string

const (
	TypeUser  Type = "user"
	TypeAdmin Type = "admin"
)

// Types lists the selectable user types in display order.
var Types = []Type{TypeUser, TypeAdmin}

// Timestamp is a time sent by the users backend. Empty, null or unreadable values
// decode to the zero time instead of failing the whole payload. Numbers are taken as
// Unix milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	switch v := raw.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v)); err == nil {
			t.Time = parsed
		}
	case float64:
		t.Time = time.UnixMilli(int64(v)).UTC()
	}
	return nil
}

// User is a user record as returned by the users backend. The password is never
// part of a read.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Type      Type      `json:"type"`
	CreatedAt Timestamp `json:"createdAt"`
	UpdatedAt Timestamp `json:"updatedAt"`
}

// Input is the body sent to the register and edit endpoints.
type Input struct {
	Name     string `json:"name" form:"name" validate:"min=3" message:"Enter a valid name!"`
	Email    string `json:"email" form:"email" validate:"email" message:"Enter a valid e-mail!"`
	Type     Type   `json:"type" form:"type" validate:"oneof=user admin" message:"Select a valid type!"`
	Password string `json:"password" form:"password" validate:"min=4" message:"The password must have at least 4 characters!"`
}

// Normalize trims the text fields and applies the default type.
func (in *Input) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Type == "" {
		in.Type = TypeUser
	}
}

// InputFrom pre-fills an edit form from an existing user. The password starts empty.
func InputFrom(u User) Input {
	return Input{
		Name:  u.Name,
		Email: u.Email,
		Type:  u.Type,
	}
}

type LoginInput struct {
	Email    string `json:"email" form:"email" validate:"required,email" message:"Enter a valid e-mail!"`
	Password string `json:"password" form:"password" validate:"min=4" message:"Enter a valid password!"`
}

func (in *LoginInput) Normalize() {
	in.Email = strings.TrimSpace(in.Email)
}
