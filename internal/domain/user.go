// Package domain holds the user model shared by the auth, session and api
// packages.
package domain

import "strings"

// Community is a collaborative group a user belongs to.
type Community struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AppUser is the application's view of the signed in user.
type AppUser struct {
	ID          int64       `json:"id"`
	Email       string      `json:"email,omitempty"`
	FirstName   string      `json:"firstName,omitempty"`
	LastName    string      `json:"lastName,omitempty"`
	Username    string      `json:"username,omitempty"`
	IsAnonymous bool        `json:"isAnonymous,omitempty"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
	Description string      `json:"description,omitempty"`
	Communities []Community `json:"communities"`
}

// AnonymousUser returns the pseudo-user of a session without account.
func AnonymousUser() *AppUser {
	return &AppUser{
		ID:          0,
		Username:    "anonymous",
		IsAnonymous: true,
		Communities: []Community{},
	}
}

// DisplayName returns "First Last", falling back to the username.
func (u *AppUser) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.Username
}

// Community returns the community with id, if the user belongs to it.
func (u *AppUser) Community(id int64) (Community, bool) {
	if u == nil {
		return Community{}, false
	}
	for _, c := range u.Communities {
		if c.ID == id {
			return c, true
		}
	}
	return Community{}, false
}
