package api

import (
	"encoding/json"
	"fmt"

	"guichet/internal/domain"
)

// UserResponse is the user resource as returned by the API.
type UserResponse struct {
	ID          int64               `json:"id"`
	Email       string              `json:"email"`
	FirstName   string              `json:"firstName"`
	LastName    string              `json:"lastName"`
	Username    string              `json:"username"`
	Avatar      string              `json:"avatar,omitempty"`
	Description string              `json:"description,omitempty"`
	Communities []CommunityResponse `json:"communities,omitempty"`
}

// CommunityResponse is a community reference inside a user resource.
type CommunityResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// parseUser decodes and validates a user body.
func parseUser(body []byte) (*UserResponse, error) {
	var raw struct {
		UserResponse
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.ID == nil {
		return nil, fmt.Errorf("%w: missing user id", ErrMalformedResponse)
	}
	user := raw.UserResponse
	user.ID = *raw.ID
	return &user, nil
}

// MapUser converts an API user to the application model. A missing
// communities list becomes empty.
func MapUser(u *UserResponse) *domain.AppUser {
	if u == nil {
		return nil
	}
	communities := make([]domain.Community, 0, len(u.Communities))
	for _, c := range u.Communities {
		communities = append(communities, domain.Community{ID: c.ID, Name: c.Name})
	}
	return &domain.AppUser{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Username:    u.Username,
		AvatarURL:   u.Avatar,
		Description: u.Description,
		Communities: communities,
	}
}
