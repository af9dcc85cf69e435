package gateway

import (
	"context"
	"net/url"
)

// User is a user directory entry.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Personal struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"personal"`
}

// GetUser resolves a user id.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var out User
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
