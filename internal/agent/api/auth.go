package api

import (
	"context"
	"net/http"
)

// User is the backend account shape shared by drivers and parents.
type User struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role"`
	Address string `json:"address,omitempty"`
}

type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

// Login exchanges credentials for a token pair and stores it.
func (c *Client) Login(ctx context.Context, phone, password string) (User, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/common/auth/login",
		map[string]string{"phone": phone, "password": password}, &resp)
	if err != nil {
		return User{}, err
	}
	c.tokens.SetTokens(resp.Token, resp.RefreshToken)
	c.logger.Info("api.login", "authenticated as "+resp.User.ID)
	return resp.User, nil
}

// RequestOTP asks the backend to text a one-time code to the phone.
func (c *Client) RequestOTP(ctx context.Context, phone string) error {
	return c.do(ctx, http.MethodPost, "/common/otp-sms", map[string]string{"phone": phone}, nil)
}

// VerifyOTP checks the one-time code.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) error {
	return c.do(ctx, http.MethodPost, "/common/verify-otp",
		map[string]string{"phone": phone, "otp": code}, nil)
}

// ResetPassword sets a new password after OTP verification.
func (c *Client) ResetPassword(ctx context.Context, phone, password string) error {
	return c.do(ctx, http.MethodPost, "/common/reset-password",
		map[string]string{"phone": phone, "password": password}, nil)
}

// UserByID fetches an account.
func (c *Client) UserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/common/user/"+id, nil, &u)
	return u, err
}

// UpdateUser pushes profile changes.
func (c *Client) UpdateUser(ctx context.Context, u User) (User, error) {
	var out User
	err := c.do(ctx, http.MethodPut, "/common/update-user", u, &out)
	return out, err
}
