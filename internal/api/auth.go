package api

import (
	"context"
	"net/http"

	"github.com/pliu/bizdir/internal/gateway"
	"github.com/pliu/bizdir/internal/models"
	"github.com/pliu/bizdir/internal/query"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

var SignIn = query.Mutation[Credentials, TokenResponse]{
	Name: "signIn",
	Request: func(c Credentials) gateway.Request {
		return gateway.Request{Method: http.MethodPost, Path: "auth/login", Body: c}
	},
}

var SignUp = query.Mutation[SignUpRequest, Ack]{
	Name: "signUp",
	Request: func(r SignUpRequest) gateway.Request {
		return gateway.Request{Method: http.MethodPost, Path: "auth/signup", Body: r}
	},
}

var Profile = query.Query[struct{}, models.Identity]{
	Name: "getProfile",
	Request: func(struct{}) gateway.Request {
		return gateway.Request{Path: "user/profile"}
	},
}

func (c *Client) SignIn(ctx context.Context, email, password string) (string, error) {
	resp, err := query.Mutate(ctx, c.Cache, c.Exec, SignIn, Credentials{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) SignUp(ctx context.Context, req SignUpRequest) error {
	_, err := query.Mutate(ctx, c.Cache, c.Exec, SignUp, req)
	return err
}

// Profile always asks the server; the identity is loaded once per session.
func (c *Client) Profile(ctx context.Context) (models.Identity, error) {
	return query.Refetch(ctx, c.Cache, c.Exec, Profile, struct{}{})
}
