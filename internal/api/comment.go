package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pliu/bizdir/internal/gateway"
	"github.com/pliu/bizdir/internal/models"
	"github.com/pliu/bizdir/internal/query"
)

type PostCommentArgs struct {
	Business string `json:"-"`
	Comment  string `json:"comment"`
}

func commentsTag(business string) []query.Tag {
	return []query.Tag{query.IDTag(TagComments, business)}
}

var PostComment = query.Mutation[PostCommentArgs, Ack]{
	Name: "postComment",
	Request: func(a PostCommentArgs) gateway.Request {
		return gateway.Request{Method: http.MethodPost, Path: "comment/business/" + url.PathEscape(a.Business), Body: a}
	},
	Invalidates: func(a PostCommentArgs) []query.Tag { return commentsTag(a.Business) },
}

var ListComments = query.Query[string, []models.Comment]{
	Name: "listBusinessComments",
	Request: func(business string) gateway.Request {
		return gateway.Request{Path: "comment/business/" + url.PathEscape(business)}
	},
	Provides: func(business string, _ []models.Comment) []query.Tag { return commentsTag(business) },
}

func (c *Client) PostComment(ctx context.Context, business, text string) error {
	_, err := query.Mutate(ctx, c.Cache, c.Exec, PostComment, PostCommentArgs{Business: business, Comment: text})
	return err
}

func (c *Client) ListComments(ctx context.Context, business string) ([]models.Comment, error) {
	return query.Fetch(ctx, c.Cache, c.Exec, ListComments, business)
}
