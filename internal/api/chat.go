package api

import (
	"context"
	"net/url"

	"github.com/pliu/bizdir/internal/gateway"
	"github.com/pliu/bizdir/internal/models"
	"github.com/pliu/bizdir/internal/query"
)

var ListThread = query.Query[models.ThreadKey, []models.ChatRecord]{
	Name: "listBusinesschats",
	Request: func(k models.ThreadKey) gateway.Request {
		return gateway.Request{Path: "chat/business/" + url.PathEscape(k.BusinessID) + "/" + url.PathEscape(k.CounterpartID)}
	},
	Provides: func(k models.ThreadKey, _ []models.ChatRecord) []query.Tag {
		return []query.Tag{query.IDTag(TagChats, k.CounterpartID+k.BusinessID)}
	},
}

var ChatHeads = query.Query[string, []models.ChatHead]{
	Name: "getChatHeadOfBusiness",
	Request: func(business string) gateway.Request {
		return gateway.Request{Path: "chat/business/" + url.PathEscape(business)}
	},
}

// ListThread fetches the history of a thread. History is always fetched
// fresh when a thread is opened.
func (c *Client) ListThread(ctx context.Context, k models.ThreadKey) ([]models.ChatRecord, error) {
	return query.Refetch(ctx, c.Cache, c.Exec, ListThread, k)
}

func (c *Client) ChatHeads(ctx context.Context, business string) ([]models.ChatHead, error) {
	return query.Fetch(ctx, c.Cache, c.Exec, ChatHeads, business)
}
