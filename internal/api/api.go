// Package api declares the remote endpoints of the directory service on top
// of the query layer.
package api

import (
	"encoding/json"

	"github.com/pliu/bizdir/internal/query"
)

// Ack is the result of mutations whose response body is ignored.
type Ack = json.RawMessage

const (
	TagBusiness  = "business"
	TagAnalytics = "analytics"
	TagComments  = "comments"
	TagChats     = "chats"
)

type Client struct {
	Cache *query.Cache
	Exec  query.Executor
}

func New(exec query.Executor, cache *query.Cache) *Client {
	if cache == nil {
		cache = query.NewCache()
	}
	return &Client{Cache: cache, Exec: exec}
}
