package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pliu/bizdir/internal/gateway"
	"github.com/pliu/bizdir/internal/models"
	"github.com/pliu/bizdir/internal/query"
)

type EditBusinessArgs struct {
	ID    string
	Input models.BusinessInput
}

func (a EditBusinessArgs) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.ID)), nil
}

type VerifyArgs struct {
	ID     string `json:"-"`
	Verify bool   `json:"verify"`
}

func businessForm(in models.BusinessInput) *gateway.Form {
	f := &gateway.Form{
		Fields: []gateway.Field{
			{Name: "name", Value: in.Name},
			{Name: "description", Value: in.Description},
			{Name: "phone", Value: in.Phone},
			{Name: "email", Value: in.Email},
			{Name: "address", Value: in.Address},
			{Name: "latitude", Value: strconv.FormatFloat(in.Latitude, 'f', -1, 64)},
			{Name: "longitude", Value: strconv.FormatFloat(in.Longitude, 'f', -1, 64)},
		},
	}
	if in.Image != nil {
		f.FileKey = "image"
		f.FileName = in.ImageName
		f.File = in.Image
	}
	return f
}

func businessTags(id string) []query.Tag {
	return []query.Tag{query.IDTag(TagBusiness, id), query.TypeTag(TagBusiness)}
}

func provideBusiness[A, R any](A, R) []query.Tag {
	return []query.Tag{query.TypeTag(TagBusiness)}
}

var RegisterBusiness = query.Mutation[models.BusinessInput, Ack]{
	Name: "registerBusiness",
	Request: func(in models.BusinessInput) gateway.Request {
		return gateway.Request{Method: http.MethodPost, Path: "business", Form: businessForm(in)}
	},
	Invalidates: func(models.BusinessInput) []query.Tag {
		return []query.Tag{query.TypeTag(TagBusiness)}
	},
}

var ListBusinesses = query.Query[string, []models.Business]{
	Name: "getBusiness",
	Request: func(owner string) gateway.Request {
		return gateway.Request{Path: "business", Query: url.Values{"owner": {owner}}}
	},
	Provides: provideBusiness[string, []models.Business],
}

var GetBusiness = query.Query[string, models.Business]{
	Name: "getBusinessById",
	Request: func(id string) gateway.Request {
		return gateway.Request{Path: "business/" + url.PathEscape(id)}
	},
	Provides: func(id string, _ models.Business) []query.Tag {
		return []query.Tag{query.IDTag(TagBusiness, id)}
	},
}

var EditBusiness = query.Mutation[EditBusinessArgs, Ack]{
	Name: "editBusiness",
	Request: func(a EditBusinessArgs) gateway.Request {
		return gateway.Request{Method: http.MethodPatch, Path: "business/" + url.PathEscape(a.ID), Form: businessForm(a.Input)}
	},
	Invalidates: func(a EditBusinessArgs) []query.Tag { return businessTags(a.ID) },
}

var DeleteBusiness = query.Mutation[string, Ack]{
	Name: "deleteBusiness",
	Request: func(id string) gateway.Request {
		return gateway.Request{Method: http.MethodDelete, Path: "business/" + url.PathEscape(id)}
	},
	Invalidates: businessTags,
}

var ListUnverified = query.Query[struct{}, []models.Business]{
	Name: "listUnverifiedBusiness",
	Request: func(struct{}) gateway.Request {
		return gateway.Request{Path: "business/list/unverified"}
	},
	Provides: provideBusiness[struct{}, []models.Business],
}

var VerifyBusiness = query.Mutation[VerifyArgs, Ack]{
	Name: "verifyBusiness",
	Request: func(a VerifyArgs) gateway.Request {
		return gateway.Request{Method: http.MethodPost, Path: "business/" + url.PathEscape(a.ID) + "/verify", Body: a}
	},
	Invalidates: func(VerifyArgs) []query.Tag {
		return []query.Tag{query.TypeTag(TagBusiness)}
	},
}

var ListVerified = query.Query[struct{}, []models.Business]{
	Name: "listVerifiedBusiness",
	Request: func(struct{}) gateway.Request {
		return gateway.Request{Path: "business/list/verified"}
	},
	Provides: provideBusiness[struct{}, []models.Business],
}

var BusinessDetail = query.Query[string, models.Business]{
	Name: "getBusinessDetail",
	Request: func(id string) gateway.Request {
		return gateway.Request{Path: "business/detail/" + url.PathEscape(id)}
	},
	Provides: provideBusiness[string, models.Business],
}

var Analytics = query.Query[struct{}, []models.AnalyticsSeries]{
	Name: "getBusinessAnalytics",
	Request: func(struct{}) gateway.Request {
		return gateway.Request{Path: "business/v1/detail/analytics"}
	},
	Provides: func(struct{}, []models.AnalyticsSeries) []query.Tag {
		return []query.Tag{query.TypeTag(TagAnalytics)}
	},
}

func (c *Client) RegisterBusiness(ctx context.Context, in models.BusinessInput) error {
	_, err := query.Mutate(ctx, c.Cache, c.Exec, RegisterBusiness, in)
	return err
}

func (c *Client) ListBusinesses(ctx context.Context, owner string) ([]models.Business, error) {
	return query.Fetch(ctx, c.Cache, c.Exec, ListBusinesses, owner)
}

func (c *Client) GetBusiness(ctx context.Context, id string) (models.Business, error) {
	return query.Fetch(ctx, c.Cache, c.Exec, GetBusiness, id)
}

func (c *Client) EditBusiness(ctx context.Context, id string, in models.BusinessInput) error {
	_, err := query.Mutate(ctx, c.Cache, c.Exec, EditBusiness, EditBusinessArgs{ID: id, Input: in})
	return err
}

func (c *Client) DeleteBusiness(ctx context.Context, id string) error {
	_, err := query.Mutate(ctx, c.Cache, c.Exec, DeleteBusiness, id)
	return err
}

func (c *Client) ListUnverified(ctx context.Context) ([]models.Business, error) {
	return query.Fetch(ctx, c.Cache, c.Exec, ListUnverified, struct{}{})
}

func (c *Client) VerifyBusiness(ctx context.Context, id string, verify bool) error {
	_, err := query.Mutate(ctx, c.Cache, c.Exec, VerifyBusiness, VerifyArgs{ID: id, Verify: verify})
	return err
}

func (c *Client) ListVerified(ctx context.Context) ([]models.Business, error) {
	return query.Fetch(ctx, c.Cache, c.Exec, ListVerified, struct{}{})
}

func (c *Client) BusinessDetail(ctx context.Context, id string) (models.Business, error) {
	return query.Fetch(ctx, c.Cache, c.Exec, BusinessDetail, id)
}

func (c *Client) Analytics(ctx context.Context) ([]models.AnalyticsSeries, error) {
	return query.Fetch(ctx, c.Cache, c.Exec, Analytics, struct{}{})
}
