package legacy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

const listPageSize = 100

// Result is the outcome of a mutating call. Mutations never return a Go
// error so callers can log and keep going.
type Result struct {
	Success    bool
	StatusCode int
	NotFound   bool
	Err        error
}

func resultOf(status int, err error) Result {
	if err == nil {
		return Result{Success: true, StatusCode: status}
	}
	return Result{StatusCode: status, NotFound: errors.Is(err, ErrNotFound), Err: err}
}

type page[L any] struct {
	Data    []L  `json:"data"`
	HasNext bool `json:"hasNext"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

// Resource is the CRUD surface of one legacy entity collection, e.g.
// /api/devices.
type Resource[L any] struct {
	client *Client
	path   string
}

func NewResource[L any](client *Client, path string) *Resource[L] {
	return &Resource[L]{client: client, path: path}
}

func (r *Resource[L]) itemPath(id string) string {
	return r.path + "/" + url.PathEscape(id)
}

func (r *Resource[L]) Create(ctx context.Context, entity L) Result {
	return resultOf(r.client.do(ctx, http.MethodPost, r.path, entity, nil))
}

func (r *Resource[L]) Update(ctx context.Context, id string, entity L) Result {
	return resultOf(r.client.do(ctx, http.MethodPut, r.itemPath(id), entity, nil))
}

func (r *Resource[L]) Delete(ctx context.Context, id string) Result {
	return resultOf(r.client.do(ctx, http.MethodDelete, r.itemPath(id), nil, nil))
}

func (r *Resource[L]) Get(ctx context.Context, id string) (L, error) {
	var entity L
	if _, err := r.client.do(ctx, http.MethodGet, r.itemPath(id), nil, &entity); err != nil {
		var zero L
		return zero, err
	}
	return entity, nil
}

// List walks every page of the collection.
func (r *Resource[L]) List(ctx context.Context) ([]L, error) {
	var all []L
	for p := 0; ; p++ {
		var resp page[L]
		path := fmt.Sprintf("%s?page=%d&pageSize=%d", r.path, p, listPageSize)
		if _, err := r.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", r.path, err)
		}
		all = append(all, resp.Data...)
		if !resp.HasNext || len(resp.Data) == 0 {
			return all, nil
		}
	}
}

func (r *Resource[L]) Count(ctx context.Context) (int64, error) {
	var resp countResponse
	if _, err := r.client.do(ctx, http.MethodGet, r.path+"/count", nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.path, err)
	}
	return resp.Count, nil
}
