// Package remote implements the client for the authoritative reminder
// service.
//
// The remote API is versioned under /api/v2 and evolves additively:
// unknown response fields are ignored so newer servers keep working with
// older clients. Every call is bounded by a request timeout; an expired or
// unreachable call surfaces as a TransientNetworkError and is retried with
// backoff, while an explicit rejection surfaces as a RemoteRejectedError
// carrying the status code.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"

	"github.com/avlloyd/remindd/internal/model"
)

// apiBase is the versioned path prefix of the deployed API.
const apiBase = "/api/v2"

// Ack is the remote acknowledgment for an applied operation. For creates it
// carries the server-assigned entity ID.
type Ack struct {
	EntityID int64 `json:"entity_id"`
}

// Client is the remote service contract consumed by the sync service.
type Client interface {
	// ListTasks fetches the authoritative task list.
	ListTasks(ctx context.Context) ([]*model.Task, error)
	// ListUsers fetches the authoritative user list.
	ListUsers(ctx context.Context) ([]*model.User, error)
	// ListGroups fetches the authoritative group list.
	ListGroups(ctx context.Context) ([]*model.Group, error)
	// Apply sends one queued operation. The returned Ack carries the
	// server-assigned ID for creates.
	Apply(ctx context.Context, item *model.QueueItem) (Ack, error)
}

// Options configures the HTTP client.
type Options struct {
	// Endpoint is the service base URL, e.g. https://reminders.example.com.
	Endpoint string
	// Timeout bounds each request. Zero means 15 seconds.
	Timeout time.Duration
	// Attempts is the in-call retry budget for transient failures.
	// Zero means 3.
	Attempts int
}

// HTTPClient talks to the reminder service over HTTP.
type HTTPClient struct {
	rc       *resty.Client
	attempts int
}

// NewHTTPClient creates a client for the given endpoint.
func NewHTTPClient(opts Options) *HTTPClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}

	rc := resty.New().
		SetBaseURL(opts.Endpoint).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &HTTPClient{rc: rc, attempts: attempts}
}

// ListTasks implements Client.
func (c *HTTPClient) ListTasks(ctx context.Context) ([]*model.Task, error) {
	var tasks []*model.Task
	err := c.getJSON(ctx, apiBase+"/tasks", &tasks)
	return tasks, err
}

// ListUsers implements Client.
func (c *HTTPClient) ListUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	err := c.getJSON(ctx, apiBase+"/users", &users)
	return users, err
}

// ListGroups implements Client.
func (c *HTTPClient) ListGroups(ctx context.Context) ([]*model.Group, error) {
	var groups []*model.Group
	err := c.getJSON(ctx, apiBase+"/groups", &groups)
	return groups, err
}

// Apply implements Client. Each operation maps onto the service's REST
// surface; completes and uncompletes are POSTed to sub-resources so the
// server can record occurrence history.
func (c *HTTPClient) Apply(ctx context.Context, item *model.QueueItem) (Ack, error) {
	method, path, err := routeFor(item)
	if err != nil {
		return Ack{}, err
	}

	var ack Ack
	err = c.withRetry(func() error {
		req := c.rc.R().SetContext(ctx)
		if len(item.Payload) > 0 {
			req.SetHeader("Content-Type", "application/json").SetBody(item.Payload)
		}
		resp, err := req.Execute(method, path)
		if err != nil {
			return &model.TransientNetworkError{Err: err}
		}
		if err := classifyStatus(resp); err != nil {
			return err
		}
		if len(resp.Body()) > 0 {
			// The ack body may carry extra fields; only entity_id matters.
			if err := json.Unmarshal(resp.Body(), &ack); err != nil {
				return &model.RemoteRejectedError{StatusCode: resp.StatusCode(), Message: "malformed acknowledgment"}
			}
		}
		return nil
	})
	return ack, err
}

// routeFor maps a queue item onto method and path.
func routeFor(item *model.QueueItem) (method, path string, err error) {
	var collection string
	switch item.EntityType {
	case model.EntityTask:
		collection = "tasks"
	case model.EntityUser:
		collection = "users"
	case model.EntityGroup:
		collection = "groups"
	default:
		return "", "", &model.ValidationError{Field: "entity_type", Reason: fmt.Sprintf("unknown entity type %q", string(item.EntityType))}
	}

	base := fmt.Sprintf("%s/%s", apiBase, collection)
	entity := fmt.Sprintf("%s/%d", base, item.EntityID)

	switch item.Op {
	case model.OpCreate:
		return resty.MethodPost, base, nil
	case model.OpUpdate:
		return resty.MethodPut, entity, nil
	case model.OpComplete:
		return resty.MethodPost, entity + "/complete", nil
	case model.OpUncomplete:
		return resty.MethodPost, entity + "/uncomplete", nil
	case model.OpDelete:
		return resty.MethodDelete, entity, nil
	default:
		return "", "", &model.ValidationError{Field: "op", Reason: fmt.Sprintf("unknown operation %q", string(item.Op))}
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.withRetry(func() error {
		resp, err := c.rc.R().SetContext(ctx).Get(path)
		if err != nil {
			return &model.TransientNetworkError{Err: err}
		}
		if err := classifyStatus(resp); err != nil {
			return err
		}
		// Decode leniently: unknown fields from newer server versions
		// are ignored.
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return &model.RemoteRejectedError{StatusCode: resp.StatusCode(), Message: "malformed response body"}
		}
		return nil
	})
}

// withRetry retries transient failures with backoff inside a single
// logical call. Rejections and validation errors fail immediately; the
// queue-level retry budget handles anything that survives this.
func (c *HTTPClient) withRetry(fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(uint(c.attempts)),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(model.IsTransient),
	)
}

// classifyStatus converts a non-2xx response into the engine's error
// taxonomy: 5xx and 429 are retryable, other 4xx are rejections.
func classifyStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500 || code == 429:
		return &model.TransientNetworkError{
			Err: fmt.Errorf("server returned status %d", code),
		}
	default:
		return &model.RemoteRejectedError{StatusCode: code, Message: string(resp.Body())}
	}
}
