// Package peerclient implements the outbound half of the cluster's
// HTTP+JSON wire protocol: POST {peer}/append, POST {peer}/vote, POST
// {peer}/client, and PUT/DELETE {peer}/servers/{id}. It is what satisfies
// raftnode.PeerTransport in production.
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/raftkit/yari/internal/raftnode"
)

// Client is a thin net/http wrapper; one instance is shared across every
// peer a node talks to.
type Client struct {
	http *http.Client
}

// New constructs a Client. Requests are bounded by both the caller's
// context deadline and httpClient's own timeout; pass nil for
// http.DefaultClient.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

// Do runs an arbitrary request through the shared http.Client, for callers
// (the CLI's inspect/ping commands) that need the raw response rather than
// a decoded RPC type.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

func (c *Client) SendAppendEntries(ctx context.Context, peer string, req raftnode.AppendEntriesRequest) (raftnode.AppendEntriesResponse, error) {
	var resp raftnode.AppendEntriesResponse
	err := c.postJSON(ctx, peer+"/append", req, &resp)
	return resp, err
}

func (c *Client) SendVoteRequest(ctx context.Context, peer string, req raftnode.VoteRequest) (raftnode.VoteResponse, error) {
	var resp raftnode.VoteResponse
	err := c.postJSON(ctx, peer+"/vote", req, &resp)
	return resp, err
}

// ClientResponse is the wire shape of a successful POST /client reply.
type ClientResponse struct {
	Result interface{} `json:"result,omitempty"`
}

// ErrRedirect carries the Location header of a 307 redirect to the actual
// leader, for the CLI to retry against.
type ErrRedirect struct {
	Location string
}

func (e *ErrRedirect) Error() string {
	return fmt.Sprintf("peerclient: redirected to %s", e.Location)
}

// LeaderBase strips the known route suffix ("/client" or
// "/servers/{id}") from a redirect's Location, recovering the bare peer
// URL the CLI's retry loops dial next.
func (e *ErrRedirect) LeaderBase(suffix string) string {
	return strings.TrimSuffix(e.Location, suffix)
}

// ErrUnavailable is returned for a 503 (leader unknown) response.
var ErrUnavailable = fmt.Errorf("peerclient: leader unavailable")

// SubmitClient sends a raw state-machine message to peer's /client endpoint.
// http.Client does not auto-follow redirects across hosts in a way useful
// here (the caller needs the new target, not a silently-followed response),
// so redirects are surfaced as ErrRedirect instead.
func (c *Client) SubmitClient(ctx context.Context, peer string, message json.RawMessage) (interface{}, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer+"/client", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	noRedirectClient := *c.http
	noRedirectClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirectClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out ClientResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
			return nil, err
		}
		return out.Result, nil
	case http.StatusTemporaryRedirect:
		return nil, &ErrRedirect{Location: resp.Header.Get("Location")}
	case http.StatusServiceUnavailable:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("peerclient: unexpected status %d", resp.StatusCode)
	}
}

// AddMember issues PUT peer/servers/{id}.
func (c *Client) AddMember(ctx context.Context, peer, id string) error {
	return c.membershipRequest(ctx, http.MethodPut, peer, id)
}

// RemoveMember issues DELETE peer/servers/{id}.
func (c *Client) RemoveMember(ctx context.Context, peer, id string) error {
	return c.membershipRequest(ctx, http.MethodDelete, peer, id)
}

func (c *Client) membershipRequest(ctx context.Context, method, peer, id string) error {
	target := peer + "/servers/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}

	noRedirectClient := *c.http
	noRedirectClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirectClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return nil
	case http.StatusTemporaryRedirect:
		return &ErrRedirect{Location: resp.Header.Get("Location")}
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		return fmt.Errorf("peerclient: unexpected status %d", resp.StatusCode)
	}
}

func (c *Client) postJSON(ctx context.Context, target string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peerclient: unexpected status %d from %s", resp.StatusCode, target)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
