package main

import (
	"context"
	"net/http"
	"net/url"
)

// newGetRequest builds a GET request against nodeURL's root status endpoint,
// asking for the JSON status snapshot rather than the plain-text liveness
// line (inspect wants the former, ping is happy with either).
func newGetRequest(ctx context.Context, nodeURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// addrFromURL extracts the host:port http.Server.Addr should bind to from a
// node's full URL (e.g. "http://127.0.0.1:9001" -> "127.0.0.1:9001").
func addrFromURL(nodeURL string) string {
	u, err := url.Parse(nodeURL)
	if err != nil || u.Host == "" {
		return nodeURL
	}
	return u.Host
}
