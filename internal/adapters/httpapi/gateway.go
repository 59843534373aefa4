package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
)

type TokenSource interface {
	AccessToken() string
	RefreshToken() string
}

// SessionRefresher is the shared single-flight refresh. onSuccess runs only
// for the caller that performed the refresh, before queued callers resume.
type SessionRefresher interface {
	Refresh(ctx context.Context, onSuccess func(ctx context.Context, token string)) (string, error)
}

type ChannelReconnector interface {
	ReconnectWithToken(ctx context.Context, token string) error
}

// Gateway sends authenticated requests. A 401 triggers one shared token
// refresh and a single replay of the request with the new token.
type Gateway struct {
	client  *Client
	tokens  TokenSource
	session SessionRefresher
	logger  zerolog.Logger

	mu      sync.RWMutex
	channel ChannelReconnector
}

func NewGateway(client *Client, tokens TokenSource, session SessionRefresher) *Gateway {
	return &Gateway{
		client:  client,
		tokens:  tokens,
		session: session,
		logger:  client.logger,
	}
}

// SetChannel registers the realtime channel that is reconnected after a
// refresh triggered by this gateway.
func (g *Gateway) SetChannel(channel ChannelReconnector) {
	g.mu.Lock()
	g.channel = channel
	g.mu.Unlock()
}

func (g *Gateway) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
		req.Method = method
	}

	resp, err := g.client.Send(ctx, req, g.tokens.AccessToken())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || req.NoRefresh {
		return g.result(req, resp)
	}

	if g.tokens.RefreshToken() == "" {
		return nil, newStatusError(method, req.Path, resp)
	}

	token, err := g.session.Refresh(ctx, g.reconnectChannel)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, err)
	}

	g.logger.Debug().Str("method", method).Str("path", req.Path).Msg("replaying request after token refresh")

	// A second 401 is final.
	resp, err = g.client.Send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	return g.result(req, resp)
}

func (g *Gateway) result(req Request, resp *Response) (*Response, error) {
	if !successful(resp.StatusCode) {
		return nil, newStatusError(req.Method, req.Path, resp)
	}
	return resp, nil
}

// reconnectChannel moves the realtime channel to the new token. The refresh
// already succeeded, so a failed reconnect is only logged.
func (g *Gateway) reconnectChannel(ctx context.Context, token string) {
	g.mu.RLock()
	channel := g.channel
	g.mu.RUnlock()
	if channel == nil {
		return
	}

	if err := channel.ReconnectWithToken(ctx, token); err != nil {
		g.logger.Warn().Err(err).Msg("reconnect realtime channel after refresh")
	}
}

func (g *Gateway) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return g.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

func (g *Gateway) Post(ctx context.Context, path string, payload any) (*Response, error) {
	return g.sendJSON(ctx, http.MethodPost, path, payload)
}

func (g *Gateway) Put(ctx context.Context, path string, payload any) (*Response, error) {
	return g.sendJSON(ctx, http.MethodPut, path, payload)
}

func (g *Gateway) Delete(ctx context.Context, path string) (*Response, error) {
	return g.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

func (g *Gateway) sendJSON(ctx context.Context, method string, path string, payload any) (*Response, error) {
	req, err := jsonRequest(method, path, payload)
	if err != nil {
		return nil, err
	}
	return g.Do(ctx, req)
}

func jsonRequest(method string, path string, payload any) (Request, error) {
	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s %s body: %w", method, path, err)
	}
	return Request{Method: method, Path: path, Body: body}, nil
}

// DecodeJSON runs req through the gateway and decodes a successful body into T.
func DecodeJSON[T any](ctx context.Context, g *Gateway, req Request) (T, error) {
	var out T
	resp, err := g.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	return out, nil
}
