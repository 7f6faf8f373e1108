// Package longpolltransport implements eventstream.Transport as an HTTP
// long-poll adapter for deployments without a NATS client available to
// the event-store operator: it polls a
// GET /streams/{name}/events?after={position} style endpoint instead of
// holding a durable broker subscription.
package longpolltransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/covgateway/gateway/errors"
	"github.com/covgateway/gateway/eventstream"
)

// wireEvent is the JSON shape of one entry in a fetch response.
type wireEvent struct {
	StreamPosition uint64          `json:"streamPosition"`
	Payload        json.RawMessage `json:"payload"`
}

type fetchResponse struct {
	Events []wireEvent `json:"events"`
}

// Transport polls baseURL for a single stream. There is no broker-side
// ack/redelivery: Ack and Nak with ActionSkip/ActionPark both simply
// let the loop move on (the cursor advance in PersistCursor is this
// transport's only durable record of progress); ActionRetry leaves the
// cursor where it was so the next fetch returns the same event.
type Transport struct {
	httpClient *http.Client
	baseURL    string
	streamName string
}

// New constructs a long-poll transport against baseURL (e.g.
// "https://events.example.org"). httpClient may be nil, in which case
// http.DefaultClient is used.
func New(baseURL, streamName string, httpClient *http.Client) *Transport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Transport{httpClient: httpClient, baseURL: baseURL, streamName: streamName}
}

var _ eventstream.Transport = (*Transport)(nil)

func (t *Transport) ResolveStartPosition(ctx context.Context, startFrom eventstream.StartFrom, startPosition uint64) (uint64, error) {
	switch startFrom {
	case eventstream.StartPosition:
		return startPosition, nil
	case eventstream.StartBegin:
		return 0, nil
	case eventstream.StartEnd:
		resp, err := t.get(ctx, fmt.Sprintf("/streams/%s/tail", url.PathEscape(t.streamName)))
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		var tail struct {
			StreamPosition uint64 `json:"streamPosition"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&tail); err != nil {
			return 0, errors.WrapTransient(err, "longpolltransport", "ResolveStartPosition", "decode tail response")
		}
		return tail.StreamPosition, nil
	default:
		return 0, fmt.Errorf("unknown start_from %d", startFrom)
	}
}

// Reconnect performs a lightweight reachability check against the
// stream's root endpoint; the transport otherwise holds no persistent
// connection state between polls.
func (t *Transport) Reconnect(ctx context.Context) error {
	resp, err := t.get(ctx, fmt.Sprintf("/streams/%s", url.PathEscape(t.streamName)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (t *Transport) FetchBatch(ctx context.Context, after uint64, limit int) ([]eventstream.RawEvent, error) {
	path := fmt.Sprintf("/streams/%s/events?after=%d&limit=%d",
		url.PathEscape(t.streamName), after, limit)
	resp, err := t.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.WrapTransient(err, "longpolltransport", "FetchBatch", "decode fetch response")
	}

	events := make([]eventstream.RawEvent, 0, len(parsed.Events))
	for _, e := range parsed.Events {
		events = append(events, eventstream.RawEvent{StreamPosition: e.StreamPosition, Payload: e.Payload})
	}
	return events, nil
}

// Ack is a no-op: there is no broker-side delivery state to confirm.
// Progress is durable once PersistCursor succeeds.
func (t *Transport) Ack(context.Context, eventstream.RawEvent) error {
	return nil
}

// Nak is a no-op for this transport beyond what the caller already
// does by choosing whether to advance the cursor; there is no backend
// redelivery or dead-letter facility reachable over this endpoint.
func (t *Transport) Nak(context.Context, eventstream.RawEvent, eventstream.NakAction) error {
	return nil
}

func (t *Transport) PersistCursor(ctx context.Context, subscriptionID string, position uint64) error {
	body, err := json.Marshal(map[string]uint64{"position": position})
	if err != nil {
		return errors.WrapFatal(err, "longpolltransport", "PersistCursor", "marshal cursor body")
	}
	path := fmt.Sprintf("/streams/%s/cursor/%s", url.PathEscape(t.streamName), url.PathEscape(subscriptionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.WrapFatal(err, "longpolltransport", "PersistCursor", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "longpolltransport", "PersistCursor", "put cursor")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return errors.WrapTransient(fmt.Errorf("status %d", resp.StatusCode), "longpolltransport", "PersistCursor", "put cursor")
	}
	if resp.StatusCode >= 400 {
		return errors.WrapFatal(fmt.Errorf("status %d", resp.StatusCode), "longpolltransport", "PersistCursor", "put cursor")
	}
	return nil
}

func (t *Transport) Close(context.Context) error {
	return nil
}

func (t *Transport) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, errors.WrapFatal(err, "longpolltransport", "get", "build request")
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "longpolltransport", "get", "send request")
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, errors.WrapTransient(fmt.Errorf("status %d", resp.StatusCode), "longpolltransport", "get", "send request")
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, errors.WrapFatal(fmt.Errorf("status %d", resp.StatusCode), "longpolltransport", "get", "send request")
	}
	return resp, nil
}
