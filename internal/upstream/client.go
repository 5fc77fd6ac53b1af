// Package upstream implements the client for the Lumo backend's streaming
// chat protocol (spec.md §4.1): building the U2L request envelope,
// demultiplexing the SSE response by target, and recovering tool-call/
// tool-result JSON from the stream via the brace-depth tracker.
//
// Grounded on the teacher's internal/proxy streaming handlers, which POST
// to an upstream, read an SSE body with bufio.Scanner, and re-emit parsed
// frames — generalized here from passthrough re-streaming into the
// decrypt-then-accumulate pipeline the U2L protocol requires.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/apierror"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/cryptoutil"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/metrics"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
)

// ChatOptions configures one chatWithHistory call (spec.md §4.1).
type ChatOptions struct {
	Instructions           string
	InjectInstructionsInto string // "first" or "last"
	RequestTitle           bool
	EnableExternalTools    bool
}

// ChatResult is the assembled outcome of one upstream call (spec.md §4.1).
type ChatResult struct {
	Message    string
	Title      string
	ToolCall   string
	ToolResult string
}

// OnChunk is invoked synchronously for each decoded message-target token,
// in arrival order (spec.md §4.1.2 "invoke onChunk synchronously").
type OnChunk func(content string)

// AuthProvider supplies the per-call headers the upstream requires.
// Grounded on the same collaborator boundary the teacher's proxy handlers
// use for provider auth headers.
type AuthProvider interface {
	UID(ctx context.Context) (string, error)
	AppVersion() string
	BearerToken(ctx context.Context) (string, error)
}

// Client is the upstream chat client.
type Client struct {
	httpClient  *http.Client
	chatURL     string
	publicKey   []byte
	wrapper     cryptoutil.KeyWrapper
	auth        AuthProvider
	idleTimeout time.Duration
	log         *logger.Logger
}

// NewClient builds a Client. publicKey is the upstream's long-lived
// U2L-wrapping key as configured (spec.md §4.1.1 "hard-coded constant");
// wrapper performs the actual PGP wrap (or the raw passthrough in
// cryptoutil.RawKeyWrapper). idleTimeout is the no-event inactivity bound of
// spec.md §5 (UpstreamTimeout, default 60s if zero) — not a cap on total
// stream duration, which httpClient itself must not impose since a healthy
// stream can legitimately run longer than that.
func NewClient(httpClient *http.Client, chatURL string, publicKey []byte, wrapper cryptoutil.KeyWrapper, auth AuthProvider, idleTimeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		httpClient:  httpClient,
		chatURL:     chatURL,
		publicKey:   publicKey,
		wrapper:     wrapper,
		auth:        auth,
		idleTimeout: idleTimeout,
		log:         log.WithComponent("upstream"),
	}
}

// ChatWithHistory implements the primary operation of spec.md §4.1:
// chatWithHistory(turns, onChunk?, opts) → ChatResult.
func (c *Client) ChatWithHistory(ctx context.Context, turns []model.Turn, onChunk OnChunk, opts ChatOptions) (*ChatResult, error) {
	body, requestID, sessionKey, err := buildEnvelope(ctx, c.wrapper, c.publicKey, turns, opts)
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues("error").Inc()
		return nil, apierror.New(apierror.KindUpstreamError, "failed to build request envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues("error").Inc()
		return nil, apierror.New(apierror.KindUpstreamError, "failed to build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-pm-appversion", c.auth.AppVersion())

	if uid, err := c.auth.UID(ctx); err == nil && uid != "" {
		req.Header.Set("x-pm-uid", uid)
	}
	token, err := c.auth.BearerToken(ctx)
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues("error").Inc()
		return nil, apierror.New(apierror.KindUnauthorized, "failed to obtain upstream auth token", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues("error").Inc()
		return nil, apierror.New(apierror.KindUpstreamError, "upstream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamCallsTotal.WithLabelValues("error").Inc()
		return nil, apierror.New(apierror.KindUpstreamError, fmt.Sprintf("upstream returned status %d", resp.StatusCode), nil)
	}

	d := newDemuxer(requestID, sessionKey, onChunk)
	result, err := d.run(ctx, resp.Body, c.idleTimeout)
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues(d.outcome).Inc()
		return nil, err
	}
	metrics.UpstreamCallsTotal.WithLabelValues("done").Inc()
	return result, nil
}

// demuxer holds the per-target accumulators for one in-flight call
// (spec.md §4.1.2).
type demuxer struct {
	requestID  string
	sessionKey []byte
	onChunk    OnChunk

	messageBuf strings.Builder
	titleBuf   strings.Builder

	toolCallTracker   *BraceTracker
	toolResultTracker *BraceTracker
	lastToolCall      string
	lastToolResult    string

	outcome string
}

func newDemuxer(requestID string, sessionKey []byte, onChunk OnChunk) *demuxer {
	return &demuxer{
		requestID:         requestID,
		sessionKey:        sessionKey,
		onChunk:           onChunk,
		toolCallTracker:   NewBraceTracker(),
		toolResultTracker: NewBraceTracker(),
	}
}

type sseFrame struct {
	Type      string `json:"type"`
	Target    string `json:"target"`
	Count     int    `json:"count"`
	Content   string `json:"content"`
	Encrypted bool   `json:"encrypted"`
}

// run reads data: frames from r until a terminal event, decoding and
// routing each token_data frame by target (spec.md §4.1.2). It also watches
// for upstream inactivity: if no frame line arrives within idleTimeout
// (spec.md §5, default DefaultTimeout), it fails with KindUpstreamTimeout
// rather than blocking forever on bufio.Scanner's next Read.
func (d *demuxer) run(ctx context.Context, r io.Reader, idleTimeout time.Duration) (*ChatResult, error) {
	if idleTimeout <= 0 {
		idleTimeout = DefaultTimeout
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines := make(chan string)
	scanDone := make(chan error, 1)
	giveUp := make(chan struct{})
	defer close(giveUp)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-giveUp:
				return
			}
		}
		select {
		case scanDone <- scanner.Err():
		case <-giveUp:
		}
	}()

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if err := <-scanDone; err != nil {
					d.outcome = "error"
					return nil, apierror.New(apierror.KindUpstreamError, "upstream stream read failed", err)
				}
				d.outcome = "error"
				return nil, apierror.New(apierror.KindUpstreamError, "upstream stream closed without a terminal event", nil)
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idleTimeout)

			result, done, err := d.handleLine(line)
			if err != nil {
				return nil, err
			}
			if done {
				return result, nil
			}
		case <-timer.C:
			d.outcome = "timeout"
			return nil, apierror.New(apierror.KindUpstreamTimeout, fmt.Sprintf("no upstream event for %s", idleTimeout), nil)
		case <-ctx.Done():
			d.outcome = "error"
			return nil, apierror.New(apierror.KindUpstreamError, "request canceled", ctx.Err())
		}
	}
}

// handleLine decodes one SSE line and routes it, reporting whether a
// terminal event was reached.
func (d *demuxer) handleLine(line string) (result *ChatResult, done bool, err error) {
	if !strings.HasPrefix(line, "data: ") {
		return nil, false, nil
	}
	payload := strings.TrimPrefix(line, "data: ")
	if payload == "" {
		return nil, false, nil
	}

	var frame sseFrame
	if jsonErr := json.Unmarshal([]byte(payload), &frame); jsonErr != nil {
		return nil, false, nil
	}

	switch frame.Type {
	case "queued", "ingesting":
		return nil, false, nil
	case "token_data":
		if err := d.handleTokenData(frame); err != nil {
			d.outcome = "error"
			return nil, false, err
		}
		return nil, false, nil
	case "done":
		d.outcome = "done"
		return d.assemble(), true, nil
	case "timeout", "error", "rejected", "harmful":
		d.outcome = frame.Type
		return nil, false, apierror.Rejected(frame.Type)
	}
	return nil, false, nil
}

func (d *demuxer) handleTokenData(frame sseFrame) error {
	content := frame.Content
	if frame.Encrypted {
		ad := cryptoutil.ResponseChunkAD(d.requestID)
		plaintext, err := cryptoutil.Decrypt(d.sessionKey, ad, content)
		if err != nil {
			metrics.DecryptionFailuresTotal.WithLabelValues("chunk").Inc()
			return apierror.New(apierror.KindDecryptionFailed, "failed to decrypt response chunk", err)
		}
		content = string(plaintext)
	}

	switch frame.Target {
	case "message":
		d.messageBuf.WriteString(content)
		if d.onChunk != nil {
			d.onChunk(content)
		}
	case "title":
		d.titleBuf.WriteString(content)
	case "tool_call":
		for _, obj := range d.toolCallTracker.Feed(content) {
			d.lastToolCall = obj
		}
	case "tool_result":
		for _, obj := range d.toolResultTracker.Feed(content) {
			d.lastToolResult = obj
		}
	}
	return nil
}

func (d *demuxer) assemble() *ChatResult {
	return &ChatResult{
		Message:    d.messageBuf.String(),
		Title:      d.titleBuf.String(),
		ToolCall:   d.lastToolCall,
		ToolResult: d.lastToolResult,
	}
}

// DefaultTimeout is the no-event upstream timeout spec.md §5 defaults to.
const DefaultTimeout = 60 * time.Second
