// Package responder drives a single stateless respond call: build the
// request, submit it, poll until the job settles or the timeout elapses,
// then turn the payload into an assistant message.
package responder

import (
	"context"
	"strings"
	"time"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/extract"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/remote"
)

// Default polling bounds.
const (
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 120 * time.Second
)

// Request is one respond call. Messages is the ordered history including
// the newest user turn.
type Request struct {
	Instructions    string
	Model           string
	Messages        []remote.InputMessage
	MaxOutputTokens int
	VectorStoreIDs  []string
	FileIDs         []string
}

// Options configures a Driver.
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	Log          *logger.Logger
}

// Driver submits respond calls and polls them to completion.
type Driver struct {
	gw       remote.Gateway
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger
}

// New returns a Driver. Zero durations take the defaults.
func New(gw remote.Gateway, opts Options) *Driver {
	d := &Driver{gw: gw, interval: opts.PollInterval, timeout: opts.PollTimeout, log: opts.Log}
	if d.interval <= 0 {
		d.interval = DefaultPollInterval
	}
	if d.timeout <= 0 {
		d.timeout = DefaultPollTimeout
	}
	if d.log == nil {
		d.log = logger.Nop()
	}
	d.log = d.log.With("component", "responder")
	return d
}

// ResourceNote is appended to the instructions when stores or files are
// in use.
func ResourceNote(vectorStoreIDs, fileIDs []string) string {
	if len(vectorStoreIDs) == 0 && len(fileIDs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n[Kontext Ressourcen]\n")
	if len(vectorStoreIDs) > 0 {
		b.WriteString("VectorStores: " + strings.Join(vectorStoreIDs, ", ") + "\n")
	}
	if len(fileIDs) > 0 {
		b.WriteString("Files: " + strings.Join(fileIDs, ", ") + "\n")
	}
	return b.String()
}

// Respond submits req and returns the unsaved assistant message. Only the
// submission can fail; a timeout or a failed poll yields a message built
// from the last state seen.
func (d *Driver) Respond(ctx context.Context, req Request) (*models.Message, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, apperr.Invalid("model", "model is required")
	}

	rr := remote.ResponseRequest{
		Model:           req.Model,
		Instructions:    req.Instructions + ResourceNote(req.VectorStoreIDs, req.FileIDs),
		Input:           req.Messages,
		MaxOutputTokens: req.MaxOutputTokens,
		VectorStoreIDs:  req.VectorStoreIDs,
	}
	d.log.Info("creating response", "model", req.Model, "max_output_tokens", req.MaxOutputTokens,
		"messages", len(req.Messages), "vector_stores", req.VectorStoreIDs, "files", req.FileIDs)

	resp, err := d.gw.CreateResponse(ctx, rr)
	if err != nil {
		return nil, apperr.Sync("response", "create", err)
	}
	resp = d.poll(ctx, resp)

	text := extract.ResponseText(resp.Body)
	if text == extract.NoAnswer {
		d.log.Warn("no answer extracted", "response", resp.ID, "status", resp.Status)
	}
	text = extract.AppendFooter(text,
		"VectorStores: "+extract.JoinOrDash(req.VectorStoreIDs),
		"Files: "+extract.JoinOrDash(req.FileIDs),
	)

	msg := &models.Message{Role: "assistant", Content: text}
	if resp.ID != "" {
		id := resp.ID
		msg.ResponseID = &id
	}
	return msg, nil
}

// poll re-fetches the job until its status is terminal or absent, the
// timeout elapses, ctx ends, or a fetch fails. It returns the last good
// state.
func (d *Driver) poll(ctx context.Context, resp *remote.Response) *remote.Response {
	if resp.ID == "" {
		return resp
	}
	deadline := time.Now().Add(d.timeout)
	for resp.Status != "" && !remote.IsTerminal(resp.Status) {
		if !time.Now().Before(deadline) {
			d.log.Warn("response poll timed out", "response", resp.ID, "status", resp.Status)
			return resp
		}
		if !sleepWithContext(ctx, d.interval) {
			d.log.Warn("response poll cancelled", "response", resp.ID, "status", resp.Status)
			return resp
		}
		polled, err := d.gw.RetrieveResponse(ctx, resp.ID)
		if err != nil {
			d.log.Warn("response poll failed", "response", resp.ID, "error", err.Error())
			return resp
		}
		if polled.ID == "" {
			polled.ID = resp.ID
		}
		d.log.Debug("response polled", "response", resp.ID, "status", polled.Status)
		resp = polled
	}
	return resp
}

// sleepWithContext waits for d and reports false if ctx ended first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
