// internal/jobs/submitter.go
package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"qjob/internal/auth"
	"qjob/internal/devices"
	"qjob/pkg/logger"
	"qjob/pkg/metrics"
	"qjob/pkg/transport"
)

// TokenSource is the authenticator surface the submitter needs.
type TokenSource interface {
	BearerToken(ctx context.Context) (string, error)
	ForceReauth(ctx context.Context) (string, error)
}

// CapabilityGate decides whether batching parameters are legal for a
// device. Implemented by *devices.Catalog.
type CapabilityGate interface {
	CanBatch(ctx context.Context, device string) (bool, error)
}

// Payload is a compiled program ready for submission. Wire encoding of
// the program text itself is the caller's concern.
type Payload struct {
	Name     string // defaults to a generated id
	Program  string
	Language string // defaults to "OPENQASM 2.0"
	Options  map[string]any
}

type batchKind int

const (
	batchNone batchKind = iota
	batchOpen
	batchContinue
	batchClose
)

// BatchIntent states how a submission participates in a batch: not at
// all, opening one with a cost ceiling, continuing one, or closing one.
type BatchIntent struct {
	kind    batchKind
	maxCost int
	handle  string
}

func NoBatch() BatchIntent                  { return BatchIntent{} }
func OpenBatch(maxCost int) BatchIntent     { return BatchIntent{kind: batchOpen, maxCost: maxCost} }
func ContinueBatch(handle string) BatchIntent {
	return BatchIntent{kind: batchContinue, handle: handle}
}
func CloseBatch(handle string) BatchIntent { return BatchIntent{kind: batchClose, handle: handle} }

// Submitter builds and posts job submissions. It is stateless; batch
// bookkeeping lives in Batch.
type Submitter struct {
	api  *transport.Client
	auth TokenSource
	gate CapabilityGate
	log  logger.Sugared
	met  *metrics.Metrics
}

func NewSubmitter(api *transport.Client, ts TokenSource, gate CapabilityGate, log logger.Sugared, met *metrics.Metrics) *Submitter {
	if log == nil {
		log = logger.Nop()
	}
	return &Submitter{api: api, auth: ts, gate: gate, log: log, met: met}
}

type jobResponse struct {
	Job string `json:"job"`
}

// Submit posts one job and returns the remote job id. Batch fields are
// only attached after the capability gate approves the device; a
// rejected device surfaces locally with zero network calls.
//
// A 401 triggers exactly one forced re-auth and one retry; a second
// 401 surfaces as an authentication failure.
func (s *Submitter) Submit(ctx context.Context, device string, p Payload, shots int, intent BatchIntent) (string, error) {
	body, err := s.buildBody(ctx, device, p, shots, intent)
	if err != nil {
		return "", err
	}
	tok, err := s.auth.BearerToken(ctx)
	if err != nil {
		s.met.Submission("auth_error")
		return "", err
	}
	resp, err := s.api.PostJSON(ctx, "/job", body, tok)
	if err != nil {
		s.met.Submission("transport_error")
		return "", err
	}
	if resp.StatusCode == 401 {
		s.met.AuthRetry()
		s.log.Debugw("submission unauthorized, re-authenticating once", "device", device)
		tok, err = s.auth.ForceReauth(ctx)
		if err != nil {
			s.met.Submission("auth_error")
			return "", err
		}
		resp, err = s.api.PostJSON(ctx, "/job", body, tok)
		if err != nil {
			s.met.Submission("transport_error")
			return "", err
		}
		if resp.StatusCode == 401 {
			s.met.Submission("auth_error")
			return "", &auth.AuthenticationError{Code: resp.ErrorCode(), Status: 401, Reason: "submission unauthorized after re-login"}
		}
	}
	if resp.StatusCode != 200 {
		s.met.Submission("rejected")
		return "", fmt.Errorf("job submission rejected: status %d", resp.StatusCode)
	}
	var jr jobResponse
	if err := resp.Decode(&jr); err != nil {
		s.met.Submission("transport_error")
		return "", err
	}
	s.met.Submission("ok")
	s.log.Infow("job submitted", "device", device, "job", jr.Job)
	return jr.Job, nil
}

func (s *Submitter) buildBody(ctx context.Context, device string, p Payload, shots int, intent BatchIntent) (map[string]any, error) {
	name := p.Name
	if name == "" {
		name = uuid.NewString()
	}
	lang := p.Language
	if lang == "" {
		lang = "OPENQASM 2.0"
	}
	body := map[string]any{
		"name":     name,
		"machine":  device,
		"language": lang,
		"program":  p.Program,
		"count":    shots,
	}
	if len(p.Options) > 0 {
		body["options"] = p.Options
	}
	if intent.kind == batchNone {
		return body, nil
	}
	ok, err := s.gate.CanBatch(ctx, device)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &devices.BatchingUnsupportedError{Device: device, Reason: "device family or capability does not allow batching"}
	}
	switch intent.kind {
	case batchOpen:
		body["batch-exec"] = intent.maxCost
	case batchContinue:
		body["batch-exec"] = intent.handle
	case batchClose:
		body["batch-exec"] = intent.handle
		body["batch-end"] = true
	}
	return body, nil
}
