// Package dispatch decodes, validates and executes registry operations for
// every transport. Transports only deal with framing and identity.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"crossword.ai/internal/protocol"
	"crossword.ai/internal/registry"
	"crossword.ai/internal/transport/ratelimit"
)

// Registry is the subset of *registry.Registry used by transports.
type Registry interface {
	CreatePuzzle(ctx context.Context, caller, solutionHash string, answers []registry.Answer) error
	SubmitSolution(ctx context.Context, caller, solution, memo string) (registry.Receipt, error)
	PuzzleStatus(ctx context.Context, solutionHash string) (registry.PuzzleStatus, bool, error)
	UnsolvedByIndex(ctx context.Context, index int) (string, bool, error)
	UnsolvedPuzzles(ctx context.Context) (registry.UnsolvedPuzzles, error)
}

// Observer sees one call per dispatched operation. code is empty on success.
type Observer interface {
	Request(transport, op, code string)
}

// Error carries a protocol error code to the transport.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }
func (e *Error) Unwrap() error { return e.Err }

func fail(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code from err, E_INTERNAL for foreign errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return protocol.ErrInternal
}

type Dispatcher struct {
	reg      Registry
	submitRL *ratelimit.Limiter
	observer Observer
	log      *log.Logger
}

type Config struct {
	// SubmitLimiter throttles submit_solution per caller. Nil disables it.
	SubmitLimiter *ratelimit.Limiter
	Observer      Observer
	Logger        *log.Logger
}

func New(reg Registry, cfg Config) *Dispatcher {
	return &Dispatcher{
		reg:      reg,
		submitRL: cfg.SubmitLimiter,
		observer: cfg.Observer,
		log:      cfg.Logger,
	}
}

// Do runs op for caller. caller is empty for anonymous requests. The returned
// error is always an *Error.
func (d *Dispatcher) Do(ctx context.Context, transport, caller, op string, payload json.RawMessage) (any, error) {
	data, derr := d.do(ctx, caller, op, payload)
	code := ""
	if derr != nil {
		code = derr.Code
	}
	if d.observer != nil {
		d.observer.Request(transport, op, code)
	}
	if derr != nil {
		return nil, derr
	}
	return data, nil
}

func (d *Dispatcher) do(ctx context.Context, caller, op string, payload json.RawMessage) (any, *Error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	switch op {
	case protocol.OpCreatePuzzle:
		return d.createPuzzle(ctx, caller, payload)
	case protocol.OpSubmitSolution:
		return d.submitSolution(ctx, caller, payload)
	case protocol.OpGetPuzzleStatus:
		return d.puzzleStatus(ctx, payload)
	case protocol.OpGetUnsolvedByIndex, protocol.OpGetSolution:
		return d.unsolvedByIndex(ctx, payload)
	case protocol.OpGetUnsolvedPuzzles:
		out, err := d.reg.UnsolvedPuzzles(ctx)
		if err != nil {
			return nil, d.registryError(op, err)
		}
		return out, nil
	default:
		return nil, fail(protocol.ErrProtoBadRequest, "unknown op %q", op)
	}
}

func (d *Dispatcher) createPuzzle(ctx context.Context, caller string, payload json.RawMessage) (any, *Error) {
	if caller == "" {
		return nil, fail(protocol.ErrUnauthorized, "account id required")
	}
	if err := protocol.ValidateJSON(protocol.SchemaCreatePuzzle, payload); err != nil {
		return nil, fail(protocol.ErrBadRequest, "%v", err)
	}
	var req protocol.CreatePuzzleReq
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	answers, err := req.RegistryAnswers()
	if err != nil {
		return nil, fail(protocol.ErrBadRequest, "%v", err)
	}
	if err := d.reg.CreatePuzzle(ctx, caller, req.SolutionHash, answers); err != nil {
		return nil, d.registryError(protocol.OpCreatePuzzle, err)
	}
	return protocol.PuzzleStatusResp{
		SolutionHash: registry.NormalizeHash(req.SolutionHash),
		Status:       registry.Unsolved(),
	}, nil
}

func (d *Dispatcher) submitSolution(ctx context.Context, caller string, payload json.RawMessage) (any, *Error) {
	if caller == "" {
		return nil, fail(protocol.ErrUnauthorized, "account id required")
	}
	if d.submitRL != nil && !d.submitRL.Allow(caller) {
		return nil, fail(protocol.ErrRateLimit, "too many submissions, slow down")
	}
	if err := protocol.ValidateJSON(protocol.SchemaSubmitSolution, payload); err != nil {
		return nil, fail(protocol.ErrBadRequest, "%v", err)
	}
	var req protocol.SubmitSolutionReq
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	receipt, err := d.reg.SubmitSolution(ctx, caller, req.Solution, req.Memo)
	if err != nil {
		return nil, d.registryError(protocol.OpSubmitSolution, err)
	}
	return protocol.SubmitSolutionResp{
		SolutionHash: receipt.SolutionHash,
		PayoutID:     receipt.PayoutID,
		Amount:       receipt.Amount.String(),
	}, nil
}

func (d *Dispatcher) puzzleStatus(ctx context.Context, payload json.RawMessage) (any, *Error) {
	var req protocol.PuzzleStatusReq
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	status, found, err := d.reg.PuzzleStatus(ctx, req.SolutionHash)
	if err != nil {
		return nil, d.registryError(protocol.OpGetPuzzleStatus, err)
	}
	if !found {
		return nil, fail(protocol.ErrNotFound, "no puzzle with solution hash %s", req.SolutionHash)
	}
	return protocol.PuzzleStatusResp{SolutionHash: registry.NormalizeHash(req.SolutionHash), Status: status}, nil
}

func (d *Dispatcher) unsolvedByIndex(ctx context.Context, payload json.RawMessage) (any, *Error) {
	var req protocol.UnsolvedByIndexReq
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	hash, found, err := d.reg.UnsolvedByIndex(ctx, req.Index)
	if err != nil {
		return nil, d.registryError(protocol.OpGetUnsolvedByIndex, err)
	}
	if !found {
		return nil, fail(protocol.ErrNotFound, "no unsolved puzzle at index %d", req.Index)
	}
	return protocol.UnsolvedByIndexResp{Index: req.Index, SolutionHash: hash}, nil
}

func decode(payload json.RawMessage, dst any) *Error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fail(protocol.ErrBadRequest, "decode payload: %v", err)
	}
	if err := protocol.Validate(dst); err != nil {
		return fail(protocol.ErrBadRequest, "%v", err)
	}
	return nil
}

func (d *Dispatcher) registryError(op string, err error) *Error {
	code := protocol.CodeFor(err)
	if code == protocol.ErrInternal {
		if d.log != nil {
			d.log.Printf("%s: %v", op, err)
		}
		return &Error{Code: code, Message: "internal error", Err: err}
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}
