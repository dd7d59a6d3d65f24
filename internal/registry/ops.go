package registry

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// NormalizeHash is the canonical form a solution hash is stored under.
func NormalizeHash(h string) string { return strings.ToLower(strings.TrimSpace(h)) }

func (r *Registry) createPuzzle(caller, solutionHash string, answers []Answer) error {
	if err := r.authorize(caller); err != nil {
		r.metrics.CreateAttempt(ResultUnauthorized)
		return err
	}
	hash := NormalizeHash(solutionHash)
	answers = append([]Answer(nil), answers...)

	err := r.store.Update(func(tx StoreTx) error {
		inserted, err := tx.InsertNew(hash, Puzzle{Status: Unsolved(), Answers: answers})
		if err != nil {
			return err
		}
		if !inserted {
			return ErrDuplicatePuzzle
		}
		return tx.UnsolvedAdd(hash)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicatePuzzle) {
			r.metrics.CreateAttempt(ResultDuplicate)
			return fmt.Errorf("%w: %s", ErrDuplicatePuzzle, hash)
		}
		r.metrics.CreateAttempt(ResultError)
		return fmt.Errorf("create puzzle %s: %w", hash, err)
	}

	r.metrics.CreateAttempt(ResultOK)
	r.writeAudit(AuditEntry{
		Action:       AuditPuzzleCreated,
		Actor:        caller,
		SolutionHash: hash,
		Answers:      len(answers),
	})
	r.refreshUnsolved()
	return nil
}

func (r *Registry) submitSolution(caller, solution, memo string) (Receipt, error) {
	digest := SolutionHash(r.hasher, solution)

	err := r.store.Update(func(tx StoreTx) error {
		p, ok, err := tx.Get(digest)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoMatchingPuzzle
		}
		switch p.Status.Kind() {
		case StatusUnsolved:
		case StatusSolved:
			return ErrAlreadySolved
		default:
			return fmt.Errorf("puzzle %s has an invalid status", digest)
		}
		p.Status = Solved(memo)
		if err := tx.Replace(digest, p); err != nil {
			return err
		}
		return tx.UnsolvedRemove(digest)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNoMatchingPuzzle):
		r.metrics.SolveAttempt(ResultNoMatch)
		return Receipt{}, err
	case errors.Is(err, ErrAlreadySolved):
		r.metrics.SolveAttempt(ResultAlreadySolved)
		return Receipt{}, err
	default:
		r.metrics.SolveAttempt(ResultError)
		return Receipt{}, fmt.Errorf("submit solution: %w", err)
	}

	// The solve is committed; everything below is best effort.
	payout := Payout{
		ID:         uuid.NewString(),
		To:         caller,
		Amount:     new(big.Int).Set(r.rewardAmount),
		PuzzleHash: digest,
		CreatedAt:  r.now(),
	}
	r.metrics.SolveAttempt(ResultOK)
	r.writeAudit(AuditEntry{
		Action:       AuditPuzzleSolved,
		Actor:        caller,
		SolutionHash: digest,
		Memo:         memo,
		PayoutID:     payout.ID,
	})
	r.logger.Printf("puzzle with solution hash %s solved, with memo: %s", digest, memo)
	r.refreshUnsolved()

	if r.rewards != nil {
		r.rewards.Dispatch(payout)
	}
	return Receipt{SolutionHash: digest, PayoutID: payout.ID, Amount: new(big.Int).Set(payout.Amount)}, nil
}

func (r *Registry) puzzleStatus(solutionHash string) (PuzzleStatus, bool, error) {
	p, ok, err := r.store.Get(NormalizeHash(solutionHash))
	if err != nil || !ok {
		return PuzzleStatus{}, false, err
	}
	return p.Status, true, nil
}

func (r *Registry) unsolvedAt(index int) (string, bool, error) {
	if index < 0 {
		return "", false, nil
	}
	return r.store.UnsolvedAt(index)
}

// unsolvedPuzzles panics with *ConsistencyError when the unsolved index and
// the puzzle map disagree.
func (r *Registry) unsolvedPuzzles() (UnsolvedPuzzles, error) {
	hashes, err := r.store.UnsolvedAll()
	if err != nil {
		return UnsolvedPuzzles{}, err
	}
	out := UnsolvedPuzzles{Puzzles: make([]UnsolvedPuzzle, 0, len(hashes))}
	for _, h := range hashes {
		p, ok, err := r.store.Get(h)
		if err != nil {
			return UnsolvedPuzzles{}, err
		}
		if !ok || p.Status.Kind() != StatusUnsolved {
			panic(&ConsistencyError{Hash: h})
		}
		out.Puzzles = append(out.Puzzles, UnsolvedPuzzle{
			SolutionHash: h,
			Status:       p.Status,
			Answers:      p.Answers,
		})
	}
	return out, nil
}

func (r *Registry) writeAudit(e AuditEntry) {
	if r.auditLogger == nil {
		return
	}
	e.ID = uuid.NewString()
	e.Time = r.now()
	if err := r.auditLogger.WriteAudit(e); err != nil {
		r.logger.Printf("audit %s %s: %v", e.Action, e.SolutionHash, err)
	}
}

func (r *Registry) refreshUnsolved() {
	n, err := r.store.UnsolvedCount()
	if err != nil {
		r.logger.Printf("count unsolved: %v", err)
		return
	}
	r.metrics.UnsolvedPuzzles(n)
}
