package registry

import (
	"errors"
	"fmt"
	"sort"

	"crossword.ai/internal/persistence/snapshot"
)

func (r *Registry) exportSnapshot() (snapshot.RegistryV1, error) {
	snap := snapshot.RegistryV1{Owner: r.owner}
	err := r.store.Each(func(hash string, p Puzzle) error {
		pv, err := puzzleToV1(hash, p)
		if err != nil {
			return err
		}
		snap.Puzzles = append(snap.Puzzles, pv)
		return nil
	})
	if err != nil {
		return snapshot.RegistryV1{}, fmt.Errorf("export puzzles: %w", err)
	}
	sort.Slice(snap.Puzzles, func(i, j int) bool { return snap.Puzzles[i].SolutionHash < snap.Puzzles[j].SolutionHash })

	snap.Unsolved, err = r.store.UnsolvedAll()
	if err != nil {
		return snapshot.RegistryV1{}, fmt.Errorf("export unsolved: %w", err)
	}
	snap.Seal(r.now())
	return snap, nil
}

// ImportSnapshot loads snap into a store that holds no puzzles yet. The
// snapshot must satisfy the unsolved-index invariant in both directions.
func ImportSnapshot(st Store, snap snapshot.RegistryV1) error {
	if snap.Owner == "" {
		return errors.New("import: snapshot has no owner")
	}
	if owner, ok, err := st.Owner(); err != nil {
		return fmt.Errorf("import: %w", err)
	} else if ok && owner != snap.Owner {
		return fmt.Errorf("import: %w (store=%s snapshot=%s)", ErrOwnerMismatch, owner, snap.Owner)
	}
	errNotEmpty := errors.New("import: target store is not empty")
	if err := st.Each(func(string, Puzzle) error { return errNotEmpty }); err != nil {
		return err
	}

	puzzles := make(map[string]Puzzle, len(snap.Puzzles))
	for _, pv := range snap.Puzzles {
		hash := NormalizeHash(pv.SolutionHash)
		if _, dup := puzzles[hash]; dup {
			return fmt.Errorf("import: %w: %s", ErrDuplicatePuzzle, hash)
		}
		p, err := puzzleFromV1(pv)
		if err != nil {
			return fmt.Errorf("import %s: %w", hash, err)
		}
		puzzles[hash] = p
	}
	unsolved := make([]string, 0, len(snap.Unsolved))
	seen := make(map[string]bool, len(snap.Unsolved))
	for _, raw := range snap.Unsolved {
		h := NormalizeHash(raw)
		p, ok := puzzles[h]
		if !ok || p.Status.Kind() != StatusUnsolved || seen[h] {
			return fmt.Errorf("import: %w", &ConsistencyError{Hash: h})
		}
		seen[h] = true
		unsolved = append(unsolved, h)
	}
	for h, p := range puzzles {
		if p.Status.Kind() == StatusUnsolved && !seen[h] {
			return fmt.Errorf("import: unsolved puzzle %s missing from unsolved index", h)
		}
	}

	return st.Update(func(tx StoreTx) error {
		if err := tx.SetOwner(snap.Owner); err != nil {
			return err
		}
		for _, pv := range snap.Puzzles {
			hash := NormalizeHash(pv.SolutionHash)
			inserted, err := tx.InsertNew(hash, puzzles[hash])
			if err != nil {
				return err
			}
			if !inserted {
				return fmt.Errorf("%w: %s", ErrDuplicatePuzzle, hash)
			}
		}
		for _, h := range unsolved {
			if err := tx.UnsolvedAdd(h); err != nil {
				return err
			}
		}
		return nil
	})
}

func puzzleToV1(hash string, p Puzzle) (snapshot.PuzzleV1, error) {
	pv := snapshot.PuzzleV1{SolutionHash: hash}
	switch p.Status.Kind() {
	case StatusUnsolved:
	case StatusSolved:
		pv.Solved = true
		pv.Memo, _ = p.Status.Memo()
	default:
		return pv, fmt.Errorf("puzzle %s has an invalid status", hash)
	}
	for _, a := range p.Answers {
		pv.Answers = append(pv.Answers, snapshot.AnswerV1{
			Num:       a.Num,
			X:         a.Start.X,
			Y:         a.Start.Y,
			Direction: a.Direction.String(),
			Length:    a.Length,
			Clue:      a.Clue,
		})
	}
	return pv, nil
}

func puzzleFromV1(pv snapshot.PuzzleV1) (Puzzle, error) {
	p := Puzzle{Status: Unsolved()}
	if pv.Solved {
		p.Status = Solved(pv.Memo)
	}
	for _, av := range pv.Answers {
		dir, err := ParseAnswerDirection(av.Direction)
		if err != nil {
			return Puzzle{}, err
		}
		p.Answers = append(p.Answers, Answer{
			Num:       av.Num,
			Start:     CoordinatePair{X: av.X, Y: av.Y},
			Direction: dir,
			Length:    av.Length,
			Clue:      av.Clue,
		})
	}
	return p, nil
}
