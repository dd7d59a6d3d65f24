package registry

// Store is the persistent puzzle mapping plus the unsolved index.
// Reads outside Update each see one consistent state.
type Store interface {
	Owner() (owner string, ok bool, err error)
	Get(hash string) (Puzzle, bool, error)
	UnsolvedAll() ([]string, error)
	// UnsolvedAt scans the unsolved index in its iteration order. Positions are
	// not stable across mutations.
	UnsolvedAt(index int) (string, bool, error)
	UnsolvedCount() (int, error)
	Each(fn func(hash string, p Puzzle) error) error

	// Update runs fn in one transaction: either every write made through tx
	// commits or none does. An error from fn aborts the transaction.
	Update(fn func(tx StoreTx) error) error
	Close() error
}

type StoreTx interface {
	Get(hash string) (Puzzle, bool, error)
	// InsertNew stores p only if hash is absent and reports whether it did.
	InsertNew(hash string, p Puzzle) (bool, error)
	// Replace overwrites an existing entry.
	Replace(hash string, p Puzzle) error
	UnsolvedAdd(hash string) error
	UnsolvedRemove(hash string) error
	SetOwner(owner string) error
}
