package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/beeunity/beeunity/client/internal/securestore"
)

// ErrCorruptRecord is returned by Load when the stored bytes do not parse or
// the store cannot open them.
var ErrCorruptRecord = errors.New("stored session record is corrupt")

// Repository persists the single session record. Writes always replace the
// whole record.
type Repository struct {
	store securestore.Store
	key   string
}

func NewRepository(store securestore.Store) *Repository {
	return &Repository{store: store, key: SessionKey}
}

// Load returns (nil, nil) when no record exists.
func (r *Repository) Load(ctx context.Context) (*Session, error) {
	b, err := r.store.Get(ctx, r.key)
	if errors.Is(err, securestore.ErrCorrupt) {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &s, nil
}

func (r *Repository) Save(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, r.key, b)
}

func (r *Repository) Delete(ctx context.Context) error {
	return r.store.Delete(ctx, r.key)
}
