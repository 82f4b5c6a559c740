package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cockroachdb/pebble"

	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/models"
)

// Store is a Pebble-backed document store keyed by destination and id.
type Store struct {
	db   *pebble.DB
	path string
}

// Open opens (or creates) a Pebble database at path. opts may be nil.
func Open(path string, opts *pebble.Options) (*Store, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("pebble_closed", "path", s.path)
	return nil
}

// Ready reports whether the store is open.
func (s *Store) Ready() bool {
	return s.db != nil
}

// Key format: doc:<destination>:<id>
func docKey(dest, id string) []byte {
	return []byte("doc:" + dest + ":" + id)
}

func docPrefix(dest string) []byte {
	return []byte("doc:" + dest + ":")
}

// Get returns the document stored under dest/id.
func (s *Store) Get(dest, id string) (map[string]any, bool, error) {
	if s.db == nil {
		return nil, false, fmt.Errorf("pebble not opened")
	}
	v, closer, err := s.db.Get(docKey(dest, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	var doc map[string]any
	if err := json.Unmarshal(v, &doc); err != nil {
		return nil, false, fmt.Errorf("invalid document %s/%s: %w", dest, id, err)
	}
	return doc, true, nil
}

// ListIDs returns the ids stored under dest in key order.
func (s *Store) ListIDs(dest string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("pebble not opened")
	}
	prefix := docPrefix(dest)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Key()[len(prefix):]))
	}
	return out, nil
}

// Apply writes recs in a single synced batch and returns one outcome per
// record, in order. Later records in recs observe the writes of earlier
// ones. A non-nil error means nothing was committed.
func (s *Store) Apply(recs []models.Record) ([]models.Result, error) {
	if s.db == nil {
		return nil, fmt.Errorf("pebble not opened")
	}
	b := s.db.NewIndexedBatch()
	defer b.Close()

	out := make([]models.Result, 0, len(recs))
	for _, rec := range recs {
		res, err := applyOne(b, rec)
		if err != nil {
			logger.Error("apply_batch_failed", "id", rec.ID, "destination", rec.Destination, "error", err)
			return nil, err
		}
		out = append(out, res)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("batch_commit_failed", "records", len(recs), "error", err)
		return nil, err
	}
	logger.Debug("batch_committed", "records", len(recs))
	return out, nil
}

func applyOne(b *pebble.Batch, rec models.Record) (models.Result, error) {
	key := docKey(rec.Destination, rec.ID)
	existing, found, err := getDoc(b, key)
	if err != nil {
		return models.Result{}, err
	}
	switch rec.Operation {
	case models.OpCreate:
		if found {
			return models.Failure(rec.ID, http.StatusConflict, "version conflict, document already exists"), nil
		}
		if err := putDoc(b, key, rec.Content); err != nil {
			return models.Result{}, err
		}
		return models.Result{ID: rec.ID, Status: http.StatusCreated, Result: "created"}, nil
	case models.OpUpdate:
		if !found {
			return models.Failure(rec.ID, http.StatusNotFound, "document missing"), nil
		}
		if err := putDoc(b, key, mergeDoc(existing, rec.Content)); err != nil {
			return models.Result{}, err
		}
		return models.Result{ID: rec.ID, Status: http.StatusOK, Result: "updated"}, nil
	case models.OpDelete:
		if !found {
			return models.Failure(rec.ID, http.StatusNotFound, "not_found"), nil
		}
		if err := b.Delete(key, nil); err != nil {
			return models.Result{}, err
		}
		return models.Result{ID: rec.ID, Status: http.StatusOK, Result: "deleted"}, nil
	}
	return models.Failure(rec.ID, http.StatusBadRequest, fmt.Sprintf("unknown operation %q", rec.Operation)), nil
}

func getDoc(b *pebble.Batch, key []byte) (map[string]any, bool, error) {
	v, closer, err := b.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	doc := map[string]any{}
	if err := json.Unmarshal(v, &doc); err != nil {
		return nil, false, fmt.Errorf("invalid document %s: %w", key, err)
	}
	return doc, true, nil
}

func putDoc(b *pebble.Batch, key []byte, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return b.Set(key, data, nil)
}

// mergeDoc applies a partial update: nested objects merge, everything else
// is replaced.
func mergeDoc(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		sv, sok := v.(map[string]any)
		dv, dok := dst[k].(map[string]any)
		if sok && dok {
			dst[k] = mergeDoc(dv, sv)
			continue
		}
		dst[k] = v
	}
	return dst
}
