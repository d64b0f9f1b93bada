package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"cwfork/internal/models"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	remotePrefix     = "rc/"
	simulationPrefix = "sim/"
)

// LevelDBRepository implements Repository on a local LevelDB directory.
// An empty path keeps everything in memory.
type LevelDBRepository struct {
	db *leveldb.DB
}

// NewLevelDBRepository opens or creates the database at path
func NewLevelDBRepository(path string) (*LevelDBRepository, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	return &LevelDBRepository{db: db}, nil
}

// LoadRemote returns a cached remote answer
func (r *LevelDBRepository) LoadRemote(ctx context.Context, key CacheKey) ([]byte, bool, error) {
	value, err := r.db.Get([]byte(remotePrefix+key.String()), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load remote cache entry %s: %w", key, err)
	}
	return value, true, nil
}

// SaveRemote stores a remote answer
func (r *LevelDBRepository) SaveRemote(ctx context.Context, key CacheKey, value []byte) error {
	if err := r.db.Put([]byte(remotePrefix+key.String()), value, nil); err != nil {
		return fmt.Errorf("failed to save remote cache entry %s: %w", key, err)
	}
	return nil
}

func simulationKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", simulationPrefix, sessionID, seq))
}

// SaveSimulation archives one top-level call result
func (r *LevelDBRepository) SaveSimulation(ctx context.Context, record *models.SimulationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal simulation: %w", err)
	}
	if err := r.db.Put(simulationKey(record.SessionID, record.Seq), data, nil); err != nil {
		return fmt.Errorf("failed to save simulation: %w", err)
	}
	return nil
}

// ListSimulations lists archived calls of a session in execution order
func (r *LevelDBRepository) ListSimulations(ctx context.Context, sessionID string, limit, offset int) ([]*models.SimulationRecord, error) {
	iter := r.db.NewIterator(util.BytesPrefix([]byte(simulationPrefix+sessionID+"/")), nil)
	defer iter.Release()

	var records []*models.SimulationRecord
	skipped := 0
	for iter.Next() {
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(records) >= limit {
			break
		}
		var rec models.SimulationRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal simulation: %w", err)
		}
		records = append(records, &rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate simulations: %w", err)
	}
	return records, nil
}

// CountSimulations counts archived calls of a session
func (r *LevelDBRepository) CountSimulations(ctx context.Context, sessionID string) (int, error) {
	iter := r.db.NewIterator(util.BytesPrefix([]byte(simulationPrefix+sessionID+"/")), nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		count++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("failed to count simulations: %w", err)
	}
	return count, nil
}

// Ping reports whether the database is open
func (r *LevelDBRepository) Ping(ctx context.Context) error {
	_, err := r.db.GetProperty("leveldb.stats")
	return err
}

// Close closes the database
func (r *LevelDBRepository) Close() error {
	return r.db.Close()
}
