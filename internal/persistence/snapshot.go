package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"UsdnLedger/internal/core"
	"UsdnLedger/internal/ledger"
)

// CheckpointFormat versions the JSON layout of a stored checkpoint.
const CheckpointFormat = 1

// Checkpoint is everything needed to resume the service: the engine state
// and the custody balances it accounts for.
type Checkpoint struct {
	Engine  *core.Snapshot      `json:"engine"`
	Bank    ledger.BankSnapshot `json:"bank"`
	TakenAt time.Time           `json:"taken_at"`
}

// CheckpointStore saves and loads checkpoints.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	LoadLatest(ctx context.Context) (*Checkpoint, error)
}

// SnapshotStore keeps checkpoints in usdn.snapshots, one row per sequence.
type SnapshotStore struct {
	db *sql.DB
}

var _ CheckpointStore = (*SnapshotStore)(nil)

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists cp. Saving the same sequence twice overwrites the row.
func (s *SnapshotStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.Engine == nil {
		return errors.New("save snapshot: missing engine state")
	}
	stateHash, err := hex.DecodeString(cp.Engine.StateHash)
	if err != nil {
		return fmt.Errorf("decode state hash: %w", err)
	}
	prevHash, err := hex.DecodeString(cp.Engine.PrevHash)
	if err != nil {
		return fmt.Errorf("decode prev hash: %w", err)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO usdn.snapshots
			(sequence, state_hash, prev_hash, format_version, size_bytes, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sequence) DO UPDATE SET
			state_hash = EXCLUDED.state_hash, prev_hash = EXCLUDED.prev_hash,
			size_bytes = EXCLUDED.size_bytes, data = EXCLUDED.data, created_at = EXCLUDED.created_at
	`, int64(cp.Engine.Sequence), stateHash, prevHash, CheckpointFormat, len(data), data, cp.TakenAt)
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", cp.Engine.Sequence, err)
	}
	return nil
}

// LoadLatest returns the checkpoint with the highest sequence, or nil when
// the table is empty (cold start).
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*Checkpoint, error) {
	var (
		data    []byte
		version int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM usdn.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != CheckpointFormat {
		return nil, fmt.Errorf("load snapshot: unsupported format %d", version)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &cp, nil
}

// Prune deletes all but the newest keep checkpoints.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM usdn.snapshots
		WHERE sequence NOT IN (SELECT sequence FROM usdn.snapshots ORDER BY sequence DESC LIMIT $1)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
