package journal

import (
	"context"
	"fmt"

	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// Record appends ev to the current run. A duplicate event is silently
// ignored.
func (s *Store) Record(ctx context.Context, ev engine.Event) error {
	id, err := ir.EventID(string(ev.Kind), ev.InstanceID, ev.Version, ev.Seq, ev.Values)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	state, err := marshalValues(ev.Values)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	meta, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
		(id, run, seq, kind, instance_id, schema_name, client_id, version, state, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run, id) DO NOTHING
	`,
		id,
		s.run,
		ev.Seq,
		string(ev.Kind),
		ev.InstanceID,
		ev.Schema,
		ev.ClientID,
		int64(ev.Version),
		state,
		meta,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
