package journal

import (
	"fmt"
	"maps"
	"slices"

	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
)

// Replay folds the events of one run into the instances still alive after
// the last of them, by ascending id. Owner is the creating client id.
//
// Entries must be in read order and belong to a single run.
func Replay(entries []Entry) ([]protocol.Instance, error) {
	live := make(map[int64]*protocol.Instance)
	for _, e := range entries {
		switch e.Kind {
		case engine.EventCreated:
			if _, ok := live[e.InstanceID]; ok {
				return nil, fmt.Errorf("seq %d: instance %d created twice", e.Seq, e.InstanceID)
			}
			live[e.InstanceID] = &protocol.Instance{
				ID:      e.InstanceID,
				Schema:  e.Schema,
				Values:  e.Values.Clone(),
				Version: e.Version,
				Owner:   e.ClientID,
			}
		case engine.EventUpdated:
			inst, ok := live[e.InstanceID]
			if !ok {
				return nil, fmt.Errorf("seq %d: update of unknown instance %d", e.Seq, e.InstanceID)
			}
			maps.Copy(inst.Values, e.Values)
			inst.Version = e.Version
		case engine.EventDeleted:
			if _, ok := live[e.InstanceID]; !ok {
				return nil, fmt.Errorf("seq %d: delete of unknown instance %d", e.Seq, e.InstanceID)
			}
			delete(live, e.InstanceID)
		default:
			return nil, fmt.Errorf("seq %d: unknown event kind %q", e.Seq, e.Kind)
		}
	}

	ids := slices.Sorted(maps.Keys(live))
	out := make([]protocol.Instance, 0, len(ids))
	for _, id := range ids {
		out = append(out, *live[id])
	}
	return out, nil
}
