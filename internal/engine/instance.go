package engine

import (
	"context"
	"maps"
	"slices"

	"github.com/etiennedemoulin/nodes-lamb/internal/hook"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// instance is a live state object. Owned by the Run goroutine.
type instance struct {
	id      int64
	schema  *schema.Schema
	values  ir.Values // always the full field set
	version uint64
	owner   *Session // nil for server-owned instances

	observers map[int64]*Session
}

func (i *instance) snapshot() protocol.Instance {
	return protocol.Instance{
		ID:      i.id,
		Schema:  i.schema.Name(),
		Values:  i.values.Clone(),
		Version: i.version,
		Owner:   clientID(i.owner),
	}
}

// prepare runs the validation pipeline for a partial update and returns the
// fields that differ from current: coercion and clamping, the schema hook,
// coercion of the hook output, then removal of unchanged fields.
func (e *Engine) prepare(sch *schema.Schema, id int64, s *Session, current, values ir.Values, metadata map[string]string) (ir.Values, error) {
	coerced, err := sch.CoerceValues(values)
	if err != nil {
		return nil, withInstance(err, id)
	}

	hctx := hook.Context{
		Schema:     sch.Name(),
		InstanceID: id,
		ClientID:   clientID(s),
		Source:     metadata["source"],
		Metadata:   metadata,
	}
	merged, err := e.hooks.Run(hctx, coerced, current)
	if err != nil {
		return nil, withInstance(err, id)
	}

	final, err := sch.CoerceValues(merged)
	if err != nil {
		return nil, withInstance(err, id)
	}

	diff := make(ir.Values, len(final))
	for name, v := range final {
		if !ir.Equal(current[name], v) {
			diff[name] = v
		}
	}
	return diff, nil
}

func (e *Engine) create(ctx context.Context, s *Session, schemaName string, initial ir.Values, metadata map[string]string) (*instance, error) {
	sch, err := e.schemas.Get(schemaName)
	if err != nil {
		return nil, err
	}

	// The id is allocated only once validation succeeded, so failed
	// creations leave no gaps.
	pendingID := e.instanceIDs.Current() + 1
	values := sch.Defaults()
	diff, err := e.prepare(sch, pendingID, s, values, initial, metadata)
	if err != nil {
		return nil, err
	}
	maps.Copy(values, diff)

	inst := &instance{
		id:        e.instanceIDs.Next(),
		schema:    sch,
		values:    values,
		owner:     s,
		observers: make(map[int64]*Session),
	}
	e.instances[inst.id] = inst
	e.members[schemaName] = append(e.members[schemaName], inst.id)
	if s != nil {
		inst.observers[s.ID] = s
		s.observing[inst.id] = struct{}{}
		s.owned[inst.id] = struct{}{}
	}

	desc := sch.Describe()
	for _, sub := range e.sortedSubscribers(schemaName) {
		sub.push(protocol.Message{
			Type:       protocol.InstanceCreated,
			InstanceID: inst.id,
			Schema:     schemaName,
			Values:     inst.values.Clone(),
			Version:    inst.version,
			Definition: &desc,
		})
	}

	e.record(Event{
		Kind:       EventCreated,
		InstanceID: inst.id,
		Schema:     schemaName,
		ClientID:   clientID(s),
		Version:    inst.version,
		Values:     inst.values.Clone(),
		Metadata:   metadata,
	})
	e.log.Debug("instance created", "instance_id", inst.id, "schema", schemaName, "client_id", clientID(s))
	return inst, nil
}

// lookup resolves a live instance id.
func (e *Engine) lookup(id int64) (*instance, error) {
	if inst, ok := e.instances[id]; ok {
		return inst, nil
	}
	if _, gone := e.tombstones[id]; gone {
		return nil, errGone(id)
	}
	return nil, errNotFound(id, "no instance with this id")
}

// observes reports whether s receives the updates of inst: as observer or
// as collection subscriber of its schema.
func (e *Engine) observes(s *Session, inst *instance) bool {
	if s == nil {
		return true
	}
	if _, ok := inst.observers[s.ID]; ok {
		return true
	}
	_, ok := s.subscribed[inst.schema.Name()]
	return ok
}

func (e *Engine) attach(s *Session, target Target) (*instance, error) {
	var inst *instance
	if target.InstanceID != 0 {
		found, err := e.lookup(target.InstanceID)
		if err != nil {
			return nil, err
		}
		inst = found
	} else {
		if _, err := e.schemas.Get(target.Schema); err != nil {
			return nil, err
		}
		ids := e.members[target.Schema]
		if len(ids) == 0 {
			return nil, &ir.Error{Code: ir.CodeNotFound, Message: "no live instance of this schema", Schema: target.Schema}
		}
		inst = e.instances[ids[0]]
	}

	if s != nil {
		inst.observers[s.ID] = s
		s.observing[inst.id] = struct{}{}
	}
	e.log.Debug("instance attached", "instance_id", inst.id, "schema", inst.schema.Name(), "client_id", clientID(s))
	return inst, nil
}

func (e *Engine) detach(ctx context.Context, s *Session, id int64) error {
	inst, err := e.lookup(id)
	if err != nil {
		return err
	}
	if s == nil || inst.owner == s {
		e.delete(ctx, s, inst)
		return nil
	}
	if _, ok := inst.observers[s.ID]; !ok {
		return errNotFound(id, "instance is not attached")
	}
	delete(inst.observers, s.ID)
	delete(s.observing, id)
	e.log.Debug("instance detached", "instance_id", id, "client_id", s.ID)
	return nil
}

func (e *Engine) update(ctx context.Context, s *Session, id int64, values ir.Values, metadata map[string]string) (Commit, error) {
	inst, err := e.lookup(id)
	if err != nil {
		return Commit{}, err
	}
	if !e.observes(s, inst) {
		return Commit{}, errNotFound(id, "instance is not attached")
	}

	diff, err := e.prepare(inst.schema, inst.id, s, inst.values, values, metadata)
	if err != nil {
		e.log.Debug("update rejected", "instance_id", id, "client_id", clientID(s), "error", err)
		return Commit{}, err
	}
	if len(diff) == 0 {
		return Commit{InstanceID: id, Values: diff, Version: inst.version}, nil
	}

	maps.Copy(inst.values, diff)
	inst.version++

	for _, obs := range e.audience(inst) {
		obs.push(protocol.Message{
			Type:       protocol.StateUpdated,
			InstanceID: id,
			Schema:     inst.schema.Name(),
			Values:     diff.Clone(),
			Version:    inst.version,
			Metadata:   maps.Clone(metadata),
		})
	}

	e.record(Event{
		Kind:       EventUpdated,
		InstanceID: id,
		Schema:     inst.schema.Name(),
		ClientID:   clientID(s),
		Version:    inst.version,
		Values:     diff.Clone(),
		Metadata:   metadata,
	})
	e.log.Debug("instance updated", "instance_id", id, "version", inst.version, "values", diff)
	return Commit{InstanceID: id, Values: diff.Clone(), Version: inst.version}, nil
}

func (e *Engine) deleteOwned(ctx context.Context, s *Session, id int64) error {
	inst, err := e.lookup(id)
	if err != nil {
		return err
	}
	if s != nil && inst.owner != s {
		if !e.observes(s, inst) {
			return errNotFound(id, "instance is not attached")
		}
		return &ir.Error{Code: ir.CodeProtocol, Message: "only the owner may delete an instance", InstanceID: id}
	}
	e.delete(ctx, s, inst)
	return nil
}

// delete removes inst, notifies its audience and tombstones the id.
func (e *Engine) delete(ctx context.Context, s *Session, inst *instance) {
	audience := e.audience(inst)

	delete(e.instances, inst.id)
	e.tombstones[inst.id] = struct{}{}
	name := inst.schema.Name()
	e.members[name] = slices.DeleteFunc(e.members[name], func(id int64) bool { return id == inst.id })
	for _, obs := range inst.observers {
		delete(obs.observing, inst.id)
	}
	if inst.owner != nil {
		delete(inst.owner.owned, inst.id)
	}

	for _, obs := range audience {
		obs.push(protocol.Message{Type: protocol.StateDeleted, InstanceID: inst.id, Schema: name})
	}

	e.record(Event{
		Kind:       EventDeleted,
		InstanceID: inst.id,
		Schema:     name,
		ClientID:   clientID(s),
		Version:    inst.version,
	})
	e.log.Debug("instance deleted", "instance_id", inst.id, "schema", name, "client_id", clientID(s))
}

// audience returns the observers and collection subscribers of inst, each
// once, by ascending client id.
func (e *Engine) audience(inst *instance) []*Session {
	seen := make(map[int64]*Session, len(inst.observers))
	for id, s := range inst.observers {
		seen[id] = s
	}
	for id, s := range e.subscribers[inst.schema.Name()] {
		seen[id] = s
	}
	return sortedSessions(seen)
}

func (e *Engine) sortedSubscribers(schemaName string) []*Session {
	return sortedSessions(e.subscribers[schemaName])
}

func sortedSessions(m map[int64]*Session) []*Session {
	ids := slices.Sorted(maps.Keys(m))
	out := make([]*Session, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}

func (e *Engine) subscribe(s *Session, schemaName string) ([]protocol.Instance, error) {
	if _, err := e.schemas.Get(schemaName); err != nil {
		return nil, err
	}
	if s != nil {
		subs := e.subscribers[schemaName]
		if subs == nil {
			subs = make(map[int64]*Session)
			e.subscribers[schemaName] = subs
		}
		subs[s.ID] = s
		s.subscribed[schemaName] = struct{}{}
	}

	ids := e.members[schemaName]
	out := make([]protocol.Instance, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.instances[id].snapshot())
	}
	e.log.Debug("collection subscribed", "schema", schemaName, "client_id", clientID(s), "members", len(out))
	return out, nil
}

func (e *Engine) unsubscribe(s *Session, schemaName string) error {
	if _, err := e.schemas.Get(schemaName); err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	delete(e.subscribers[schemaName], s.ID)
	delete(s.subscribed, schemaName)
	return nil
}

func (e *Engine) disconnect(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	if _, ok := e.sessions[s.ID]; !ok {
		return
	}

	// Owned instances first, in creation order, so peers see deletions
	// deterministically.
	for _, id := range slices.Sorted(maps.Keys(s.owned)) {
		if inst, ok := e.instances[id]; ok {
			e.delete(ctx, s, inst)
		}
	}
	for id := range s.observing {
		if inst, ok := e.instances[id]; ok {
			delete(inst.observers, s.ID)
		}
	}
	for name := range s.subscribed {
		delete(e.subscribers[name], s.ID)
	}
	clear(s.observing)
	clear(s.subscribed)

	delete(e.sessions, s.ID)
	s.outbox.Close()
	e.log.Info("session disconnected", "client_id", s.ID, "token", s.Token)
}

func (e *Engine) record(ev Event) {
	if e.recorder == nil {
		return
	}
	ev.Seq = e.seq.Next()
	e.records.Enqueue(recording{event: ev})
}
