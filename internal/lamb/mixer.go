package lamb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/etiennedemoulin/nodes-lamb/internal/client"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// Row is the state of one output channel.
type Row struct {
	Channel    int     `json:"channel"`
	InstanceID int64   `json:"instance_id,omitempty"`
	PlayerID   int64   `json:"player_id,omitempty"`
	SawFreq    float64 `json:"saw_freq,omitempty"`
	FilterFreq float64 `json:"filter_freq,omitempty"`
	NumHarm    int64   `json:"num_harm,omitempty"`
	Gain       float64 `json:"gain,omitempty"`
}

// Mixer routes every player of the installation to an output channel and
// follows their state. It is the headless counterpart of a multichannel
// playback node.
type Mixer struct {
	log     *slog.Logger
	slots   *Slots
	players *client.Collection
	globals *client.SharedState
	changed func([]Row)

	mu     sync.Mutex
	states map[int64]*client.SharedState
	subs   []*client.Subscription
}

// NewMixer attaches to globals, subscribes to the players and assigns them
// to channels. changed, if not nil, receives the channel table after every
// change; it runs on the client's callback goroutine.
func NewMixer(ctx context.Context, c *client.Client, channels int, changed func([]Row), log *slog.Logger) (*Mixer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}
	if log == nil {
		log = slog.Default()
	}
	globals, err := c.Attach(ctx, GlobalsSchema)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", GlobalsSchema, err)
	}
	players, err := c.Collection(ctx, PlayerSchema)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", PlayerSchema, err)
	}

	m := &Mixer{
		log:     log,
		slots:   NewSlots(channels),
		players: players,
		globals: globals,
		changed: changed,
		states:  make(map[int64]*client.SharedState),
	}

	m.mu.Lock()
	m.subs = append(m.subs,
		players.OnAttach(m.attach),
		players.OnDetach(m.detach),
		players.OnUpdate(func(*client.SharedState, ir.Values) { m.notify() }),
		globals.OnUpdate(func(ir.Values, map[string]string) { m.notify() }),
	)
	m.mu.Unlock()
	return m, nil
}

// Slots returns the channel allocator.
func (m *Mixer) Slots() *Slots {
	return m.slots
}

// Rows returns one row per channel; free channels carry only Channel.
func (m *Mixer) Rows() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	master, _ := ir.Number(m.globals.Get("master"))
	muted, _ := m.globals.Get("mute").(ir.Bool)

	assignments := m.slots.Assignments()
	rows := make([]Row, len(assignments))
	for ch, id := range assignments {
		rows[ch] = Row{Channel: ch + 1}
		st, ok := m.states[id]
		if id == 0 || !ok {
			continue
		}
		vals := st.Values()
		row := &rows[ch]
		row.InstanceID = id
		row.PlayerID = int64(asInt(vals["id"]))
		row.SawFreq, _ = ir.Number(vals["sawFreq"])
		row.FilterFreq, _ = ir.Number(vals["filterFreq"])
		row.NumHarm = int64(asInt(vals["numHarm"]))
		if !muted {
			volume, _ := ir.Number(vals["volume"])
			row.Gain = volume * master
		}
	}
	return rows
}

// Close stops following the players. Channel assignments are kept.
func (m *Mixer) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (m *Mixer) attach(st *client.SharedState) {
	ch, ok := m.slots.Acquire(st.ID())
	if !ok {
		m.log.Warn("no free channel for player", "instance_id", st.ID())
		return
	}
	m.mu.Lock()
	m.states[st.ID()] = st
	m.mu.Unlock()
	m.log.Info("player assigned", "instance_id", st.ID(), "channel", ch+1)
	m.notify()
}

func (m *Mixer) detach(st *client.SharedState) {
	m.mu.Lock()
	delete(m.states, st.ID())
	m.mu.Unlock()
	if ch, ok := m.slots.Release(st.ID()); ok {
		m.log.Info("player released", "instance_id", st.ID(), "channel", ch+1)
	}
	m.notify()
}

func (m *Mixer) notify() {
	if m.changed != nil {
		m.changed(m.Rows())
	}
}

func asInt(v ir.Value) ir.Int {
	switch n := v.(type) {
	case ir.Int:
		return n
	case ir.Float:
		return ir.Int(n)
	}
	return 0
}
