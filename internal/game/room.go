// Package game owns the authoritative per-room session state:
// participants, world seed, host election, placed prisms, the dead-NPC
// set, and the periodic position broadcast. Each room is single-writer:
// every mutation runs on the room's own goroutine, fed by a serialized
// request queue, so no internal locking is needed.
package game

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"murk/internal/metrics"
	"murk/internal/protocol"
)

// Limits enforced on inbound payloads.
const (
	MaxDisplayName = 32  // octets
	MaxChatText    = 256 // UTF-8 octets
)

var (
	ErrRoomFull    = errors.New("room is full")
	ErrRoomClosed  = errors.New("room is closed")
	ErrDuplicateID = errors.New("participant id already seated")
)

// Config tunes a room.
type Config struct {
	Capacity  int              // max participants, default 32
	TickRate  int              // BATCH_POSITIONS cadence in Hz, default 20
	QueueSize int              // per-participant outbox bound
	Seed      func() uint32    // world seed source, default math/rand
	Now       func() time.Time // clock, default time.Now
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 32
	}
	if c.TickRate <= 0 {
		c.TickRate = 20
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Seed == nil {
		c.Seed = rand.Uint32
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// DeriveNPCSeed maps a world seed to the NPC population seed with one
// xorshift32 step. Stable across releases; clients receive both seeds
// in WELCOME and never recompute it.
func DeriveNPCSeed(worldSeed uint32) uint32 {
	x := worldSeed
	if x == 0 {
		x = 0x9E3779B9 // xorshift has a fixed point at zero
	}
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	return x
}

// JoinRequest seats one participant.
type JoinRequest struct {
	ID          uint32
	DisplayName string
	Creature    protocol.Creature
	Out         *Outbox
}

type abilityState struct {
	active bool
	extras []byte
}

type participant struct {
	id          uint32
	name        string
	creature    protocol.Creature
	transform   protocol.Transform
	worldVolume float64
	joinedAt    time.Time
	lastSeenAt  time.Time
	abilities   map[string]*abilityState
	out         *Outbox
}

type prismState struct {
	placer   uint32
	geometry []byte
}

// Room is one isolated game session.
type Room struct {
	ID  string
	cfg Config
	log *slog.Logger

	requests  chan func()
	done      chan struct{}
	closeOnce sync.Once
	count     atomic.Int32
	onEmpty   func(*Room)

	// Owned by the run loop.
	participants map[uint32]*participant
	joinOrder    []uint32
	worldSeed    uint32
	npcSeed      uint32
	deadNPCs     map[uint32]uint32 // npcID → eater
	prisms       map[string]prismState
	hostID       uint32
	tick         uint64
	dirty        map[uint32]bool
	lastBatchMs  int64
	terminated   bool
}

// NewRoom creates a room around worldSeed and starts its worker.
// onEmpty fires (from the room goroutine) when the last participant
// leaves, after which the room no longer accepts requests.
func NewRoom(id string, worldSeed uint32, cfg Config, onEmpty func(*Room)) *Room {
	r := &Room{
		ID:           id,
		cfg:          cfg.withDefaults(),
		log:          slog.With("room_id", id),
		requests:     make(chan func(), 1024),
		done:         make(chan struct{}),
		onEmpty:      onEmpty,
		participants: make(map[uint32]*participant),
		worldSeed:    worldSeed,
		npcSeed:      DeriveNPCSeed(worldSeed),
		deadNPCs:     make(map[uint32]uint32),
		prisms:       make(map[string]prismState),
		dirty:        make(map[uint32]bool),
	}
	go r.run()
	return r
}

// Len returns the current participant count. Safe from any goroutine.
func (r *Room) Len() int { return int(r.count.Load()) }

// Closed reports whether the room has terminated.
func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Close terminates the room. Queued requests are drained first;
// participant outboxes are closed so write pumps can finish.
func (r *Room) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// do runs fn on the room goroutine, blocking until accepted.
func (r *Room) do(fn func()) bool {
	select {
	case r.requests <- fn:
		return true
	case <-r.done:
		return false
	}
}

// tryDo is do without blocking: position traffic is lossy by design,
// so a full queue just sheds the oldest-value update.
func (r *Room) tryDo(fn func()) bool {
	select {
	case r.requests <- fn:
		return true
	case <-r.done:
		return false
	default:
		return false
	}
}

// Join seats a participant and returns the WELCOME that was enqueued
// on its outbox (the room enqueues it itself so no broadcast can slip
// ahead of it).
func (r *Room) Join(req JoinRequest) (protocol.Welcome, error) {
	type result struct {
		w   protocol.Welcome
		err error
	}
	ch := make(chan result, 1)
	if !r.do(func() {
		w, err := r.join(req)
		ch <- result{w, err}
	}) {
		return protocol.Welcome{}, ErrRoomClosed
	}
	res := <-ch
	return res.w, res.err
}

// Dispatch hands a decoded client frame to the room. Position frames
// are submitted lossily; everything else blocks until queued.
func (r *Room) Dispatch(sender uint32, m protocol.Message) {
	fn := func() { r.handle(sender, m) }
	if _, ok := m.(protocol.Position); ok {
		r.tryDo(fn)
		return
	}
	r.do(fn)
}

// Disconnect removes a participant and runs the departure protocol.
func (r *Room) Disconnect(id uint32, reason string) {
	r.do(func() { r.disconnect(id, reason) })
}

func (r *Room) now() time.Time { return r.cfg.Now() }

func (r *Room) run() {
	interval := time.Second / time.Duration(r.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			r.drain()
			return
		case fn := <-r.requests:
			fn()
			r.checkHostInvariant()
		case <-ticker.C:
			r.broadcastBatch()
		}
	}
}

// drain finishes queued work without accepting more, then releases
// every outbox so write pumps can complete.
func (r *Room) drain() {
	r.terminated = true
	for {
		select {
		case fn := <-r.requests:
			fn()
		default:
			for _, p := range r.participants {
				p.out.Close()
			}
			return
		}
	}
}

func (r *Room) join(req JoinRequest) (protocol.Welcome, error) {
	if r.terminated {
		// Raced with the last disconnect; the hub will pick another room.
		return protocol.Welcome{}, ErrRoomClosed
	}
	if len(r.participants) >= r.cfg.Capacity {
		return protocol.Welcome{}, ErrRoomFull
	}
	if _, exists := r.participants[req.ID]; exists {
		return protocol.Welcome{}, ErrDuplicateID
	}

	now := r.now()
	p := &participant{
		id:          req.ID,
		name:        truncateUTF8(req.DisplayName, MaxDisplayName),
		creature:    req.Creature,
		transform:   protocol.Transform{Scale: 1},
		worldVolume: protocol.MinWorldVolume,
		joinedAt:    now,
		lastSeenAt:  now,
		abilities:   make(map[string]*abilityState),
		out:         req.Out,
	}
	r.participants[req.ID] = p
	r.joinOrder = append(r.joinOrder, req.ID)
	r.count.Add(1)

	if len(r.participants) == 1 {
		r.hostID = req.ID
	}

	w := protocol.Welcome{
		ParticipantID: req.ID,
		RoomID:        r.ID,
		WorldSeed:     r.worldSeed,
		NPCSeed:       r.npcSeed,
		DeadNPCIDs:    r.deadNPCList(),
		HostID:        r.hostID,
		IsHost:        r.hostID == req.ID,
	}
	for _, id := range r.joinOrder {
		if id == req.ID {
			continue
		}
		w.Participants = append(w.Participants, r.info(r.participants[id]))
	}
	p.out.Enqueue(w)

	r.broadcast(protocol.PlayerJoin{Participant: r.info(p)}, req.ID)

	r.log.Info("participant joined",
		"participant_id", req.ID, "name", p.name,
		"host", w.IsHost, "seated", len(r.participants))
	return w, nil
}

func (r *Room) disconnect(id uint32, reason string) {
	p, ok := r.participants[id]
	if !ok {
		return
	}
	delete(r.participants, id)
	delete(r.dirty, id)
	for i, jid := range r.joinOrder {
		if jid == id {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}
	r.count.Add(-1)

	r.broadcast(protocol.PlayerLeave{ParticipantID: id}, 0)

	// The placer is gone, so its structures go with it.
	for prismID, pr := range r.prisms {
		if pr.placer == id {
			delete(r.prisms, prismID)
			r.broadcast(protocol.PrismRemove{PrismID: prismID, PlacerID: id}, 0)
		}
	}

	if r.hostID == id && len(r.participants) > 0 {
		r.electHost()
	}

	p.out.Close()
	r.log.Info("participant left",
		"participant_id", id, "reason", reason, "seated", len(r.participants))

	if len(r.participants) == 0 {
		r.hostID = 0
		r.terminated = true
		r.log.Info("room empty, terminating")
		if r.onEmpty != nil {
			r.onEmpty(r)
		}
		r.Close()
	}
}

// electHost promotes the earliest remaining joiner.
func (r *Room) electHost() {
	r.hostID = r.joinOrder[0]
	r.broadcast(protocol.HostChanged{HostID: r.hostID}, 0)
	if p, ok := r.participants[r.hostID]; ok {
		p.out.Enqueue(protocol.HostAssigned{IsHost: true})
	}
	metrics.HostMigrations.Inc()
	r.log.Info("host migrated", "host_id", r.hostID)
}

// checkHostInvariant recovers from a host entry pointing at a missing
// participant. This indicates a bug, so it logs loudly, but one room's
// corruption must never take the process down.
func (r *Room) checkHostInvariant() {
	if len(r.participants) == 0 {
		return
	}
	if _, ok := r.participants[r.hostID]; ok {
		return
	}
	r.log.Error("host invariant violated, re-electing", "stale_host_id", r.hostID)
	r.electHost()
}

func (r *Room) handle(sender uint32, m protocol.Message) {
	p, ok := r.participants[sender]
	if !ok {
		return // raced with a disconnect
	}
	p.lastSeenAt = r.now()

	switch v := m.(type) {
	case protocol.Position:
		p.transform = v.Transform
		if v.HasVolume {
			p.worldVolume = protocol.ClampVolume(v.WorldVolume)
		}
		r.dirty[sender] = true

	case protocol.SizeUpdate:
		// Legacy path: apply as a visual-scale change, surfaced through
		// the next batch rather than a SIZE_UPDATE rebroadcast.
		p.transform.Scale = v.Scale
		r.dirty[sender] = true

	case protocol.CreatureUpdate:
		p.creature = v.Creature
		r.broadcast(protocol.CreatureUpdate{ParticipantID: sender, Creature: v.Creature}, sender)

	case protocol.Ping:
		p.out.Enqueue(protocol.Pong{ClientTime: v.ClientTime, ServerTime: r.now().UnixMilli()})

	case protocol.EatNPC:
		r.handleEat(sender, v.NPCID)

	case protocol.AbilityStart:
		if !validAbility(v.Ability) {
			r.log.Warn("unknown ability", "participant_id", sender, "ability", v.Ability)
			return
		}
		p.abilities[v.Ability] = &abilityState{active: true, extras: v.Extras}
		r.broadcast(protocol.AbilityStart{ParticipantID: sender, Ability: v.Ability, Extras: v.Extras}, sender)

	case protocol.AbilityStop:
		if !validAbility(v.Ability) {
			return
		}
		if st, ok := p.abilities[v.Ability]; ok {
			st.active = false
			st.extras = v.Extras
		}
		r.broadcast(protocol.AbilityStop{ParticipantID: sender, Ability: v.Ability, Extras: v.Extras}, sender)

	case protocol.PrismPlace:
		if v.PrismID == "" {
			return
		}
		if _, dup := r.prisms[v.PrismID]; dup {
			r.log.Warn("duplicate prism rejected", "prism_id", v.PrismID, "participant_id", sender)
			return
		}
		r.prisms[v.PrismID] = prismState{placer: sender, geometry: v.Geometry}
		r.broadcast(protocol.PrismPlace{PrismID: v.PrismID, PlacerID: sender, Geometry: v.Geometry}, sender)

	case protocol.PrismRemove:
		pr, ok := r.prisms[v.PrismID]
		if !ok || pr.placer != sender {
			r.log.Warn("prism remove denied", "prism_id", v.PrismID, "participant_id", sender)
			return
		}
		delete(r.prisms, v.PrismID)
		r.broadcast(protocol.PrismRemove{PrismID: v.PrismID, PlacerID: sender}, sender)

	case protocol.Chat:
		r.broadcast(protocol.Chat{
			SenderID:      sender,
			Text:          truncateUTF8(v.Text, MaxChatText),
			IsEmoji:       v.IsEmoji,
			ShowProximity: v.ShowProximity,
		}, 0)

	case protocol.RequestMapChange:
		r.mapChange(sender)

	case protocol.MapChange:
		// Clients may ask via either tag; the seed is always ours.
		r.mapChange(sender)

	case protocol.NPCSnapshot:
		if sender != r.hostID {
			r.log.Warn("npc snapshot from non-host dropped", "participant_id", sender, "host_id", r.hostID)
			return
		}
		r.broadcast(v, sender)

	case protocol.NPCSpawn:
		if sender != r.hostID {
			r.log.Warn("npc spawn from non-host dropped", "participant_id", sender, "host_id", r.hostID)
			return
		}
		r.broadcast(v, sender)

	case protocol.Extension:
		// Reserved-range frames are decoded for forward compatibility
		// and intentionally ignored here.

	default:
		r.log.Warn("unhandled message in room", "tag", m.Tag().String(), "participant_id", sender)
	}
}

func (r *Room) mapChange(requester uint32) {
	r.worldSeed = r.cfg.Seed()
	r.npcSeed = DeriveNPCSeed(r.worldSeed)
	r.deadNPCs = make(map[uint32]uint32)
	r.broadcast(protocol.MapChange{Seed: r.worldSeed, RequesterID: requester}, 0)
	metrics.MapChanges.Inc()
	r.log.Info("map changed", "requester_id", requester, "world_seed", r.worldSeed)
}

// broadcastBatch emits one BATCH_POSITIONS frame covering every
// participant whose transform changed since the previous tick. The
// server-time stamp is forced strictly increasing so receivers can
// order batches by it alone.
func (r *Room) broadcastBatch() {
	if len(r.dirty) == 0 {
		return
	}
	ts := r.now().UnixMilli()
	if ts <= r.lastBatchMs {
		ts = r.lastBatchMs + 1
	}
	r.lastBatchMs = ts

	entries := make([]protocol.BatchEntry, 0, len(r.dirty))
	for _, id := range r.joinOrder {
		if !r.dirty[id] {
			continue
		}
		p := r.participants[id]
		entries = append(entries, protocol.BatchEntry{
			ID:          id,
			Transform:   p.transform,
			HasVolume:   true,
			WorldVolume: p.worldVolume,
		})
	}
	clear(r.dirty)
	r.tick++

	r.broadcast(protocol.BatchPositions{ServerTime: ts, Entries: entries}, 0)
}

// broadcast enqueues m for every participant except the given one
// (zero excludes nobody). Enqueue never blocks; slow readers hit the
// outbox drop policy instead of stalling the room.
func (r *Room) broadcast(m protocol.Message, except uint32) {
	for _, id := range r.joinOrder {
		if id == except {
			continue
		}
		r.participants[id].out.Enqueue(m)
	}
}

func (r *Room) info(p *participant) protocol.ParticipantInfo {
	return protocol.ParticipantInfo{
		ID:          p.id,
		DisplayName: p.name,
		Creature:    p.creature,
		Transform:   p.transform,
		WorldVolume: p.worldVolume,
	}
}

func (r *Room) deadNPCList() []uint32 {
	if len(r.deadNPCs) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(r.deadNPCs))
	for id := range r.deadNPCs {
		out = append(out, id)
	}
	return out
}

func validAbility(key string) bool {
	switch key {
	case protocol.AbilitySprinter, protocol.AbilityStacker,
		protocol.AbilityCamper, protocol.AbilityAttacker:
		return true
	}
	return false
}

// truncateUTF8 clamps s to max octets without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
