package game

// ParticipantStats is one seated participant's observable state for the
// operator endpoint.
type ParticipantStats struct {
	ID          uint32  `json:"id"`
	DisplayName string  `json:"display_name"`
	WorldVolume float64 `json:"world_volume"`
	QueueDepth  int     `json:"queue_depth"`
	Dropped     uint64  `json:"dropped"`
}

// RoomStats is a point-in-time view of one room.
type RoomStats struct {
	ID           string             `json:"id"`
	WorldSeed    uint32             `json:"world_seed"`
	HostID       uint32             `json:"host_id"`
	Tick         uint64             `json:"tick"`
	DeadNPCs     int                `json:"dead_npcs"`
	Prisms       int                `json:"prisms"`
	Participants []ParticipantStats `json:"participants"`
}

// Snapshot captures the room's state through the request queue, so it
// is consistent with respect to in-flight mutations. Returns false when
// the room has terminated.
func (r *Room) Snapshot() (RoomStats, bool) {
	ch := make(chan RoomStats, 1)
	if !r.do(func() { ch <- r.snapshot() }) {
		return RoomStats{}, false
	}
	return <-ch, true
}

func (r *Room) snapshot() RoomStats {
	st := RoomStats{
		ID:        r.ID,
		WorldSeed: r.worldSeed,
		HostID:    r.hostID,
		Tick:      r.tick,
		DeadNPCs:  len(r.deadNPCs),
		Prisms:    len(r.prisms),
	}
	for _, id := range r.joinOrder {
		p := r.participants[id]
		st.Participants = append(st.Participants, ParticipantStats{
			ID:          p.id,
			DisplayName: p.name,
			WorldVolume: p.worldVolume,
			QueueDepth:  p.out.Pending(),
			Dropped:     p.out.Dropped(),
		})
	}
	return st
}
