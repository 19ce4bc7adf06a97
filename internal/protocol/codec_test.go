package protocol

import (
	"errors"
	"math"
	"testing"
)

// roundTrip encodes m and decodes the result, failing the test on any
// decode error.
func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	got, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("decode %s: %v", m.Tag(), err)
	}
	if got.Tag() != m.Tag() {
		t.Fatalf("tag changed across round trip: sent %s, got %s", m.Tag(), got.Tag())
	}
	return got
}

func TestJoinGameRoundTrip(t *testing.T) {
	sent := JoinGame{
		DisplayName: "blåhaj",
		Creature:    Creature{Type: "axolotl", Class: "small", Variant: 3, Seed: 0xDEADBEEF},
	}
	got := roundTrip(t, sent).(JoinGame)
	if got != sent {
		t.Fatalf("sent %#v, got %#v", sent, got)
	}
}

func TestWelcomeRoundTrip(t *testing.T) {
	sent := Welcome{
		ParticipantID: 7,
		RoomID:        "room-a",
		WorldSeed:     42,
		NPCSeed:       0x5C17F00D,
		DeadNPCIDs:    []uint32{3, 9, 11},
		Participants: []ParticipantInfo{
			{
				ID:          2,
				DisplayName: "finn",
				Creature:    Creature{Type: "shark", Class: "large"},
				Transform:   Transform{Pos: Vec3{X: 1.25, Y: -2.5, Z: 0.75}, Rot: Vec3{Y: 1.5}, Scale: 1.25},
				WorldVolume: 12.5,
			},
		},
		HostID: 2,
		IsHost: false,
	}
	got := roundTrip(t, sent).(Welcome)
	if got.ParticipantID != sent.ParticipantID || got.RoomID != sent.RoomID {
		t.Fatalf("identity mismatch: %#v", got)
	}
	if got.WorldSeed != sent.WorldSeed || got.NPCSeed != sent.NPCSeed {
		t.Fatalf("seed mismatch: %#v", got)
	}
	if len(got.DeadNPCIDs) != 3 || got.DeadNPCIDs[2] != 11 {
		t.Fatalf("dead NPC list mangled: %#v", got.DeadNPCIDs)
	}
	if len(got.Participants) != 1 {
		t.Fatalf("expected 1 roster entry, got %d", len(got.Participants))
	}
	p := got.Participants[0]
	if p.DisplayName != "finn" || p.Transform.Pos.X != 1.25 || p.WorldVolume != 12.5 {
		t.Fatalf("roster entry mangled: %#v", p)
	}
	if got.HostID != 2 || got.IsHost {
		t.Fatalf("host fields mangled: %#v", got)
	}
}

func TestPositionRoundTripQuantized(t *testing.T) {
	// Values chosen on the quantization grid so equality is exact:
	// position at 0.01, rotation at 0.001, volume at 0.01 granularity.
	sent := Position{
		Transform: Transform{
			Pos:   Vec3{X: 10.25, Y: -3.17, Z: 250.03},
			Rot:   Vec3{X: 0.125, Y: -1.5, Z: 3.141},
			Scale: 1.75,
		},
		HasVolume:   true,
		WorldVolume: 42.5,
	}
	got := roundTrip(t, sent).(Position)
	if got != sent {
		t.Fatalf("sent %#v, got %#v", sent, got)
	}
}

func TestPositionWithoutVolume(t *testing.T) {
	sent := Position{Transform: Transform{Pos: Vec3{X: 1}, Scale: 1}}
	got := roundTrip(t, sent).(Position)
	if got.HasVolume || got.WorldVolume != 0 {
		t.Fatalf("volume should be absent: %#v", got)
	}
}

func TestBatchPositionsRoundTrip(t *testing.T) {
	sent := BatchPositions{
		ServerTime: 1724500000123,
		Entries: []BatchEntry{
			{ID: 1, Transform: Transform{Pos: Vec3{X: 1.5}, Scale: 1}, HasVolume: true, WorldVolume: 2.25},
			{ID: 2, Transform: Transform{Pos: Vec3{Z: -9.99}, Scale: 0.5}},
		},
	}
	got := roundTrip(t, sent).(BatchPositions)
	if got.ServerTime != sent.ServerTime || len(got.Entries) != 2 {
		t.Fatalf("batch mangled: %#v", got)
	}
	if got.Entries[0] != sent.Entries[0] || got.Entries[1] != sent.Entries[1] {
		t.Fatalf("entries mangled: %#v", got.Entries)
	}
}

func TestOpaquePayloadRoundTrips(t *testing.T) {
	snap := roundTrip(t, NPCSnapshot{Tick: 99, Data: []byte{1, 2, 3, 0xFF}}).(NPCSnapshot)
	if snap.Tick != 99 || string(snap.Data) != string([]byte{1, 2, 3, 0xFF}) {
		t.Fatalf("snapshot mangled: %#v", snap)
	}

	ab := roundTrip(t, AbilityStart{ParticipantID: 4, Ability: AbilityCamper, Extras: []byte("terrain:rock")}).(AbilityStart)
	if ab.Ability != AbilityCamper || string(ab.Extras) != "terrain:rock" {
		t.Fatalf("ability mangled: %#v", ab)
	}

	pr := roundTrip(t, PrismPlace{PrismID: "prism-1", PlacerID: 4, Geometry: []byte{9, 8, 7}}).(PrismPlace)
	if pr.PrismID != "prism-1" || pr.PlacerID != 4 || len(pr.Geometry) != 3 {
		t.Fatalf("prism mangled: %#v", pr)
	}
}

func TestChatRoundTrip(t *testing.T) {
	sent := Chat{SenderID: 12, Text: "glub glub 🐟", IsEmoji: false, ShowProximity: true}
	got := roundTrip(t, sent).(Chat)
	if got != sent {
		t.Fatalf("sent %#v, got %#v", sent, got)
	}
}

func TestSmallMessagesRoundTrip(t *testing.T) {
	msgs := []Message{
		PlayerLeave{ParticipantID: 3},
		Ping{ClientTime: 123456789},
		Pong{ClientTime: 123456789, ServerTime: 123456999},
		EatNPC{NPCID: 404},
		NPCDeath{NPCID: 404, EatenBy: 3},
		MapChange{Seed: 77, RequesterID: 3},
		RequestMapChange{},
		HostAssigned{IsHost: true},
		HostChanged{HostID: 5},
		SizeUpdate{ParticipantID: 3, Scale: 1.5},
	}
	for _, sent := range msgs {
		got := roundTrip(t, sent)
		if got != sent {
			t.Fatalf("%s: sent %#v, got %#v", sent.Tag(), sent, got)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":          {},
		"unknown tag":    {0xFF, 0x01, 0x02},
		"truncated ping": {uint8(TagPing), 0x00, 0x01},
		"trailing bytes": append(Encode(Ping{ClientTime: 1}), 0xAA),
	}
	for name, frame := range cases {
		if _, err := Decode(frame); !errors.Is(err, ErrInvalidFrame) {
			t.Fatalf("%s: expected ErrInvalidFrame, got %v", name, err)
		}
	}
}

func TestExtensionRangePassesThrough(t *testing.T) {
	frame := []byte{0x2A, 0xDE, 0xAD, 0xBE, 0xEF}
	m, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode reserved tag: %v", err)
	}
	ext, ok := m.(Extension)
	if !ok {
		t.Fatalf("expected Extension, got %T", m)
	}
	if ext.RawTag != 0x2A || len(ext.Data) != 4 {
		t.Fatalf("extension mangled: %#v", ext)
	}
	re := Encode(ext)
	if string(re) != string(frame) {
		t.Fatalf("extension did not re-encode verbatim: %x vs %x", re, frame)
	}
}

func TestQuantizeHandlesNonFinite(t *testing.T) {
	q := Quantize(Transform{
		Pos:   Vec3{X: math.NaN(), Y: math.Inf(1), Z: math.Inf(-1)},
		Scale: 1,
	})
	if q.Pos.X != 0 {
		t.Fatalf("NaN should quantize to zero, got %v", q.Pos.X)
	}
	if math.IsInf(q.Pos.Y, 0) || math.IsInf(q.Pos.Z, 0) {
		t.Fatalf("infinities should clamp, got %#v", q.Pos)
	}
	if q.Pos.Y <= 0 || q.Pos.Z >= 0 {
		t.Fatalf("clamp lost the sign: %#v", q.Pos)
	}
}

func TestClampVolume(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, MinWorldVolume},
		{-5, MinWorldVolume},
		{math.NaN(), MinWorldVolume},
		{1, 1},
		{500, 500},
		{1000, MaxWorldVolume},
		{5000, MaxWorldVolume},
		{math.Inf(1), MaxWorldVolume},
	}
	for _, tc := range cases {
		if got := ClampVolume(tc.in); got != tc.want {
			t.Fatalf("ClampVolume(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCreatureUpdateRoundTrip(t *testing.T) {
	sent := CreatureUpdate{
		ParticipantID: 9,
		Creature:      Creature{Type: "jelly", Class: "medium", Variant: 1, Seed: 7},
	}
	got := roundTrip(t, sent).(CreatureUpdate)
	if got != sent {
		t.Fatalf("sent %#v, got %#v", sent, got)
	}
}
