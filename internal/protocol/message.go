// Package protocol defines the binary wire format shared by server and
// clients: one frame per message, a one-byte tag followed by a fixed
// big-endian payload layout per tag. Numeric fields are quantized at
// encode time, so a decode/encode round trip is byte-identical.
package protocol

// Vec3 is a position or Euler rotation triple.
type Vec3 struct {
	X, Y, Z float64
}

// Transform is the pose channel exchanged for every entity.
type Transform struct {
	Pos   Vec3
	Rot   Vec3 // Euler radians
	Scale float64
}

// Creature is the opaque appearance tuple. The server forwards it
// verbatim and never interprets the fields.
type Creature struct {
	Type    string
	Class   string
	Variant uint8
	Seed    uint32
}

// ParticipantInfo is the snapshot of one seated participant carried in
// WELCOME and PLAYER_JOIN.
type ParticipantInfo struct {
	ID          uint32
	DisplayName string
	Creature    Creature
	Transform   Transform
	WorldVolume float64
}

// Message is one decoded frame.
type Message interface {
	Tag() Tag
}

// JoinGame (C→S) requests a seat in a room.
type JoinGame struct {
	DisplayName string
	Creature    Creature
}

// Welcome (S→C) is the join reply: identity, room seeds, dead-NPC set
// and the current participant roster.
type Welcome struct {
	ParticipantID uint32
	RoomID        string
	WorldSeed     uint32
	NPCSeed       uint32
	DeadNPCIDs    []uint32
	Participants  []ParticipantInfo
	HostID        uint32
	IsHost        bool
}

// PlayerJoin (S→C) announces a new participant to the rest of a room.
type PlayerJoin struct {
	Participant ParticipantInfo
}

// PlayerLeave (S→C) announces a departed participant.
type PlayerLeave struct {
	ParticipantID uint32
}

// Position (C→S) is one transform sample. WorldVolume rides along only
// when HasVolume is set.
type Position struct {
	Transform   Transform
	HasVolume   bool
	WorldVolume float64
}

// BatchEntry is one participant's latest pose inside BATCH_POSITIONS.
type BatchEntry struct {
	ID          uint32
	Transform   Transform
	HasVolume   bool
	WorldVolume float64
}

// BatchPositions (S→C) is the periodic position broadcast. ServerTime
// is the server clock in Unix milliseconds at emission.
type BatchPositions struct {
	ServerTime int64
	Entries    []BatchEntry
}

// CreatureUpdate travels both ways; the server fills ParticipantID in
// before rebroadcasting (clients send it as zero).
type CreatureUpdate struct {
	ParticipantID uint32
	Creature      Creature
}

// SizeUpdate (S→C) is the legacy scale path, kept decodable for old
// clients. New code reads worldVolume from BATCH_POSITIONS.
type SizeUpdate struct {
	ParticipantID uint32
	Scale         float64
}

// Ping (C→S) carries the client send time in Unix milliseconds.
type Ping struct {
	ClientTime int64
}

// Pong (S→C) echoes the client time and stamps the server time.
type Pong struct {
	ClientTime int64
	ServerTime int64
}

// NPCSpawn (S→C) is an opaque passthrough from the room host.
type NPCSpawn struct {
	Data []byte
}

// NPCDeath (S→C) records that an NPC was consumed.
type NPCDeath struct {
	NPCID   uint32
	EatenBy uint32
}

// EatNPC (C→S) claims an NPC kill; the room arbitrates.
type EatNPC struct {
	NPCID uint32
}

// MapChange (S→C broadcast, C→S request) carries the new world seed.
type MapChange struct {
	Seed        uint32
	RequesterID uint32
}

// RequestMapChange (C→S) asks the room to roll a new world seed.
type RequestMapChange struct{}

// HostAssigned (S→C, private) tells a participant it is now the host.
type HostAssigned struct {
	IsHost bool
}

// HostChanged (S→C, broadcast) announces the new host identity.
type HostChanged struct {
	HostID uint32
}

// NPCSnapshot carries the host's NPC simulation state, opaque to the
// server. Only the current host may send it.
type NPCSnapshot struct {
	Tick uint64
	Data []byte
}

// Ability keys understood by rooms.
const (
	AbilitySprinter = "sprinter"
	AbilityStacker  = "stacker"
	AbilityCamper   = "camper"
	AbilityAttacker = "attacker"
)

// AbilityStart toggles an ability on. Extras (color, terrain,
// mimicSeed…) pass through untouched.
type AbilityStart struct {
	ParticipantID uint32
	Ability       string
	Extras        []byte
}

// AbilityStop toggles an ability off.
type AbilityStop struct {
	ParticipantID uint32
	Ability       string
	Extras        []byte
}

// PrismPlace registers a placed structure. Geometry is opaque.
type PrismPlace struct {
	PrismID  string
	PlacerID uint32
	Geometry []byte
}

// PrismRemove removes a placed structure.
type PrismRemove struct {
	PrismID  string
	PlacerID uint32
}

// Chat is a room-wide text message.
type Chat struct {
	SenderID      uint32
	Text          string
	IsEmoji       bool
	ShowProximity bool
}

// Extension is a frame from the reserved tag range: decoded
// generically, ignored by rooms, re-encodable verbatim.
type Extension struct {
	RawTag Tag
	Data   []byte
}

func (JoinGame) Tag() Tag         { return TagJoinGame }
func (Welcome) Tag() Tag          { return TagWelcome }
func (PlayerJoin) Tag() Tag       { return TagPlayerJoin }
func (PlayerLeave) Tag() Tag      { return TagPlayerLeave }
func (Position) Tag() Tag         { return TagPosition }
func (BatchPositions) Tag() Tag   { return TagBatchPositions }
func (CreatureUpdate) Tag() Tag   { return TagCreatureUpdate }
func (SizeUpdate) Tag() Tag       { return TagSizeUpdate }
func (Ping) Tag() Tag             { return TagPing }
func (Pong) Tag() Tag             { return TagPong }
func (NPCSpawn) Tag() Tag         { return TagNPCSpawn }
func (NPCDeath) Tag() Tag         { return TagNPCDeath }
func (EatNPC) Tag() Tag           { return TagEatNPC }
func (MapChange) Tag() Tag        { return TagMapChange }
func (RequestMapChange) Tag() Tag { return TagRequestMapChange }
func (HostAssigned) Tag() Tag     { return TagHostAssigned }
func (HostChanged) Tag() Tag      { return TagHostChanged }
func (NPCSnapshot) Tag() Tag      { return TagNPCSnapshot }
func (AbilityStart) Tag() Tag     { return TagAbilityStart }
func (AbilityStop) Tag() Tag      { return TagAbilityStop }
func (PrismPlace) Tag() Tag       { return TagPrismPlace }
func (PrismRemove) Tag() Tag      { return TagPrismRemove }
func (Chat) Tag() Tag             { return TagChat }
func (e Extension) Tag() Tag      { return e.RawTag }
