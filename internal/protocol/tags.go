package protocol

import "fmt"

// Tag is the one-byte message discriminator. Values are wire-stable:
// new tags must be appended, never renumbered.
type Tag uint8

const (
	TagJoinGame         Tag = 0x01
	TagWelcome          Tag = 0x02
	TagPlayerJoin       Tag = 0x03
	TagPlayerLeave      Tag = 0x04
	TagPosition         Tag = 0x05
	TagBatchPositions   Tag = 0x06
	TagCreatureUpdate   Tag = 0x07
	TagSizeUpdate       Tag = 0x08 // legacy; worldVolume in BATCH_POSITIONS is authoritative
	TagPing             Tag = 0x09
	TagPong             Tag = 0x0A
	TagNPCSpawn         Tag = 0x0B
	TagNPCDeath         Tag = 0x0C
	TagEatNPC           Tag = 0x0D
	TagMapChange        Tag = 0x0E
	TagRequestMapChange Tag = 0x0F
	TagHostAssigned     Tag = 0x10
	TagHostChanged      Tag = 0x11
	TagNPCSnapshot      Tag = 0x12
	TagAbilityStart     Tag = 0x13
	TagAbilityStop      Tag = 0x14
	TagPrismPlace       Tag = 0x15
	TagPrismRemove      Tag = 0x16
	TagChat             Tag = 0x17
)

// Reserved extension range. Frames tagged inside it decode to an
// Extension record and are ignored by rooms; anything else outside the
// known set is an invalid frame.
const (
	TagExtensionMin Tag = 0x20
	TagExtensionMax Tag = 0x3F
)

func (t Tag) String() string {
	switch t {
	case TagJoinGame:
		return "JOIN_GAME"
	case TagWelcome:
		return "WELCOME"
	case TagPlayerJoin:
		return "PLAYER_JOIN"
	case TagPlayerLeave:
		return "PLAYER_LEAVE"
	case TagPosition:
		return "POSITION"
	case TagBatchPositions:
		return "BATCH_POSITIONS"
	case TagCreatureUpdate:
		return "CREATURE_UPDATE"
	case TagSizeUpdate:
		return "SIZE_UPDATE"
	case TagPing:
		return "PING"
	case TagPong:
		return "PONG"
	case TagNPCSpawn:
		return "NPC_SPAWN"
	case TagNPCDeath:
		return "NPC_DEATH"
	case TagEatNPC:
		return "EAT_NPC"
	case TagMapChange:
		return "MAP_CHANGE"
	case TagRequestMapChange:
		return "REQUEST_MAP_CHANGE"
	case TagHostAssigned:
		return "HOST_ASSIGNED"
	case TagHostChanged:
		return "HOST_CHANGED"
	case TagNPCSnapshot:
		return "NPC_SNAPSHOT"
	case TagAbilityStart:
		return "ABILITY_START"
	case TagAbilityStop:
		return "ABILITY_STOP"
	case TagPrismPlace:
		return "PRISM_PLACE"
	case TagPrismRemove:
		return "PRISM_REMOVE"
	case TagChat:
		return "CHAT"
	}
	if t >= TagExtensionMin && t <= TagExtensionMax {
		return fmt.Sprintf("EXT_%02X", uint8(t))
	}
	return fmt.Sprintf("UNKNOWN_%02X", uint8(t))
}
