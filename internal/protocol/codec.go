package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFrame is wrapped by every decode failure.
var ErrInvalidFrame = errors.New("invalid frame")

// Quantization steps. Applied at encode, honored at decode, so values
// survive a round trip exactly once quantized.
const (
	posScale    = 100  // positions: 1/100 m
	rotScale    = 1000 // rotations: 1/1000 rad
	scaleScale  = 1000 // visual scale: 1/1000
	volumeScale = 100  // world volume: 1/100 m³
)

// World volume bounds in m³.
const (
	MinWorldVolume = 1
	MaxWorldVolume = 1000
)

// ClampVolume forces a world volume into [MinWorldVolume, MaxWorldVolume].
// NaN collapses to the minimum.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) || v < MinWorldVolume {
		return MinWorldVolume
	}
	if v > MaxWorldVolume {
		return MaxWorldVolume
	}
	return v
}

// QuantizeVolume returns the wire representation of a world volume.
func QuantizeVolume(v float64) float64 {
	return float64(uint32(math.Round(ClampVolume(v)*volumeScale))) / volumeScale
}

// Quantize rounds a transform to its wire precision, exactly as
// encoding then decoding it would.
func Quantize(t Transform) Transform {
	return Transform{
		Pos:   Vec3{dequant(quant(t.Pos.X, posScale), posScale), dequant(quant(t.Pos.Y, posScale), posScale), dequant(quant(t.Pos.Z, posScale), posScale)},
		Rot:   Vec3{dequant(quant(t.Rot.X, rotScale), rotScale), dequant(quant(t.Rot.Y, rotScale), rotScale), dequant(quant(t.Rot.Z, rotScale), rotScale)},
		Scale: dequant(quant(t.Scale, scaleScale), scaleScale),
	}
}

// quant maps a float to its fixed-point wire value. NaN becomes zero
// and infinities clamp to the int32 range rather than failing.
func quant(v, scale float64) int32 {
	if math.IsNaN(v) {
		return 0
	}
	q := math.Round(v * scale)
	if q > math.MaxInt32 {
		return math.MaxInt32
	}
	if q < math.MinInt32 {
		return math.MinInt32
	}
	return int32(q)
}

func dequant(q int32, scale float64) float64 {
	return float64(q) / scale
}

// Encode frames a message: tag byte followed by the payload layout for
// that tag. It never fails; out-of-range numerics are clamped or
// rounded by quantization.
func Encode(m Message) []byte {
	w := &writer{buf: make([]byte, 0, 64)}
	w.u8(uint8(m.Tag()))
	switch v := m.(type) {
	case JoinGame:
		w.str8(v.DisplayName)
		w.creature(v.Creature)
	case Welcome:
		w.u32(v.ParticipantID)
		w.str8(v.RoomID)
		w.u32(v.WorldSeed)
		w.u32(v.NPCSeed)
		w.u16(uint16(len(v.DeadNPCIDs)))
		for _, id := range v.DeadNPCIDs {
			w.u32(id)
		}
		w.u16(uint16(len(v.Participants)))
		for _, p := range v.Participants {
			w.participant(p)
		}
		w.u32(v.HostID)
		w.boolean(v.IsHost)
	case PlayerJoin:
		w.participant(v.Participant)
	case PlayerLeave:
		w.u32(v.ParticipantID)
	case Position:
		w.transform(v.Transform)
		w.optVolume(v.HasVolume, v.WorldVolume)
	case BatchPositions:
		w.i64(v.ServerTime)
		w.u16(uint16(len(v.Entries)))
		for _, e := range v.Entries {
			w.u32(e.ID)
			w.transform(e.Transform)
			w.optVolume(e.HasVolume, e.WorldVolume)
		}
	case CreatureUpdate:
		w.u32(v.ParticipantID)
		w.creature(v.Creature)
	case SizeUpdate:
		w.u32(v.ParticipantID)
		w.i32(quant(v.Scale, scaleScale))
	case Ping:
		w.i64(v.ClientTime)
	case Pong:
		w.i64(v.ClientTime)
		w.i64(v.ServerTime)
	case NPCSpawn:
		w.blob32(v.Data)
	case NPCDeath:
		w.u32(v.NPCID)
		w.u32(v.EatenBy)
	case EatNPC:
		w.u32(v.NPCID)
	case MapChange:
		w.u32(v.Seed)
		w.u32(v.RequesterID)
	case RequestMapChange:
	case HostAssigned:
		w.boolean(v.IsHost)
	case HostChanged:
		w.u32(v.HostID)
	case NPCSnapshot:
		w.u64(v.Tick)
		w.blob32(v.Data)
	case AbilityStart:
		w.u32(v.ParticipantID)
		w.str8(v.Ability)
		w.blob32(v.Extras)
	case AbilityStop:
		w.u32(v.ParticipantID)
		w.str8(v.Ability)
		w.blob32(v.Extras)
	case PrismPlace:
		w.str8(v.PrismID)
		w.u32(v.PlacerID)
		w.blob32(v.Geometry)
	case PrismRemove:
		w.str8(v.PrismID)
		w.u32(v.PlacerID)
	case Chat:
		w.u32(v.SenderID)
		w.str16(v.Text)
		w.boolean(v.IsEmoji)
		w.boolean(v.ShowProximity)
	case Extension:
		w.raw(v.Data)
	default:
		panic(fmt.Sprintf("protocol: encode of unhandled message %T", m))
	}
	return w.buf
}

// Decode parses one frame. Unknown tags inside the reserved extension
// range come back as Extension; any other unknown tag, short payload,
// or arity violation is an error wrapping ErrInvalidFrame.
func Decode(frame []byte) (Message, error) {
	if len(frame) < 1 {
		return nil, fmt.Errorf("%w: missing tag byte", ErrInvalidFrame)
	}
	tag := Tag(frame[0])
	r := &reader{buf: frame[1:]}

	var m Message
	switch tag {
	case TagJoinGame:
		m = JoinGame{DisplayName: r.str8(), Creature: r.creature()}
	case TagWelcome:
		v := Welcome{
			ParticipantID: r.u32(),
			RoomID:        r.str8(),
			WorldSeed:     r.u32(),
			NPCSeed:       r.u32(),
		}
		n := int(r.u16())
		for i := 0; i < n && r.err == nil; i++ {
			v.DeadNPCIDs = append(v.DeadNPCIDs, r.u32())
		}
		n = int(r.u16())
		for i := 0; i < n && r.err == nil; i++ {
			v.Participants = append(v.Participants, r.participant())
		}
		v.HostID = r.u32()
		v.IsHost = r.boolean()
		m = v
	case TagPlayerJoin:
		m = PlayerJoin{Participant: r.participant()}
	case TagPlayerLeave:
		m = PlayerLeave{ParticipantID: r.u32()}
	case TagPosition:
		v := Position{Transform: r.transform()}
		v.HasVolume, v.WorldVolume = r.optVolume()
		m = v
	case TagBatchPositions:
		v := BatchPositions{ServerTime: r.i64()}
		n := int(r.u16())
		for i := 0; i < n && r.err == nil; i++ {
			e := BatchEntry{ID: r.u32(), Transform: r.transform()}
			e.HasVolume, e.WorldVolume = r.optVolume()
			v.Entries = append(v.Entries, e)
		}
		m = v
	case TagCreatureUpdate:
		m = CreatureUpdate{ParticipantID: r.u32(), Creature: r.creature()}
	case TagSizeUpdate:
		m = SizeUpdate{ParticipantID: r.u32(), Scale: dequant(r.i32(), scaleScale)}
	case TagPing:
		m = Ping{ClientTime: r.i64()}
	case TagPong:
		m = Pong{ClientTime: r.i64(), ServerTime: r.i64()}
	case TagNPCSpawn:
		m = NPCSpawn{Data: r.blob32()}
	case TagNPCDeath:
		m = NPCDeath{NPCID: r.u32(), EatenBy: r.u32()}
	case TagEatNPC:
		m = EatNPC{NPCID: r.u32()}
	case TagMapChange:
		m = MapChange{Seed: r.u32(), RequesterID: r.u32()}
	case TagRequestMapChange:
		m = RequestMapChange{}
	case TagHostAssigned:
		m = HostAssigned{IsHost: r.boolean()}
	case TagHostChanged:
		m = HostChanged{HostID: r.u32()}
	case TagNPCSnapshot:
		m = NPCSnapshot{Tick: r.u64(), Data: r.blob32()}
	case TagAbilityStart:
		m = AbilityStart{ParticipantID: r.u32(), Ability: r.str8(), Extras: r.blob32()}
	case TagAbilityStop:
		m = AbilityStop{ParticipantID: r.u32(), Ability: r.str8(), Extras: r.blob32()}
	case TagPrismPlace:
		m = PrismPlace{PrismID: r.str8(), PlacerID: r.u32(), Geometry: r.blob32()}
	case TagPrismRemove:
		m = PrismRemove{PrismID: r.str8(), PlacerID: r.u32()}
	case TagChat:
		v := Chat{SenderID: r.u32(), Text: r.str16()}
		v.IsEmoji = r.boolean()
		v.ShowProximity = r.boolean()
		m = v
	default:
		if tag >= TagExtensionMin && tag <= TagExtensionMax {
			data := make([]byte, len(r.buf))
			copy(data, r.buf)
			return Extension{RawTag: tag, Data: data}, nil
		}
		return nil, fmt.Errorf("%w: unknown tag 0x%02X", ErrInvalidFrame, uint8(tag))
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidFrame, tag, r.err)
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("%w: %s payload has %d trailing bytes", ErrInvalidFrame, tag, len(r.buf)-r.off)
	}
	return m, nil
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

// str8 writes a string with a one-byte length prefix, truncating at
// 255 octets. Display names and prism IDs fit comfortably.
func (w *writer) str8(s string) {
	if len(s) > math.MaxUint8 {
		s = s[:math.MaxUint8]
	}
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) str16(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) blob32(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) transform(t Transform) {
	w.i32(quant(t.Pos.X, posScale))
	w.i32(quant(t.Pos.Y, posScale))
	w.i32(quant(t.Pos.Z, posScale))
	w.i32(quant(t.Rot.X, rotScale))
	w.i32(quant(t.Rot.Y, rotScale))
	w.i32(quant(t.Rot.Z, rotScale))
	w.i32(quant(t.Scale, scaleScale))
}

func (w *writer) creature(c Creature) {
	w.str8(c.Type)
	w.str8(c.Class)
	w.u8(c.Variant)
	w.u32(c.Seed)
}

func (w *writer) participant(p ParticipantInfo) {
	w.u32(p.ID)
	w.str8(p.DisplayName)
	w.creature(p.Creature)
	w.transform(p.Transform)
	w.u32(uint32(math.Round(ClampVolume(p.WorldVolume) * volumeScale)))
}

func (w *writer) optVolume(has bool, v float64) {
	w.boolean(has)
	if has {
		w.u32(uint32(math.Round(ClampVolume(v) * volumeScale)))
	}
}

// reader walks a payload with a sticky error: after the first short
// read every subsequent call returns zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("truncated at offset %d (need %d bytes)", r.off, n)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) i32() int32 { return int32(r.u32()) }
func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) boolean() bool {
	switch r.u8() {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = fmt.Errorf("bool field out of range at offset %d", r.off-1)
		}
		return false
	}
}

func (r *reader) str8() string  { return string(r.take(int(r.u8()))) }
func (r *reader) str16() string { return string(r.take(int(r.u16()))) }

func (r *reader) blob32() []byte {
	n := int(r.u32())
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) transform() Transform {
	return Transform{
		Pos:   Vec3{dequant(r.i32(), posScale), dequant(r.i32(), posScale), dequant(r.i32(), posScale)},
		Rot:   Vec3{dequant(r.i32(), rotScale), dequant(r.i32(), rotScale), dequant(r.i32(), rotScale)},
		Scale: dequant(r.i32(), scaleScale),
	}
}

func (r *reader) creature() Creature {
	return Creature{Type: r.str8(), Class: r.str8(), Variant: r.u8(), Seed: r.u32()}
}

func (r *reader) participant() ParticipantInfo {
	return ParticipantInfo{
		ID:          r.u32(),
		DisplayName: r.str8(),
		Creature:    r.creature(),
		Transform:   r.transform(),
		WorldVolume: float64(r.u32()) / volumeScale,
	}
}

func (r *reader) optVolume() (bool, float64) {
	if !r.boolean() {
		return false, 0
	}
	return true, float64(r.u32()) / volumeScale
}
