package game

import (
	"murk/internal/metrics"
	"murk/internal/protocol"
)

// handleEat arbitrates an NPC consumption claim. The first claim for a
// live NPC wins and is broadcast to the whole room; any later claim for
// the same NPC gets a private NPC_DEATH echo carrying the original
// eater, so the losing client converges on the same world state without
// the room double-counting the kill.
func (r *Room) handleEat(sender, npcID uint32) {
	p, ok := r.participants[sender]
	if !ok {
		return
	}

	if eater, dead := r.deadNPCs[npcID]; dead {
		p.out.Enqueue(protocol.NPCDeath{NPCID: npcID, EatenBy: eater})
		r.log.Debug("duplicate eat claim",
			"npc_id", npcID, "claimant_id", sender, "eater_id", eater)
		return
	}

	r.deadNPCs[npcID] = sender
	r.broadcast(protocol.NPCDeath{NPCID: npcID, EatenBy: sender}, 0)
	metrics.NPCDeaths.Inc()
}
