package town

import (
	"math"
	"sort"

	"townsquare.app/internal/protocol"
)

// ProximityRadius is the map distance gating proximity chat and call audience.
// Membership is strict: a player at exactly this distance is out of range.
const ProximityRadius = 80.0

// WithinRadius reports whether two locations are in call range of each other.
func WithinRadius(a, b protocol.Location) bool {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx+dy*dy) < ProximityRadius
}

// nearbyIDs returns the ids of players within call range of the reference
// location, excluding the player with selfID. O(players) per call.
func nearbyIDs(players map[string]*Player, ref protocol.Location, selfID string) []string {
	var ids []string
	for id, p := range players {
		if id == selfID {
			continue
		}
		if WithinRadius(p.Location, ref) {
			ids = append(ids, id)
		}
	}
	return ids
}

// SameIDSet reports whether two id lists contain the same ids, order aside.
// Comparing sorted ids instead of slice identity keeps downstream consumers
// from reacting to recomputations that changed nothing.
func SameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
