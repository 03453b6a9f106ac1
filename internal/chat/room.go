// Package chat implements the gated chat rooms: append-only message
// collections per room, usernames keyed by wallet, and live fan-out to
// subscribers.
package chat

// Room identifies a gated chat room.
type Room string

const (
	RoomGoldPartner Room = "gold-partner"
	RoomBoardMember Room = "board-member"
)

// Rooms lists every room in display order.
var Rooms = []Room{RoomGoldPartner, RoomBoardMember}

// Route is the guarded front-end path for the room. Access to the room is
// decided by the route guard on this path.
func (r Room) Route() string {
	return "/" + string(r) + "-room"
}

func (r Room) Valid() bool {
	return r == RoomGoldPartner || r == RoomBoardMember
}

// ParseRoom accepts either the room id or its route.
func ParseRoom(s string) (Room, bool) {
	for _, r := range Rooms {
		if s == string(r) || s == r.Route() {
			return r, true
		}
	}
	return "", false
}
