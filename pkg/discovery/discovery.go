// Package discovery filters the room directory down to rooms a user can
// see: recent, discoverable and within the room's radius.
package discovery

import (
	"math"
	"sort"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/utils"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Distance.
	EarthRadiusKm = 6371.0

	// RoomMaxAge is how long a published room stays discoverable.
	RoomMaxAge = 3600000 * time.Millisecond

	// DirectoryKey is the store key holding the published rooms.
	DirectoryKey = "localChatRooms"
)

// Location is a WGS84 coordinate in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Room is a published room as stored in the directory.
type Room struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Radius         float64   `json:"radius"` // km
	AllowDiscovery bool      `json:"allowDiscovery"`
	Location       *Location `json:"location,omitempty"`
	CreatedAt      int64     `json:"createdAt"` // unix ms
	Participants   []string  `json:"participants"`
	CreatorID      string    `json:"creatorId,omitempty"`
}

// Age returns how long ago the room was created.
func (r Room) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.CreatedAt))
}

// Expired reports whether the room is older than RoomMaxAge.
func (r Room) Expired(now time.Time) bool {
	return r.Age(now) >= RoomMaxAge
}

// NewRoom builds a room with a fresh code. A room that allows discovery
// needs a location.
func NewRoom(name string, radiusKm float64, allowDiscovery bool, loc *Location, creatorID string, now time.Time) Room {
	return Room{
		ID:             utils.GenerateRoomCode(),
		Name:           name,
		Radius:         radiusKm,
		AllowDiscovery: allowDiscovery,
		Location:       loc,
		CreatedAt:      now.UnixMilli(),
		Participants:   []string{},
		CreatorID:      creatorID,
	}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the great-circle distance between a and b in km.
func Distance(a, b Location) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRadius reports whether b lies within radiusKm of a, inclusive.
func WithinRadius(a, b Location, radiusKm float64) bool {
	return Distance(a, b) <= radiusKm
}

// Active drops rooms that are expired or not discoverable.
func Active(rooms []Room, now time.Time) []Room {
	out := make([]Room, 0, len(rooms))
	for _, r := range rooms {
		if r.AllowDiscovery && !r.Expired(now) {
			out = append(out, r)
		}
	}
	return out
}

// Filter returns the active rooms visible from user. With no user location
// every active room is returned. Rooms without a location are always kept.
func Filter(rooms []Room, user *Location, now time.Time) []Room {
	active := Active(rooms, now)
	if user == nil {
		return active
	}
	out := active[:0]
	for _, r := range active {
		if r.Location == nil || WithinRadius(*user, *r.Location, r.Radius) {
			out = append(out, r)
		}
	}
	return out
}

// Nearby is a room with its distance from the user, -1 when unknown.
type Nearby struct {
	Room
	DistanceKm float64
}

// Rank filters rooms and orders them nearest first; rooms with unknown
// distance sort last.
func Rank(rooms []Room, user *Location, now time.Time) []Nearby {
	visible := Filter(rooms, user, now)
	out := make([]Nearby, 0, len(visible))
	for _, r := range visible {
		d := -1.0
		if user != nil && r.Location != nil {
			d = Distance(*user, *r.Location)
		}
		out = append(out, Nearby{Room: r, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].DistanceKm, out[j].DistanceKm
		switch {
		case di < 0:
			return false
		case dj < 0:
			return true
		}
		return di < dj
	})
	return out
}
