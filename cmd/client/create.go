package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/discovery"
	"github.com/spf13/cobra"
)

var (
	flagRoomName     string
	flagRadius       float64
	flagDiscoverable bool
	flagAt           string
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a room and wait for someone to join",
	Long: `Create a room with a fresh 8 character code, optionally publish it to
nearby clients, and wait in it for a second participant.

Examples:
  chatme create --name "Study group"
  chatme create --discoverable --at 48.8566,2.3522 --radius 2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := parseLocation(flagAt)
		if err != nil {
			return err
		}
		if flagDiscoverable && loc == nil {
			return fmt.Errorf("a discoverable room needs --at <lat>,<lon>")
		}
		name := flagRoomName
		if name == "" {
			name = "ChatMe room"
		}
		room := discovery.NewRoom(name, flagRadius, flagDiscoverable, loc, "", time.Now())
		fmt.Println(RoomBox(room))

		var publish *discovery.Room
		if flagDiscoverable {
			publish = &room
		}
		return runCall(cmd.Context(), room.ID, publish)
	},
}

func init() {
	createCmd.Flags().StringVar(&flagRoomName, "name", "", "room name shown to nearby clients")
	createCmd.Flags().Float64Var(&flagRadius, "radius", 5, "discovery radius in km")
	createCmd.Flags().BoolVar(&flagDiscoverable, "discoverable", false, "publish the room to nearby clients")
	createCmd.Flags().StringVar(&flagAt, "at", "", "room location as <lat>,<lon>")
}

// parseLocation parses "<lat>,<lon>" in degrees. Empty input means no
// location.
func parseLocation(s string) (*discovery.Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("location %q: want <lat>,<lon>", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("location %q: bad latitude: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("location %q: bad longitude: %w", s, err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("location %q: out of range", s)
	}
	return &discovery.Location{Latitude: lat, Longitude: lon}, nil
}
