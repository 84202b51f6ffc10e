package main

import (
	"testing"

	"github.com/AmoolyaSuneja/ChatMe/pkg/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    *discovery.Location
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"plain", "48.8566,2.3522", &discovery.Location{Latitude: 48.8566, Longitude: 2.3522}, false},
		{"spaces", " -33.9 , 151.2 ", &discovery.Location{Latitude: -33.9, Longitude: 151.2}, false},
		{"one value", "48.8", nil, true},
		{"not a number", "north,2", nil, true},
		{"out of range", "91,0", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLocation(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatDistance(t *testing.T) {
	assert.Equal(t, "?", formatDistance(-1))
	assert.Equal(t, "250 m", formatDistance(0.25))
	assert.Equal(t, "12.3 km", formatDistance(12.34))
}

func TestSignalURLOffline(t *testing.T) {
	cfg := &config.Config{Client: config.ClientConfig{SignalURL: "ws://relay.local/ws"}}
	assert.Equal(t, "", signalURL(cfg, true))
	assert.Equal(t, cfg.Client.SignalURL, signalURL(cfg, false))
}

func TestRoomsTableEmpty(t *testing.T) {
	assert.Contains(t, RoomsTable(nil, nil), "No rooms nearby")
}

func TestRoomsTableRows(t *testing.T) {
	rooms := []discovery.Nearby{
		{Room: discovery.Room{ID: "ABCD1234", Name: "lobby"}, DistanceKm: 0.5},
		{Room: discovery.Room{ID: "WXYZ9876", Name: "far"}, DistanceKm: -1},
	}
	out := RoomsTable(rooms, func(discovery.Room) string { return "1m0s" })
	assert.Contains(t, out, "ABCD1234")
	assert.Contains(t, out, "500 m")
	assert.Contains(t, out, "WXYZ9876")
}
