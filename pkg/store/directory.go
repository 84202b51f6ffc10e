package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/discovery"
)

// Directory is the list of published rooms under discovery.DirectoryKey.
type Directory struct {
	store Store
	mu    sync.Mutex
}

func NewDirectory(s Store) *Directory {
	return &Directory{store: s}
}

// List returns every published room, expired ones included.
func (d *Directory) List(ctx context.Context) ([]discovery.Room, error) {
	data, err := d.store.Get(ctx, discovery.DirectoryKey)
	if errors.Is(err, ErrNotFound) || (err == nil && len(data) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rooms []discovery.Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", discovery.DirectoryKey, err)
	}
	return rooms, nil
}

func (d *Directory) update(ctx context.Context, fn func([]discovery.Room) []discovery.Room) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rooms, err := d.List(ctx)
	if err != nil {
		return err
	}
	rooms = fn(rooms)
	if rooms == nil {
		rooms = []discovery.Room{}
	}
	data, err := json.Marshal(rooms)
	if err != nil {
		return err
	}
	return d.store.Set(ctx, discovery.DirectoryKey, data)
}

// Publish stores room, replacing any room with the same ID.
func (d *Directory) Publish(ctx context.Context, room discovery.Room) error {
	return d.update(ctx, func(rooms []discovery.Room) []discovery.Room {
		return append(without(rooms, room.ID), room)
	})
}

// Remove deletes the room with id.
func (d *Directory) Remove(ctx context.Context, id string) error {
	return d.update(ctx, func(rooms []discovery.Room) []discovery.Room {
		return without(rooms, id)
	})
}

// Find looks a room up by code.
func (d *Directory) Find(ctx context.Context, id string) (*discovery.Room, error) {
	rooms, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		if rooms[i].ID == id {
			return &rooms[i], nil
		}
	}
	return nil, ErrNotFound
}

// Nearby returns the rooms visible from user, nearest first.
func (d *Directory) Nearby(ctx context.Context, user *discovery.Location, now time.Time) ([]discovery.Nearby, error) {
	rooms, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	return discovery.Rank(rooms, user, now), nil
}

// Prune drops rooms older than maxAge and returns how many were removed.
func (d *Directory) Prune(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	removed := 0
	err := d.update(ctx, func(rooms []discovery.Room) []discovery.Room {
		kept := rooms[:0]
		for _, r := range rooms {
			if r.Age(now) < maxAge {
				kept = append(kept, r)
			}
		}
		removed = len(rooms) - len(kept)
		return kept
	})
	return removed, err
}

func without(rooms []discovery.Room, id string) []discovery.Room {
	out := rooms[:0]
	for _, r := range rooms {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
