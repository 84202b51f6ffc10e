package main

import (
	"context"
	"fmt"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/discovery"
	"github.com/AmoolyaSuneja/ChatMe/pkg/logger"
	"github.com/AmoolyaSuneja/ChatMe/pkg/store"
	"github.com/spf13/cobra"
)

var flagNear string

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"ls"},
	Short:   "List discoverable rooms near you",
	Long: `List rooms published to the shared store that allow discovery and are
within their radius of your location. Without --near every active room is
listed.

Examples:
  chatme rooms --near 48.8566,2.3522`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := parseLocation(flagNear)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), 10*time.Second)
		defer cancel()
		now := time.Now()
		rooms, err := store.NewDirectory(st).Nearby(ctx, loc, now)
		if err != nil {
			return err
		}
		fmt.Println(RoomsTable(rooms, func(r discovery.Room) string {
			return r.Age(now).Truncate(time.Second).String()
		}))
		return nil
	},
}

func init() {
	roomsCmd.Flags().StringVar(&flagNear, "near", "", "your location as <lat>,<lon>")
}
