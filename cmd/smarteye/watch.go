package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/smarteye/smarteye/pkg/tui"
)

func NewWatchCommand() *cobra.Command {
	plain := false

	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Watch both workflows live",
		Long:    `Watch step statuses and operator actions as they happen. Output is a single line per event when stderr is not a terminal or --plain is given.`,
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if plain || !term.IsTerminal(int(os.Stderr.Fd())) {
				return tui.Follow(ctx, apiClient, func(line string) { cmd.Println(line) })
			}
			return tui.Watch(ctx, apiClient)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print one line per event instead of the live view")

	return cmd
}
