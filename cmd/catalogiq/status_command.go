package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize task counts per pipeline state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *task.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Uploaded", strconv.Itoa(health.Uploaded)},
					{"Color corrected", strconv.Itoa(health.ColorCorrected)},
					{"Published", strconv.Itoa(health.Published)},
					{"Failed", strconv.Itoa(health.Failed)},
					{"Total", strconv.Itoa(health.Total)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"State", "Tasks"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}
