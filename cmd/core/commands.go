package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wzl2223096755/AFitness-sub001/internal/models"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// enqueueCmd queues one mutation.
func newEnqueueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <domain> <action> [json-payload]",
		Short: "Queue a mutation for the next sync",
		Example: `  afitness enqueue training create '{"exercise":"squat","reps":10}'
  afitness enqueue nutrition delete '{"id":"meal-42"}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := models.Domain(args[0])
			if !domain.IsValid() {
				return fmt.Errorf("unknown domain %q (want training, nutrition or recovery)", args[0])
			}
			action := models.Action(args[1])
			if !action.IsValid() {
				return fmt.Errorf("unknown action %q (want create, update or delete)", args[1])
			}
			var data interface{}
			if len(args) == 3 {
				data = json.RawMessage(args[2])
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.Facade.Add(cmd.Context(), domain, action, data)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// listCmd prints queued items in send order.
func newListCmd(opts *rootOptions) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued items in send order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter []models.ItemStatus
			for _, s := range statuses {
				status := models.ItemStatus(s)
				if !status.IsValid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter = append(filter, status)
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			items := a.Queue.List(filter...)
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), items)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDOMAIN\tACTION\tSTATUS\tATTEMPTS\tCREATED\tLAST ERROR")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					it.ID, it.Domain, it.Action, it.Status, it.Attempts,
					it.CreatedAt.Local().Format("2006-01-02 15:04:05"), it.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "only show items with these statuses")
	return cmd
}

// statusCmd prints queue counts and the last sync time.
func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and the last successful sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			state := a.Facade.State()
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), state)
			}

			out := cmd.OutOrStdout()
			stats := a.Queue.Stats()
			fmt.Fprintf(out, "Status:    %s\n", state.Status)
			fmt.Fprintf(out, "Pending:   %d\n", stats.Pending+stats.InFlight)
			fmt.Fprintf(out, "Failed:    %d\n", stats.Failed)
			if state.LastSyncTime != nil {
				fmt.Fprintf(out, "Last sync: %s\n", state.LastSyncTime.Local().Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "Last sync: never")
			}
			return nil
		},
	}
}

// syncCmd drains the queue against the backend.
func newSyncCmd(opts *rootOptions) *cobra.Command {
	var assumeOnline bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay the queue against the backend now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if assumeOnline {
				a.Monitor.Set(true)
			} else if !a.CheckConnectivity(cmd.Context()) {
				return fmt.Errorf("backend %s is unreachable; items stay queued", a.Config.Remote.BaseURL)
			}

			res := a.Facade.TriggerSync(cmd.Context())
			if opts.jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Sent %d, failed %d, blocked %d\n", res.Sent, res.Failed, res.Blocked)
			}
			if !res.Success {
				return fmt.Errorf("sync did not complete: %s", res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&assumeOnline, "assume-online", false, "skip the health check")
	return cmd
}

// retryCmd resets failed items.
func newRetryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Return failed items to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Facade.RetryFailed()
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]int{"reset": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d item(s) queued for retry\n", n)
			return nil
		},
	}
}

// discardCmd drops items the user gave up on.
func newDiscardCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <id>...",
		Short: "Drop queued items permanently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.Facade.DiscardFailed(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "discarded %s\n", id)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "afitness v%s\n", Version)
		},
	}
}
