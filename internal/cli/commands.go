package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewCapabilitiesCmd создаёт команду просмотра свободных слотов.
func NewCapabilitiesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Show idle slots and live workers per task type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caps, err := clientFn().Capabilities(cmd.Context())
			if err != nil {
				return err
			}

			taskTypes := slices.Sorted(maps.Keys(caps.Capabilities))
			rows := make([][]string, len(taskTypes))
			for i, t := range taskTypes {
				rows[i] = []string{t, strconv.Itoa(caps.Capabilities[t]), strconv.Itoa(caps.WorkerCounts[t])}
			}

			outputFn().Print([]string{"TASK_TYPE", "IDLE", "WORKERS"}, rows, caps)
			return nil
		},
	}
}

// NewWorkersCmd создаёт группу команд для воркеров.
func NewWorkersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect live workers",
	}

	cmd.AddCommand(
		newWorkersListCmd(clientFn, outputFn),
		newWorkersShowCmd(clientFn, outputFn),
	)
	return cmd
}

func newWorkersListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListWorkersOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			workers, err := clientFn().ListWorkers(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(workers))
			for i, w := range workers {
				rows[i] = []string{w.ID, strings.Join(w.Capabilities, ","), strconv.Itoa(w.IdleCount), w.LastSeen}
			}

			outputFn().Print([]string{"ID", "CAPABILITIES", "IDLE", "LAST_SEEN"}, rows, workers)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.TaskType, "task-type", "", "Only workers supporting this task type")
	cmd.Flags().BoolVar(&opts.IdleOnly, "idle", false, "Only idle workers")

	return cmd
}

func newWorkersShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show <worker-id>",
		Short: "Show worker capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := clientFn().GetWorker(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			outputFn().Fields([][2]string{
				{"ID", w.ID},
				{"Capabilities", strings.Join(w.Capabilities, ",")},
				{"Idle", strconv.Itoa(w.IdleCount)},
				{"Timestamp", w.Timestamp},
				{"Last seen", w.LastSeen},
			}, w)
			return nil
		},
	}
}

// NewJobCmd создаёт группу команд для jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Show job status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := clientFn().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			pairs := [][2]string{
				{"ID", j.ID},
				{"Task type", j.TaskType},
				{"Status", j.Status},
				{"Progress", fmt.Sprintf("%.0f%%", j.Progress*100)},
				{"Claimed by", j.ClaimedBy},
				{"Created", j.CreatedAt},
			}
			if j.Error != nil {
				pairs = append(pairs, [2]string{"Error", j.Error.Code + ": " + j.Error.Message})
			}

			outputFn().Fields(pairs, j)
			return nil
		},
	})
	return cmd
}
