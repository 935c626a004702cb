package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipway-dev/shipway/internal/status"
	"github.com/shipway-dev/shipway/internal/wip"
)

var wipCmd = &cobra.Command{
	Use:   "wip",
	Short: "Manage epic assignment and agent work-in-progress",
}

var wipAssignCmd = &cobra.Command{
	Use:   "assign <epic-id> [agent-id]",
	Short: "Assign an epic to an agent, queueing if the agent is at its limit",
	Long: `Assign a contracts-locked (or parked) epic to an agent. With a free
slot the epic starts implementing; otherwise it joins the agent's FIFO
queue. Without an agent ID the free agent with the smallest ID is
picked.

Exits 0 when assigned, 1 when queued.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWIPAssign,
}

var wipParkCmd = &cobra.Command{
	Use:   "park <epic-id>",
	Short: "Park an implementing epic, freeing its agent's slot",
	Long: `Park an implementing epic with a reason. The agent's slot is freed
and the earliest epic queued for that agent is assigned in its place.
A parked epic resumes only through a new 'wip assign'.`,
	Args: cobra.ExactArgs(1),
	RunE: runWIPPark,
}

var wipDoneCmd = &cobra.Command{
	Use:   "done <epic-id>",
	Short: "Mark an implementing epic done and drain the agent's queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runWIPDone,
}

var wipListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show agents, active epics, and queues",
	Args:  cobra.NoArgs,
	RunE:  runWIPList,
}

var wipAgentCmd = &cobra.Command{
	Use:   "agent <agent-id>",
	Short: "Register an agent with a WIP limit",
	Args:  cobra.ExactArgs(1),
	RunE:  runWIPAgent,
}

var (
	wipParkReason string
	wipAgentMax   int
)

func init() {
	wipParkCmd.Flags().StringVar(&wipParkReason, "reason", "", "why the epic is parked (required)")
	wipParkCmd.MarkFlagRequired("reason")
	wipAgentCmd.Flags().IntVar(&wipAgentMax, "max-epics", 0, "WIP limit (default from config)")

	wipCmd.AddCommand(wipAssignCmd, wipParkCmd, wipDoneCmd, wipListCmd, wipAgentCmd)
	rootCmd.AddCommand(wipCmd)
}

func runWIPAssign(cmd *cobra.Command, args []string) error {
	if err := checkProjectDir(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	agentID := ""
	if len(args) > 1 {
		agentID = args[1]
	}

	res, err := a.sched.Assign(cmd.Context(), args[0], agentID)
	if err != nil {
		return err
	}
	fmt.Println(res.String())
	if res.Outcome == wip.OutcomeQueued {
		return ErrHalted
	}
	return nil
}

func runWIPPark(cmd *cobra.Command, args []string) error {
	if err := checkProjectDir(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	drained, err := a.sched.Park(cmd.Context(), args[0], wipParkReason)
	if err != nil {
		return err
	}
	fmt.Printf("epic %s parked: %s\n", args[0], wipParkReason)
	if drained != nil {
		fmt.Println(drained.String())
	}
	return nil
}

func runWIPDone(cmd *cobra.Command, args []string) error {
	if err := checkProjectDir(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	drained, err := a.sched.Complete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("epic %s done\n", args[0])
	if drained != nil {
		fmt.Println(drained.String())
	}
	return nil
}

func runWIPList(cmd *cobra.Command, args []string) error {
	if err := checkProjectDir(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.sched.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(status.RenderWIP(snap))
	return nil
}

func runWIPAgent(cmd *cobra.Command, args []string) error {
	if err := checkProjectDir(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	max := wipAgentMax
	if max <= 0 {
		max = a.cfg.Scheduler.MaxEpicsPerAgent
	}
	agent, err := a.tracker.EnsureAgent(cmd.Context(), args[0], max)
	if err != nil {
		return err
	}
	fmt.Printf("agent %s registered (max %d epic(s))\n", agent.ID, agent.MaxEpics)
	return nil
}
