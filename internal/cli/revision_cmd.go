package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/noah-isme/perf-eval-api/internal/dto"
	"github.com/noah-isme/perf-eval-api/internal/models"
)

type workflowFlags struct {
	periodID    string
	employeeID  string
	step        string
	evaluatorID string
	comment     string
	actor       string
}

func (f *workflowFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.periodID, "period", "", "evaluation period id")
	cmd.Flags().StringVar(&f.employeeID, "employee", "", "evaluatee employee id")
	cmd.Flags().StringVar(&f.step, "step", "", "criteria, self, primary or secondary")
	cmd.Flags().StringVar(&f.comment, "comment", "", "comment recorded with the action")
	_ = cmd.MarkFlagRequired("period")
	_ = cmd.MarkFlagRequired("employee")
	_ = cmd.MarkFlagRequired("step")
}

// RevisionCmd groups the administrative revision request commands.
func RevisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revision",
		Short: "Request, complete and inspect revision requests",
	}
	cmd.AddCommand(revisionCompleteForCmd())
	cmd.AddCommand(revisionUnreadCmd())
	return cmd
}

func revisionCompleteForCmd() *cobra.Command {
	var flags workflowFlags
	cmd := &cobra.Command{
		Use:   "complete-for",
		Short: "Complete an evaluator's open revision request by business keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := models.ParseStep(flags.step)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.revisions.CompleteFor(cmd.Context(), dto.CompleteForRequest{
				EvaluationPeriodID: flags.periodID,
				EmployeeID:         flags.employeeID,
				EvaluatorID:        flags.evaluatorID,
				Step:               step,
				Comment:            flags.comment,
			})
			if err != nil {
				return err
			}
			printCompletion(cmd.OutOrStdout(), result)
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&flags.evaluatorID, "evaluator", "", "recipient completing the revision")
	_ = cmd.MarkFlagRequired("evaluator")
	return cmd
}

func revisionUnreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread <recipient-id>",
		Short: "Show a recipient's unread revision requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			count, err := rt.revisions.CountUnread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			unread := false
			list, err := rt.revisions.ListMine(cmd.Context(), args[0], dto.MyRevisionRequestQuery{IsRead: &unread})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s unread\n", color.New(color.FgYellow).Sprint(count))
			for _, item := range list.Items {
				fmt.Fprintf(out, "  %s  %-9s %s (%s)  %q\n",
					item.Request.ID, item.Request.Step, item.Employee.Name, item.Period.Name, item.Request.Comment)
			}
			if list.Skipped > 0 {
				fmt.Fprintf(out, "  %s %d request(s) reference missing employees or periods\n",
					color.New(color.FgRed).Sprint("!"), list.Skipped)
			}
			return nil
		},
	}
}

// StepCmd moves workflow steps.
func StepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Change workflow step statuses",
	}
	cmd.AddCommand(stepUpdateCmd())
	return cmd
}

func stepUpdateCmd() *cobra.Command {
	var (
		flags  workflowFlags
		status string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Move a step to a new status; revision_requested notifies the step owners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := models.ParseStep(flags.step)
			if err != nil {
				return err
			}
			next, err := models.ParseStepStatus(status)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.workflow.UpdateStep(cmd.Context(), dto.UpdateStepRequest{
				EvaluationPeriodID: flags.periodID,
				EmployeeID:         flags.employeeID,
				Step:               step,
				Status:             next,
				Comment:            flags.comment,
				EvaluatorID:        flags.evaluatorID,
				UpdatedBy:          flags.actor,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			current, _ := result.Ledger.StatusOf(step)
			fmt.Fprintf(out, "%s %s is now %s\n", color.New(color.FgGreen).Sprint("✓"), step, current)
			for _, req := range result.RevisionRequests {
				for _, rc := range req.Recipients {
					fmt.Fprintf(out, "  requested %s from %s (%s)\n", req.ID, rc.RecipientID, rc.RecipientType)
				}
			}
			for _, failed := range result.Failed {
				fmt.Fprintf(out, "  %s %s (%s): %s\n", color.New(color.FgRed).Sprint("failed"),
					failed.RecipientID, failed.RecipientType, failed.Error)
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&status, "status", "", "pending, approved, revision_requested or revision_completed")
	cmd.Flags().StringVar(&flags.evaluatorID, "evaluator", "", "secondary evaluator to target")
	cmd.Flags().StringVar(&flags.actor, "actor", "", "user performing the change")
	_ = cmd.MarkFlagRequired("status")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func printCompletion(out io.Writer, result *dto.CompletionResult) {
	mark := color.New(color.FgYellow).Sprint("…")
	state := "waiting on other recipients"
	if result.Resolved {
		mark = color.New(color.FgGreen).Sprint("✓")
		state = "resolved"
	}
	fmt.Fprintf(out, "%s revision %s %s\n", mark, result.Request.ID, state)
	for _, id := range result.AutoCompleted {
		fmt.Fprintf(out, "  also completed linked recipient %s\n", id)
	}
}
