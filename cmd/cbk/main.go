package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "classbank/internal/cli"
	"classbank/internal/config"
	"classbank/internal/optimistic"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "cbk",
		Short:        "Classbank CLI client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newDashCmd(&apiBase),
		newSettingsCmd(&apiBase),
		newPayCmd(&apiBase),
		newDonateCmd(&apiBase),
		newGoalCmd(&apiBase),
		newProposalsCmd(&apiBase),
		newProposeCmd(&apiBase),
		newVoteCmd(&apiBase),
		newAdminCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a Classbank account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			displayName, err := promptOptional("Display name (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Signup(ctx, email, password, displayName)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `cbk login`.")
				return nil
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Classbank",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Show your balances and open proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Dashboard(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderDashboard(out)
		},
	}
}

func newSettingsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show class settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Settings(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderKV(out)
		},
	}
}

// newPayCmd transfers to a classmate. The local view is updated before the
// commit and rolled back if it fails; with --queue the transfer is stored
// in the offline queue for `cbk sync` instead.
func newPayCmd(apiBase *string) *cobra.Command {
	var account, reason string
	var queue bool
	cmd := &cobra.Command{
		Use:   "pay <to> <amount>",
		Short: "Transfer to a classmate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer")
			}
			idem := uuid.NewString()

			if queue {
				if err := cl.PushQueue(cl.Command{
					Kind:           "transfer",
					ToID:           args[0],
					Account:        account,
					Amount:         amount,
					IdempotencyKey: idem,
				}); err != nil {
					return err
				}
				printInfo("Transfer queued. Run `cbk sync` when online.")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)

			view := optimistic.NewView()
			balanceField := account + "_balance"
			if dash, err := client.Dashboard(ctx, sess.AccessToken); err == nil {
				view.Observe("me", actorBalances(dash))
			}
			handle := view.ApplyOptimistic(optimistic.Mutation{
				Ref:   "me",
				Delta: map[string]int64{balanceField: -amount},
			})
			printInfo(fmt.Sprintf("Sending... balance (pending): %d", view.Value("me", balanceField)))

			out, err := client.Transfer(ctx, sess.AccessToken, args[0], account, amount, reason, idem)
			if err != nil {
				view.Rollback(handle)
				printError(fmt.Sprintf("Transfer failed, balance restored to %d", view.Value("me", balanceField)))
				return err
			}
			if v, ok := out["new_from_balance"].(float64); ok {
				view.Reconcile(handle, map[string]int64{balanceField: int64(v)})
			}
			printSuccess(fmt.Sprintf("Sent %d to %s. New balance: %d", amount, args[0], view.Value("me", balanceField)))
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "cash", "account to transfer from (cash|tokens)")
	cmd.Flags().StringVar(&reason, "reason", "", "note attached to the transfer")
	cmd.Flags().BoolVar(&queue, "queue", false, "queue offline instead of sending now")
	return cmd
}

func newDonateCmd(apiBase *string) *cobra.Command {
	var message string
	var queue bool
	cmd := &cobra.Command{
		Use:   "donate <goal> <amount>",
		Short: "Contribute to a collective goal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer")
			}
			idem := uuid.NewString()

			if queue {
				if err := cl.PushQueue(cl.Command{
					Kind:           "contribute",
					GoalID:         args[0],
					Amount:         amount,
					Message:        message,
					IdempotencyKey: idem,
				}); err != nil {
					return err
				}
				printInfo("Contribution queued. Run `cbk sync` when online.")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Contribute(ctx, sess.AccessToken, args[0], amount, message, idem)
			if err != nil {
				return err
			}
			if progress, ok := out["progress"].(float64); ok {
				printSuccess(fmt.Sprintf("Contributed %d. Goal progress: %d", amount, int64(progress)))
				return nil
			}
			return renderKV(out)
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "note attached to the contribution")
	cmd.Flags().BoolVar(&queue, "queue", false, "queue offline instead of sending now")
	return cmd
}

func newGoalCmd(apiBase *string) *cobra.Command {
	goal := &cobra.Command{
		Use:   "goal",
		Short: "Collective goal commands",
	}

	goal.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a goal and its contributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Goal(ctx, sess.AccessToken, args[0])
			if err != nil {
				return err
			}
			return renderGoal(out)
		},
	})

	var target int64
	create := &cobra.Command{
		Use:   "create <id> <title>",
		Short: "Create a collective goal (admin)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			title := strings.Join(args[1:], " ")
			if _, err := newClient(apiBase).CreateGoal(ctx, sess.AccessToken, args[0], title, target); err != nil {
				return err
			}
			printSuccess("Goal created.")
			return nil
		},
	}
	create.Flags().Int64Var(&target, "target", 0, "target amount")
	goal.AddCommand(create)

	return goal
}

func newProposalsCmd(apiBase *string) *cobra.Command {
	proposals := &cobra.Command{
		Use:     "proposals",
		Short:   "List proposals",
		Aliases: []string{"proposal"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ListProposals(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderProposalList(out)
		},
	}

	proposals.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ProposalDetail(ctx, sess.AccessToken, args[0])
			if err != nil {
				return err
			}
			return renderProposal(out)
		},
	})

	proposals.AddCommand(&cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a rejected proposal you authored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ProposalAction(ctx, sess.AccessToken, args[0], "reopen")
			if err != nil {
				return err
			}
			return renderProposal(out)
		},
	})

	return proposals
}

func newProposeCmd(apiBase *string) *cobra.Command {
	var description string
	var fine int64
	cmd := &cobra.Command{
		Use:   "propose <title>",
		Short: "Submit a class rule proposal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			title := strings.Join(args, " ")
			out, err := newClient(apiBase).CreateProposal(ctx, sess.AccessToken, title, description, fine)
			if err != nil {
				return err
			}
			return renderProposal(out)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "longer explanation of the rule")
	cmd.Flags().Int64Var(&fine, "fine", 0, "fine charged on violation")
	return cmd
}

func newVoteCmd(apiBase *string) *cobra.Command {
	var queue bool
	cmd := &cobra.Command{
		Use:   "vote <proposal> <approve|disapprove>",
		Short: "Cast your ballot on a proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ballot := strings.ToLower(args[1])
			if ballot != "approve" && ballot != "disapprove" {
				return fmt.Errorf("ballot must be approve or disapprove")
			}

			if queue {
				if err := cl.PushQueue(cl.Command{
					Kind:           "vote",
					ProposalID:     args[0],
					Ballot:         ballot,
					IdempotencyKey: uuid.NewString(),
				}); err != nil {
					return err
				}
				printInfo("Vote queued. Run `cbk sync` when online.")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).CastVote(ctx, sess.AccessToken, args[0], ballot)
			if err != nil {
				return err
			}
			return renderProposal(out)
		},
	}
	cmd.Flags().BoolVar(&queue, "queue", false, "queue offline instead of sending now")
	return cmd
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrator commands",
	}

	for _, action := range []struct {
		use, short, path string
	}{
		{"approve <proposal>", "Approve a proposal past its class vote", "approve"},
		{"veto <proposal>", "Veto a proposal, opening the override vote", "veto"},
		{"reset-votes <proposal>", "Clear a proposal's votes and restart deliberation", "reset-votes"},
	} {
		action := action
		admin.AddCommand(&cobra.Command{
			Use:   action.use,
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, err := cl.LoadSession()
				if err != nil {
					return fmt.Errorf("login required: %w", err)
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				out, err := newClient(apiBase).ProposalAction(ctx, sess.AccessToken, args[0], action.path)
				if err != nil {
					return err
				}
				return renderProposal(out)
			},
		})
	}

	admin.AddCommand(&cobra.Command{
		Use:   "delete-proposal <proposal>",
		Short: "Delete a proposal and its votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).DeleteProposal(ctx, sess.AccessToken, args[0]); err != nil {
				return err
			}
			printSuccess("Proposal deleted.")
			return nil
		},
	})

	for _, op := range []struct {
		use, short string
		call       func(ctx context.Context, c *cl.Client, token, actor, account string, amount int64, reason, idem string) (map[string]any, error)
	}{
		{"credit <actor> <amount>", "Credit an actor's balance", func(ctx context.Context, c *cl.Client, token, actor, account string, amount int64, reason, idem string) (map[string]any, error) {
			return c.Credit(ctx, token, actor, account, amount, reason, idem)
		}},
		{"debit <actor> <amount>", "Debit an actor's balance", func(ctx context.Context, c *cl.Client, token, actor, account string, amount int64, reason, idem string) (map[string]any, error) {
			return c.Debit(ctx, token, actor, account, amount, reason, idem)
		}},
	} {
		op := op
		var account, reason string
		cmd := &cobra.Command{
			Use:   op.use,
			Short: op.short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, err := cl.LoadSession()
				if err != nil {
					return fmt.Errorf("login required: %w", err)
				}
				amount, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil || amount <= 0 {
					return fmt.Errorf("amount must be a positive integer")
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				out, err := op.call(ctx, newClient(apiBase), sess.AccessToken, args[0], account, amount, reason, uuid.NewString())
				if err != nil {
					return err
				}
				return renderKV(out)
			},
		}
		cmd.Flags().StringVar(&account, "account", "cash", "account to adjust (cash|tokens)")
		cmd.Flags().StringVar(&reason, "reason", "", "note attached to the adjustment")
		admin.AddCommand(cmd)
	}

	var cash, tokens int64
	reward := &cobra.Command{
		Use:   "reward <actor> <task>",
		Short: "Grant a task reward",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).GrantReward(ctx, sess.AccessToken, args[0], cash, tokens, args[1], uuid.NewString())
			if err != nil {
				return err
			}
			return renderKV(out)
		},
	}
	reward.Flags().Int64Var(&cash, "cash", 0, "cash amount")
	reward.Flags().Int64Var(&tokens, "tokens", 0, "token amount")
	admin.AddCommand(reward)

	return admin
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			queue, err := cl.LoadQueue()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			out, err := newClient(apiBase).SyncReplay(ctx, sess.AccessToken, queue)
			if err != nil {
				return err
			}

			results, _ := out["results"].([]any)
			remaining := make([]cl.Command, 0, len(queue))
			success, dropped := 0, 0
			for i, q := range queue {
				if i < len(results) {
					if r, ok := results[i].(map[string]any); ok {
						if okFlag, _ := r["ok"].(bool); okFlag {
							success++
							continue
						}
						msg, _ := r["error"].(string)
						// A permanent rejection can never succeed on a later
						// sync; keeping it would block the queue forever.
						if permanent, _ := r["permanent"].(bool); permanent {
							dropped++
							printWarn(fmt.Sprintf("Dropped %s from queue: %s", q.Kind, msg))
							continue
						}
						if msg != "" {
							printError(fmt.Sprintf("Sync failed for %s: %s", q.Kind, msg))
						}
					}
				}
				remaining = append(remaining, q)
			}
			if err := cl.SaveQueue(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d dropped=%d remaining=%d", success, dropped, len(remaining)))
			return nil
		},
	}
}
