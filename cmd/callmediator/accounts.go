package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/filter"
	"github.com/hamzaKhattat/call-mediator/internal/store"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func createAccountsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List configured phone accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			accts := cfg.Accounts
			if len(accts) == 0 {
				accts = defaultAccounts()
				fmt.Println(yellow("No accounts configured, showing built-in defaults"))
			}
			accounts, err := cfg.NewAccounts()
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Account", "Label", "Managed", "Video", "Emergency", "Handover", "Priority", "Status"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)

			def := accounts.Default()
			for _, acct := range accts {
				managed := "system"
				if acct.SelfManaged {
					managed = "self"
				}
				status := green("enabled")
				if acct.Disabled {
					status = red("disabled")
				}
				name := acct.Handle.String()
				if acct.Handle == def {
					name = bold(name + " (default)")
				}
				table.Append([]string{
					name,
					acct.Label,
					managed,
					yesNo(acct.SupportsVideo),
					yesNo(acct.EmergencyCapable),
					handoverLabel(acct),
					strconv.Itoa(acct.Priority),
					status,
				})
			}
			table.Render()
			return nil
		},
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func handoverLabel(acct call.Account) string {
	switch {
	case acct.SupportsHandoverFrom && acct.SupportsHandoverTo:
		return "from/to"
	case acct.SupportsHandoverFrom:
		return "from"
	case acct.SupportsHandoverTo:
		return "to"
	default:
		return "-"
	}
}

func createBlockedCommands() *cobra.Command {
	blockedCmd := &cobra.Command{
		Use:   "blocked",
		Short: "Manage the blocked number list",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List blocked numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBlockedNumbers(cmd.Context(), func(ctx context.Context, numbers *store.BlockedNumbers) error {
				list, err := numbers.List(ctx)
				if err != nil {
					return err
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Number", "Reason", "Blocked Since"})
				table.SetBorder(false)
				for _, n := range list {
					table.Append([]string{n.Number, n.Reason, n.CreatedAt.Format(time.RFC3339)})
				}
				for _, n := range cfg.Filter.BlockedNumbers {
					table.Append([]string{filter.NormalizeNumber(n), "configuration", "-"})
				}
				table.Render()
				return nil
			})
		},
	}

	var reason string
	addCmd := &cobra.Command{
		Use:   "add [number]",
		Short: "Block a number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number := filter.NormalizeNumber(args[0])
			if number == "" {
				return errors.New(errors.ErrInvalidArgument, "not a phone number: "+args[0])
			}
			return withBlockedNumbers(cmd.Context(), func(ctx context.Context, numbers *store.BlockedNumbers) error {
				if err := numbers.Block(ctx, number, reason); err != nil {
					return err
				}
				fmt.Printf("%s Blocked %s\n", green("✓"), number)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&reason, "reason", "", "Why the number is blocked")

	removeCmd := &cobra.Command{
		Use:   "remove [number]",
		Short: "Unblock a number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number := filter.NormalizeNumber(args[0])
			return withBlockedNumbers(cmd.Context(), func(ctx context.Context, numbers *store.BlockedNumbers) error {
				if err := numbers.Unblock(ctx, number); err != nil {
					return err
				}
				fmt.Printf("%s Unblocked %s\n", green("✓"), number)
				return nil
			})
		},
	}

	blockedCmd.AddCommand(listCmd, addCmd, removeCmd)
	return blockedCmd
}

func withBlockedNumbers(ctx context.Context, fn func(ctx context.Context, numbers *store.BlockedNumbers) error) error {
	if !cfg.Store.Enabled {
		return errors.New(errors.ErrConfiguration, "the blocked number list needs store.enabled")
	}
	database, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer database.Close()

	if cfg.Store.Migrate {
		if err := store.RunMigrations(database.DB); err != nil {
			return err
		}
	}

	cache := store.NoopCache()
	if cfg.Redis.Enabled {
		if c, err := store.NewCache(ctx, cfg.CacheConfig(), cfg.Redis.Prefix); err == nil {
			cache = c
			defer cache.Close()
		}
	}
	return fn(ctx, store.NewBlockedNumbers(database.DB, cache, cfg.Filter.CacheTTL))
}
