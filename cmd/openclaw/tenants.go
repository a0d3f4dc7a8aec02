package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/princevash/openclaw-mt/internal/gateway"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/tenant"
)

func openRegistry() *tenant.Registry {
	return tenant.NewRegistry(flagStateDir)
}

// friendlyErr decorates registry failures with a remedy the operator can act
// on.
func friendlyErr(err error) error {
	switch {
	case errors.Is(err, tenant.ErrInvalidTenantID):
		return fmt.Errorf("%w (ids are 1-32 chars of [a-z0-9_-], starting with a letter or digit)", err)
	case errors.Is(err, tenant.ErrTenantNotFound):
		return fmt.Errorf("%w (run \"openclaw tenants list\" to see registered tenants)", err)
	case errors.Is(err, tenant.ErrTenantExists):
		return fmt.Errorf("%w (use \"openclaw tenants token\" to rotate its credential instead)", err)
	default:
		return err
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage tenant records and credentials",
}

var tenantsCreateCmd = &cobra.Command{
	Use:   "create <tenant-id>",
	Short: "Register a tenant and print its token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		displayName, _ := cmd.Flags().GetString("display-name")

		token, entry, err := openRegistry().Create(args[0], tenant.CreateOptions{DisplayName: displayName})
		if err != nil {
			return friendlyErr(err)
		}

		if flagJSON {
			return printJSON(map[string]any{"tenant": entry.ID, "token": token, "createdAt": entry.CreatedAt})
		}
		fmt.Printf("Tenant %s created.\n", entry.ID)
		fmt.Printf("Token (shown once, store it now): %s\n", token)
		return nil
	},
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := openRegistry()
		ids := reg.List()

		if flagJSON {
			entries := make([]*tenant.Entry, 0, len(ids))
			for _, id := range ids {
				if e := reg.Get(id); e != nil {
					e.TokenHash = ""
					entries = append(entries, e)
				}
			}
			return printJSON(map[string]any{"tenants": entries})
		}

		if len(ids) == 0 {
			fmt.Println("No tenants registered.")
			return nil
		}
		for _, id := range ids {
			e := reg.Get(id)
			if e == nil {
				continue
			}
			status := ""
			if e.Disabled {
				status = " (disabled)"
			}
			fmt.Printf("%s%s\t%s\n", e.ID, status, e.DisplayName)
		}
		return nil
	},
}

var tenantsInfoCmd = &cobra.Command{
	Use:   "info <tenant-id>",
	Short: "Show one tenant's record and usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := openRegistry()
		entry := reg.Get(args[0])
		if entry == nil {
			return friendlyErr(tenant.ErrTenantNotFound)
		}
		entry.TokenHash = ""

		usage, _ := quota.NewLedger(flagStateDir).LoadUsage(entry.ID)

		if flagJSON {
			return printJSON(map[string]any{"tenant": entry, "usage": usage})
		}
		fmt.Printf("Tenant:       %s\n", entry.ID)
		if entry.DisplayName != "" {
			fmt.Printf("Display name: %s\n", entry.DisplayName)
		}
		fmt.Printf("Disabled:     %v\n", entry.Disabled)
		fmt.Printf("Created:      %s\n", entry.CreatedAt.Format(time.RFC3339))
		if usage != nil {
			fmt.Printf("Tokens used:  %d (%s)\n", usage.TotalTokens, usage.Period)
			fmt.Printf("Requests:     %d\n", usage.TotalRequests)
		}
		return nil
	},
}

var tenantsRemoveCmd = &cobra.Command{
	Use:   "remove <tenant-id>",
	Short: "Delete a tenant record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deleteData, _ := cmd.Flags().GetBool("delete-data")
		force, _ := cmd.Flags().GetBool("force")

		if deleteData && !force {
			fmt.Printf("This permanently deletes all state for tenant %s. Type the tenant id to confirm: ", args[0])
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if strings.TrimSpace(line) != args[0] {
				return errors.New("confirmation did not match, aborting")
			}
		}

		if err := openRegistry().Remove(args[0], tenant.RemoveOptions{DeleteData: deleteData}); err != nil {
			return friendlyErr(err)
		}
		if flagJSON {
			return printJSON(map[string]any{"removed": args[0], "deletedData": deleteData})
		}
		fmt.Printf("Tenant %s removed.\n", args[0])
		return nil
	},
}

var tenantsTokenCmd = &cobra.Command{
	Use:   "token <tenant-id>",
	Short: "Rotate a tenant's token and print the new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := openRegistry().Rotate(args[0])
		if err != nil {
			return friendlyErr(err)
		}
		if flagJSON {
			return printJSON(map[string]any{"tenant": args[0], "token": token})
		}
		fmt.Printf("New token for %s (shown once): %s\n", args[0], token)
		return nil
	},
}

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage operator credentials",
}

var operatorTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an HS256 operator token",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = os.Getenv("OPENCLAW_JWT_SECRET")
		}
		if secret == "" {
			return errors.New("no JWT secret given (use --secret or OPENCLAW_JWT_SECRET)")
		}
		role, _ := cmd.Flags().GetString("role")
		scopes, _ := cmd.Flags().GetStringSlice("scopes")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := gateway.MintOperatorToken(secret, rpc.Role(role), scopes, ttl)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]any{"token": token, "role": role, "scopes": scopes})
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tenantsCreateCmd.Flags().String("display-name", "", "human-readable tenant name")
	tenantsRemoveCmd.Flags().Bool("delete-data", false, "also delete the tenant's state subtree")
	tenantsRemoveCmd.Flags().Bool("force", false, "skip the confirmation prompt")

	operatorTokenCmd.Flags().String("secret", "", "HS256 signing secret (defaults to OPENCLAW_JWT_SECRET)")
	operatorTokenCmd.Flags().String("role", string(rpc.RoleOperator), "token role (operator or node)")
	operatorTokenCmd.Flags().StringSlice("scopes", []string{rpc.ScopeRead, rpc.ScopeWrite}, "granted scopes")
	operatorTokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	tenantsCmd.AddCommand(tenantsCreateCmd)
	tenantsCmd.AddCommand(tenantsListCmd)
	tenantsCmd.AddCommand(tenantsInfoCmd)
	tenantsCmd.AddCommand(tenantsRemoveCmd)
	tenantsCmd.AddCommand(tenantsTokenCmd)

	operatorCmd.AddCommand(operatorTokenCmd)
}
