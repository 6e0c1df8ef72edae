package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/kouba/internal/auth"
	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/storage"
	"github.com/ashita-ai/kouba/internal/tools"
)

// keyStore is the slice of storage the CLI writes through.
type keyStore interface {
	CreateTenant(ctx context.Context, name string) (model.Tenant, error)
	CreateAPIKey(ctx context.Context, key model.APIKey) (model.APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]model.APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, keyID uuid.UUID) error
	ListUsage(ctx context.Context, tenantID uuid.UUID, f storage.UsageFilter) ([]model.UsageLogEntry, error)
}

// opener connects to the store. The returned func releases it.
type opener func(ctx context.Context) (keyStore, func(), error)

type cli struct {
	open   opener
	hasher *auth.Hasher
}

func newRootCommand(open opener) *cobra.Command {
	return newRootCommandWithHasher(open, auth.NewHasher(auth.DefaultParams))
}

func newRootCommandWithHasher(open opener, hasher *auth.Hasher) *cobra.Command {
	c := &cli{open: open, hasher: hasher}
	root := &cobra.Command{
		Use:           "kouba-keys",
		Short:         "Manage kouba tenants and API keys",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		c.newCreateTenantCommand(),
		c.newMintCommand(),
		c.newListCommand(),
		c.newRevokeCommand(),
		c.newUsageCommand(),
	)
	return root
}

// withStore opens the store for the duration of fn.
func (c *cli) withStore(ctx context.Context, fn func(keyStore) error) error {
	st, release, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(st)
}

func (c *cli) newCreateTenantCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create-tenant NAME",
		Short: "Create a tenant and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("tenant name must not be empty")
			}
			return c.withStore(cmd.Context(), func(st keyStore) error {
				t, err := st.CreateTenant(cmd.Context(), name)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "tenant %s created: %s\n", t.Name, t.ID)
				return err
			})
		},
	}
}

func (c *cli) newMintCommand() *cobra.Command {
	var tenant, name, env string
	var allowed []string
	var rateLimit int
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint an API key and print it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseID("tenant", tenant)
			if err != nil {
				return err
			}
			if rateLimit < 0 {
				return fmt.Errorf("--rate-limit must be >= 0")
			}
			allowed = model.NormalizeAllowedTools(allowed)
			if err := checkToolNames(allowed); err != nil {
				return err
			}
			raw, prefix, err := model.GenerateRawKey(model.Environment(env))
			if err != nil {
				return err
			}
			hash, err := c.hasher.Hash(raw)
			if err != nil {
				return err
			}
			return c.withStore(cmd.Context(), func(st keyStore) error {
				key, err := st.CreateAPIKey(cmd.Context(), model.APIKey{
					TenantID:     tenantID,
					Name:         name,
					Prefix:       prefix,
					KeyHash:      hash,
					AllowedTools: allowed,
					RateLimit:    rateLimit,
					Environment:  model.Environment(env),
				})
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "key id:  %s\n", key.ID)
				fmt.Fprintf(w, "tools:   %s\n", describeTools(key.AllowedTools))
				_, err = fmt.Fprintf(w, "api key: %s\n\nStore this key now; it cannot be shown again.\n", raw)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&name, "name", "", "human-readable key name")
	cmd.Flags().StringSliceVar(&allowed, "tools", nil, `allowed tool names, or "*" for every tool`)
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 60, "calls per rate-limit window (0 disables)")
	cmd.Flags().StringVar(&env, "env", string(model.EnvLive), "key environment (live|test)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func (c *cli) newListCommand() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's API keys, revoked included",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseID("tenant", tenant)
			if err != nil {
				return err
			}
			return c.withStore(cmd.Context(), func(st keyStore) error {
				keys, err := st.ListAPIKeys(cmd.Context(), tenantID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), keys)
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func (c *cli) newRevokeCommand() *cobra.Command {
	var tenant, key string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key; the next call using it fails",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseID("tenant", tenant)
			if err != nil {
				return err
			}
			keyID, err := parseID("key", key)
			if err != nil {
				return err
			}
			return c.withStore(cmd.Context(), func(st keyStore) error {
				if err := st.RevokeAPIKey(cmd.Context(), tenantID, keyID); err != nil {
					return fmt.Errorf("revoke %s: %w", keyID, err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "key %s revoked\n", keyID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&key, "key", "", "key id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func (c *cli) newUsageCommand() *cobra.Command {
	var tenant, key, tool string
	var limit int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show a tenant's recent tool calls, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseID("tenant", tenant)
			if err != nil {
				return err
			}
			f := storage.UsageFilter{ToolName: tool, Limit: limit}
			if key != "" {
				if f.KeyID, err = parseID("key", key); err != nil {
					return err
				}
			}
			return c.withStore(cmd.Context(), func(st keyStore) error {
				rows, err := st.ListUsage(cmd.Context(), tenantID, f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&key, "key", "", "only calls made with this key id")
	cmd.Flags().StringVar(&tool, "tool", "", "only calls to this tool")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func parseID(flag, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %q is not a valid id", flag, s)
	}
	return id, nil
}

// checkToolNames rejects allow-list entries that name no registered tool.
func checkToolNames(names []string) error {
	if len(names) == 1 && names[0] == model.AllTools {
		return nil
	}
	reg := registry.New()
	tools.Register(reg, nil)
	var unknown []string
	for _, n := range names {
		if _, ok := reg.Lookup(n); !ok {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown tools: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func describeTools(allowed []string) string {
	switch {
	case len(allowed) == 0:
		return "(none)"
	case allowed[0] == model.AllTools:
		return "all"
	default:
		return strings.Join(allowed, ", ")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
