package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/org"
	"github.com/clinic/clinic/internal/domain/tenantctx"
	"github.com/clinic/clinic/internal/platform/cache"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic tenant context API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(branchCmd())
	rootCmd.AddCommand(uiconfigCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withStores loads configuration, opens the database (and Redis when
// configured) and runs fn against them.
func withStores(fn func(ctx context.Context, cfg *config.Config, st *stores) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, cfg, st)
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			to, _ := cmd.Flags().GetInt("to")
			return withStores(func(ctx context.Context, _ *config.Config, st *stores) error {
				count, err := db.NewMigrator(st.pool, migrationSource(dir)).UpTo(ctx, to)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withStores(func(ctx context.Context, _ *config.Config, st *stores) error {
				statuses, err := db.NewMigrator(st.pool, migrationSource(dir)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant, optionally with its first company and branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			code, _ := cmd.Flags().GetString("code")
			companyName, _ := cmd.Flags().GetString("company")
			branchName, _ := cmd.Flags().GetString("branch")
			if name == "" || code == "" {
				return fmt.Errorf("--name and --code are required")
			}
			if (companyName == "") != (branchName == "") {
				return fmt.Errorf("--company and --branch must be given together")
			}

			return withStores(func(ctx context.Context, _ *config.Config, st *stores) error {
				t := &org.Tenant{Name: name, Code: code}
				out := cmd.OutOrStdout()
				if companyName == "" {
					if err := st.org.CreateTenant(ctx, t); err != nil {
						return err
					}
					fmt.Fprintf(out, "Tenant %s created: %s\n", t.Code, t.ID)
					return nil
				}
				c := &org.Company{Name: companyName}
				b := &org.Branch{Name: branchName}
				if err := st.org.Onboard(ctx, t, c, b); err != nil {
					return err
				}
				fmt.Fprintf(out, "Tenant %s created: %s\n", t.Code, t.ID)
				fmt.Fprintf(out, "Company: %s\n", c.ID)
				fmt.Fprintf(out, "Branch:  %s\n", b.ID)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("code", "", "Short unique code (lowercase letters, digits, dashes)")
	createCmd.Flags().String("company", "", "Name of the first company")
	createCmd.Flags().String("branch", "", "Name of the first branch")

	cmd.AddCommand(createCmd)
	return cmd
}

func companyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Manage companies",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a company under a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuidFlag(cmd, "tenant")
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			return withStores(func(ctx context.Context, _ *config.Config, st *stores) error {
				c := &org.Company{TenantID: tenantID, Name: name}
				if err := st.org.CreateCompany(ctx, c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Company created: %s\n", c.ID)
				return nil
			})
		},
	}
	createCmd.Flags().String("tenant", "", "Owning tenant ID")
	createCmd.Flags().String("name", "", "Display name")

	cmd.AddCommand(createCmd)
	return cmd
}

func branchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage branches",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a branch under a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			companyID, err := uuidFlag(cmd, "company")
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			return withStores(func(ctx context.Context, _ *config.Config, st *stores) error {
				b := &org.Branch{CompanyID: companyID, Name: name}
				if err := st.org.CreateBranch(ctx, b); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Branch created: %s\n", b.ID)
				return nil
			})
		},
	}
	createCmd.Flags().String("company", "", "Owning company ID")
	createCmd.Flags().String("name", "", "Display name")

	cmd.AddCommand(createCmd)
	return cmd
}

func uiconfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uiconfig",
		Short: "Inspect and validate UI configuration",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the platform baseline and, optionally, an override document",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			overrides, _ := cmd.Flags().GetString("overrides")
			level, _ := cmd.Flags().GetString("level")
			return validateConfig(cmd.OutOrStdout(), file, overrides, tenantctx.Level(level))
		},
	}
	validateCmd.Flags().String("file", "", "Baseline file (defaults to the embedded baseline)")
	validateCmd.Flags().String("overrides", "", "Override document to check against the baseline")
	validateCmd.Flags().String("level", string(tenantctx.LevelTenant), "Override level: tenant or company")
	cmd.AddCommand(validateCmd)

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the resolved tenant context for a tenant, company and branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req tenantctx.Request
			var err error
			if req.TenantID, err = uuidFlag(cmd, "tenant"); err != nil {
				return err
			}
			if req.CompanyID, err = uuidFlag(cmd, "company"); err != nil {
				return err
			}
			if req.BranchID, err = uuidFlag(cmd, "branch"); err != nil {
				return err
			}
			roles, _ := cmd.Flags().GetString("roles")
			req.Roles = parseRoles(roles)
			req.UserID, _ = cmd.Flags().GetString("user")
			req.UserName = req.UserID

			return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
				baseline, err := loadBaseline(cfg)
				if err != nil {
					return err
				}
				svc := tenantctx.NewService(baseline, st.overrides, hierarchyAdapter{org: st.org}, zerolog.Nop())
				tc, err := svc.Resolve(ctx, req)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tc)
			})
		},
	}
	resolveCmd.Flags().String("tenant", "", "Tenant ID")
	resolveCmd.Flags().String("company", "", "Company ID")
	resolveCmd.Flags().String("branch", "", "Branch ID")
	resolveCmd.Flags().String("roles", "admin", "Comma-separated roles")
	resolveCmd.Flags().String("user", "cli", "User ID")
	cmd.AddCommand(resolveCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "flush-cache",
		Short: "Drop every cached override document from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is not set")
			}
			ctx := context.Background()
			client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer client.Close()
			n, err := cache.DeleteMatching(ctx, cache.NewRedisKV(client), tenantctx.CacheKeyPattern)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached override document(s).\n", n)
			return nil
		},
	})

	return cmd
}

// validateConfig checks the baseline in file (or the embedded one) and, when
// overridesFile is set, the override document against that baseline.
func validateConfig(w io.Writer, file, overridesFile string, level tenantctx.Level) error {
	var (
		baseline *tenantctx.Baseline
		err      error
	)
	if file != "" {
		baseline, err = tenantctx.LoadBaselineFile(file)
	} else {
		baseline, err = tenantctx.DefaultBaseline()
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Baseline %s is valid.\n", baseline.Version)

	if overridesFile == "" {
		return nil
	}
	if level != tenantctx.LevelTenant && level != tenantctx.LevelCompany {
		return fmt.Errorf("--level must be tenant or company")
	}
	doc, err := os.ReadFile(overridesFile)
	if err != nil {
		return fmt.Errorf("read overrides: %w", err)
	}
	svc := tenantctx.NewService(baseline, nil, nil, zerolog.Nop())
	err = svc.CheckOverrides(context.Background(), level, uuid.Nil, doc)
	var rej *tenantctx.RejectedError
	if errors.As(err, &rej) {
		for _, msg := range rej.Messages() {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
		return fmt.Errorf("%s overrides rejected with %d problem(s)", level, len(rej.Problems))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Overrides in %s are valid at %s level.\n", overridesFile, level)
	return nil
}

func uuidFlag(cmd *cobra.Command, name string) (uuid.UUID, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return uuid.Nil, fmt.Errorf("--%s is required", name)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: invalid id %q", name, v)
	}
	return id, nil
}

func parseRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
