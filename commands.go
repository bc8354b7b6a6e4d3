package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/config"
	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "plotshare",
	Short: "Fractional plot investment service",
	Long: `plotshare runs the wallet ledger, plot holdings, investment allocation and
sale profit distribution for fractional real-estate investments.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepHoldsCmd)
	rootCmd.AddCommand(matureCmd)
	rootCmd.AddCommand(recordSaleCmd)
	rootCmd.AddCommand(distributeCmd)
	rootCmd.AddCommand(exportProfitsCmd)

	migrateCmd.Flags().Bool("auto", false, "Run gorm AutoMigrate instead of the SQL files")

	recordSaleCmd.Flags().Uint("plot-id", 0, "Sold plot")
	recordSaleCmd.Flags().String("sale-price", "", "Sale price")
	recordSaleCmd.Flags().String("original-price", "", "Original price; defaults to the plot price")
	recordSaleCmd.Flags().String("company-percentage", "", "Company share of the profit in percent; defaults to the configured value")
	_ = recordSaleCmd.MarkFlagRequired("plot-id")
	_ = recordSaleCmd.MarkFlagRequired("sale-price")

	distributeCmd.Flags().Uint("sale-id", 0, "Sale whose profits are distributed")
	_ = distributeCmd.MarkFlagRequired("sale-id")

	exportProfitsCmd.Flags().Uint("sale-id", 0, "Sale to export")
	exportProfitsCmd.Flags().StringP("out", "o", "profits.xlsx", "Output file")
	_ = exportProfitsCmd.MarkFlagRequired("sale-id")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApplication loads configuration, wires the application and closes it after fn
func withApplication(fn func(ctx context.Context, app *Application) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app, err := initializeApplication(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, app); err != nil {
		app.logger.Error("command failed", zap.Error(err))
		return err
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(func(ctx context.Context, app *Application) error {
			cfg := app.config
			app.router.SetupRoutes()

			var stops []func()
			if cfg.Scheduler.Enabled {
				stops = append(stops, app.sweeper.Start(ctx), app.maturity.Start(ctx))
			}

			serverErr := make(chan error, 1)
			go func() {
				address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
				serverErr <- app.router.Start(address)
			}()

			var err error
			select {
			case <-ctx.Done():
				app.logger.Info("shutting down gracefully")
			case err = <-serverErr:
				if err != nil {
					err = fmt.Errorf("server stopped: %w", err)
				}
			}

			for _, fn := range stops {
				fn()
			}
			if shutdownErr := app.router.Shutdown(cfg.Server.ShutdownTimeout); shutdownErr != nil {
				app.logger.Warn("error during shutdown", zap.Error(shutdownErr))
			}
			app.logger.Info("server stopped")
			return err
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		auto, _ := cmd.Flags().GetBool("auto")
		if !auto {
			n, err := repository.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations from %s\n", n, cfg.Database.MigrationsDir)
			return nil
		}
		return withApplication(func(ctx context.Context, app *Application) error {
			return repository.AutoMigrate(app.db.WithContext(ctx))
		})
	},
}

var sweepHoldsCmd = &cobra.Command{
	Use:   "sweep-holds",
	Short: "Expire plot holds whose lock period has ended",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(func(ctx context.Context, app *Application) error {
			n, err := app.sweeper.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d holds\n", n)
			return nil
		})
	},
}

var matureCmd = &cobra.Command{
	Use:   "mature",
	Short: "Pay out investments that reached maturity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(func(ctx context.Context, app *Application) error {
			n, err := app.maturity.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "matured %d investments\n", n)
			return nil
		})
	},
}

var recordSaleCmd = &cobra.Command{
	Use:   "record-sale",
	Short: "Record the sale of a plot",
	RunE: func(cmd *cobra.Command, args []string) error {
		plotID, _ := cmd.Flags().GetUint("plot-id")
		salePrice, _ := cmd.Flags().GetString("sale-price")
		originalPrice, _ := cmd.Flags().GetString("original-price")
		companyPct, _ := cmd.Flags().GetString("company-percentage")

		req := businessflow.RecordSaleRequest{PlotID: plotID}
		var err error
		if req.SalePrice, err = decimal.NewFromString(salePrice); err != nil {
			return fmt.Errorf("invalid --sale-price: %w", err)
		}
		if companyPct != "" {
			pct, err := decimal.NewFromString(companyPct)
			if err != nil {
				return fmt.Errorf("invalid --company-percentage: %w", err)
			}
			req.CompanyPercentage = &pct
		}

		return withApplication(func(ctx context.Context, app *Application) error {
			if originalPrice != "" {
				if req.OriginalPrice, err = decimal.NewFromString(originalPrice); err != nil {
					return fmt.Errorf("invalid --original-price: %w", err)
				}
			} else {
				plot, err := repository.NewPlotRepository(app.db).ByID(ctx, plotID)
				if err != nil {
					return err
				}
				if plot == nil {
					return businessflow.ErrPlotNotFound
				}
				req.OriginalPrice = plot.Price
			}

			sale, err := app.engine.RecordSale(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sale %d recorded: profit %s, investors %s\n",
				sale.ID, sale.ProfitAmount.StringFixed(2), sale.InvestorProfit.StringFixed(2))
			return nil
		})
	},
}

var distributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Calculate and credit the profits of a sale",
	RunE: func(cmd *cobra.Command, args []string) error {
		saleID, _ := cmd.Flags().GetUint("sale-id")
		return withApplication(func(ctx context.Context, app *Application) error {
			sale, err := app.engine.GetSale(ctx, saleID)
			if err != nil {
				return err
			}
			if sale.Status == models.SaleStatusCompleted {
				profits, err := app.engine.CalculateProfit(ctx, saleID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "calculated %d profit shares\n", len(profits))
			}

			result, err := app.engine.Distribute(ctx, saleID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credited %s to %d investors\n",
				result.TotalCredited.StringFixed(2), len(result.Profits))
			return nil
		})
	},
}

var exportProfitsCmd = &cobra.Command{
	Use:   "export-profits",
	Short: "Write the profit shares of a sale to an xlsx file",
	RunE: func(cmd *cobra.Command, args []string) error {
		saleID, _ := cmd.Flags().GetUint("sale-id")
		out, _ := cmd.Flags().GetString("out")
		return withApplication(func(ctx context.Context, app *Application) error {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := app.engine.ExportProfitsXLSX(ctx, saleID, f); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		})
	},
}
