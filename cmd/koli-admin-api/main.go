package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/auth"
	"github.com/Luciana501/koli-admin-sub001/internal/config"
	"github.com/Luciana501/koli-admin-sub001/internal/database"
	"github.com/Luciana501/koli-admin-sub001/internal/logging"
	"github.com/Luciana501/koli-admin-sub001/internal/members"
	"github.com/Luciana501/koli-admin-sub001/internal/metrics"
	"github.com/Luciana501/koli-admin-sub001/internal/realtime"
	"github.com/Luciana501/koli-admin-sub001/internal/rewards"
	"github.com/Luciana501/koli-admin-sub001/internal/scheduler"
	"github.com/Luciana501/koli-admin-sub001/internal/server"
	"github.com/Luciana501/koli-admin-sub001/internal/tracing"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "koli-admin",
		Short: "KOLI admin ledger service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newGenerateCommand(),
		newRecountCommand(),
		newIssueTokenCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Bool("tracing", defaults.GetBool("tracing.enabled"), "Export OpenTelemetry spans to stderr")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "tracing.enabled", "tracing")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newGenerateCommand() *cobra.Command {
	var (
		code      string
		pool      string
		expiresAt string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Issue a new reward code, rolling over the unspent balance of an unexpired one",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(pool)
			if err != nil {
				return fmt.Errorf("invalid --pool %q: %w", pool, err)
			}
			expiry, err := rewards.ParseExpiry(expiresAt)
			if err != nil {
				return err
			}
			return withStore(func(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) error {
				service, err := rewards.NewService(rewards.ServiceConfig{
					Database:    db,
					IDProvider:  rewards.NewUUIDProvider(),
					RetryPolicy: retryPolicy(appConfig),
					Logger:      logger,
				})
				if err != nil {
					return err
				}
				snapshot, err := service.Generate(cmd.Context(), rewards.GenerateRequest{
					Code:      code,
					Pool:      amount,
					ExpiresAt: expiry,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "active code %s: total %s, remaining %s, expires %s\n",
					snapshot.ActiveCode, snapshot.TotalPool, snapshot.RemainingPool, snapshot.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Reward code (A-Z, 0-9, '_' or '-')")
	cmd.Flags().StringVar(&pool, "pool", "", "Pool amount")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "Expiry timestamp (RFC 3339)")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("expires-at")
	return cmd
}

func newRecountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recount-usage",
		Short: "Recompute every platform code usage counter from the members table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) error {
				synchronizer, err := members.NewSynchronizer(members.SynchronizerConfig{
					Database:    db,
					RetryPolicy: retryPolicy(appConfig),
					Logger:      logger,
				})
				if err != nil {
					return err
				}
				result, err := synchronizer.Recount(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned %d codes, corrected %d\n", result.Codes, result.Corrected)
				return nil
			})
		},
	}
}

func newIssueTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a signed access token for an operator or member",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if err := appConfig.ValidateAuth(); err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (member id for members)")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Token role (admin, member)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func withStore(run func(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) error) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return run(appConfig, db, logger)
}

func openStore(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	models := append(members.Models(), rewards.Models()...)
	return database.Open(database.Options{
		Driver:  appConfig.DatabaseDriver,
		Path:    appConfig.DatabasePath,
		DSN:     appConfig.DatabaseDSN,
		Tracing: appConfig.TracingEnabled,
	}, logger, models...)
}

func retryPolicy(appConfig config.AppConfig) database.RetryPolicy {
	policy := database.DefaultRetryPolicy()
	policy.MaxAttempts = appConfig.ClaimMaxAttempts
	return policy
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.ValidateAuth(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	shutdownTracing, err := tracing.Init(tracing.Config{
		Enabled:     appConfig.TracingEnabled,
		ServiceName: appConfig.TracingService,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	db, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	ledger := metrics.NewLedger(prometheus.DefaultRegisterer)
	dispatcher := realtime.NewDispatcher()
	retry := retryPolicy(appConfig)

	synchronizer, err := members.NewSynchronizer(members.SynchronizerConfig{
		Database:    db,
		Clock:       time.Now,
		RetryPolicy: retry,
		Logger:      logger.Named("usage"),
		Metrics:     ledger,
		Publisher:   dispatcher,
	})
	if err != nil {
		return err
	}
	memberService, err := members.NewService(members.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		RetryPolicy:   retry,
		Logger:        logger.Named("members"),
		ChangeHandler: synchronizer,
		Publisher:     dispatcher,
	})
	if err != nil {
		return err
	}
	rewardService, err := rewards.NewService(rewards.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		IDProvider:  rewards.NewUUIDProvider(),
		RetryPolicy: retry,
		Logger:      logger.Named("rewards"),
		Metrics:     ledger,
		Publisher:   dispatcher,
	})
	if err != nil {
		return err
	}

	sweeper, err := scheduler.New(scheduler.Config{
		Interval: appConfig.SweepInterval,
		Sweeper:  rewardService,
		Logger:   logger.Named("scheduler"),
	})
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown failed", zap.Error(err))
		}
	}()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenIssuer,
		RewardsService: rewardService,
		MembersService: memberService,
		UsageService:   synchronizer,
		Realtime:       dispatcher,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
