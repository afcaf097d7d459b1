package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wallet-reconciler/internal/adapter/http/dto"
	httpHandler "wallet-reconciler/internal/adapter/http/handler"
	redisStorage "wallet-reconciler/internal/adapter/storage/redis"
	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	if cfg.JWT.Secret == "" {
		return errors.New("jwt.secret is required to serve the API")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	a.log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("version", Version).
		Msg("Starting wallet reconciler")

	operators := make([]service.Operator, 0, len(cfg.Auth.Operators))
	for _, op := range cfg.Auth.Operators {
		operators = append(operators, service.Operator{Name: op.Name, KeyHash: op.KeyHash})
	}
	if len(operators) == 0 {
		a.log.Warn().Msg("no operators configured; every token request will be rejected")
	}
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	authSvc := service.NewAuthService(operators, service.NewArgon2HashService(), tokenSvc, a.log)

	deps := httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		TokenSvc:       tokenSvc,
		MnemonicSvc:    a.mnemonic,
		WalletSvc:      a.wallets,
		ReconcileSvc:   a.reconciler,
		ExportSvc:      a.exports,
		HealthCheckers: a.checkers,
		Logger:         a.log,
	}
	if a.redis != nil {
		deps.RateLimitStore = redisStorage.NewRateLimitStore(a.redis)
	}
	if cfg.Tracing.Exporter != "" && cfg.Tracing.Exporter != "none" {
		deps.TracerProvider = otel.GetTracerProvider()
	}

	gin.SetMode(cfg.Server.Mode)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpHandler.SetupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	a.log.Info().Msg("Server exited")
	return nil
}

func correctCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "correct <phrase>",
		Short: "Repair a seed phrase against the BIP-39 word list",
		Long:  `Replaces every word that is not on the BIP-39 English list with its nearest entry by edit distance. Quote the phrase or pass the words as separate arguments.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := service.NewMnemonicService(service.NewBIP39Lexicon())
			report := svc.Inspect(strings.Join(args, " "))

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.Corrected)
			for _, w := range report.Words {
				fmt.Fprintf(out, "  word %d: %s -> %s (distance %d)\n", w.Position+1, w.Original, w.Replacement, w.Distance)
			}
			if report.ChecksumValid {
				fmt.Fprintln(out, "checksum: valid")
			} else {
				fmt.Fprintln(out, "checksum: INVALID")
			}
			return nil
		},
	}
}

func generateCmd(opts *rootOptions) *cobra.Command {
	var chain, mnemonic string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create a wallet, store it and reconcile it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ok := domain.ParseChain(chain)
			if !ok {
				return fmt.Errorf("unknown chain %q (want one of ETH, SOL, APTOS)", chain)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				w, err := a.wallets.Generate(ctx, ports.GenerateRequest{Chain: c, Mnemonic: mnemonic})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dto.GeneratedWalletResponse{
					WalletResponse: dto.NewWalletResponse(w),
					Mnemonic:       w.MnemonicPhrase(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "", "chain to generate on: ETH, SOL or APTOS")
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "derive from this phrase instead of fresh key material")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

func importCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load a JSON array of wallet records (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				report, err := a.wallets.Import(ctx, in)
				if report == nil {
					return err
				}
				if err != nil {
					a.log.Warn().Err(err).Int("conflicts", len(report.Conflicts)).Msg("import finished with conflicts")
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func reconcileCmd(opts *rootOptions) *cobra.Command {
	var (
		chain     string
		addresses []string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Refresh stored wallets from their chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(chain, addresses)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				wallets, err := a.reconciler.ReconcileAll(ctx, filter)
				if wallets == nil && err != nil {
					return err
				}
				if err != nil {
					a.log.Warn().Err(err).Msg("reconcile finished with store errors")
				}
				return printJSON(cmd.OutOrStdout(), dto.NewWalletListResponse(wallets))
			})
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "", "only wallets on this chain")
	cmd.Flags().StringSliceVar(&addresses, "address", nil, "only these addresses (repeatable)")
	return cmd
}

func exportCmd(opts *rootOptions) *cobra.Command {
	var format, out, chain string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored wallets as csv, pdf or yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(chain, nil)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var write func(context.Context, io.Writer, domain.WalletFilter) (int, error)
				switch strings.ToLower(format) {
				case "csv":
					write = a.exports.WriteCSV
				case "pdf":
					write = a.exports.WritePDF
				case "yaml", "yml":
					write = a.exports.WriteYAML
				default:
					return fmt.Errorf("unknown export format %q (want csv, pdf or yaml)", format)
				}

				w, done, err := openOutput(cmd.OutOrStdout(), out)
				if err != nil {
					return err
				}
				n, err := write(ctx, w, filter)
				if cerr := done(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				a.log.Info().Int("wallets", n).Str("format", format).Str("out", out).Msg("export written")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv, pdf or yaml")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&chain, "chain", "", "only wallets on this chain")
	return cmd
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the argon2id hash of an operator key for auth.operators",
		Long:  `Reads the key from the argument, or from the first line of stdin when no argument is given.`,
		Args:  cobra.MaximumNArgs(1),
		// no config needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				key = strings.TrimRight(line, "\r\n")
			}
			if len(key) < 8 {
				return errors.New("operator keys must be at least 8 characters")
			}

			hash, err := service.NewArgon2HashService().Hash(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// withApp builds the app for one command run and always closes it.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.cfg)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, a), a.close())
}

func parseFilter(chain string, addresses []string) (domain.WalletFilter, error) {
	f := domain.WalletFilter{Addresses: addresses}
	if chain != "" {
		c, ok := domain.ParseChain(chain)
		if !ok {
			return f, fmt.Errorf("unknown chain %q (want one of ETH, SOL, APTOS)", chain)
		}
		f.Chain = c
	}
	return f, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
