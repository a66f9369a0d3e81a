package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taurusgroup/p2p-wager/pkg/arbiter"
	"github.com/taurusgroup/p2p-wager/pkg/identity"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the arbiter HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, cfg)
		},
	}
	flags := cmd.Flags()
	flags.String(flagListen, ":8090", "address to listen on")
	flags.String(flagPolicy, PolicyUnconditional, "signing policy: unconditional, cosign, registry or strict")
	flags.Int(flagRegistrySize, 4096, "number of matches the registry policy remembers")
	flags.Duration(flagShutdown, 10*time.Second, "grace period for in-flight requests on shutdown")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg *Config) error {
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	kp, err := identity.NewStore(cfg.KeyFile).LoadOrCreate(rand.Reader)
	if err != nil {
		return err
	}
	policy, err := buildPolicy(cfg.Policy, cfg.RegistrySize)
	if err != nil {
		return err
	}
	signer, err := arbiter.NewSigner(kp.Secret, policy, log)
	if err != nil {
		return err
	}
	npub, err := identity.EncodeNpub(kp.Public)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           arbiter.NewServer(signer, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Str("npub", npub).Str("policy", cfg.Policy).Msg("arbiter listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err = <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err = srv.Shutdown(sctx); err != nil {
		return err
	}
	if err = <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
