package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
	"github.com/lonestar-labs/bluebonnet/internal/config"
	"github.com/lonestar-labs/bluebonnet/internal/httpapi"
	"github.com/lonestar-labs/bluebonnet/observer"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP question-answering service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// 1. Load and validate config
			cfg := config.Load(configPath)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

			// 2. Compose the pipeline
			a, err := compose(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := a.close(shutCtx); err != nil {
					logger.Error("shutdown", "error", err)
				}
			}()

			// 3. Serve until signaled
			srv := httpapi.New(a.bot, cfg.Server.Port, cfg.Server.CORSOrigins, cfg.Server.FrontendDomain,
				httpapi.WithLogger(logger),
				httpapi.WithProviderResolver(overrideResolver(cfg, a.inst)),
			)
			return srv.Run(ctx)
		},
	}
}

// overrideResolver builds providers for per-request model overrides. An
// override inherits the configured role's credentials; naming a different
// provider family falls back to the generator's key.
func overrideResolver(cfg config.Config, inst *observer.Instruments) httpapi.ProviderResolver {
	return func(role, provider, model string) (bluebonnet.Provider, error) {
		rc := roleConfig(cfg, role)
		if provider != "" && provider != rc.Provider {
			rc.Provider = provider
			rc.APIKey = cfg.Generator.APIKey
			rc.BaseURL = ""
		}
		rc.Model = model
		return roleProvider(rc, role, inst)
	}
}

func roleConfig(cfg config.Config, role string) config.RoleConfig {
	switch role {
	case bluebonnet.RoleReranker:
		return cfg.Reranker
	case bluebonnet.RoleIntent:
		return cfg.Intent
	case bluebonnet.RoleReformulator:
		return cfg.Reformulator
	default:
		return cfg.Generator
	}
}
