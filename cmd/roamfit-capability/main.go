// Command roamfit-capability hosts one built-in capability service as an MCP
// stdio server. The coordinator launches one process per capability:
//
//	roamfit-capability -service history
//
// Configuration comes from the environment so the server can inject it via
// the capability's env block:
//
//	ROAMFIT_POSTGRES_DSN   workout store DSN (in-memory fallback when empty)
//	ROAMFIT_LLM_PROVIDER   text model provider name (default "openai")
//	ROAMFIT_LLM_MODEL      text model (default "gpt-4o-mini")
//	ROAMFIT_LLM_API_KEY    API key for the text model
//	ROAMFIT_LLM_BASE_URL   base URL override for the text model
//	ROAMFIT_VISION_MODEL   vision model for the equipment service (default "gpt-4o")
//	ROAMFIT_VISION_API_KEY API key for the vision model (falls back to the LLM key)
//	ROAMFIT_NOMINATIM_URL  geocoder base URL for the location service
//	ROAMFIT_LOG_LEVEL      debug | info | warn | error
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/roamfit/roamfit/internal/capability"
	"github.com/roamfit/roamfit/internal/capability/analytics"
	"github.com/roamfit/roamfit/internal/capability/equipment"
	"github.com/roamfit/roamfit/internal/capability/history"
	"github.com/roamfit/roamfit/internal/capability/location"
	"github.com/roamfit/roamfit/internal/capability/planner"
	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/provider/llm"
	"github.com/roamfit/roamfit/pkg/provider/llm/anyllm"
	"github.com/roamfit/roamfit/pkg/provider/llm/openai"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	service := flag.String("service", "", "capability to serve: equipment, history, planner, analytics, or location")
	flag.Parse()

	// Logs go to stderr; stdout belongs to the MCP transport.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("ROAMFIT_LOG_LEVEL")),
	})))

	if *service == "" {
		fmt.Fprintln(os.Stderr, "roamfit-capability: -service is required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := buildService(ctx, *service)
	if err != nil {
		slog.Error("failed to build service", "service", *service, "err", err)
		return 1
	}
	defer cleanup()

	slog.Info("capability serving", "service", *service, "version", version)
	if err := capability.Serve(ctx, "roamfit-"+*service, version, svc); err != nil && ctx.Err() == nil {
		slog.Error("serve error", "service", *service, "err", err)
		return 1
	}
	return 0
}

// buildService constructs the requested service and its dependencies. The
// returned cleanup closes whatever was opened.
func buildService(ctx context.Context, name string) (capability.Registrar, func(), error) {
	nop := func() {}

	switch name {
	case "equipment":
		st, cleanup, err := openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		vision, err := visionProvider()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return equipment.New(vision, st), cleanup, nil

	case "history":
		st, cleanup, err := openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		text, err := textProvider()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return history.New(st, text), cleanup, nil

	case "planner":
		text, err := textProvider()
		if err != nil {
			return nil, nil, err
		}
		// The coordinator persists accepted plans once the cycle settles, so
		// the generator runs without a store of its own.
		return planner.New(text, nil), nop, nil

	case "analytics":
		st, cleanup, err := openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		return analytics.New(st), cleanup, nil

	case "location":
		return location.New(os.Getenv("ROAMFIT_NOMINATIM_URL"), nil), nop, nil

	default:
		return nil, nil, fmt.Errorf("unknown service %q", name)
	}
}

// openStore connects to PostgreSQL when a DSN is set, falling back to an
// empty in-memory store.
func openStore(ctx context.Context) (store.Store, func(), error) {
	if dsn := os.Getenv("ROAMFIT_POSTGRES_DSN"); dsn != "" {
		pg, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	slog.Warn("ROAMFIT_POSTGRES_DSN not set, serving from an empty in-memory store")
	mem := store.NewMem()
	return mem, mem.Close, nil
}

// textProvider builds the text model from ROAMFIT_LLM_* variables.
func textProvider() (llm.Provider, error) {
	providerName := envOr("ROAMFIT_LLM_PROVIDER", "openai")
	model := envOr("ROAMFIT_LLM_MODEL", "gpt-4o-mini")

	if providerName == "openai" {
		var opts []openai.Option
		if base := os.Getenv("ROAMFIT_LLM_BASE_URL"); base != "" {
			opts = append(opts, openai.WithBaseURL(base))
		}
		return openai.New(os.Getenv("ROAMFIT_LLM_API_KEY"), model, opts...)
	}

	var opts []anyllmlib.Option
	if key := os.Getenv("ROAMFIT_LLM_API_KEY"); key != "" {
		opts = append(opts, anyllmlib.WithAPIKey(key))
	}
	if base := os.Getenv("ROAMFIT_LLM_BASE_URL"); base != "" {
		opts = append(opts, anyllmlib.WithBaseURL(base))
	}
	return anyllm.New(providerName, model, opts...)
}

// visionProvider builds the image-capable model for equipment recognition.
func visionProvider() (llm.Provider, error) {
	key := os.Getenv("ROAMFIT_VISION_API_KEY")
	if key == "" {
		key = os.Getenv("ROAMFIT_LLM_API_KEY")
	}
	return openai.New(key, envOr("ROAMFIT_VISION_MODEL", "gpt-4o"))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func logLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
