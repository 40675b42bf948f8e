package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pusheen1024/mapview/internal/apperr"
	"github.com/pusheen1024/mapview/internal/logger"
	"github.com/pusheen1024/mapview/internal/server"
	"github.com/pusheen1024/mapview/internal/service"
	"github.com/pusheen1024/mapview/internal/telemetry"
	"github.com/pusheen1024/mapview/internal/view"
)

const version = "0.1.0"

// Options defines all CLI flags and env vars for the map viewer.
// Flags: --host, --port, --data-dir, --web-dir, --api-key, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_API_KEY, ...
type Options struct {
	Host          string `doc:"Host to bind to" default:"0.0.0.0"`
	Port          int    `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir       string `doc:"Directory for the search history database (empty keeps it in memory)" default:".data"`
	WebDir        string `doc:"Path to a web/ directory to serve instead of the embedded one"`
	StaticMapURL  string `doc:"Static map server URL" default:"http://static-maps.yandex.ru/1.x/"`
	GeocoderURL   string `doc:"Geocoder URL" default:"http://geocode-maps.yandex.ru/1.x/"`
	APIKey        string `doc:"Geocoder API key"`
	Width         int    `doc:"Map image width in pixels" default:"600"`
	Height        int    `doc:"Map image height in pixels" default:"360"`
	MinZoom       int    `doc:"Lowest zoom level" default:"1"`
	MaxZoom       int    `doc:"Highest zoom level" default:"17"`
	Zoom          int    `doc:"Starting zoom level" short:"z" default:"12"`
	Center        string `doc:"Starting center as lon,lat" default:"37.6176,55.7558"`
	StartLayer    string `doc:"Starting layer: Карта, Спутник, Гибрид or map, sat, sat,skl" default:"map"`
	Timeout       string `doc:"Upstream request timeout" default:"10s"`
	StageFile     string `doc:"File overwritten with every rendered PNG"`
	UpstreamRPS   int    `doc:"Static map requests per second (0 = unlimited)" default:"5"`
	UpstreamBurst int    `doc:"Static map request burst" default:"5"`
	Trace         bool   `doc:"Write OpenTelemetry spans to stderr"`
	NoHistory     bool   `doc:"Do not record name searches"`
	LogFormat     string `doc:"Log format: json or text" default:"json"`
	Debug         bool   `doc:"Enable debug logging"`
}

func serverConfig(opts *Options) (server.Config, error) {
	center, err := view.ParsePoint(opts.Center, ",")
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid --center %q: %w", opts.Center, err)
	}
	timeout, err := time.ParseDuration(opts.Timeout)
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid --timeout %q: %w", opts.Timeout, err)
	}
	return server.Config{
		Host:          opts.Host,
		Port:          fmt.Sprintf("%d", opts.Port),
		DataDir:       opts.DataDir,
		WebDir:        opts.WebDir,
		StaticMapURL:  opts.StaticMapURL,
		GeocoderURL:   opts.GeocoderURL,
		APIKey:        opts.APIKey,
		Timeout:       timeout,
		Width:         opts.Width,
		Height:        opts.Height,
		MinZoom:       opts.MinZoom,
		MaxZoom:       opts.MaxZoom,
		Zoom:          opts.Zoom,
		Layer:         opts.StartLayer,
		Lon:           center.Lon(),
		Lat:           center.Lat(),
		StageFile:     opts.StageFile,
		UpstreamRPS:   float64(opts.UpstreamRPS),
		UpstreamBurst: opts.UpstreamBurst,
		NoHistory:     opts.NoHistory,
		Logger:        logger.New(opts.LogFormat, opts.Debug),
	}, nil
}

func mustConfig(opts *Options) server.Config {
	cfg, err := serverConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var srv *server.Server
		var shutdownTracer func(context.Context) error

		hooks.OnStart(func() {
			if opts.Trace {
				shutdown, err := telemetry.InitTracer(os.Stderr, "mapview", version)
				if err != nil {
					log.Fatalf("Tracer error: %v", err)
				}
				shutdownTracer = shutdown
			}
			srv = server.New(mustConfig(opts))
			if opts.WebDir != "" {
				go reloadOnHangup(srv)
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("mapview server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Maps:    %s\n", opts.StaticMapURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Viewer:  %s/viewer\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if err := http.ListenAndServe(addr, srv); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			if srv != nil {
				srv.Close()
			}
			if shutdownTracer != nil {
				shutdownTracer(context.Background())
			}
		})
	})

	cli.Root().Use = "mapview"
	cli.Root().Short = "Static map viewer with place and coordinate search"
	cli.Root().Version = version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg := mustConfig(opts)
			cfg.NoHistory = true
			srv := server.New(cfg)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// render subcommand: fetch one map to a PNG file
	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Render one map for a place or lon,lat to a PNG file",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg := mustConfig(opts)
			place, _ := cmd.Flags().GetString("place")
			at, _ := cmd.Flags().GetString("at")
			out, _ := cmd.Flags().GetString("out")
			if layer, _ := cmd.Flags().GetString("layer"); layer != "" {
				cfg.Layer = layer
			}

			frame, err := render(cmd.Context(), cfg, place, at)
			if err != nil {
				if msg := apperr.StatusMessage(err); msg != "" {
					fmt.Fprintf(os.Stderr, "%s (%v)\n", msg, err)
				}
				os.Exit(1)
			}
			if err := os.WriteFile(out, frame.PNG, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", out, err)
				os.Exit(1)
			}
			fmt.Printf("Wrote %s (%s, zoom %d, center %s)\n", out, frame.State.Layer,
				frame.State.Zoom, view.FormatPoint(orb.Point{frame.State.Lon, frame.State.Lat}))
		}),
	}
	renderCmd.Flags().String("place", "", "Place name to geocode")
	renderCmd.Flags().String("at", "", "Center as lon,lat (defaults to --center)")
	renderCmd.Flags().String("layer", "", "Layer label or code, overrides --start-layer")
	renderCmd.Flags().StringP("out", "o", "map.png", "Output PNG file")
	cli.Root().AddCommand(renderCmd)

	cli.Run()
}

// render performs a single search with a throwaway service.
func render(ctx context.Context, cfg server.Config, place, at string) (service.Frame, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	svc := server.NewMapService(cfg, nil)

	switch {
	case place != "":
		return svc.SearchByName(ctx, place)
	case at != "":
		p, err := view.ParsePoint(at, ",")
		if err != nil {
			return service.Frame{}, apperr.Wrap(apperr.KindValidation, "render", "bad --at", err)
		}
		return svc.SearchByCoords(ctx, p.Lon(), p.Lat(), true)
	default:
		return svc.Refresh(ctx)
	}
}

// reloadOnHangup re-reads the web directory's fragments on every SIGHUP.
func reloadOnHangup(srv *server.Server) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		if err := srv.ReloadTemplates(); err != nil {
			log.Printf("Template reload failed: %v", err)
		}
	}
}
