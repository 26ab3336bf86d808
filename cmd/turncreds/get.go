package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ecovate/turnrest/internal/config"
	"github.com/ecovate/turnrest/internal/credentials"
	"github.com/ecovate/turnrest/internal/fetch"
	"github.com/ecovate/turnrest/internal/observe"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	FlagToken  = "token"
	FlagForce  = "force"
	FlagRepeat = "repeat"
	FlagOutput = "output"

	outputJSON = "json"
	outputYAML = "yaml"
)

type getOptions struct {
	URLs   []string
	Token  string
	Force  bool
	Repeat int
	Output string
}

// lookup is one rendered credential retrieval.
type lookup struct {
	URL         string         `json:"url" yaml:"url"`
	Attempt     int            `json:"attempt" yaml:"attempt"`
	TTLSecs     float64        `json:"ttlSecs" yaml:"ttlSecs"`
	Credentials map[string]any `json:"credentials" yaml:"credentials"`
}

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [URL...]",
		Short: "Retrieve credentials from each endpoint.",
		Long: `Retrieve credentials from each endpoint, or from TURN_REST_URL when no
endpoint is given. Endpoints are queried concurrently through a shared cache;
--repeat shows the cache answering subsequent lookups.`,
		Example: `  # Credentials for the configured endpoint
  TURN_REST_URL=https://turn.example/turn turncreds get --token "$TOKEN"

  # Two endpoints, looked up three times, as YAML
  turncreds get https://a.example/turn https://b.example/turn --repeat 3 -o yaml
`,
		RunE: runGetCommand,
	}

	cmd.Flags().String(FlagToken, "", "bearer token presented to the endpoint (default TURN_REST_TOKEN)")
	cmd.Flags().Bool(FlagForce, false, "bypass cached credentials on the first lookup")
	cmd.Flags().Int(FlagRepeat, 1, "number of lookups per endpoint")
	cmd.Flags().StringP(FlagOutput, "o", outputJSON, "output format: json or yaml")

	return cmd
}

func runGetCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadClient(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	opts := getOptions{URLs: args}
	if len(opts.URLs) == 0 && cfg.URL != "" {
		opts.URLs = []string{cfg.URL}
	}
	if opts.Token, err = cmd.Flags().GetString(FlagToken); err != nil {
		return err
	}
	if opts.Token == "" {
		opts.Token = cfg.Token
	}
	if opts.Force, err = cmd.Flags().GetBool(FlagForce); err != nil {
		return err
	}
	if opts.Repeat, err = cmd.Flags().GetInt(FlagRepeat); err != nil {
		return err
	}
	if opts.Output, err = cmd.Flags().GetString(FlagOutput); err != nil {
		return err
	}

	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	client := fetch.New(&http.Client{
		Transport: observe.HTTPTransport(transport, cfg.Observe),
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	})

	return runGet(ctx, cmd.OutOrStdout(), opts, client)
}

// runGet resolves every URL opts.Repeat times through a single cache and
// renders the results in order.
func runGet(ctx context.Context, out io.Writer, opts getOptions, fetcher credentials.Fetcher) error {
	if len(opts.URLs) == 0 {
		return errors.New("no endpoint given: pass a URL or set TURN_REST_URL")
	}
	if opts.Repeat < 1 {
		return fmt.Errorf("--%s must be at least 1, got %d", FlagRepeat, opts.Repeat)
	}
	if opts.Output != outputJSON && opts.Output != outputYAML {
		return fmt.Errorf("unsupported output format %q", opts.Output)
	}

	cache := credentials.New(fetcher)

	var lookups []lookup
	for attempt := 1; attempt <= opts.Repeat; attempt++ {
		force := opts.Force && attempt == 1

		results, err := resolveAll(ctx, cache, opts.URLs, opts.Token, force)
		if err != nil {
			return err
		}

		for i, payload := range results {
			l := lookup{
				URL:     opts.URLs[i],
				Attempt: attempt,
				TTLSecs: payload.TTL.Seconds(),
			}
			if err := payload.Decode(&l.Credentials); err != nil {
				return fmt.Errorf("%s: %w", opts.URLs[i], err)
			}
			lookups = append(lookups, l)
		}
	}

	return render(out, opts.Output, lookups)
}

func resolveAll(ctx context.Context, cache *credentials.Cache, urls []string, token string, force bool) ([]credentials.Payload, error) {
	results := make([]credentials.Payload, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, url := range urls {
		g.Go(func() error {
			res, err := cache.Get(gctx, url, token, force)
			if err != nil {
				return err
			}

			payload, err := res.Wait(gctx)
			if err != nil {
				return describe(err)
			}

			results[i] = payload
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// describe adds the endpoint's HTTP status to a failed retrieval.
func describe(err error) error {
	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		code, text := statusErr.Status()
		return fmt.Errorf("endpoint responded %d %s: %w", code, text, err)
	}

	return err
}

func render(out io.Writer, format string, lookups []lookup) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(lookups); err != nil {
			return fmt.Errorf("rendering yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(lookups)
	}
}
