// rehab-estimate runs a rehab estimate for local property photos.
//
// Usage:
//
//	rehab-estimate estimate [--sqft 1450] [--server http://localhost:8080] photo1.jpg photo2.png
//	rehab-estimate notify --server http://localhost:8080 --priority HIGH "Offer accepted"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/propdash/propdash/config"
	"github.com/propdash/propdash/internal/httpapi"
	"github.com/propdash/propdash/internal/llm"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/propdash/propdash/internal/relay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	config.LoadEnvFile()

	app := &cli.App{
		Name:    "rehab-estimate",
		Usage:   "Estimate property rehab costs from photos",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Value:   3 * time.Minute,
				Usage:   "Overall request timeout",
				EnvVars: []string{"ESTIMATE_TIMEOUT"},
			},
		},
		Before: func(c *cli.Context) error {
			level := zerolog.WarnLevel
			if c.Bool("verbose") {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			estimateCommand(),
			notifyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// ESTIMATE COMMAND
// =============================================================================

func estimateCommand() *cli.Command {
	return &cli.Command{
		Name:      "estimate",
		Usage:     "Estimate rehab costs for one or more photos",
		ArgsUsage: "<photo> [photo...]",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  "sqft",
				Usage: "Approximate floor area in square feet",
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Send the photos to a running propdash server instead of calling Gemini directly",
				EnvVars: []string{"PROPDASH_SERVER"},
			},
			&cli.StringFlag{
				Name:    "model",
				Value:   llm.DefaultModel,
				Usage:   "Gemini model for direct mode",
				EnvVars: []string{"GEMINI_MODEL"},
			},
			&cli.IntFlag{
				Name:  "retry",
				Usage: "Attempts for transient failures in direct mode",
			},
			&cli.BoolFlag{
				Name:  "repair",
				Usage: "Retry once with a corrective prompt when the model output is unusable",
			},
		},
		Action: runEstimate,
	}
}

func runEstimate(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return cli.Exit("at least one photo path is required", 2)
	}

	var sqft *float64
	if c.IsSet("sqft") {
		v := c.Float64("sqft")
		sqft = &v
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	var (
		estimate *rehab.RehabEstimate
		err      error
	)
	if server := c.String("server"); server != "" {
		estimate, err = estimateViaServer(ctx, server, paths, sqft)
	} else {
		estimate, err = estimateDirect(ctx, c, paths, sqft)
	}
	if err != nil {
		return err
	}

	return printJSON(estimate)
}

func estimateDirect(ctx context.Context, c *cli.Context, paths []string, sqft *float64) (*rehab.RehabEstimate, error) {
	client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:  os.Getenv("GEMINI_API_KEY"),
		Model:   c.String("model"),
		BaseURL: os.Getenv("GEMINI_BASE_URL"),
	})
	if err != nil {
		return nil, err
	}

	var opts []rehab.Option
	if n := c.Int("retry"); n > 0 {
		opts = append(opts, rehab.WithRetry(n, time.Second, 30*time.Second))
	}
	if c.Bool("repair") {
		opts = append(opts, rehab.WithRepairAttempt())
	}

	photos := make([]rehab.PhotoInput, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		photos = append(photos, rehab.PhotoInput{
			Name:     filepath.Base(path),
			MIMEType: getMimeType(path),
			Body:     f,
		})
	}

	log.Debug().Int("photos", len(photos)).Str("model", client.Model()).Msg("estimating directly")
	return rehab.NewService(client, opts...).AnalyzePropertyPhotos(ctx, photos, sqft)
}

func estimateViaServer(ctx context.Context, server string, paths []string, sqft *float64) (*rehab.RehabEstimate, error) {
	fields := make([]*resty.MultipartField, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		fields = append(fields, &resty.MultipartField{
			Param:       "photos",
			FileName:    filepath.Base(path),
			ContentType: getMimeType(path),
			Reader:      f,
		})
	}

	req := newClient(server).R().
		SetContext(ctx).
		SetMultipartFields(fields...).
		SetResult(&rehab.RehabEstimate{}).
		SetError(&httpapi.ErrorResponse{})
	if sqft != nil {
		req.SetFormData(map[string]string{"square_footage": fmt.Sprintf("%g", *sqft)})
	}

	log.Debug().Str("server", server).Int("photos", len(paths)).Msg("estimating via server")
	res, err := req.Post("/api/rehab/estimate")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, serverError(res)
	}
	return res.Result().(*rehab.RehabEstimate), nil
}

// =============================================================================
// NOTIFY COMMAND
// =============================================================================

func notifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "notify",
		Usage:     "Relay a notification to Telegram through a running server",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "server",
				Usage:    "propdash server base URL",
				EnvVars:  []string{"PROPDASH_SERVER"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "priority",
				Value: string(relay.PriorityMedium),
				Usage: "URGENT, HIGH, MEDIUM or LOW",
			},
			&cli.StringFlag{
				Name:  "follow-up",
				Usage: "Follow-up id to attach",
			},
		},
		Action: func(c *cli.Context) error {
			message := strings.Join(c.Args().Slice(), " ")

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			res, err := newClient(c.String("server")).R().
				SetContext(ctx).
				SetBody(relay.Request{
					Message:    message,
					Priority:   c.String("priority"),
					FollowUpID: c.String("follow-up"),
				}).
				SetResult(&relay.Result{}).
				SetError(&httpapi.NotifyErrorResponse{}).
				Post("/api/notify")
			if err != nil {
				return err
			}
			if res.IsError() {
				if e, ok := res.Error().(*httpapi.NotifyErrorResponse); ok && e.Error != "" {
					return fmt.Errorf("server returned %d: %s", res.StatusCode(), e.Error)
				}
				return fmt.Errorf("server returned %d", res.StatusCode())
			}
			return printJSON(res.Result())
		},
	}
}

func newClient(server string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(server, "/")).
		SetHeader("Accept", "application/json")
}

func serverError(res *resty.Response) error {
	if e, ok := res.Error().(*httpapi.ErrorResponse); ok && e.Error != "" {
		if e.Field != "" {
			return fmt.Errorf("server returned %d %s at %s: %s", res.StatusCode(), e.Error, e.Field, e.Detail)
		}
		return fmt.Errorf("server returned %d %s: %s", res.StatusCode(), e.Error, e.Detail)
	}
	return fmt.Errorf("server returned %d", res.StatusCode())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	default:
		return "image/jpeg"
	}
}
