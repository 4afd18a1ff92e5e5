package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/streamgate-dev/streamgate/internal/api"
	"github.com/streamgate-dev/streamgate/internal/config"
	"github.com/streamgate-dev/streamgate/internal/database"
	"github.com/streamgate-dev/streamgate/internal/logging"
	"github.com/streamgate-dev/streamgate/internal/player"
	"github.com/streamgate-dev/streamgate/internal/proxy"
	"github.com/streamgate-dev/streamgate/internal/resolve"
	"github.com/streamgate-dev/streamgate/internal/session"
	"github.com/streamgate-dev/streamgate/internal/subcache"
	"github.com/streamgate-dev/streamgate/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	dataDir   string
	verbosity int
)

// app bundles the long-lived components a command needs
type app struct {
	db     *database.DB
	loader *config.Loader
	sess   *session.Session
	eps    api.Endpoints
	bypass *transport.Bypass
}

func main() {
	// Optional; local development convenience only
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "streamgate",
		Short: "Streamgate - streaming platform session and resolution engine",
		Long:  `Streamgate manages the device-activated session for a streaming platform account and resolves stream identifiers into playback descriptors.`,
	}

	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", defaultDataDir(), "Data directory for the database, logs and subtitle cache (or set STREAMGATE_DATA env var)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	rootCmd.AddCommand(loginCmd(), logoutCmd(), profilesCmd(), resolveCmd(), playCmd(), historyCmd(), serveCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("streamgate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultDataDir() string {
	if env := os.Getenv("STREAMGATE_DATA"); env != "" {
		return env
	}
	return "./streamgate"
}

func setup() (*app, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "streamgate.db")
	db, err := database.New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	loader := config.NewLoader(db)
	logging.Apply(verbosityLevel(), loader, logging.FilePathForDB(dbPath))

	eps := api.DefaultEndpoints()
	direct := transport.NewDirect(0)
	bypass := transport.NewBypass(0)

	sess := session.New(db, direct, bypass, eps)
	sess.OnActivationPrompt = func(code *api.DeviceCode) {
		fmt.Printf("\nVisit %s and enter the code: %s\n\n", code.VerificationURI, code.UserCode)
	}
	sess.OnNotice = func(message string) {
		fmt.Println(message)
	}

	return &app{db: db, loader: loader, sess: sess, eps: eps, bypass: bypass}, nil
}

func verbosityLevel() string {
	switch {
	case verbosity >= 2:
		return "trace"
	case verbosity == 1:
		return "debug"
	default:
		return "info"
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loginCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Activate this device and establish a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			lastShown := int64(-1)
			a.sess.OnCountdown = func(remaining time.Duration) {
				// Throttle the countdown to whole 30s steps
				sec := int64(remaining.Seconds())
				if sec%30 == 0 && sec != lastShown {
					lastShown = sec
					fmt.Printf("Waiting for activation, %ds remaining\n", sec)
				}
			}

			if err := a.sess.Start(ctx, force); err != nil {
				return err
			}

			creds := a.sess.Credentials()
			fmt.Printf("Authenticated as account %s (%s session)\n", creds.AccountID, creds.AgentClass)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Discard the stored session and activate from scratch")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Destroy the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			if err := a.sess.Logout(); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func profilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List account profiles or switch the active one",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the account's profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := a.sess.Start(ctx, false); err != nil {
				return err
			}

			body, err := a.sess.Request(ctx, http.MethodGet, a.eps.Profiles, nil)
			if err != nil {
				return err
			}
			var multi api.MultiProfileResponse
			if err := json.Unmarshal(body, &multi); err != nil {
				return err
			}

			active := a.sess.ActiveProfile()
			for _, p := range multi.Profiles {
				marker := " "
				if active != nil && active.ProfileID == p.ProfileID {
					marker = "*"
				}
				fmt.Printf("%s %s  %s\n", marker, p.ProfileID, p.ProfileName)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "switch <profile-id>",
		Short: "Switch the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := a.sess.Start(ctx, false); err != nil {
				return err
			}
			if err := a.sess.RefreshProfile(ctx, args[0]); err != nil {
				return err
			}

			if prof := a.sess.ActiveProfile(); prof != nil {
				fmt.Printf("Switched to profile %s (%s)\n", prof.ProfileID, prof.Name)
			}
			return nil
		},
	})

	return cmd
}

func resolveCmd() *cobra.Command {
	var seriesID string

	cmd := &cobra.Command{
		Use:   "resolve <stream-id>",
		Short: "Resolve a stream id into a playback descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := a.sess.Start(ctx, false); err != nil {
				return err
			}

			subs := subcache.New(a.sess, a.db, filepath.Join(dataDir, "subtitles"),
				a.loader.DurationMinutes("subcache.ttl_minutes", int(subcache.DefaultTTL.Minutes())))
			pm := proxy.NewManager(a.bypass, a.loader.DurationMinutes("proxy.ttl", int(proxy.DefaultTTL.Minutes())))
			defer pm.Stop()

			resolver := resolve.New(a.sess, a.eps, a.loader, subs, pm)
			desc, err := resolver.Resolve(ctx, args[0], seriesID)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(desc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&seriesID, "series", "", "Parent series id, widens the metadata fetch")
	return cmd
}

func playCmd() *cobra.Command {
	var seriesID string

	cmd := &cobra.Command{
		Use:   "play <stream-id>",
		Short: "Resolve a stream and run a playback session against a wall clock",
		Long: `Play resolves the stream and drives a playback session with a simulated
position advancing in real time from the resume point. Skip and up-next
prompts are printed as they fire and the playhead is synced upstream.
Interrupt to stop; the final position is pushed and the stream released.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := a.sess.Start(ctx, false); err != nil {
				return err
			}

			subs := subcache.New(a.sess, a.db, filepath.Join(dataDir, "subtitles"),
				a.loader.DurationMinutes("subcache.ttl_minutes", int(subcache.DefaultTTL.Minutes())))
			pm := proxy.NewManager(a.bypass, a.loader.DurationMinutes("proxy.ttl", int(proxy.DefaultTTL.Minutes())))
			defer pm.Stop()

			resolver := resolve.New(a.sess, a.eps, a.loader, subs, pm)
			desc, err := resolver.Resolve(ctx, args[0], seriesID)
			if err != nil {
				return err
			}

			title := desc.Title
			if desc.SeriesTitle != "" {
				title = desc.SeriesTitle + " - " + title
			}
			fmt.Printf("Playing %s from %.0fs\n%s\n", title, desc.Playhead, desc.URL)

			play := player.New(a.sess, a.eps, desc, config.LoadPlayback(a.loader))
			play.OnSkipPrompt = func(category string, iv resolve.Interval, until float64) {
				fmt.Printf("[%.0fs] skip %s available until %.0fs\n", iv.Start, category, until)
			}
			play.OnUpNext = func(next *resolve.NextEpisode) {
				fmt.Printf("Up next: %s\n", next.Title)
			}

			// Simulated position: wall clock from the resume point
			start := time.Now()
			position := func() (float64, bool) {
				return desc.Playhead + time.Since(start).Seconds(), true
			}

			play.Start(ctx, position)
			if desc.Duration > 0 {
				remaining := time.Duration((desc.Duration - desc.Playhead) * float64(time.Second))
				select {
				case <-ctx.Done():
				case <-time.After(remaining):
				}
			} else {
				<-ctx.Done()
			}

			pos, _ := position()
			if desc.Duration > 0 && pos > desc.Duration {
				pos = desc.Duration
			}
			play.Stop(pos)
			fmt.Printf("Stopped at %.0fs\n", pos)
			return nil
		},
	}

	cmd.Flags().StringVar(&seriesID, "series", "", "Parent series id, widens the metadata fetch")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently watched items",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := a.sess.Start(ctx, false); err != nil {
				return err
			}

			resolver := resolve.New(a.sess, a.eps, a.loader, nil, nil)
			items, err := resolver.History(ctx, limit)
			if err != nil {
				return err
			}

			for _, item := range items {
				title := item.Title
				if item.EpisodeMetadata != nil && item.EpisodeMetadata.SeriesTitle != "" {
					title = item.EpisodeMetadata.SeriesTitle + " - " + title
				}
				fmt.Printf("%s  %s\n", item.ID, title)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of history entries to fetch")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the long-lived engine: session upkeep, bypass proxy, subtitle cache pruning",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := a.sess.Start(ctx, false); err != nil {
				return err
			}

			watcher := config.NewWatcher(a.db, filepath.Join(dataDir, "settings.json"))
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()

			subs := subcache.New(a.sess, a.db, filepath.Join(dataDir, "subtitles"),
				a.loader.DurationMinutes("subcache.ttl_minutes", int(subcache.DefaultTTL.Minutes())))
			if err := subs.Start(); err != nil {
				return err
			}
			defer subs.Stop()

			pm := proxy.NewManager(a.bypass, a.loader.DurationMinutes("proxy.ttl", int(proxy.DefaultTTL.Minutes())))
			defer pm.Stop()

			log.Info().Str("version", version).Str("data_dir", dataDir).Msg("Streamgate running")
			<-ctx.Done()
			log.Info().Msg("Shutting down")
			return nil
		},
	}
}
