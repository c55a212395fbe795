package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meetscribe/client/internal/devserver"
	"github.com/meetscribe/client/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local development transcription backend",
	Long: `Serve the meetings, transcription and websocket endpoints from memory,
playing every upload as a simulated processing job.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("host", "", "override listen host")
	f.Int("port", 0, "override listen port")
	f.Duration("step-interval", 0, "override delay between simulated steps")
	f.String("fail-step", "", "fail simulated jobs at this step")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Server
	f := cmd.Flags()
	if v, _ := f.GetString("host"); v != "" {
		cfg.Host = v
	}
	if v, _ := f.GetInt("port"); v > 0 {
		cfg.Port = v
	}
	if v, _ := f.GetDuration("step-interval"); v > 0 {
		cfg.StepInterval = v
	}
	if v, _ := f.GetString("fail-step"); v != "" {
		cfg.FailStep = v
	}

	opts := devserver.Options{
		Token:         a.cfg.API.Token,
		StepInterval:  cfg.StepInterval,
		FailStep:      cfg.FailStep,
		MaxUploadSize: cfg.MaxUploadMB << 20,
		MaxPeers:      cfg.MaxPeers,
		SubjectPrefix: a.cfg.Fallback.NATSSubjectPrefix,
		Logger:        a.log,
	}
	if cfg.NATSMirrorURL != "" {
		nc, err := source.Connect(cfg.NATSMirrorURL, "meetscribe-devserver")
		if err != nil {
			return err
		}
		defer nc.Close()
		opts.Mirror = nc
		a.log.Info("mirroring events to NATS", "url", cfg.NATSMirrorURL, "prefix", opts.SubjectPrefix)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return devserver.New(opts).ListenAndServe(ctx, cfg.Host, cfg.Port)
}
