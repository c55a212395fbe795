package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/tui"
	"github.com/meetscribe/client/internal/upload"
)

var watchCmd = &cobra.Command{
	Use:   "watch MEETING_ID",
	Short: "Follow the transcription of an already uploaded recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().Bool("plain", false, "print progress lines instead of the TUI")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	plain, _ := cmd.Flags().GetBool("plain")
	a, err := setup(cmd, !plain)
	if err != nil {
		return err
	}
	defer a.Close()

	s := newSession(a)
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	meetingID := args[0]
	opts := tui.Options{
		MeetingID: meetingID,
		Fetch: func(ctx context.Context) (*client.Transcription, error) {
			return s.api.GetTranscription(ctx, meetingID)
		},
	}
	if m, err := s.api.GetMeeting(ctx, meetingID); err != nil {
		a.log.Warn("could not load meeting", "meeting_id", meetingID, "error", err)
	} else {
		opts.Title = m.Title
	}

	res, err := s.run(ctx, opts, plain, cmd.OutOrStdout(), func(ctx context.Context) (upload.Outcome, error) {
		return s.orch.Watch(ctx, meetingID)
	})
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), res)
}
