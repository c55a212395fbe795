package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/tui"
	"github.com/meetscribe/client/internal/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a recording and follow its transcription",
	Long: `Create a meeting (or reuse one with --meeting), upload the audio file and
show progress until the backend reports the transcription as completed or
failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	f := uploadCmd.Flags()
	f.String("meeting", "", "existing meeting id; skips meeting creation")
	f.String("title", "", "meeting title (default: file name)")
	f.String("description", "", "meeting description")
	f.String("date", "", "meeting date, YYYY-MM-DD (default: today)")
	f.StringSlice("participant", nil, "participant name (repeatable)")
	f.Bool("plain", false, "print progress lines instead of the TUI")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	plain, _ := cmd.Flags().GetBool("plain")
	a, err := setup(cmd, !plain)
	if err != nil {
		return err
	}
	defer a.Close()

	path := args[0]
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat audio file: %w", err)
	}

	s := newSession(a)
	defer s.Close()

	in := upload.Input{FileName: filepath.Base(path), Size: info.Size(), Body: file}
	// Reject the file before creating a meeting for it.
	probe := in
	probe.MeetingID = "0"
	if err := s.orch.Validate(probe); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	title, _ := cmd.Flags().GetString("title")
	meetingID, _ := cmd.Flags().GetString("meeting")
	if meetingID == "" {
		m, err := createMeeting(ctx, cmd, s.api, in.FileName)
		if err != nil {
			return err
		}
		meetingID = m.Subject()
		title = m.Title
		a.log.Info("meeting created", "meeting_id", meetingID)
	}
	in.MeetingID = meetingID

	opts := tui.Options{
		Title:     title,
		MeetingID: meetingID,
		FileName:  in.FileName,
		Fetch: func(ctx context.Context) (*client.Transcription, error) {
			return s.api.GetTranscription(ctx, meetingID)
		},
	}
	res, err := s.run(ctx, opts, plain, cmd.OutOrStdout(), func(ctx context.Context) (upload.Outcome, error) {
		return s.orch.Upload(ctx, in)
	})
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), res)
}

func createMeeting(ctx context.Context, cmd *cobra.Command, api *client.HTTPClient, fileName string) (*client.Meeting, error) {
	f := cmd.Flags()
	title, _ := f.GetString("title")
	if title == "" {
		title = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	description, _ := f.GetString("description")
	date, _ := f.GetString("date")
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}
	participants, _ := f.GetStringSlice("participant")

	m, err := api.CreateMeeting(ctx, client.MeetingCreate{
		Title:        title,
		Description:  description,
		Date:         date,
		Participants: participants,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}
	return m, nil
}
