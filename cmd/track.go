package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ivyaspire/leadtrack/internal/attribution"
)

var (
	trackSession string
	trackEmail   string
	trackURL     string
)

var trackCmd = &cobra.Command{
	Use:   "track <event-name>",
	Short: "Fire a single named event through both channels",
	Long:  "Smoke-testing tool: dispatches one event to the pixel sink and the conversions API with a fresh dedup id. The environment suffix is appended automatically.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		session := trackSession
		if session == "" {
			session = uuid.NewString()
		}

		ud := attribution.UserData{ExternalID: session}
		if trackEmail != "" {
			ud.Email = trackEmail
		}

		// No browser is attached, so readiness resolves by exhausting the
		// cookie poll. Wait it out before firing so the event goes straight
		// through instead of sitting in the queue at exit.
		a.dispatcher.WarmUp(ctx)
		for !a.monitor.Ready() {
			time.Sleep(50 * time.Millisecond)
		}

		fullName := a.dispatcher.TrackMetaEvent(ctx, args[0], ud, attribution.SanitizeURL(trackURL))
		a.dispatcher.Wait()

		fmt.Printf("fired %s (session %s)\n", fullName, session)
		return nil
	},
}

func init() {
	trackCmd.Flags().StringVar(&trackSession, "session", "", "session id (default: random)")
	trackCmd.Flags().StringVar(&trackEmail, "email", "", "email for the user data payload")
	trackCmd.Flags().StringVar(&trackURL, "url", "", "event source URL")
	rootCmd.AddCommand(trackCmd)
}
