package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"checkin/internal/camera"
	"checkin/internal/config"
	"checkin/internal/match"
	"checkin/internal/notify"
	"checkin/internal/scan"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "checkin: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Check-in simulation CLI",
		Long: `checkin drives a single simulated check-in attempt in the terminal, using the same
flows, timings and camera simulation as the HTTP server.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newRunCmd(), newFlowsCmd())
	return cmd
}

func newFlowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List the available check-in flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := scan.NewCatalog(config.Load().Timings)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMETHOD\tPHASES\tCAMERA")
			for _, name := range catalog.Names() {
				f := catalog[name]
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", f.Name, f.Method.Label(), int(f.Variant), f.RequireCamera)
			}
			return w.Flush()
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		flowName   string
		cameraMode string
		imageURL   string
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one check-in attempt and print every state change",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			mode, err := camera.ParseMode(cameraMode)
			if err != nil {
				return err
			}
			flow, err := scan.NewCatalog(cfg.Timings).Lookup(flowName)
			if err != nil {
				return err
			}
			var notifier notify.Notifier = notify.Discard{}
			if !quiet {
				notifier = notify.Log{}
			}
			return runAttempt(cmd.Context(), cmd.OutOrStdout(), flow, mode, imageURL, notifier)
		},
	}
	cmd.Flags().StringVar(&flowName, "flow", scan.FlowQR, "Flow to run (qr, face, face-recognition)")
	cmd.Flags().StringVar(&cameraMode, "camera-mode", string(camera.ModeGrant), "Simulated camera: grant, deny or absent")
	cmd.Flags().StringVar(&imageURL, "image-url", "", "Image passed to the matcher")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress notification log lines")
	return cmd
}

func runAttempt(ctx context.Context, out io.Writer, flow scan.Flow, mode camera.Mode, imageURL string, notifier notify.Notifier) error {
	var (
		mu      sync.Mutex
		started bool
		done    = make(chan scan.Snapshot, 1)
	)
	observe := func(s scan.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "%-10s %3d%%  %s\n", s.Phase, s.Progress, s.Message)
		if started && (s.Phase.Terminal() || s.Phase == scan.PhaseIdle) {
			select {
			case done <- s:
			default:
			}
		}
	}

	cam := camera.NewManager(camera.NewSimulated(mode), camera.DefaultConstraints(), nil)
	sess, err := scan.NewSession("", flow, cam, match.Demo(),
		scan.WithNotifier(notifier),
		scan.WithObserver(observe),
	)
	if err != nil {
		return err
	}
	defer sess.Close()

	if flow.RequireCamera {
		if err := sess.ActivateCamera(ctx); err != nil {
			return err
		}
	}

	mu.Lock()
	started = true
	mu.Unlock()
	if _, err := sess.Start(ctx, scan.StartOptions{ImageURL: imageURL}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case s := <-done:
		if s.Result == nil {
			return errors.New("attempt ended without a result")
		}
		r := s.Result
		fmt.Fprintf(out, "\n%s %s (%s, %s) at %s in %s",
			r.Method.Label(), r.SubjectName, r.SubjectID, r.SubjectCode,
			r.Timestamp.Format("15:04:05"), r.Elapsed.Round(time.Millisecond))
		if r.Confidence != nil {
			fmt.Fprintf(out, ", confidence %.1f%%", *r.Confidence)
		}
		fmt.Fprintln(out)
		return nil
	}
}
