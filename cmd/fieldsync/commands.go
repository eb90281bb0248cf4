package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldsync/anchor/internal/anchorlog"
	"github.com/fieldsync/anchor/internal/capture"
	"github.com/fieldsync/anchor/internal/config"
	"github.com/fieldsync/anchor/internal/export"
	v1 "github.com/fieldsync/anchor/internal/export/v1"
	"github.com/fieldsync/anchor/internal/geo"
	"github.com/fieldsync/anchor/internal/resolver"
	wsstorage "github.com/fieldsync/anchor/internal/storage/websocket"
	"github.com/fieldsync/anchor/pkg/core"
)

const clearWarning = "Delete all saved anchors for this account? This cannot be undone."

func (a *app) captureCmd() *cobra.Command {
	var (
		note, camera, label string
		saveWithoutGPS      bool
	)
	cmd := &cobra.Command{
		Use:   "capture [digits]",
		Short: "Log a new anchor at the current location",
		Long: `Log a new anchor for the signed-in owner. The label is the saved camera
file name prefix followed by the trailing digits of the current frame.

If no fix can be obtained the previous anchor's location is reused. If there
is nothing to reuse, --save-without-gps keeps the anchor without a location.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := a.openStore()
			if err != nil {
				return err
			}
			acq, err := buildAcquirer(config.GetLocateConfig(), a.logger)
			if err != nil {
				return err
			}
			if label == "" {
				digits := ""
				if len(args) > 0 {
					digits = args[0]
				}
				label = capture.ComposeLabel(a.prefs.Prefix(), digits)
			}

			deps := capture.Dependencies{
				Acquirer: acq,
				Store:    store,
				Owner:    a.owners.Get,
				Logger:   a.logger,
				Observer: func(st capture.State) {
					a.logger.Debug("Capture state changed", "state", st.String())
				},
			}
			if rec := a.openInflux(); rec != nil {
				deps.Recorder = rec
			}
			session, err := capture.New(deps)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Locating...")
			st, err := session.Submit(ctx, capture.Form{Label: label, Note: note, CameraID: camera})
			if errors.Is(err, capture.ErrUnresolvedLocation) && saveWithoutGPS && session.CanSaveWithoutLocation() {
				fmt.Fprintln(out, st.Message)
				st, err = session.SaveWithoutLocation(ctx)
			}
			if errors.Is(err, capture.ErrSignedOut) {
				_, err = a.signedIn()
				return err
			}
			if err != nil {
				if st.Status == capture.StatusError {
					fmt.Fprintln(out, st.Message)
				}
				return err
			}

			fmt.Fprintf(out, "Anchor %s saved.\n", label)
			anchors, err := store.List(ctx, a.owners.Get())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, anchorlog.Banner(latestOf(anchors), len(anchors) > 0, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Free-text note stored with the anchor")
	cmd.Flags().StringVar(&camera, "camera", "", "Camera identifier")
	cmd.Flags().StringVar(&label, "label", "", "Full label, bypassing the saved prefix")
	cmd.Flags().BoolVar(&saveWithoutGPS, "save-without-gps", false, "Keep the anchor without a location if none can be found")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the signed-in owner's anchors, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := a.signedIn()
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			anchors, err := store.List(cmd.Context(), ownerID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			now := time.Now()
			fmt.Fprintln(out, anchorlog.Banner(latestOf(anchors), len(anchors) > 0, now))
			fmt.Fprintln(out, anchorlog.Summarize(anchors))
			for _, anc := range anchors {
				fmt.Fprintln(out, anchorlog.Line(anc, now))
			}
			return nil
		},
	}
}

// parseFrame reads "LABEL@TIME" or a bare TIME in RFC 3339.
func parseFrame(arg string) (resolver.Frame, error) {
	label, ts := "", arg
	if i := strings.LastIndex(arg, "@"); i >= 0 {
		label, ts = arg[:i], arg[i+1:]
	}
	at, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return resolver.Frame{}, fmt.Errorf("invalid capture time %q: %w", ts, err)
	}
	if label == "" {
		label = ts
	}
	return resolver.Frame{Label: label, CapturedAt: at}, nil
}

func parseFrames(args []string) ([]resolver.Frame, error) {
	frames := make([]resolver.Frame, 0, len(args))
	for _, arg := range args {
		f, err := parseFrame(arg)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (a *app) resolveCmd() *cobra.Command {
	var anchorID string
	cmd := &cobra.Command{
		Use:   "resolve [LABEL@TIME | TIME]...",
		Short: "Resolve capture times to the anchor that governs them",
		Long: `Resolve each capture time (RFC 3339) to the most recent anchor logged at or
before it. A frame governed by an anchor without a location reports it as
unavailable; it never borrows an older anchor's location.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && anchorID == "" {
				return errors.New("nothing to resolve: pass capture times or --anchor")
			}
			frames, err := parseFrames(args)
			if err != nil {
				return err
			}

			ownerID, err := a.signedIn()
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			l := anchorlog.Open(ctx, anchorlog.Dependencies{Gateway: store, Logger: a.logger}, ownerID)
			defer l.Close()
			if err := l.WaitReady(ctx); err != nil {
				return err
			}
			if err := l.Err(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if anchorID != "" {
				fmt.Fprintln(out, describe(anchorID, resolver.ResolveID(l.Snapshot(), anchorID)))
			}
			for _, as := range l.Assign(frames) {
				fmt.Fprintln(out, describe(as.Frame.Label, as.Resolution))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&anchorID, "anchor", "", "Resolve an anchor by ID; an anchor governs itself")
	return cmd
}

func describe(label string, r resolver.Resolution) string {
	switch r.Status {
	case resolver.StatusNoAnchor:
		return fmt.Sprintf("%s  %s", label, r.Status)
	default:
		return fmt.Sprintf("%s  %s  %s  %s", label, r.Status, r.Anchor.Label, geo.FormatPosition(r.Coordinate()))
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		outPath, outDir string
		compress        bool
	)
	cmd := &cobra.Command{
		Use:   "export [LABEL@TIME | TIME]...",
		Short: "Write the anchor log and resolved frames to a JSON file",
		Long: `Write the signed-in owner's anchors, newest first, to a JSON file together
with the anchor each given capture time resolves to. The file is gzipped when
--gzip is set or --out ends in .gz.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			frames, err := parseFrames(args)
			if err != nil {
				return err
			}
			ownerID, err := a.signedIn()
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			anchors, err := store.List(cmd.Context(), ownerID)
			if err != nil {
				return err
			}

			now := time.Now()
			data := v1.Build(&v1.LogData{
				OwnerID:          ownerID,
				Prefix:           a.prefs.Prefix(),
				ExtensionVersion: Version,
				ExportedAt:       now,
				Anchors:          anchors,
				Assignments:      resolver.Assign(anchors, frames),
			})

			path := outPath
			if path == "" {
				path = filepath.Join(outDir, export.FileName(ownerID, now, compress))
			}
			if err := export.WriteFile(path, data); err != nil {
				a.logger.Error("Failed to write export", "path", path, "error", err)
				return err
			}
			a.logger.Info("Exported anchors", "path", path, "anchors", len(anchors), "frames", len(frames))
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d anchors and %d frames to %s\n", len(anchors), len(frames), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (overrides --dir and --gzip)")
	cmd.Flags().StringVar(&outDir, "dir", ".", "Directory for the generated file name")
	cmd.Flags().BoolVar(&compress, "gzip", false, "Gzip the generated file")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the current anchor whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.signedIn(); err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			view := anchorlog.NewView(ctx, anchorlog.Dependencies{
				Gateway: store,
				Logger:  a.logger,
				OnChange: func(_ string, anchors []core.Anchor) {
					fmt.Fprintln(out, anchorlog.Banner(latestOf(anchors), len(anchors) > 0, time.Now()))
				},
			}, a.owners)
			defer view.Close()

			<-ctx.Done()
			return nil
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every anchor of the signed-in owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !yes {
				fmt.Fprintln(out, clearWarning)
				return errors.New("not confirmed: re-run with --yes")
			}
			ownerID, err := a.signedIn()
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.DeleteAll(cmd.Context(), ownerID); err != nil {
				return err
			}
			a.logger.Info("Cleared anchors", "owner", ownerID)
			fmt.Fprintln(out, "All anchors deleted.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func (a *app) prefixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prefix [NEW]",
		Short: "Show or change the camera file name prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := a.prefs.SetPrefix(args[0]); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.prefs.Prefix())
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the local anchor store to remote clients over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.storageCfg.Type == "websocket" {
				return errors.New("serve needs a local store, not storage type websocket")
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			wsCfg := a.storageCfg.WebSocket

			mux := http.NewServeMux()
			mux.Handle("/ws", wsstorage.NewHandler(store, wsCfg.Secret, a.logger))
			mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			srv := &http.Server{
				Addr:              wsCfg.Listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Serving anchor store", "addr", wsCfg.Listen, "storage", a.storageCfg.Type)
				errCh <- srv.ListenAndServe()
			}()

			ctx := cmd.Context()
			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.logger.Info("Shutting down anchor server")
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func latestOf(anchors []core.Anchor) core.Anchor {
	if len(anchors) == 0 {
		return core.Anchor{}
	}
	return anchors[0]
}
