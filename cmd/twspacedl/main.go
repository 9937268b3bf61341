package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"twspacedl/internal/capture"
	"twspacedl/internal/config"
	"twspacedl/internal/format"
	"twspacedl/internal/logger"
	"twspacedl/internal/models"
	"twspacedl/internal/stream"
	"twspacedl/internal/twitter"
)

type options struct {
	inputURL       string
	outputTemplate string
	masterURL      string
	threads        int
	verbose        bool
	writeMetadata  bool
	writePlaylist  bool
	printURL       bool
	skipDownload   bool
	keepFiles      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "twspacedl",
		Short:         "Download the audio of a Twitter Space, live or recently ended",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.inputURL, "input-url", "i", "", "space URL (https://twitter.com/spaces/<id>)")
	cmd.Flags().StringVarP(&opts.outputTemplate, "output", "o", "", "file name template, e.g. \"[%(creator_name)s]%(title)s-%(id)s\"")
	cmd.Flags().StringVarP(&opts.masterURL, "from-master-url", "f", "", "use a known master URL (useful for ended spaces)")
	cmd.Flags().IntVarP(&opts.threads, "threads", "t", 0, "capture worker pool size (default: available CPUs)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&opts.writeMetadata, "write-metadata", "m", false, "write the full metadata JSON to a file")
	cmd.Flags().BoolVarP(&opts.writePlaylist, "write-playlist", "p", false, "write the rewritten m3u8 (e.g. for another downloader)")
	cmd.Flags().BoolVarP(&opts.printURL, "url", "u", false, "print the master URL")
	cmd.Flags().BoolVarP(&opts.skipDownload, "skip-download", "s", false, "stop after writing the requested artifacts")
	cmd.Flags().BoolVarP(&opts.keepFiles, "keep-files", "k", false, "keep the scratch directory after the run")

	return cmd
}

func run(opts *options) error {
	if opts.inputURL == "" && opts.masterURL == "" {
		return errors.New("either a space URL or a master URL must be provided")
	}

	_ = config.Load()
	settings := config.FromEnv()
	if opts.threads > 0 {
		settings.Threads = opts.threads
	}

	level := "info"
	if opts.verbose {
		level = "debug"
	}
	log := logger.NewLogger(level, config.GetEnv("TWSPACEDL_LOG_FORMAT", "text"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	muxer := capture.NewFFmpeg(log)
	orch := capture.New(muxer, log, settings)
	if !opts.verbose && term.IsTerminal(int(os.Stderr.Fd())) {
		orch.EnableProgress()
	}

	// Fail on a missing muxer before spending any network round trips.
	if !opts.skipDownload {
		if err := orch.CheckMuxer(); err != nil {
			return err
		}
	}

	client := twitter.NewClient(log, settings.UserAgent)

	meta, err := resolveMetadata(ctx, client, opts, log)
	if err != nil {
		return err
	}

	tmpl := opts.outputTemplate
	if opts.inputURL == "" && tmpl == "" {
		tmpl = "no_info"
	}
	name := format.FromMetadata(meta).Format(tmpl)

	if opts.writeMetadata {
		if err := writeMetadataFile(meta, name, log); err != nil {
			return err
		}
	}

	needEndpoints := opts.printURL || opts.writePlaylist || !opts.skipDownload
	if !needEndpoints {
		return nil
	}

	deriver := stream.NewDeriver(client, client.HttpClient(), log, settings.UserAgent)
	if opts.masterURL != "" {
		deriver.SetMasterURL(opts.masterURL)
	}

	eps, err := deriver.Derive(ctx, meta)
	if err != nil {
		return err
	}

	if opts.printURL {
		fmt.Println(eps.MasterURL)
	}
	if opts.writePlaylist {
		if err := os.WriteFile(name+".m3u8", []byte(eps.PlaylistText), 0o644); err != nil {
			return fmt.Errorf("failed to write playlist file: %w", err)
		}
		log.Infof("%s.m3u8 written to disk", name)
	}
	if opts.skipDownload {
		return nil
	}

	defer func() {
		if !opts.keepFiles && orch.ScratchDir() != "" {
			_ = os.RemoveAll(orch.ScratchDir())
		}
	}()

	finalPath, err := orch.Capture(ctx, meta, eps, name)
	if err != nil {
		return err
	}

	log.Infof("Finished downloading %s", finalPath)
	return nil
}

// resolveMetadata fetches the space snapshot, or builds a placeholder one
// when only a master URL was supplied (no id means no metadata to resolve;
// the file is tagged and named generically).
func resolveMetadata(ctx context.Context, client *twitter.Client, opts *options, log logger.Logger) (*models.SpaceMetadata, error) {
	if opts.inputURL == "" {
		log.Warnf("No space URL given, file won't have any metadata")
		return &models.SpaceMetadata{ID: "no_id", Title: "no_info", State: models.StateUnknown}, nil
	}

	spaceID, err := twitter.ExtractSpaceID(opts.inputURL)
	if err != nil {
		return nil, err
	}
	return client.Resolve(ctx, spaceID)
}

func writeMetadataFile(meta *models.SpaceMetadata, name string, log logger.Logger) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, meta.Raw, "", "    "); err != nil {
		pretty.Reset()
		pretty.Write(meta.Raw)
	}
	if err := os.WriteFile(name+".json", pretty.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	log.Infof("%s.json written to disk", name)
	return nil
}
