package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/eventstore"
	"github.com/loqalabs/loqa-narrate/internal/pipeline"
	"github.com/loqalabs/loqa-narrate/internal/runtime"
	"github.com/loqalabs/loqa-narrate/internal/voice"
)

var version = "0.1.0-dev"

const usage = `usage: loqa-narrate <command> [flags]

commands:
  synth [flags] <text|file|->   synthesize text to an audio file
  voices                        list the built-in voices
  history [flags]               show recent jobs
  version                       print the version`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "synth":
		err = runSynth(os.Args[2:])
	case "voices":
		err = runVoices(os.Stdout)
	case "history":
		err = runHistory(os.Args[2:])
	case "version":
		fmt.Println(version)
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

type synthFlags struct {
	configPath   string
	file         string
	lang         string
	voice        string
	output       string
	chunkSeconds int
	parallel     int
	stream       bool
	noPlay       bool
	noGUI        bool
	keepParts    bool
	allowPartial bool
}

func runSynth(args []string) error {
	var f synthFlags
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&f.file, "file", "", "Read text from this file")
	fs.StringVar(&f.lang, "lang", "", "Language code (ka, ru, en, en-US)")
	fs.StringVar(&f.voice, "voice", "", "Explicit voice name")
	fs.StringVar(&f.output, "output", "", "Output audio path")
	fs.IntVar(&f.chunkSeconds, "chunk-seconds", 0, "Target seconds of speech per chunk (0 = automatic)")
	fs.IntVar(&f.parallel, "parallel", 0, "Concurrent synthesis calls (0 = automatic)")
	fs.BoolVar(&f.stream, "stream", false, "Start playback as soon as the first chunk is ready")
	fs.BoolVar(&f.noPlay, "no-play", false, "Do not play the result")
	fs.BoolVar(&f.noGUI, "no-gui", false, "Use the headless player only")
	fs.BoolVar(&f.keepParts, "keep-parts", false, "Keep chunk files after merging")
	fs.BoolVar(&f.allowPartial, "allow-partial", false, "Skip chunks that fail instead of aborting")
	fs.Parse(args)

	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	text, err := readText(fs.Arg(0), f.file, os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Telemetry.Level()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown, _, err := runtime.SetupTelemetry(cfg, logger)
		if err != nil {
			logger.Warn("telemetry disabled", slog.String("error", err.Error()))
		} else {
			defer shutdown(context.Background())
		}
	}

	history, err := eventstore.Open(ctx, cfg.EventStore, logger.With(slog.String("component", "history")))
	if err != nil {
		logger.Warn("job history disabled", slog.String("error", err.Error()))
		history = nil
	}
	defer history.Close()

	runner, err := pipeline.NewRunnerFromConfig(cfg, logger, history, nil)
	if err != nil {
		return err
	}
	defer runner.Close()

	job := applyFlags(pipeline.JobDefaults(cfg), f, set)
	job.Text = text

	res, err := runner.Run(ctx, job)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		logger.Warn("completed with warning", slog.String("warning", w.Error()))
	}
	fmt.Printf("%s  (%s, %d chunks, %d words, %s)\n",
		res.OutputPath, res.Mode, res.Chunks, res.Words, res.Elapsed.Round(time.Millisecond))
	return nil
}

func applyFlags(job pipeline.Job, f synthFlags, set map[string]bool) pipeline.Job {
	if set["lang"] {
		job.Language = f.lang
		if !set["voice"] {
			job.Voice = ""
		}
	}
	if set["voice"] {
		job.Voice = f.voice
	}
	if set["output"] {
		job.OutputPath = f.output
	}
	if set["chunk-seconds"] {
		job.ChunkSeconds = f.chunkSeconds
	}
	if set["parallel"] {
		job.Concurrency = f.parallel
	}
	if set["stream"] {
		job.Streaming = f.stream
	}
	if f.noPlay {
		job.Play = false
		job.Streaming = false
	}
	if f.noGUI {
		job.GUI = false
	}
	if set["keep-parts"] {
		job.KeepParts = f.keepParts
	}
	if set["allow-partial"] {
		job.AllowPartial = f.allowPartial
	}
	return job
}

// readText resolves the text source: -file wins, "-" reads stdin, an
// argument naming an existing file is read, anything else is the text.
func readText(arg, file string, stdin io.Reader) (string, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read text file: %w", err)
		}
		return string(data), nil
	case arg == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case arg == "":
		return "", errors.New("no text given (pass text, a file path, -file or -)")
	}
	if info, err := os.Stat(arg); err == nil && info.Mode().IsRegular() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return "", fmt.Errorf("read text file: %w", err)
		}
		return string(data), nil
	}
	return arg, nil
}

func runVoices(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LANGUAGE\tVOICE\tLOCALE")
	for _, v := range voice.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Language, v.Name, v.Locale)
	}
	return tw.Flush()
}

func runHistory(args []string) error {
	var (
		configPath string
		limit      int
		jobID      string
	)
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.IntVar(&limit, "limit", 20, "Maximum rows to show")
	fs.StringVar(&jobID, "job", "", "Show the chunk events of one job")
	fs.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.EventStore.Enabled {
		return errors.New("job history is disabled (event_store.enabled=false)")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if jobID != "" {
		events, err := store.ListJobEvents(ctx, jobID, limit)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		fmt.Fprintln(tw, "TIME\tCHUNK\tEVENT\tPAYLOAD")
		for _, e := range events {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.CreatedAt.Local().Format(time.DateTime), e.ChunkIndex, e.Type, strings.TrimSpace(string(e.Payload)))
		}
		return nil
	}

	jobs, err := store.ListJobs(ctx, limit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	fmt.Fprintln(tw, "STARTED\tJOB\tSTATUS\tCHUNKS\tWORDS\tDURATION\tOUTPUT")
	for _, j := range jobs {
		duration := "-"
		if !j.FinishedAt.IsZero() {
			duration = j.FinishedAt.Sub(j.CreatedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			j.CreatedAt.Local().Format(time.DateTime), j.ID, j.Status, j.Chunks, j.Words, duration, j.OutputPath)
	}
	return nil
}
