package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/pianoroll-go"
	"github.com/cbegin/pianoroll-go/internal/synth"
)

var (
	sampleRate   int
	instrument   string
	settingsPath string
	tempo        float64
	lookAhead    time.Duration
	verbose      bool
	outputFile   string
	listenAddr   string
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pianoroll",
	Short: "Play, render and serve piano-roll note sequences",
	Long: `pianoroll schedules notes from a MIDI file or a JSON song onto a
polyphonic synthesizer with sample-accurate timing.

Examples:
  pianoroll play song.mid --instrument strings
  pianoroll render song.json -o song.wav
  pianoroll export song.json -o song.mid
  pianoroll serve song.mid --addr :8080`,
	SilenceUsage: true,
}

var playCmd = &cobra.Command{
	Use:   "play [song]",
	Short: "Play a song on the default audio device",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlay,
}

var renderCmd = &cobra.Command{
	Use:   "render <song>",
	Short: "Render a song offline to a float32 WAV file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var exportCmd = &cobra.Command{
	Use:   "export <song>",
	Short: "Write a song's notes as a standard MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var serveCmd = &cobra.Command{
	Use:   "serve [song]",
	Short: "Start the HTTP control server",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "List instrument presets",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, name := range pianoroll.Instruments() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVar(&sampleRate, "sample-rate", 48000, "output sample rate")
	pf.StringVarP(&instrument, "instrument", "i", "", "instrument preset (see 'instruments')")
	pf.StringVar(&settingsPath, "settings", "", "JSON synth settings file; overrides --instrument")
	pf.Float64Var(&tempo, "tempo", 0, "playback tempo in bpm (40-240); 120 plays at written speed")
	pf.DurationVar(&lookAhead, "lookahead", time.Second, "scheduling look-ahead")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	renderCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output .wav path (default: <song>.wav)")
	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output .mid path (default: <song>.mid)")
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "listen address")

	rootCmd.AddCommand(playCmd, renderCmd, exportCmd, serveCmd, instrumentsCmd)
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// playerOptions turns the persistent flags into player options. The song's
// instrument applies only when neither flag picks one.
func playerOptions(s *song, log *slog.Logger) ([]pianoroll.PlayerOption, error) {
	opts := []pianoroll.PlayerOption{
		pianoroll.WithLogger(log),
		pianoroll.WithLookAhead(lookAhead),
	}
	switch {
	case settingsPath != "":
		f, err := os.Open(settingsPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		settings, err := synth.LoadSettings(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", settingsPath, err)
		}
		opts = append(opts, pianoroll.WithSettings(settings))
	case instrument != "":
		opts = append(opts, pianoroll.WithInstrument(instrument))
	case s.Instrument != "":
		opts = append(opts, pianoroll.WithInstrument(s.Instrument))
	}
	return opts, nil
}

func songFromArgs(args []string) (*song, error) {
	if len(args) == 0 {
		return defaultSong(), nil
	}
	return loadSong(args[0])
}

// newSongPlayer builds a player with the song loaded and the tempo flag
// applied.
func newSongPlayer(s *song, log *slog.Logger, extra ...pianoroll.PlayerOption) (*pianoroll.Player, error) {
	opts, err := playerOptions(s, log)
	if err != nil {
		return nil, err
	}
	p, err := pianoroll.NewPlayer(sampleRate, append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	// the instrument is already chosen by the options
	s.Instrument = ""
	if err := s.load(p); err != nil {
		p.Close()
		return nil, err
	}
	if tempo > 0 {
		p.SetTempo(tempo)
	}
	return p, nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	s, err := songFromArgs(args)
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr())
	p, err := newSongPlayer(s, log)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	events := p.Watch()
	if err := p.Play(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	total := s.duration()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return showStatus(gctx, cmd.OutOrStdout(), p, func() bool {
			st := p.State()
			return !st.Loop.Enabled && st.Position >= total && p.ActiveVoiceCount() == 0
		})
	})
	g.Go(func() error {
		logVoiceEvents(gctx, log, events)
		return nil
	})
	err = g.Wait()
	p.Stop()
	return err
}

func logVoiceEvents(ctx context.Context, log *slog.Logger, events <-chan pianoroll.VoiceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			log.Debug("voice", "kind", ev.Kind.String(), "key", ev.Key, "note", ev.NoteID, "time", ev.Time)
		}
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	s, err := loadSong(args[0])
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr())
	opts, err := playerOptions(s, log)
	if err != nil {
		return err
	}
	if tempo > 0 {
		lane := pianoroll.NewLane("cli-tempo", pianoroll.LaneTempo)
		lane.MinValue, lane.MaxValue = tempo, tempo
		lane.AddPoint(0, 0)
		s.Lanes = append(s.Lanes, lane)
	}
	samples, err := pianoroll.RenderNotes(s.Notes, s.Lanes, sampleRate, opts...)
	if err != nil {
		return err
	}
	out := outputPath(args[0], ".wav")
	if err := os.WriteFile(out, pianoroll.EncodeWAVFloat32LE(samples, sampleRate, 2), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%.2fs)\n", out, float64(len(samples)/2)/float64(sampleRate))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	s, err := loadSong(args[0])
	if err != nil {
		return err
	}
	bpm := s.Tempo
	if tempo > 0 {
		bpm = tempo
	}
	out := outputPath(args[0], ".mid")
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := writeMIDI(f, s.Notes, bpm); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d notes)\n", out, len(s.Notes))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := songFromArgs(args)
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr())
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	p, err := newSongPlayer(s, log)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	events := p.Watch()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(gctx, listenAddr, newRouter(p, log), log)
	})
	g.Go(func() error {
		logVoiceEvents(gctx, log, events)
		return nil
	})
	return g.Wait()
}

func outputPath(input, ext string) string {
	if outputFile != "" {
		return outputFile
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ext
}
