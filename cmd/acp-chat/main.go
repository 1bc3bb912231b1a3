// ABOUTME: CLI entry point for acp-chat: a terminal chat host for any ACP agent
// ABOUTME: Loads config and profiles, wires workspace, permissions, transcripts, metrics, then runs the REPL

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	// Imported ahead of host (bubbletea) so no OSC background query is sent;
	// its reply would otherwise land in the first line the console reads.
	_ "github.com/mauromedda/acp-engine-go/internal/termfix"

	"github.com/mauromedda/acp-engine-go/internal/acp"
	"github.com/mauromedda/acp-engine-go/internal/config"
	"github.com/mauromedda/acp-engine-go/internal/eventbus"
	"github.com/mauromedda/acp-engine-go/internal/export"
	"github.com/mauromedda/acp-engine-go/internal/host"
	httpserver "github.com/mauromedda/acp-engine-go/internal/http"
	"github.com/mauromedda/acp-engine-go/internal/log"
	"github.com/mauromedda/acp-engine-go/internal/metrics"
	"github.com/mauromedda/acp-engine-go/internal/permission"
	"github.com/mauromedda/acp-engine-go/internal/transcript"
	"github.com/mauromedda/acp-engine-go/internal/workspace"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// settingsPollInterval is how often the settings files are checked for edits.
const settingsPollInterval = 2 * time.Second

func main() {
	args, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if args.version {
		fmt.Printf("acp-chat %s (%s) built %s\n", version, commit, date)
		os.Exit(0)
	}

	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run performs the full initialization sequence and runs the chat.
func run(args cliArgs) error {
	cwd, err := resolveCWD(args.cwd)
	if err != nil {
		return err
	}

	if args.profiles {
		return listProfiles(cwd)
	}
	if args.sessions {
		return listSessions()
	}
	if args.export != "" {
		return exportTranscript(os.Stdout, args.export, args.format)
	}

	settings, err := buildSettings(args, cwd)
	if err != nil {
		return err
	}
	applyLogLevel(settings.LogLevel, args.verbose)
	logger := log.New("acp-chat")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	console := host.NewConsole(os.Stdin, os.Stdout)
	palette := host.NewPalette(!console.Styled())
	popts := host.PrinterOptions{Palette: palette, Width: console.Width, ShowThoughts: args.thoughts}
	if console.Styled() && !args.noMarkdown {
		popts.Markdown = host.NewMarkdownRenderer("")
	}
	printer := host.NewPrinter(os.Stdout, popts)

	bus := eventbus.New[acp.Event]()
	defer bus.Close()
	bus.Subscribe(printer.Handle)

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	if settings.MetricsAddr != "" {
		stop, err := serveMetrics(settings.MetricsAddr, collector, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	var rec *transcript.Recorder
	if settings.Transcripts {
		dir := config.TranscriptsDir()
		if err := config.EnsureDir(dir); err != nil {
			return fmt.Errorf("creating transcripts dir: %w", err)
		}
		rec = transcript.NewRecorder(dir, transcript.Meta{
			CWD:     cwd,
			Agent:   settings.Agent.Command,
			Profile: settings.Agent.Profile,
		})
		defer rec.Close()
		bus.Subscribe(rec.Handle)
	}

	roots, err := permission.NewRoots(cwd)
	if err != nil {
		return fmt.Errorf("creating workspace roots: %w", err)
	}
	ws, err := workspace.New(workspace.Options{
		Roots:  roots,
		Review: args.review,
		OnWrite: func(n workspace.WriteNotice) {
			if n.Deferred {
				printer.Notice("held write to %s for review (/pending)", n.Path)
				return
			}
			printer.Notice("wrote %s", n.Path)
		},
	})
	if err != nil {
		return err
	}

	mode, err := permission.ParseMode(settings.Permissions.Mode)
	if err != nil {
		return err
	}
	policy, err := permission.NewFromRules(mode, settings.Permissions.Allow, settings.Permissions.Deny, host.NewAsker(console, palette))
	if err != nil {
		return fmt.Errorf("loading permission rules: %w", err)
	}

	applySettings := func(s *config.Settings) error {
		if err := policy.SetRules(s.Permissions.Allow, s.Permissions.Deny); err != nil {
			return err
		}
		if args.mode == "" {
			if m, err := permission.ParseMode(s.Permissions.Mode); err == nil {
				policy.SetMode(m)
			}
		}
		applyLogLevel(s.LogLevel, args.verbose)
		return nil
	}
	config.WatchSettings(ctx, cwd, settingsPollInterval, func(s *config.Settings) {
		if err := applySettings(s); err != nil {
			logger.Warn("settings reload: %v", err)
			return
		}
		logger.Info("settings reloaded")
	}, func(err error) {
		logger.Warn("settings reload: %v", err)
	})

	engine := acp.New(acp.Options{
		Config:      engineConfig(settings, cwd),
		Files:       ws,
		Mutator:     ws,
		Permissions: policy,
		Events:      bus,
		Metrics:     collector,
	})
	defer engine.Stop()

	c := newChat(engine, console, printer, policy, ws)
	c.cmdCtx.CWD = cwd
	c.cmdCtx.Agent = orDash(settings.Agent.Profile, settings.Agent.Command)
	c.cmdCtx.ReloadFn = func() (string, error) {
		s, err := buildSettings(args, cwd)
		if err != nil {
			return "", err
		}
		if err := applySettings(s); err != nil {
			return "", err
		}
		return "Settings reloaded.", nil
	}
	if rec != nil {
		c.cmdCtx.ExportTranscript = func(dest string) error {
			src := rec.Path()
			if src == "" {
				return errors.New("no transcript recorded yet")
			}
			return exportToFile(src, dest)
		}
	}
	go c.handleSignals(ctx, cancel)

	if err := engine.Connect(ctx); err != nil {
		return err
	}
	info := engine.AgentInfo()
	if info.Name != "" {
		printer.Notice("connected to %s %s", orDash(info.Title, info.Name), info.Version)
	}

	if args.prompt != "" {
		return c.turn(ctx, args.prompt)
	}
	return c.run(ctx)
}

func resolveCWD(flagValue string) (string, error) {
	cwd := flagValue
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		cwd = wd
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", cwd, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	if !st.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", abs)
	}
	return abs, nil
}

// buildSettings loads the settings files for cwd, applies the selected
// profile and the command-line overrides, and validates the result.
func buildSettings(args cliArgs, cwd string) (*config.Settings, error) {
	s, err := config.Load(cwd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cmd, cmdArgs, ok := args.agentCommand(); ok {
		s.Agent.Command = cmd
		s.Agent.Args = cmdArgs
	}

	name := s.Agent.Profile
	if args.profile != "" {
		name = args.profile
	}
	if name != "" {
		profiles, err := config.LoadProfiles(config.AgentsDirs(cwd)...)
		if err != nil {
			log.Warn("loading agent profiles: %v", err)
		}
		if p, ok := config.FindProfile(profiles, name); ok {
			s.ApplyProfile(p)
			// An explicit --agent still wins over the profile's command.
			if cmd, cmdArgs, ok := args.agentCommand(); ok {
				s.Agent.Command = cmd
				s.Agent.Args = cmdArgs
			}
		} else {
			// A profile the agent knows but we have no file for is passed through.
			s.Agent.Profile = name
		}
	}

	if args.mode != "" {
		s.Permissions.Mode = args.mode
	}
	if args.metricsAddr != "" {
		s.MetricsAddr = args.metricsAddr
	}
	if args.transcript {
		s.Transcripts = true
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}

func engineConfig(s *config.Settings, cwd string) acp.Config {
	return acp.Config{
		Command:          s.Agent.Command,
		Args:             s.Agent.Args,
		Env:              s.Agent.EnvList(),
		SearchPaths:      s.Agent.SearchPaths,
		WorkDir:          cwd,
		Profile:          s.Agent.Profile,
		ProfileFlag:      s.Agent.ProfileFlag,
		HandshakeTimeout: s.Timeouts.Handshake.Std(),
		RequestTimeout:   s.Timeouts.Request.Std(),
		ShutdownGrace:    s.Timeouts.Shutdown.Std(),
		ClientName:       "acp-chat",
		ClientVersion:    version,
	}
}

func applyLogLevel(s string, verbose bool) {
	if verbose {
		log.SetLevel(log.LevelDebug)
		return
	}
	if l, err := log.ParseLevel(s); err == nil {
		log.SetLevel(l)
	}
}

// serveMetrics exposes /metrics on addr and returns a function that shuts
// the server down.
func serveMetrics(addr string, c *metrics.Collector, logger *log.Logger) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	bound, stop, err := httpserver.Listen(addr, mux, 2*time.Second, func(err error) {
		logger.Error("metrics server: %v", err)
	})
	if err != nil {
		return nil, fmt.Errorf("starting metrics server: %w", err)
	}
	logger.Info("serving metrics on %s", bound)
	return stop, nil
}

func listProfiles(cwd string) error {
	profiles, err := config.LoadProfiles(config.AgentsDirs(cwd)...)
	for _, p := range profiles {
		fmt.Printf("%-20s %s\n", p.Name, p.Description)
	}
	if len(profiles) == 0 && err == nil {
		fmt.Println("no agent profiles found")
	}
	return err
}

func listSessions() error {
	starts, err := transcript.List(config.TranscriptsDir())
	if err != nil {
		return err
	}
	if len(starts) == 0 {
		fmt.Println("no transcripts recorded")
		return nil
	}
	for _, s := range starts {
		fmt.Printf("%-40s %-12s %s\n", s.ID, orDash(s.Profile, s.Agent), s.CWD)
	}
	return nil
}

// exportTranscript renders the transcript named by ref, a file path or a
// recorded session id.
func exportTranscript(w io.Writer, ref, format string) error {
	path := ref
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(config.TranscriptsDir(), ref+".jsonl")
	}
	records, err := transcript.ReadRecords(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case "md", "markdown":
		return export.Markdown(records, w)
	case "html":
		return export.HTML(records, w)
	default:
		return fmt.Errorf("unknown export format %q (want md or html)", format)
	}
}

// exportToFile renders the transcript at src into dest, picking HTML or
// Markdown from dest's extension.
func exportToFile(src, dest string) error {
	format := "md"
	if ext := strings.ToLower(filepath.Ext(dest)); ext == ".html" || ext == ".htm" {
		format = "html"
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := exportTranscript(f, src, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func orDash(s, fallback string) string {
	if s != "" {
		return s
	}
	if fallback != "" {
		return fallback
	}
	return "-"
}
