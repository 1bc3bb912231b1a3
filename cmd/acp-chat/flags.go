// ABOUTME: CLI flag parsing using stdlib flag package
// ABOUTME: Supports --agent, --profile, --mode, --review, --transcript, --export, --metrics-addr, --version

package main

import (
	"flag"
	"strings"
)

type cliArgs struct {
	agent       string
	profile     string
	cwd         string
	mode        string
	verbose     bool
	metricsAddr string
	noMarkdown  bool
	thoughts    bool
	transcript  bool
	review      bool
	profiles    bool
	sessions    bool
	export      string
	format      string
	version     bool

	prompt string
}

func parseFlags(fs *flag.FlagSet, argv []string) (cliArgs, error) {
	var args cliArgs

	fs.StringVar(&args.agent, "agent", "", "Agent command line (e.g. \"kiro-cli acp\")")
	fs.StringVar(&args.profile, "profile", "", "Agent profile to launch")
	fs.StringVar(&args.cwd, "cwd", "", "Working directory for the session (default: current)")
	fs.StringVar(&args.mode, "mode", "", "Permission mode: normal, yolo, plan")
	fs.BoolVar(&args.verbose, "v", false, "Debug logging on stderr")
	fs.StringVar(&args.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.BoolVar(&args.noMarkdown, "no-markdown", false, "Stream raw text instead of rendering markdown")
	fs.BoolVar(&args.thoughts, "thoughts", false, "Show the agent's reasoning")
	fs.BoolVar(&args.transcript, "transcript", false, "Record the session to a JSONL transcript")
	fs.BoolVar(&args.review, "review", false, "Hold agent writes until /accept")
	fs.BoolVar(&args.profiles, "profiles", false, "List agent profiles and exit")
	fs.BoolVar(&args.sessions, "sessions", false, "List recorded transcripts and exit")
	fs.StringVar(&args.export, "export", "", "Render a transcript (file or session id) to stdout and exit")
	fs.StringVar(&args.format, "format", "md", "Export format: md, html")
	fs.BoolVar(&args.version, "version", false, "Show version and exit")

	if err := fs.Parse(argv); err != nil {
		return args, err
	}
	args.prompt = strings.TrimSpace(strings.Join(fs.Args(), " "))
	return args, nil
}

// agentCommand splits the --agent value into a command and its args.
func (a cliArgs) agentCommand() (string, []string, bool) {
	fields := strings.Fields(a.agent)
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}
