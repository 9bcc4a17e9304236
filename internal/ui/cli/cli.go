package cli

import (
	"errors"
	"flag"
	"io"
)

const versionString = "1.0.0"

type cliOptions struct {
	configPath      string
	language        string
	full            bool
	header          bool
	format          string
	uri             string
	out             string
	list            bool
	ui              bool
	strict          bool
	serveRepository bool
	verbose         bool
	version         bool
	args            []string
}

func parseOptions(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("ilview", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		io.WriteString(stderr, "usage: ilview [flags] <assembly> [Namespace.Type[::Member] | ns:Namespace | module]\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configPath, "config", "", "Path to config file (default: nearest ilview.toml)")
	fs.StringVar(&opts.language, "language", "", "Output language: il or csharp")
	fs.BoolVar(&opts.full, "full", false, "Force full decompilation")
	fs.BoolVar(&opts.header, "header", false, "Force header-only output")
	fs.StringVar(&opts.format, "format", "", "Highlight format: none, ansi or html")
	fs.StringVar(&opts.uri, "uri", "", "Disassemble the method at this code URI")
	fs.StringVar(&opts.out, "o", "", "Write output to this file instead of stdout")
	fs.BoolVar(&opts.list, "list", false, "List the types and method code URIs of the assembly")
	fs.BoolVar(&opts.ui, "ui", false, "Ask interactively for unresolved references")
	fs.BoolVar(&opts.strict, "strict", false, "Panic on concurrent disassembly requests")
	fs.BoolVar(&opts.serveRepository, "serve-repository", false, "Serve repository_server.root over HTTP")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	opts.args = fs.Args()
	return opts, nil
}

func validateOptions(opts cliOptions) error {
	if opts.version {
		return nil
	}
	if opts.full && opts.header {
		return errors.New("-full and -header cannot be combined")
	}
	if opts.serveRepository {
		if len(opts.args) > 0 || opts.list || opts.uri != "" {
			return errors.New("-serve-repository takes no assembly arguments")
		}
		return nil
	}
	if len(opts.args) == 0 {
		return errors.New("an assembly path is required")
	}
	if len(opts.args) > 2 {
		return errors.New("expected an assembly path and at most one selector")
	}
	if opts.uri != "" && len(opts.args) > 1 {
		return errors.New("-uri and a selector cannot be combined")
	}
	if opts.list && (opts.uri != "" || len(opts.args) > 1) {
		return errors.New("-list takes only an assembly path")
	}
	return nil
}
