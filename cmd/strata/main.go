package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cfoust/strata/pkg/config"
	"github.com/cfoust/strata/pkg/version"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var CLI struct {
	Version bool     `help:"Print version information and exit." short:"v"`
	Debug   bool     `help:"Whether to enable debug logging."`
	Configs []string `help:"Configuration files, merged in order." short:"c" name:"config" type:"path"`

	Serve struct {
	} `cmd:"" help:"Serve the terrain API."`

	Config struct {
	} `cmd:"" help:"Write the default configuration to standard output."`

	List struct {
		Anchor float64 `help:"Elevation to compute bands from." default:"0"`
	} `cmd:"" help:"List terrains and their elevation bands."`

	Export struct {
		Path    string `arg:"" optional:"" help:"Destination file; the extension picks the format."`
		ID      int    `help:"Export a single terrain." name:"id"`
		Archive bool   `help:"Write to the configured archive instead of a file."`
	} `cmd:"" help:"Export terrains to a document."`

	Import struct {
		Path    string `arg:"" help:"Document to import."`
		ID      int    `help:"Overwrite a single terrain with the document's first terrain." name:"id"`
		Archive bool   `help:"Read from the configured archive instead of a file."`
	} `cmd:"" help:"Add the terrains in a document to the collection."`

	Replace struct {
		Path    string `arg:"" help:"Document to replace the collection with."`
		Archive bool   `help:"Read from the configured archive instead of a file."`
	} `cmd:"" help:"Replace every terrain with the ones in a document."`

	Reset struct {
	} `cmd:"" help:"Delete every terrain."`

	Inspect struct {
		ID int `arg:"" optional:"" help:"Terrain to dump; all of them when omitted."`
	} `cmd:"" help:"Dump the stored records of terrains."`
}

func writeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}

func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(consoleWriter)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx := kong.Parse(&CLI,
		kong.Name("strata"),
		kong.Description("terrain identifiers, elevation bands, and document exchange"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if CLI.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Warn().Msg("debug logging enabled")
	}

	if CLI.Version {
		fmt.Printf(
			"strata %s (commit %s)\n",
			version.Version,
			version.GitCommit,
		)
		fmt.Printf(
			"built %s\n",
			version.BuildTime,
		)
		os.Exit(0)
	}

	var err error
	switch ctx.Command() {
	case "serve":
		err = serveCommand(CLI.Configs)
	case "config":
		os.Stdout.Write(config.DEFAULT)
	case "list":
		err = listCommand(CLI.Configs)
	case "export":
		fallthrough
	case "export <path>":
		err = exportCommand(CLI.Configs)
	case "import <path>":
		err = importCommand(CLI.Configs)
	case "replace <path>":
		err = replaceCommand(CLI.Configs)
	case "reset":
		err = resetCommand(CLI.Configs)
	case "inspect":
		fallthrough
	case "inspect <id>":
		err = inspectCommand(CLI.Configs)
	}

	if err != nil {
		writeError(err)
	}
}
