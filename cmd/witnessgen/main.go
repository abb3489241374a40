package main

import (
	"fmt"
	"os"
	"path/filepath"
	"zkrollup-witness/common"
	"zkrollup-witness/config"
	"zkrollup-witness/log"

	"github.com/urfave/cli"
)

const (
	flagCfg    = "cfg"
	flagInput  = "input"
	flagOutput = "output"
)

var (
	// Version represents the program based on the git tag
	Version = "v0.1.0"
	// Commit represents the program based on the git commit
	Commit = "dev"
	// Date represents the date of application was built
	Date = ""
)

func cmdVersion(c *cli.Context) error {
	fmt.Printf("Version = \"%v\"\n", Version)
	fmt.Printf("Build = \"%v\"\n", Commit)
	fmt.Printf("Date = \"%v\"\n", Date)
	return nil
}

func cmdGenerate(c *cli.Context) error {
	cfg, err := config.LoadNode(c.String(flagCfg))
	if err != nil {
		if err := cli.ShowCommandHelp(c, c.Command.Name); err != nil {
			panic(err)
		}
		return common.Wrap(fmt.Errorf("error parsing flags and config: %w", err))
	}
	log.Init(cfg.Log.Level, cfg.Log.Out)

	in, err := os.Open(filepath.Clean(c.String(flagInput)))
	if err != nil {
		return common.Wrap(err)
	}
	defer in.Close() //nolint:errcheck

	out := os.Stdout
	if path := c.String(flagOutput); path != "" {
		out, err = os.Create(filepath.Clean(path))
		if err != nil {
			return common.Wrap(err)
		}
		defer out.Close() //nolint:errcheck
	}
	if err := generate(cfg, in, out); err != nil {
		log.Errorw("witness generation failed", "err", err)
		return common.Wrap(err)
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "witnessgen"
	app.Version = Version
	app.Usage = "Generate the circuit inputs of a batch of account closes"

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     flagCfg,
			Usage:    "Configuration `FILE`",
			Required: false,
		},
		&cli.StringFlag{
			Name:     flagInput,
			Usage:    "JSON `FILE` with the genesis accounts and the close operations",
			Required: true,
		},
		&cli.StringFlag{
			Name:     flagOutput,
			Usage:    "`FILE` where the ZKInputs are written, stdout if not set",
			Required: false,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:    "version",
			Aliases: []string{},
			Usage:   "Show the application version and build",
			Action:  cmdVersion,
		},
		{
			Name:    "generate",
			Aliases: []string{},
			Usage:   "Build the witness of the close operations of the input",
			Action:  cmdGenerate,
			Flags:   flags,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("\nError: %v\n", common.Wrap(err))
		os.Exit(1)
	}
}
