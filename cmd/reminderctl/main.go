package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var CLI struct {
	Version   kong.VersionFlag
	ConfigDir string `help:"Directory holding base.yaml and <env>.yaml." default:"config" env:"CONFIG_DIR"`
	Env       string `help:"Config environment name." default:"local" env:"CONFIG_ENV"`

	Dispatch  DispatchCmd  `cmd:"" help:"Run one server dispatch now."`
	Next      NextCmd      `cmd:"" help:"Print the next local reminder fire times." default:"1"`
	Watch     WatchCmd     `cmd:"" help:"Run the local scheduler and print notifications to the terminal."`
	VAPIDKeys VAPIDKeysCmd `cmd:"" name:"vapid-keys" help:"Generate a VAPID key pair for web push."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("reminderctl"),
		kong.Description("Operate the reminder notification pipeline"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{"version": "v0.1.0"},
	)

	err := ctx.Run(&Context{ConfigDir: CLI.ConfigDir, Env: CLI.Env})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
