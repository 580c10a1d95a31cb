// joinpipe decodes the framed wire stream internal/wire defines from
// one or more Volume sources given as positional arguments (or stdin,
// if none are given) and reconstructs the original payload on stdout.
// CLI layout follows splitpipe's (itself grounded on kcptun's
// client/main.go cli.NewApp + Action closure style).
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/netherlabs/splitpipe/internal/config"
	"github.com/netherlabs/splitpipe/internal/consumer"
	"github.com/netherlabs/splitpipe/internal/status"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "joinpipe"
	app.Usage = "reconstruct a byte stream split across Volumes by splitpipe"
	app.Version = VERSION
	app.ArgsUsage = "[volume ...]"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "no-prompt, n",
			Usage: "don't wait for the operator between volumes",
		},
		cli.BoolFlag{
			Name:  "sha1",
			Usage: "verify the optional SHA-1 cross-check alongside the required MD5",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "log extra progress detail",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "log frame-level detail",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "config from json file, which will override the command from shell",
		},
	}

	app.Action = func(c *cli.Context) error {
		cfg := config.Consumer{
			Volumes:  []string(c.Args()),
			NoPrompt: c.Bool("no-prompt"),
			Verbose:  c.Bool("verbose"),
			Debug:    c.Bool("debug"),
			SHA1:     c.Bool("sha1"),
		}

		if path := c.String("c"); path != "" {
			if err := config.LoadJSONOverride(&cfg, path); err != nil {
				checkError(err)
			}
		}

		log.Println("version:", VERSION)
		if len(cfg.Volumes) == 0 {
			log.Println("volumes: (reading every volume from stdin)")
		} else {
			log.Println("volumes:", cfg.Volumes)
		}
		log.Println("no-prompt:", cfg.NoPrompt)
		log.Println("sha1:", cfg.SHA1)

		signal.Ignore(syscall.SIGPIPE)

		pipe := &consumer.Pipeline{
			Sources:  cfg.Volumes,
			NoPrompt: cfg.NoPrompt,
			SHA1:     cfg.SHA1,
			Sink:     status.NewConsole(),
			Out:      os.Stdout,
		}

		if err := pipe.Run(); err != nil {
			checkError(err)
		}

		log.Println("joinpipe: session complete")
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		checkError(err)
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}
