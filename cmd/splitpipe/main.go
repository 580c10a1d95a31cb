// splitpipe reads a byte stream from stdin, frames it per the wire
// format internal/wire implements, and writes it across one or more
// Volumes to a spawned writer command, rolling over whenever a Volume
// fills and closing the session when the input ends. Flag/Action layout follows kcptun's
// client/main.go (cli.NewApp + a single Action closure), including the
// -c JSON-override flag from server/config.go's parseJSONConfig.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/netherlabs/splitpipe/internal/config"
	"github.com/netherlabs/splitpipe/internal/producer"
	"github.com/netherlabs/splitpipe/internal/sizes"
	"github.com/netherlabs/splitpipe/internal/status"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "splitpipe"
	app.Usage = "split a byte stream across Volumes written to a child command"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "buffer-size, b",
			Value: 1000,
			Usage: "ring buffer size, in kilobytes",
		},
		cli.StringFlag{
			Name:  "volume-size, s",
			Value: sizes.DefaultVolumeToken,
			Usage: "volume size: integer kilobytes, or floppy/CD/CD-80/CDR-80/DVD/DVD-5",
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "shell-evaluated writer command (required)",
		},
		cli.StringFlag{
			Name:  "label, L",
			Usage: "optional session label",
		},
		cli.BoolFlag{
			Name:  "no-prompt, n",
			Usage: "don't wait for the operator between volumes",
		},
		cli.BoolFlag{
			Name:  "retry-same-volume",
			Usage: "automatically retry the current volume if its writer exits abnormally and the volume carried no Data frame",
		},
		cli.BoolFlag{
			Name:  "sha1",
			Usage: "track a parallel SHA-1 digest alongside the required MD5",
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
		cfg := config.Producer{
			BufferSizeKB:    c.Int("buffer-size"),
			VolumeSizeToken: c.String("volume-size"),
			Output:          c.String("output"),
			Label:           c.String("label"),
			NoPrompt:        c.Bool("no-prompt"),
			Verbose:         c.Bool("verbose"),
			Debug:           c.Bool("debug"),
			RetrySameVolume: c.Bool("retry-same-volume"),
			SHA1:            c.Bool("sha1"),
		}

		if path := c.String("c"); path != "" {
			if err := config.LoadJSONOverride(&cfg, path); err != nil {
				checkError(err)
			}
		}

		if cfg.Output == "" {
			checkError(errors.New("splitpipe: -o/--output is required"))
		}

		volumeBytes, err := sizes.ParseVolumeSize(cfg.VolumeSizeToken)
		if err != nil {
			checkError(err)
		}
		if volumeBytes <= sizes.ReservedTrailer {
			checkError(errors.Errorf("splitpipe: volume size %d must exceed the %d-byte trailer reserve", volumeBytes, sizes.ReservedTrailer))
		}
		volumeBudget := sizes.BudgetedVolumeSize(volumeBytes)

		bufferBytes, err := sizes.ParseBufferSize(strconv.Itoa(cfg.BufferSizeKB))
		if err != nil {
			checkError(err)
		}

		log.Println("version:", VERSION)
		log.Println("buffer size:", bufferBytes)
		log.Println("volume size:", volumeBytes, "(budget", volumeBudget, "after trailer reserve)")
		log.Println("output command:", cfg.Output)
		log.Println("label:", cfg.Label)
		log.Println("no-prompt:", cfg.NoPrompt)
		log.Println("retry-same-volume:", cfg.RetrySameVolume)
		log.Println("sha1:", cfg.SHA1)

		if err := unix.SetNonblock(int(os.Stdin.Fd()), true); err != nil {
			checkError(errors.Wrap(err, "splitpipe: setting stdin non-blocking"))
		}

		sink := status.NewConsole()

		pipe, err := producer.New(int(os.Stdin.Fd()), int(bufferBytes), volumeBudget, cfg.Output, cfg.Label, cfg.NoPrompt, cfg.RetrySameVolume, cfg.SHA1, sink)
		if err != nil {
			checkError(err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		signal.Ignore(syscall.SIGPIPE)
		go func() {
			<-sigCh
			log.Println("splitpipe: interrupt received, finishing the current volume and closing down")
			pipe.RequestBreak()
		}()

		if err := pipe.Run(); err != nil {
			if errors.Is(err, producer.ErrInterrupted) {
				log.Println("splitpipe: stopped on interrupt")
				os.Exit(1)
			}
			checkError(err)
		}

		log.Println("splitpipe: session complete")
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
