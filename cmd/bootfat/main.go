// bootfat reads FAT volumes from disk images the way the boot loader does. It runs
// the whole boot sequence against an image and can list and extract files.
package main

import (
	"os"

	"github.com/aligator/bootfat/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logrus.New()
	if err := newApp(log).Run(os.Args); err != nil {
		log.WithFields(checkpoint.Fields(err)).Fatal(err)
	}
}

func newApp(log *logrus.Logger) *cli.App {
	return &cli.App{
		Name:  "bootfat",
		Usage: "Boot from and inspect FAT formatted disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "one of trace, debug, info, warn, error",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			bootCommand(log),
			lsCommand(log),
			catCommand(log),
			infoCommand(log),
			mkimageCommand(log),
		},
	}
}
