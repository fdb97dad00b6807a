package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aligator/bootfat"
	"github.com/aligator/bootfat/boot"
	"github.com/aligator/bootfat/internal/fatimage"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

func bootCommand(log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:      "boot",
		Usage:     "Run the boot sequence against an image and report where the kernel went",
		ArgsUsage: "IMAGE",
		Flags: append(imageFlags(),
			&cli.UintFlag{
				Name:  "drive",
				Value: 0x80,
				Usage: "BIOS drive number the image is booted from",
			},
			&cli.StringFlag{
				Name:  "memory-map",
				Usage: "CSV file with the columns base, length, type and optionally acpi",
			},
			&cli.StringFlag{
				Name:  "kernel",
				Value: boot.DefaultConfig().KernelPath,
				Usage: "path of the kernel on the boot partition",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "write the loaded kernel to this file",
			},
		),
		Action: func(c *cli.Context) error {
			transport, sectors, err := openDrive(c, log)
			if err != nil {
				return err
			}
			entry, err := selectPartition(c, transport, sectors, log)
			if err != nil {
				return err
			}

			drive := c.Uint("drive")
			if drive > 0xFF {
				return fmt.Errorf("drive number 0x%x out of range", drive)
			}

			memoryMap := boot.DefaultMemoryMap()
			if p := c.String("memory-map"); p != "" {
				f, err := os.Open(p)
				if err != nil {
					return err
				}
				defer f.Close()
				if memoryMap, err = boot.LoadMemoryMapCSV(f); err != nil {
					return err
				}
			}

			config := boot.DefaultConfig()
			config.KernelPath = c.String("kernel")

			mapper := boot.NewMappingTable()
			stage := boot.NewStage(config, transport, uint8(drive), entry, memoryMap, mapper, log)
			image, err := stage.Run()
			if err != nil {
				return err
			}

			w := c.App.Writer
			fmt.Fprintf(w, "kernel %s: %d bytes\n", config.KernelPath, len(image.Data))
			fmt.Fprintf(w, "region %s\n", image.Region)
			fmt.Fprintf(w, "physical 0x%x virtual 0x%x\n", image.Physical, image.Virtual)
			for _, m := range mapper.Mappings() {
				fmt.Fprintf(w, "  0x%016x -> 0x%x\n", m.Virtual, m.Physical)
			}

			if out := c.String("out"); out != "" {
				return os.WriteFile(out, image.Data, 0644)
			}
			return nil
		},
	}
}

func lsCommand(log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List a directory of the volume",
		ArgsUsage: "IMAGE [PATH]",
		Flags: append(imageFlags(),
			&cli.BoolFlag{
				Name:    "recursive",
				Aliases: []string{"R"},
				Usage:   "list all subdirectories too",
			},
		),
		Action: func(c *cli.Context) error {
			fat, err := mount(c, log)
			if err != nil {
				return err
			}

			root := "/"
			if c.NArg() > 1 {
				root = c.Args().Get(1)
			}

			w := c.App.Writer
			if !c.Bool("recursive") {
				infos, err := afero.ReadDir(fat, root)
				if err != nil {
					return err
				}
				for _, info := range infos {
					printInfo(w, path.Join(root, info.Name()), info)
				}
				return nil
			}

			var result error
			err = afero.Walk(fat, root, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					result = multierror.Append(result, err)
					return nil
				}
				printInfo(w, p, info)
				return nil
			})
			if err != nil {
				result = multierror.Append(result, err)
			}
			return result
		},
	}
}

func printInfo(w io.Writer, p string, info os.FileInfo) {
	fmt.Fprintf(w, "%s %10d %s %s\n", info.Mode(), info.Size(), info.ModTime().Format("2006-01-02 15:04"), p)
}

func catCommand(log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Print a file of the volume",
		ArgsUsage: "IMAGE PATH",
		Flags:     imageFlags(),
		Action: func(c *cli.Context) error {
			name, err := argument(c, 1, "PATH")
			if err != nil {
				return err
			}
			fat, err := mount(c, log)
			if err != nil {
				return err
			}

			f, err := fat.Open(name)
			if err != nil {
				return err
			}
			defer f.Close()

			_, err = io.Copy(c.App.Writer, f)
			return err
		},
	}
}

func infoCommand(log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show the layout of the volume",
		ArgsUsage: "IMAGE",
		Flags:     imageFlags(),
		Action: func(c *cli.Context) error {
			fat, err := mount(c, log)
			if err != nil {
				return err
			}
			info, err := fat.Volume().Info()
			if err != nil {
				return err
			}

			w := c.App.Writer
			fmt.Fprintf(w, "type:                %s\n", info.Type)
			fmt.Fprintf(w, "label:               %s\n", info.Label)
			fmt.Fprintf(w, "total sectors:       %d\n", info.TotalSectors)
			fmt.Fprintf(w, "sectors per cluster: %d\n", info.SectorsPerCluster)
			fmt.Fprintf(w, "sectors per FAT:     %d\n", info.SectorsPerFAT)
			fmt.Fprintf(w, "FAT:                 %d\n", info.FATLBA)
			if info.Type == bootfat.FAT32 {
				fmt.Fprintf(w, "root cluster:        %d\n", info.RootCluster)
			} else {
				fmt.Fprintf(w, "root directory:      %d+%d\n", info.RootDirLBA, info.RootDirSectors)
			}
			fmt.Fprintf(w, "data:                %d\n", info.DataLBA)
			fmt.Fprintf(w, "clusters:            %d\n", info.Clusters)
			return nil
		},
	}
}

func mkimageCommand(log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:      "mkimage",
		Usage:     "Create a partitioned disk image with a FAT volume",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Value: "fat32",
				Usage: "fat12, fat16 or fat32",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "volume label",
			},
			&cli.UintFlag{
				Name:  "sectors",
				Usage: "size of the volume in sectors, 0 picks a small default",
			},
			&cli.UintFlag{
				Name:  "start",
				Value: 2048,
				Usage: "first sector of the partition, 0 writes a bare volume",
			},
			&cli.StringSliceFlag{
				Name:  "add",
				Usage: "HOST:PATH copies a host file or directory to PATH on the volume",
			},
		},
		Action: func(c *cli.Context) error {
			out, err := argument(c, 0, "IMAGE")
			if err != nil {
				return err
			}

			t, err := parseType(c.String("type"))
			if err != nil {
				return err
			}
			geometry := fatimage.DefaultGeometry(t)
			if sectors := c.Uint("sectors"); sectors != 0 {
				geometry.TotalSectors = uint32(sectors)
			}

			b := fatimage.NewWithOptions(fatimage.Options{
				Type:     t,
				Geometry: geometry,
				Label:    c.String("label"),
			})
			host := afero.NewOsFs()
			for _, add := range c.StringSlice("add") {
				if err := addHost(b, host, add); err != nil {
					return err
				}
			}

			img, err := b.Build()
			if err != nil {
				return err
			}
			if start := c.Uint("start"); start != 0 {
				if img, err = fatimage.Partitioned(img, t, uint32(start)); err != nil {
					return err
				}
			}

			log.WithFields(logrus.Fields{
				"type": t,
				"size": len(img),
			}).Info("image created")
			return os.WriteFile(out, img, 0644)
		},
	}
}

func parseType(s string) (bootfat.FATType, error) {
	switch strings.ToLower(s) {
	case "fat12":
		return bootfat.FAT12, nil
	case "fat16":
		return bootfat.FAT16, nil
	case "fat32":
		return bootfat.FAT32, nil
	}
	return 0, fmt.Errorf("unknown FAT type %q", s)
}

// addHost copies the host file or directory tree named by arg HOST:PATH into b.
func addHost(b *fatimage.Builder, host afero.Fs, arg string) error {
	src, dst, ok := strings.Cut(arg, ":")
	if !ok || src == "" || dst == "" {
		return fmt.Errorf("%w: --add expects HOST:PATH, got %q", errMissingArgument, arg)
	}

	return afero.Walk(host, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := path.Join(dst, filepath.ToSlash(rel))

		if info.IsDir() {
			if target == "/" {
				return nil
			}
			// Directories already created for earlier files are fine.
			if err := b.AddDir(target); err != nil && !errors.Is(err, fatimage.ErrExists) {
				return err
			}
			return nil
		}
		data, err := afero.ReadFile(host, p)
		if err != nil {
			return err
		}
		return b.AddFile(target, data)
	})
}
