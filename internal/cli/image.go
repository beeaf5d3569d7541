package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/device"
	"github.com/koios/openmatrix/internal/imaging"
	"github.com/koios/openmatrix/pkg/models"
)

func (a *app) newImageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage images on the device",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "select ID|NAME",
			Short: "Show an image in image mode",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := a.client().SelectImage(cmd.Context(), models.ParseImageRef(args[0]))
				return report(cmd, resp, err)
			},
		},
		&cobra.Command{
			Use:   "preview ID|NAME",
			Short: "Show an image briefly without selecting it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := a.client().PreviewImage(cmd.Context(), models.ParseImageRef(args[0]))
				return report(cmd, resp, err)
			},
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete an image",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := a.client().DeleteImage(cmd.Context(), args[0])
				return report(cmd, resp, err)
			},
		},
		a.newUploadCommand(),
		a.newConvertCommand(),
	)
	return cmd
}

func (a *app) newUploadCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Convert an image to a GIF sized for the matrix and upload it",
		Long: `Convert a GIF, PNG, JPEG, BMP or WebP file to a GIF that fits the
matrix and upload it. Animated GIFs keep their frames and timing.

The matrix size is read from the device; 64x64 is used when it is unknown.
Conversions are cached in Redis when REDIS_ADDR is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			pipeline, closePipeline := a.pipeline(cmd.Context())
			defer closePipeline()

			client := a.client(device.WithEncoder(pipeline))
			// Only needed for the matrix size
			if err := client.PollState(cmd.Context()); err != nil {
				a.logger.Warn("Device size unknown, using default",
					zap.Int("width", imaging.DefaultWidth),
					zap.Int("height", imaging.DefaultHeight))
			}

			if _, err := client.UploadImage(cmd.Context(), name, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s\n", device.GIFName(name))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name to store the image under (default is the file name)")
	return cmd
}

func (a *app) newConvertCommand() *cobra.Command {
	var width, height int

	cmd := &cobra.Command{
		Use:   "convert SOURCE DEST",
		Short: "Convert an image to a matrix GIF without uploading it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			pipeline, closePipeline := a.pipeline(cmd.Context())
			defer closePipeline()

			result, err := pipeline.Process(cmd.Context(), data, width, height)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], result.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%dx%d, %s)\n",
				args[1], result.Width, result.Height, humanize.IBytes(uint64(len(result.Data))))
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", imaging.DefaultWidth, "output width")
	cmd.Flags().IntVar(&height, "height", imaging.DefaultHeight, "output height")
	return cmd
}

// pipeline creates an image pipeline, caching in Redis when it is reachable
func (a *app) pipeline(ctx context.Context) (*imaging.Pipeline, func()) {
	var cache imaging.Cache = imaging.NewMemoryCache()
	var closeCache func() error

	if a.cfg.Redis.Addr != "" {
		rc := imaging.NewRedisCache(&a.cfg.Redis)
		if err := rc.Ping(ctx); err != nil {
			a.logger.Warn("Redis unavailable, caching conversions in memory", zap.Error(err))
			_ = rc.Close()
		} else {
			cache = rc
			closeCache = rc.Close
		}
	}

	p := imaging.NewPipeline(a.cfg.Imaging.Workers, cache, a.cfg.Imaging.CacheTTL, a.logger)
	return p, func() {
		p.Close()
		if closeCache != nil {
			_ = closeCache()
		}
	}
}
