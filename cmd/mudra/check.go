package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
)

func newCheckCmd(opts *options) *cobra.Command {
	var probeCamera bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration, labels and model without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return wrapErr(err, "init logger")
			}
			defer logger.Sync()

			out := cmd.OutOrStdout()

			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(out, "config      ok")

			labels, err := cfg.ResolveLabels()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "labels      %d: %s\n", len(labels), strings.Join(labels, " "))

			cls, err := classifier.NewDNN(classifier.DNNOptions{
				ModelPath:     cfg.Classifier.ModelPath,
				ConfigPath:    cfg.Classifier.ModelConfig,
				InputSize:     cfg.Classifier.InputSize,
				MinConfidence: cfg.Classifier.MinConfidence,
			}, labels, logger)
			if err != nil {
				return err
			}
			cls.Close()
			fmt.Fprintf(out, "model       ok (%s)\n", cfg.Classifier.ModelPath)

			det, err := detector.NewMediaPipeDetector(detector.Config{
				MaxHands:      cfg.Detector.MaxHands,
				MinConfidence: cfg.Detector.MinConfidence,
				Script:        cfg.Detector.Script,
				Python:        cfg.Detector.Python,
				Timeout:       cfg.Detector.Timeout,
			}, logger)
			if err != nil {
				fmt.Fprintf(out, "detector    unavailable: %v\n", err)
			} else {
				det.Close()
				fmt.Fprintln(out, "detector    ok")
			}

			if probeCamera {
				cam := capture.NewCamera(capture.Options{
					DeviceID: cfg.Camera.Index,
					Width:    cfg.Camera.Width,
					Height:   cfg.Camera.Height,
				})
				if err := cam.Open(); err != nil {
					return err
				}
				frame, err := cam.ReadFrame()
				cam.Close()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "camera      ok (%dx%d)\n", frame.Cols(), frame.Rows())
				frame.Close()
			}

			logger.Debug("check passed", zap.String("config", opts.configPath))
			return nil
		},
	}

	cmd.Flags().BoolVar(&probeCamera, "probe-camera", false, "also open the camera and read one frame")
	return cmd
}
