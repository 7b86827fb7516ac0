package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/metadata-pipeline/internal/config"
	"github.com/andresuchdata/metadata-pipeline/pkg/logger"
)

const sampleText = "President Donald Trump tried to explain his agitating approach to life, politics and the rest of the world " +
	"in a flash of impatience during a blustery news conference in France.   It's the way I negotiate. " +
	"It's done me well over the years and it's doing even better for the country, I think,  he said."

func newConfigFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the JSON configuration document",
		EnvVars: []string{config.ConfigFileEnv},
	}
}

func analysisFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "text",
			Usage: "Text to analyze and translate",
			Value: sampleText,
		},
		&cli.StringFlag{
			Name:  "target-language",
			Usage: "Language the analyzed text is translated to; empty skips translation",
			Value: "RU",
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := &environment{}

	app := &cli.App{
		Name:  "metadata-pipeline",
		Usage: "Stage files, run remote metadata analysis and collect the results",
		Flags: []cli.Flag{
			newConfigFlag(),
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error); overrides the config document",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: env.setup,
		After:  env.close,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Analyze text, then run segment-text and translate-captions",
				Flags:  analysisFlags(),
				Action: env.runAll,
			},
			{
				Name:   "analyze",
				Usage:  "Analyze, resolve knowledge-graph entities and translate text without staging",
				Flags:  analysisFlags(),
				Action: env.analyze,
			},
			{
				Name:   "segment-text",
				Usage:  "Stage the segment input and collect its JSON and XML segmentation",
				Action: env.segmentText,
			},
			{
				Name:   "translate-captions",
				Usage:  "Stage the captions file and collect the translated captions and text",
				Action: env.translateCaptions,
			},
		},
		DefaultCommand: "run",
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("metadata-pipeline failed")
	}
}
