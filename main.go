package main

import (
	"fmt"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	"github.com/dirkholz/curfil/config"
	"github.com/dirkholz/curfil/forest"
	"github.com/dirkholz/curfil/rgbd"
	"github.com/dirkholz/curfil/tree"
)

const (
	// Flags.
	flagDebug    = "debug"
	flagProfile  = "profile"
	flagConfig   = "config"
	flagModel    = "model"
	flagOutput   = "output"
	flagTrees    = "trees"
	flagMaxDepth = "max-depth"
	flagMinSplit = "min-split"
	flagImpurity = "impurity"
	flagSeed     = "seed"
	flagWorkers  = "workers"
)

type modelOptions struct {
	nTree    int
	maxDepth int
	minSplit int
	nWorkers int
	impurity *tree.ImpurityMeasure
	seed     *int64
}

// parseModelOpts collects the forest options given on the command line.
// Unset options keep the values of the configuration file.
func parseModelOpts(c *cli.Context) (modelOptions, error) {
	o := modelOptions{
		nTree:    c.Int(flagTrees),
		maxDepth: c.Int(flagMaxDepth),
		minSplit: c.Int(flagMinSplit),
		nWorkers: c.Int(flagWorkers),
	}
	if c.IsSet(flagImpurity) {
		m, err := tree.ParseImpurity(c.String(flagImpurity))
		if err != nil {
			return o, err
		}
		o.impurity = &m
	}
	if c.IsSet(flagSeed) {
		seed := c.Int64(flagSeed)
		o.seed = &seed
	}
	return o, nil
}

func main() {
	var (
		logger golog.Logger
		prof   interface{ Stop() }
	)

	modelFlag := &cli.StringFlag{
		Name:    flagModel,
		Aliases: []string{"f"},
		Value:   "curfil.model",
		Usage:   "model `FILE`",
	}

	app := &cli.App{
		Name:  "curfil",
		Usage: "train and apply random forests for RGB-D image labeling",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagProfile,
				Usage: "write a cpu profile",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = golog.NewDebugLogger("curfil")
			} else {
				logger = golog.NewDevelopmentLogger("curfil")
			}
			if c.Bool(flagProfile) {
				prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."))
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if prof != nil {
				prof.Stop()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "train",
				Usage:     "train a forest on the labeled images of a folder",
				ArgsUsage: "<folder>",
				Flags: []cli.Flag{
					modelFlag,
					&cli.StringFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Usage:   "load training configuration from JSON `FILE`",
					},
					&cli.IntFlag{
						Name:  flagTrees,
						Usage: "number of trees",
					},
					&cli.IntFlag{
						Name:  flagMaxDepth,
						Usage: "maximum tree depth, -1 for unlimited",
					},
					&cli.IntFlag{
						Name:  flagMinSplit,
						Usage: "minimum number of samples required to split a node",
					},
					&cli.StringFlag{
						Name:  flagImpurity,
						Usage: "impurity measure for evaluating splits (gini or entropy)",
					},
					&cli.Int64Flag{
						Name:  flagSeed,
						Usage: "random seed of the first tree",
					},
					&cli.IntFlag{
						Name:  flagWorkers,
						Value: 1,
						Usage: "number of trees trained in parallel",
					},
				},
				Action: func(c *cli.Context) error {
					return train(c, logger)
				},
			},
			{
				Name:      "predict",
				Usage:     "label the images of a folder, reporting accuracy if they have ground truth",
				ArgsUsage: "<folder>",
				Flags: []cli.Flag{
					modelFlag,
					&cli.StringFlag{
						Name:    flagOutput,
						Aliases: []string{"o"},
						Usage:   "write predicted label images to `DIR`",
					},
				},
				Action: func(c *cli.Context) error {
					return predict(c, logger)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func folderArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("expected exactly one image folder, got %d arguments", c.NArg())
	}
	return c.Args().First(), nil
}

func train(c *cli.Context, logger golog.Logger) error {
	folder, err := folderArg(c)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	opt, err := parseModelOpts(c)
	if err != nil {
		return errors.Wrap(err, "invalid model option")
	}

	examples, err := findExamples(folder)
	if err != nil {
		return err
	}
	m := new(Model)
	images, err := loadLabeledImages(examples, &m.Palette, logger)
	if err != nil {
		return err
	}

	if err := m.Fit(c.Context, images, cfg, opt, logger); err != nil {
		return err
	}
	if err := saveModel(c.String(flagModel), m); err != nil {
		return err
	}

	e, err := m.Clf.Evaluate(images)
	if err != nil {
		return err
	}
	m.Report(os.Stderr, e)
	return nil
}

func predict(c *cli.Context, logger golog.Logger) error {
	folder, err := folderArg(c)
	if err != nil {
		return err
	}
	m, err := loadModel(c.String(flagModel), logger)
	if err != nil {
		return err
	}
	examples, err := findExamples(folder)
	if err != nil {
		return err
	}

	var (
		images []*rgbd.RGBDImage
		e      *forest.Evaluation
	)
	if labeled(examples) {
		labeledImages, err := loadLabeledImages(examples, &m.Palette, logger)
		if err != nil {
			return err
		}
		for _, im := range labeledImages {
			images = append(images, im.RGBD)
		}
		if e, err = m.Clf.Evaluate(labeledImages); err != nil {
			return err
		}
	} else {
		for _, ex := range examples {
			im, err := rgbd.LoadRGBDImage(ex.Color, ex.Depth)
			if err != nil {
				return err
			}
			images = append(images, im)
		}
		logger.Infow("loaded unlabeled images", "count", len(images))
	}

	if out := c.String(flagOutput); out != "" {
		if err := os.MkdirAll(out, 0o755); err != nil {
			return errors.Wrapf(err, "cannot create %q", out)
		}
		if err := m.writePredictions(examples, images, out); err != nil {
			return err
		}
	}

	m.Report(os.Stderr, e)
	return nil
}
