package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"dicom2glb/pkg/batch"
	"dicom2glb/pkg/classmap"
	"dicom2glb/pkg/config"
	"dicom2glb/pkg/export"
	"dicom2glb/pkg/extraction"
	"dicom2glb/pkg/scene"
	"dicom2glb/pkg/segmentation"
)

// flags holds the root command line
type flags struct {
	input      string
	output     string
	speed      string
	tasks      []string
	modality   string
	statistics bool
	merge      bool
	previews   bool
	configPath string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "dicom2glb",
		Short: "Segment medical scans and export anatomical meshes as GLB scenes",
		Long: "dicom2glb runs TotalSegmentator on every NIfTI file and DICOM series under\n" +
			"the input directory, converts each segmented structure into a smoothed\n" +
			"surface mesh and exports the meshes as colored, grouped GLB scenes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, f, stdout)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "configuration file (YAML, JSON or TOML)")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	fl := root.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "input directory")
	fl.StringVarP(&f.output, "output", "o", "", "output directory")
	fl.StringVar(&f.speed, "speed", string(segmentation.Normal), "segmentation speed: normal or fast")
	fl.StringArrayVarP(&f.tasks, "task", "t", nil, "segmentation task, repeatable (default total, or total_mr for MR)")
	fl.StringVar(&f.modality, "modality", string(segmentation.CT), "scan modality: CT or MR")
	fl.BoolVar(&f.statistics, "statistics", false, "compute segmentation and mesh statistics")
	fl.BoolVar(&f.merge, "merge", false, "export one GLB per input holding every task")
	fl.BoolVar(&f.previews, "previews", false, "save label map preview slices")
	_ = root.MarkFlagRequired("input")
	_ = root.MarkFlagRequired("output")

	root.AddCommand(
		newExtractCommand(f, stdout),
		newAssembleCommand(f, stdout),
		newInitConfigCommand(stdout),
	)
	return root
}

// setup loads the configuration and installs the logger
func setup(cmd *cobra.Command, f *flags) (*config.Config, error) {
	path := f.configPath
	if path == "" {
		path = "~/.dicom2glb.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Output.Verbose = f.verbose
	}

	level := slog.LevelInfo
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

func loadClassMap(cfg *config.Config) (classmap.ClassMap, error) {
	classes := classmap.Default()
	if cfg.Paths.ClassMapFile == "" {
		return classes, nil
	}
	extra, err := classmap.Load(cfg.Paths.ClassMapFile)
	if err != nil {
		return nil, err
	}
	return classes.Merge(extra), nil
}

func loadGroups(cfg *config.Config) (*scene.GroupDef, error) {
	if cfg.Scene.GroupsFile == "" {
		return scene.DefaultGroups(), nil
	}
	return scene.LoadGroups(cfg.Scene.GroupsFile)
}

func newExtractor(cfg *config.Config, statistics bool) (*extraction.Extractor, error) {
	classes, err := loadClassMap(cfg)
	if err != nil {
		return nil, err
	}
	opts := extraction.Options{
		IsoValue:         cfg.Mesh.IsoValue,
		SmoothIterations: cfg.Mesh.SmoothIterations,
		RelaxationFactor: cfg.Mesh.RelaxationFactor,
		MergeTolerance:   cfg.Mesh.MergeTolerance,
		Decimate:         cfg.Mesh.Decimate,
		TargetReduction:  cfg.Mesh.TargetReduction,
		ApplyAffine:      cfg.Mesh.ApplyAffine,
		Statistics:       statistics,
	}
	return extraction.NewExtractor(opts, classes), nil
}

func newAssembler(cfg *config.Config) (*scene.Assembler, error) {
	groups, err := loadGroups(cfg)
	if err != nil {
		return nil, err
	}
	return scene.NewAssembler(scene.Options{
		Recursive: cfg.Scene.Recursive,
		Rotate:    cfg.Scene.Rotate,
		Grouping:  cfg.Scene.Grouping,
	}, groups), nil
}

// batchOptions validates the root flags against the configuration
func batchOptions(cmd *cobra.Command, f *flags, cfg *config.Config) (batch.Options, error) {
	modality, err := segmentation.ParseModality(f.modality)
	if err != nil {
		return batch.Options{}, err
	}
	speed, err := segmentation.ParseSpeed(f.speed)
	if err != nil {
		return batch.Options{}, err
	}
	tasks := f.tasks
	if len(tasks) == 0 {
		tasks = []string{segmentation.DefaultTask(modality)}
	}
	if err := segmentation.ValidateTasks(modality, tasks); err != nil {
		return batch.Options{}, err
	}

	previews := cfg.Output.Previews
	if cmd.Flags().Changed("previews") {
		previews = f.previews
	}
	return batch.Options{
		Input:      f.input,
		Output:     f.output,
		Tasks:      tasks,
		Modality:   modality,
		Speed:      speed,
		Multilabel: cfg.Segmentation.Multilabel,
		Statistics: f.statistics,
		Device:     cfg.Segmentation.Device,
		Merge:      f.merge,
		Previews:   previews,
	}, nil
}

func runBatch(cmd *cobra.Command, f *flags, stdout io.Writer) error {
	cfg, err := setup(cmd, f)
	if err != nil {
		return err
	}
	opts, err := batchOptions(cmd, f, cfg)
	if err != nil {
		return err
	}
	extractor, err := newExtractor(cfg, opts.Statistics)
	if err != nil {
		return err
	}
	assembler, err := newAssembler(cfg)
	if err != nil {
		return err
	}
	invoker := segmentation.NewInvoker(cfg.Segmentation.Command)
	invoker.ExtraArgs = cfg.Segmentation.ExtraArgs
	invoker.Logger = slog.Default()

	fmt.Fprintln(stdout, "================================")
	fmt.Fprintln(stdout, "DICOM2GLB: SEGMENTATION TO ANATOMICAL GLB SCENES")
	fmt.Fprintln(stdout, "================================")
	fmt.Fprintf(stdout, "Input: %s\nOutput: %s\nTasks: %v (%s, %s)\n\n",
		opts.Input, opts.Output, opts.Tasks, opts.Modality, opts.Speed)

	driver := &batch.Driver{
		Options:   opts,
		Segmenter: invoker,
		Extractor: extractor,
		Assembler: assembler,
		Logger:    slog.Default(),
		Out:       stdout,
	}
	summary, err := driver.Run(cmd.Context())
	if summary != nil {
		fmt.Fprintln(stdout)
		summary.Print(stdout)
	}
	if err != nil {
		return err
	}
	if failed := len(summary.Failed()); failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(summary.Outcomes))
	}
	return nil
}

// errNoMeshes is returned by extract when the label map holds no structure
var errNoMeshes = errors.New("no meshes extracted")

func newExtractCommand(f *flags, stdout io.Writer) *cobra.Command {
	var statistics bool
	cmd := &cobra.Command{
		Use:   "extract LABELMAP OUTDIR",
		Short: "Convert one label map into one STL file per label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd, f)
			if err != nil {
				return err
			}
			extractor, err := newExtractor(cfg, statistics)
			if err != nil {
				return err
			}
			start := time.Now()
			result, err := extractor.ExtractLabelMap(args[0], args[1])
			if err != nil {
				return err
			}
			if len(result.Structures) == 0 {
				return fmt.Errorf("%s: %w", args[0], errNoMeshes)
			}
			fmt.Fprintf(stdout, "Extracted %d meshes into %s in %.2f seconds\n",
				len(result.Structures), args[1], time.Since(start).Seconds())
			return nil
		},
	}
	cmd.Flags().BoolVar(&statistics, "statistics", false, "write mesh statistics next to the meshes")
	return cmd
}

func newAssembleCommand(f *flags, stdout io.Writer) *cobra.Command {
	var group bool
	cmd := &cobra.Command{
		Use:   "assemble STLDIR OUT.glb",
		Short: "Build a GLB scene from a directory of STL files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd, f)
			if err != nil {
				return err
			}
			assembler, err := newAssembler(cfg)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("group") {
				assembler.Options.Grouping = group
			}
			s, err := assembler.Assemble(args[0])
			if err != nil {
				return err
			}
			if err := export.WriteGLB(s, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Exported %d objects to %s\n", len(s.Objects), args[1])
			if assembler.Options.Grouping {
				for _, line := range s.Outline() {
					fmt.Fprintf(stdout, "  %s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&group, "group", false, "organize objects into the anatomical group tree")
	return cmd
}

func newInitConfigCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config FILE",
		Short: "Write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Default configuration written to %s\n", args[0])
			return nil
		},
	}
}
