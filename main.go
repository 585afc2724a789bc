package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"long_text_agent/pipeline"
	"long_text_agent/planner"
)

var verbose bool

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional, defaults apply)")
	outlinePath := flag.String("outline", "", "path to outline YAML file")
	mode := flag.String("mode", "novel", "writing mode (see -list-modes)")
	modesPath := flag.String("modes", "", "path to a YAML file overriding the built-in modes")
	words := flag.Int("words", 0, "total target word count (overrides outline)")
	title := flag.String("title", "", "document title (overrides outline)")
	outDir := flag.String("out", "", "output directory (overrides config)")
	noCheck := flag.Bool("no-check", false, "skip the consistency check pass")
	listModes := flag.Bool("list-modes", false, "list available writing modes and exit")
	flag.BoolVar(&verbose, "v", false, "enable debug logs")
	flag.Parse()

	logger := buildLogger()
	defer logger.Sync()
	log := logger.Sugar()

	cfg := pipeline.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = pipeline.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *outDir != "" {
		cfg.Output.Directory = *outDir
	}

	p, err := pipeline.New(cfg, nil, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *modesPath != "" {
		if err := p.Modes().LoadFile(*modesPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if *listModes {
		for _, name := range p.Modes().List() {
			m := p.Modes().Get(name)
			fmt.Printf("%-10s %s\n", name, m.DisplayName)
		}
		return
	}

	if *outlinePath == "" {
		fmt.Fprintln(os.Stderr, "--outline is required")
		os.Exit(1)
	}
	data, err := os.ReadFile(*outlinePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	outline, err := planner.ParseOutline(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Ctrl-C 触发优雅取消：已提交的小节仍会落盘。
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := p.Run(ctx, pipeline.RunParams{
		Outline:      outline,
		Mode:         *mode,
		TargetWords:  *words,
		Title:        *title,
		DisableCheck: *noCheck,
	})
	if result != nil && len(result.Sections) > 0 {
		docPath, saveErr := p.SaveOutputs(result)
		if saveErr != nil {
			log.Errorw("save outputs failed", "error", saveErr)
		} else {
			fmt.Println(docPath)
		}
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}

	if result.Report != nil && len(result.Report.Issues) > 0 {
		fmt.Fprintf(os.Stderr, "发现 %d 条一致性问题，详见报告文件\n", len(result.Report.Issues))
	}
	if len(result.Warnings) > 0 && verbose {
		fmt.Fprintln(os.Stderr, strings.Join(result.Warnings, "\n"))
	}
}

func buildLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
