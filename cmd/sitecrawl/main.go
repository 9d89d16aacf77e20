// Command sitecrawl crawls configured sources politely and resumably,
// storing page bodies and a page registry under the configured output
// directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sitecrawl/pkg/config"
	"sitecrawl/pkg/crawler"
	"sitecrawl/pkg/models"
	"sitecrawl/pkg/progress"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	sourceName := flag.String("source", "", "Crawl only the named source from the config")
	all := flag.Bool("all", false, "Crawl every crawlable source from the config")
	restart := flag.Bool("restart", false, "Discard existing crawl state and start fresh")
	logLevel := flag.String("loglevel", "info", "Log level (trace, debug, info, warn, error)")
	logJSON := flag.Bool("logjson", false, "Emit logs as JSON")
	progressFile := flag.String("progress-file", "", "Also write progress updates to this JSON file")
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	logger.SetLevel(level)
	if *logJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	log := logrus.NewEntry(logger)

	if *sourceName == "" && !*all {
		fmt.Fprintln(os.Stderr, "either -source <name> or -all is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	sources, err := selectSources(cfg, *sourceName, *all, log)
	if err != nil {
		log.Fatal(err)
	}
	if len(sources) == 0 {
		log.Warn("No crawlable sources selected, nothing to do")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.GlobalCrawlTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.GlobalCrawlTimeout)
		defer cancel()
	}
	installSignalHandler(cancel, log)

	var reporter progress.Reporter = progress.NewLogReporter(log.WithField("component", "progress"))
	if *progressFile != "" {
		reporter = progress.MultiReporter{
			reporter,
			progress.NewFileReporter(*progressFile, log.WithField("component", "progress_file")),
		}
	}

	cr := crawler.New(cfg, reporter, log)

	if err := crawlSources(ctx, cr, cfg, sources, *restart, log); err != nil {
		log.Errorf("One or more crawls failed: %v", err)
		os.Exit(1)
	}
}

// crawlSources runs each selected source on its own worker, bounded by
// max_parallel_sources. Sources are independent: one failing does not cancel
// its siblings, it only surfaces after the rest have finished or paused.
func crawlSources(ctx context.Context, cr *crawler.Crawler, cfg *config.AppConfig, sources []string, restart bool, log *logrus.Entry) error {
	var g errgroup.Group
	g.SetLimit(cfg.MaxParallelSources)

	for _, name := range sources {
		srcCfg := cfg.Sources[name]
		slog := log.WithField("source", name)
		g.Go(func() error {
			st, err := cr.RunCrawl(ctx, crawler.RunOptions{
				Source:       srcCfg,
				ForceRestart: restart,
			})
			if err != nil {
				slog.Errorf("Crawl run failed: %v", err)
				return err
			}
			if st.Status == models.CrawlStatusPaused {
				slog.WithField("frontier", st.FrontierSize()).Info("Crawl paused, run again to continue")
			}
			return nil
		})
	}
	return g.Wait()
}

// selectSources resolves the -source/-all flags against the config, keeping
// output order stable.
func selectSources(cfg *config.AppConfig, sourceName string, all bool, log *logrus.Entry) ([]string, error) {
	if sourceName != "" {
		src, ok := cfg.Sources[sourceName]
		if !ok {
			return nil, fmt.Errorf("source %q not found in config", sourceName)
		}
		warnings, err := src.Validate()
		for _, w := range warnings {
			log.WithField("source", sourceName).Warn(w)
		}
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sourceName, err)
		}
		cfg.Sources[sourceName] = src
		if !src.IsCrawlable() {
			return nil, fmt.Errorf("source %q is marked not crawlable", sourceName)
		}
		return []string{sourceName}, nil
	}

	var names []string
	for name := range cfg.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var selected []string
	for _, name := range names {
		src := cfg.Sources[name]
		warnings, err := src.Validate()
		for _, w := range warnings {
			log.WithField("source", name).Warn(w)
		}
		if err != nil {
			log.WithField("source", name).Errorf("Skipping invalid source: %v", err)
			continue
		}
		cfg.Sources[name] = src
		if !src.IsCrawlable() {
			log.WithField("source", name).Debug("Skipping non-crawlable source")
			continue
		}
		selected = append(selected, name)
	}
	return selected, nil
}

// installSignalHandler cancels the run context on the first SIGINT/SIGTERM
// and force-exits on the second, for when a fetch refuses to die.
func installSignalHandler(cancel context.CancelFunc, log *logrus.Entry) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warnf("Received %s, finishing current page and checkpointing", sig)
		cancel()
		sig = <-sigCh
		log.Errorf("Received %s again, exiting immediately", sig)
		os.Exit(130)
	}()
}
