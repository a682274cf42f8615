package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/wave-shield/internal/logging"
	"github.com/bnema/wave-shield/internal/metrics"
	"github.com/bnema/wave-shield/internal/models"
	"github.com/bnema/wave-shield/internal/parser"
	"github.com/bnema/wave-shield/internal/sanitizer"
	"github.com/bnema/wave-shield/internal/server"
	"github.com/bnema/wave-shield/internal/shield"
	"github.com/bnema/wave-shield/internal/source"
	"github.com/bnema/wave-shield/internal/store"
)

var (
	cfgFile string
	cfg     models.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wave-shield",
	Short: "Network request filtering engine for ABP/uBlock filter lists",
	Long: `Compiles ABP/uBlock network filter lists and decides, for each
outgoing request, whether to allow, block or sanitize it.`,
	SilenceUsage: true,
}

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Decide on a single request against the configured lists",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var lintCmd = &cobra.Command{
	Use:   "lint [files...]",
	Short: "Parse filter lists and report skipped lines",
	RunE:  runLint,
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize <url>",
	Short: "Strip tracking parameters from a URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runSanitize,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured filter lists",
	RunE:  runList,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runInit,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./configs/shield.toml)")

	checkCmd.Flags().StringP("source", "s", "", "URL of the page issuing the request")
	checkCmd.Flags().StringP("type", "t", "other", "resource type (script, image, stylesheet, xhr, frame, other)")

	lintCmd.Flags().Bool("normalize", false, "print accepted rules in canonical form")
	lintCmd.Flags().Bool("verbose", false, "verbose output")

	serveCmd.Flags().String("listen", "", "listen address (overrides server.listen)")

	rootCmd.AddCommand(checkCmd, lintCmd, sanitizeCmd, serveCmd, listCmd, initCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("shield")
		viper.SetConfigType("toml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	// Set defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("shield.enabled", true)
	viper.SetDefault("server.listen", "127.0.0.1:8089")
	viper.SetDefault("sources.max_concurrent", 4)
	viper.SetDefault("sources.watch", false)
	viper.SetDefault("sources.debounce", "500ms")

	viper.SetEnvPrefix("WAVE_SHIELD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
	}
}

// newShield builds a shield from config and loads the enabled lists
func newShield(ctx context.Context, log zerolog.Logger, opts ...shield.Option) (*shield.Shield, func(context.Context) (store.LoadResult, error), error) {
	opts = append([]shield.Option{
		shield.WithLogger(log),
		shield.WithRegistry(sanitizer.New(cfg.Sanitizer.ExtraParams...)),
		shield.WithDiagnostics(func(req models.Request, err error) {
			log.Warn().Err(err).Str("url", req.URL).Msg("filtering fault")
		}),
	}, opts...)
	s := shield.New(opts...)
	s.SetEnabled(cfg.Shield.Enabled)

	reader := source.New(cfg.Sources)
	reload := func(ctx context.Context) (store.LoadResult, error) {
		results, err := reader.Read(ctx, cfg.EnabledLists())
		if err != nil {
			return store.LoadResult{}, err
		}
		for _, r := range results {
			if r.Err != nil {
				log.Error().Err(r.Err).Str("list", r.Name).Msg("list skipped")
			}
		}
		return s.LoadFilters(source.Lines(results))
	}

	if _, err := reload(ctx); err != nil {
		return nil, nil, err
	}
	return s, reload, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	sourceURL, _ := cmd.Flags().GetString("source")
	typeName, _ := cmd.Flags().GetString("type")

	rt, ok := models.ParseResourceType(typeName)
	if !ok {
		return fmt.Errorf("unknown resource type: %s", typeName)
	}

	log := logging.New(cfg.Log)
	s, _, err := newShield(cmd.Context(), log)
	if err != nil {
		return err
	}

	v := s.Filter(args[0], sourceURL, rt)
	fmt.Printf("Decision: %s\n", v.Decision)
	if v.Rule != "" {
		fmt.Printf("Rule:     %s\n", v.Rule)
	}
	if v.Decision == models.Sanitize {
		fmt.Printf("URL:      %s\n", v.URL)
	}
	if v.Err != nil {
		fmt.Printf("Fault:    %v\n", v.Err)
	}
	return nil
}

func runLint(cmd *cobra.Command, args []string) error {
	normalize, _ := cmd.Flags().GetBool("normalize")
	verbose, _ := cmd.Flags().GetBool("verbose")

	lists := cfg.EnabledLists()
	if len(args) > 0 {
		lists = lists[:0]
		for _, path := range args {
			lists = append(lists, models.FilterList{Name: filepath.Base(path), Path: path, Enabled: true})
		}
	}
	if len(lists) == 0 {
		return fmt.Errorf("no filter lists given and none enabled in config")
	}

	results, err := source.New(cfg.Sources).Read(cmd.Context(), lists)
	if err != nil {
		return err
	}

	totalSkips := make(map[string]int)
	for _, r := range results {
		fmt.Printf("\n  %s (%s)\n", r.Name, r.Path)
		if r.Err != nil {
			fmt.Printf("    ERROR: %v\n", r.Err)
			continue
		}

		p := parser.New()
		rules, skipped := p.Parse(r.Lines)
		stats := p.Stats()
		fmt.Printf("    Accepted: %d rules (skipped: %d)\n", len(rules), skipped)

		if verbose {
			fmt.Printf("    Parsed: %d total, %d network, %d exceptions, %d comments\n",
				stats.Total, stats.Network, stats.Exception, stats.Comments)
		}
		for reason, count := range stats.SkipReasons {
			if verbose {
				fmt.Printf("      - %s: %d\n", reason, count)
			}
			totalSkips[reason] += count
		}

		if normalize {
			for _, rule := range rules {
				fmt.Println(parser.Format(rule))
			}
		}
	}

	if len(totalSkips) > 0 {
		fmt.Printf("\nSkipped lines summary:\n")
		reasons := make([]string, 0, len(totalSkips))
		for reason := range totalSkips {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Printf("  %s: %d\n", reason, totalSkips[reason])
		}
	}
	return nil
}

func runSanitize(cmd *cobra.Command, args []string) error {
	fmt.Println(sanitizer.New(cfg.Sanitizer.ExtraParams...).Sanitize(args[0]))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		listen = cfg.Server.Listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New(cfg.Log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	s, reload, err := newShield(ctx, log, shield.WithMetrics(collector))
	if err != nil {
		return err
	}

	if cfg.Sources.Watch {
		go func() {
			err := source.Watch(ctx, cfg.EnabledLists(), cfg.Sources.Debounce, log, func() {
				if _, err := reload(ctx); err != nil {
					log.Error().Err(err).Msg("reload after list change failed")
				}
			})
			if err != nil {
				log.Error().Err(err).Msg("filter list watcher stopped")
			}
		}()
	}

	return server.New(s, reload, reg, log).ListenAndServe(ctx, listen)
}

func runList(cmd *cobra.Command, args []string) error {
	fmt.Println("Configured filter lists:")
	fmt.Println()
	for _, list := range cfg.Lists {
		status := "enabled"
		if !list.Enabled {
			status = "disabled"
		}
		fmt.Printf("  [%s] %s\n", status, list.Name)
		fmt.Printf("         %s\n\n", list.Path)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := "./configs/shield.toml"
	if cfgFile != "" {
		configPath = cfgFile
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	defaultConfig := `# wave-shield configuration

[log]
level = "info"
# file = "./logs/shield.log"
max_size_mb = 10
max_backups = 3

[shield]
enabled = true

[sanitizer]
# Extra tracking parameters; a trailing * registers a prefix
extra_params = []

[server]
listen = "127.0.0.1:8089"

[sources]
max_concurrent = 4
# Reload when a list file changes (serve only)
watch = false
debounce = "500ms"

# Filter list files, read in order
# Set enabled = false to skip a list

[[lists]]
name = "easylist"
path = "./lists/easylist.txt"
enabled = true

[[lists]]
name = "easyprivacy"
path = "./lists/easyprivacy.txt"
enabled = true

[[lists]]
name = "custom"
path = "./lists/custom.txt"
enabled = false
`

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return err
	}

	fmt.Printf("Created config file: %s\n", configPath)
	return nil
}
