package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"rag-client/internal/api"
	"rag-client/internal/config"
	"rag-client/internal/library"
	"rag-client/internal/logging"
	"rag-client/internal/session"
	"rag-client/internal/store"
)

var (
	cfgFile   string
	serverURL string
	userID    string
	topK      int
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:           "rag-client",
	Short:         "Terminal client for a retrieval-augmented chat backend",
	Long:          `Ask questions about your documents, manage conversations and upload files to the knowledge base.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.rag-client/config.yaml)")
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "", "backend URL, overrides server_url")
	rootCmd.Flags().StringVarP(&userID, "user", "u", "", "user id sent with every request, overrides user_id")
	rootCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "passages retrieved per query, overrides top_k")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level, overrides logging.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.ServerURL = serverURL
	}
	if flags.Changed("user") {
		cfg.UserID = userID
	}
	if flags.Changed("top-k") {
		cfg.TopK = topK
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	logPath, err := config.ResolvePath(cfg.Logging.File)
	if err == nil {
		err = logging.InitLogger(logging.Options{
			Path:       logPath,
			Level:      cfg.Logging.Level,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	defer logging.Close()

	logging.Info("Server %s, user %s, top_k %d", cfg.ServerURL, cfg.UserID, cfg.TopK)

	st := openStore(cfg.DataDir)
	if st != nil {
		defer st.Close()
	}

	client := api.NewClient(cfg.ServerURL, cfg.UserID, api.WithTimeout(cfg.RequestTimeout))
	conversations := library.NewConversations(client)
	documents := library.NewDocuments(client)

	sess := session.New(client, st, session.Options{
		UserID:         cfg.UserID,
		TopK:           cfg.TopK,
		ReadBufferSize: cfg.ReadBufferSize,
		Notifier:       conversations,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := newApp(ctx, cfg, sess, conversations, documents)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	return nil
}

// openStore opens the on-disk cache, falling back to memory. It returns nil
// only when neither can be opened, in which case nothing is cached.
func openStore(dataDir string) store.Store {
	dbPath, err := config.ResolvePath(dataDir)
	if err == nil {
		if err = os.MkdirAll(dbPath, 0755); err == nil {
			var bs *store.BadgerStore
			if bs, err = store.NewBadgerStore(dbPath); err == nil {
				return bs
			}
		}
	}
	logging.Warn("Local cache unavailable, using memory: %v", err)

	mem, err := store.NewMemoryStore()
	if err != nil {
		logging.Error("Failed to open in-memory cache: %v", err)
		return nil
	}
	return mem
}
