// Command chat is the terminal client for the expert chat relay.
//
// Usage:
//
//	chat                      Pick an expert and chat
//	chat -p warren-buffett    Chat with one expert right away
//	chat personas             List the experts
//	chat history              List saved conversations
//	chat clear <persona>      Forget a saved conversation
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nstogner/expertchat/pkg/client"
	"github.com/nstogner/expertchat/pkg/config"
	"github.com/nstogner/expertchat/pkg/conversation"
	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/store"
	"github.com/nstogner/expertchat/pkg/store/file"
	"github.com/nstogner/expertchat/pkg/store/sqlite"
	"github.com/nstogner/expertchat/pkg/telemetry"
	"github.com/nstogner/expertchat/pkg/tui"
)

var (
	// Global flags
	configFlag      string
	relayFlag       string
	dbFlag          string
	websocketFlag   bool
	remoteStoreFlag bool
	storeFlag       string
	personaFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with investment experts",
	Long: `chat connects to the expert chat relay and streams each expert's
replies into the terminal. Conversations are kept in a local SQLite file
(or JSON files with --store file), or on the relay with --remote-store.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&relayFlag, "relay", "", "Relay base URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "sqlite", "Local conversation store: sqlite or file")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Database file, or directory for --store file (default under ~/.expertchat)")
	rootCmd.PersistentFlags().BoolVar(&remoteStoreFlag, "remote-store", false, "Keep conversations on the relay instead of locally")
	rootCmd.Flags().BoolVar(&websocketFlag, "ws", false, "Stream replies over a WebSocket")
	rootCmd.Flags().StringVarP(&personaFlag, "persona", "p", "", "Open this expert right away")

	rootCmd.AddCommand(personasCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env is what every command needs: config, a relay client and a store.
type env struct {
	cfg    *config.Config
	client *client.Client
	store  store.ConversationStore
	local  *sqlite.Store
	close  func()
}

func setup() (*env, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}

	// The terminal belongs to the TUI; logs only go to a file.
	logCfg := cfg.Log
	if logCfg.File == "" {
		logCfg.File = filepath.Join(dataDir(), "chat.log")
	}
	logger, logCloser, err := telemetry.NewLogger(io.Discard, logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	relayURL := cfg.RelayURL
	if relayFlag != "" {
		relayURL = relayFlag
	}

	e := &env{
		cfg:    cfg,
		client: client.New(relayURL),
		close:  func() { logCloser.Close() },
	}
	if remoteStoreFlag {
		e.store = e.client.Conversations()
		return e, nil
	}

	switch storeFlag {
	case "file":
		dir := dbFlag
		if dir == "" {
			dir = filepath.Join(dataDir(), "conversations")
		}
		fs, err := file.New(dir)
		if err != nil {
			logCloser.Close()
			return nil, err
		}
		e.store = fs
	case "sqlite":
		dbPath := dbFlag
		if dbPath == "" {
			dbPath = filepath.Join(dataDir(), "chat.db")
		}
		local, err := sqlite.New(dbPath)
		if err != nil {
			logCloser.Close()
			return nil, err
		}
		e.store, e.local = local, local
		e.close = func() {
			local.Close()
			logCloser.Close()
		}
	default:
		logCloser.Close()
		return nil, fmt.Errorf("unknown store %q (want sqlite or file)", storeFlag)
	}
	return e, nil
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".expertchat"
	}
	return filepath.Join(home, ".expertchat")
}

// personas asks the relay for its catalog and falls back to the configured
// one when the relay cannot be reached.
func (e *env) personas(ctx context.Context) []domain.Persona {
	ps, err := e.client.Personas(ctx)
	if err != nil {
		slog.Warn("Failed to fetch personas from relay, using config", "error", err)
		return e.cfg.PersonaCatalog()
	}
	return ps
}

func runChat(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	var transport conversation.Transport = e.client
	if websocketFlag {
		transport = conversation.TransportFunc(e.client.ChatWebSocket)
	}

	slog.Info("Starting chat client", "relay", e.client.BaseURL(), "websocket", websocketFlag, "remote_store", remoteStoreFlag)
	return tui.Run(ctx, tui.Options{
		Personas:  e.personas(ctx),
		Store:     e.store,
		Transport: transport,
		PersonaID: personaFlag,
	})
}
