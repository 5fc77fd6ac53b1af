// cmd/server is the single binary spec.md §6 describes: one positional
// mode, server, reading every parameter from config.yaml (plus its
// environment-variable overrides per internal/config). Exit codes: 0 clean
// shutdown, 1 config-validation failure, 2 auth failure, 3 bind failure.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/api"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/auth"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/commands"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/config"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/cryptoutil"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/queue"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/store"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/syncengine"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/titling"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/upstream"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/vault"
)

// Exit codes per spec.md §6.
const (
	exitConfigInvalid = 1
	exitAuthFailure   = 2
	exitBindFailure   = 3
)

func main() {
	root := &cobra.Command{
		Use:   "lumo-tamer",
		Short: "Local OpenAI-compatible gateway in front of the Lumo chat backend",
	}
	root.AddCommand(serverCommand())
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		os.Exit(exitFromError(err))
	}
}

func serverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the gateway's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer wires the dependency chain in this order: store → queue →
// vault/auth → upstream client → sync engine (when enabled) → commands →
// title generator → ServerContext → router, then serves until an interrupt.
func runServer(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config validation failed:", err)
		return exitError{code: exitConfigInvalid, err: err}
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	st := store.New(cfg.ConversationStoreMaxSize, log)
	q := queue.New(cfg.QueueDepth, log)

	vaultKey, err := vaultKeySource(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vault key unavailable:", err)
		return exitError{code: exitAuthFailure, err: err}
	}
	v := vault.New(cfg.VaultSecretFile+".token", vaultKey)
	authProvider := auth.NewVaultProvider(v, cfg.UpstreamAppVersion)
	if _, err := authProvider.UID(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "auth vault not initialized:", err)
		return exitError{code: exitAuthFailure, err: err}
	}

	// No http.Client.Timeout here: that would cap total stream duration and
	// kill long-but-healthy responses. Inactivity is instead watched frame-
	// by-frame inside the client via cfg.UpstreamTimeout (spec.md §5).
	upstreamClient := upstream.NewClient(
		&http.Client{},
		cfg.UpstreamChatURL,
		[]byte(cfg.UpstreamPublicKey),
		cryptoutil.RawKeyWrapper{},
		authProvider,
		cfg.UpstreamTimeout,
		log,
	)

	reg := commands.NewRegistry()

	var syncEngine *syncengine.Engine
	if cfg.SyncEnabled {
		masterKey, err := hex.DecodeString(cfg.SyncMasterKeyHex)
		if err != nil || len(masterKey) != cryptoutil.KeySize {
			err = fmt.Errorf("SYNC_MASTER_KEY_HEX must decode to %d bytes: %w", cryptoutil.KeySize, err)
			fmt.Fprintln(os.Stderr, err)
			return exitError{code: exitConfigInvalid, err: err}
		}
		keyManager := syncengine.NewKeyManager(masterKey, log)
		bearer, err := authProvider.BearerToken(ctx)
		if err != nil {
			return exitError{code: exitAuthFailure, err: err}
		}
		remote := syncengine.NewHTTPRemoteClient(&http.Client{Timeout: cfg.UpstreamTimeout}, cfg.SyncServerURL, bearer)
		syncEngine = syncengine.NewEngine(keyManager, remote, st, cfg.SyncPushInterval, log)
		st.SetOnDirtyCallback(syncEngine.OnDirty)

		pulled, err := syncEngine.PullOnStartup(ctx)
		if err != nil {
			log.Warn("sync startup pull failed", "error", err.Error())
		}
		for _, pc := range pulled {
			adoptPulledConversation(st, pc)
		}

		syncCtx, cancelSync := context.WithCancel(ctx)
		defer cancelSync()
		go syncEngine.Run(syncCtx)
	}
	commands.Register(reg, st, syncEngine, cfg.SyncEnabled)

	var titleGen *titling.Generator
	if cfg.TitleGenerationEnabled {
		titleGen = titling.NewGenerator(upstreamClient, log)
	}

	sc := &api.ServerContext{
		Config:   cfg,
		Store:    st,
		Queue:    q,
		Upstream: upstreamClient,
		Commands: reg,
		TitleGen: titleGen,
		Log:      log,
	}

	router := api.NewRouter(sc)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		fmt.Fprintln(os.Stderr, "failed to bind:", err)
		return exitError{code: exitBindFailure, err: err}
	case <-quit:
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := q.Shutdown(cfg.ShutdownGrace); err != nil {
		log.Warn("queue shutdown did not drain cleanly", "error", err.Error())
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", "error", err.Error())
	}
	log.Info("shutdown complete")
	return nil
}

// adoptPulledConversation maps a sync-engine hydration result onto the
// store's model shape (spec.md §4.6.4).
func adoptPulledConversation(st *store.Store, pc syncengine.PulledConversation) {
	messages := make([]model.Message, 0, len(pc.Messages))
	parentID := ""
	for _, pm := range pc.Messages {
		messages = append(messages, model.Message{
			ID:         pm.LocalID,
			ParentID:   parentID,
			Content:    pm.Content,
			ToolCall:   pm.ToolCall,
			ToolResult: pm.ToolResult,
			Status:     model.StatusSucceeded,
		})
		parentID = pm.LocalID
	}
	st.Adopt(&model.Conversation{
		ID:       pc.LocalID,
		SpaceID:  pc.SpaceID,
		Title:    pc.Title,
		Messages: messages,
		Status:   model.ConversationStatusActive,
	})
}

// vaultKeySource resolves the auth-token vault's encryption key from a
// mounted secret file (spec.md §6), or derives a fixed development-only
// key when none is configured.
func vaultKeySource(cfg *config.Config) (vault.KeySource, error) {
	if cfg.VaultSecretFile != "" {
		return vault.FileKeySource{Path: cfg.VaultSecretFile}, nil
	}
	devKey, err := cryptoutil.DeriveKey([]byte("lumo-tamer-dev-only"), []byte("dev-vault-salt-16"), []byte("vault.dev.key"))
	if err != nil {
		return nil, err
	}
	return vault.StaticKeySource{RawKey: devKey}, nil
}

// exitError carries the spec.md §6 exit code alongside the failure that
// produced it.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

func exitFromError(err error) int {
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitConfigInvalid
}
