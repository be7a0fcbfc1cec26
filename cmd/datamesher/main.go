// Command datamesher runs one peer of the signed, eventually-consistent
// host-and-hostname directory described in spec.md: a gossip endpoint, a
// background reconciler against bootstrap peers, and a DNS export file for
// a local resolver to consume.
package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/WebFirstLanguage/datamesher/pkg/clock"
	"github.com/WebFirstLanguage/datamesher/pkg/constants"
	"github.com/WebFirstLanguage/datamesher/pkg/gossipserver"
	"github.com/WebFirstLanguage/datamesher/pkg/identity"
	"github.com/WebFirstLanguage/datamesher/pkg/mesh"
	"github.com/WebFirstLanguage/datamesher/pkg/meshstore"
	"github.com/WebFirstLanguage/datamesher/pkg/reconciler"
)

var (
	flagStateFile string
	flagDNSFile   string
	flagIP        string
	flagPort      uint16
	flagKeyFile   string
	flagBootstrap []string
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "datamesher",
	Short: "Peer-to-peer signed name-and-host directory",
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the gossip endpoint and reconcile with bootstrap peers",
	RunE:  runServer,
}

func init() {
	defaultKeyFile := constants.KeyFileRelPath
	if configDir, err := os.UserConfigDir(); err == nil {
		defaultKeyFile = filepath.Join(configDir, constants.KeyFileRelPath)
	}

	serverCmd.Flags().StringVar(&flagStateFile, "state-file", constants.DefaultStateFile, "path to the mesh state file")
	serverCmd.Flags().StringVar(&flagDNSFile, "dns-file", constants.DefaultDNSFile, "path to the exported DNS hostname file")
	serverCmd.Flags().StringVar(&flagIP, "ip", "::", "IPv6 address this node advertises as its own host")
	serverCmd.Flags().Uint16Var(&flagPort, "port", constants.DefaultPort, "port to listen on and advertise")
	serverCmd.Flags().StringVar(&flagKeyFile, "key-file", defaultKeyFile, "path to this node's Ed25519 signing key")
	serverCmd.Flags().StringArrayVar(&flagBootstrap, "bootstrap-peer", nil, "bootstrap peer URL (repeatable)")
	serverCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(flagLogLevel)
	if err != nil {
		return fmt.Errorf("datamesher: configure logging: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	id, err := identity.LoadOrGenerate(flagKeyFile)
	if err != nil {
		return fmt.Errorf("datamesher: load identity: %w", err)
	}
	sugar.Infow("loaded identity", "fingerprint", id.Fingerprint())

	ip, err := netip.ParseAddr(flagIP)
	if err != nil {
		return fmt.Errorf("datamesher: parse --ip: %w", err)
	}

	m, err := meshstore.Load(flagStateFile)
	if err != nil {
		return fmt.Errorf("datamesher: load state file: %w", err)
	}
	m.SigningKey = id.PrivateKey
	var selfPub mesh.PubKey
	copy(selfPub[:], id.PublicKey)
	m.SelfHost = mesh.NewHost(selfPub, ip, flagPort)

	guard := mesh.NewGuard(m)
	wallClock := clock.New()

	listenAddr := fmt.Sprintf("[%s]:%d", ip, flagPort)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("datamesher: listen on %s: %w", listenAddr, err)
	}

	srv := gossipserver.New(gossipserver.Config{
		Guard:     guard,
		Clock:     wallClock,
		StatePath: flagStateFile,
		DNSPath:   flagDNSFile,
		Logger:    sugar,
	})

	rec := reconciler.New(reconciler.Config{
		Guard:          guard,
		Clock:          wallClock,
		BootstrapPeers: flagBootstrap,
		StatePath:      flagStateFile,
		DNSPath:        flagDNSFile,
		Logger:         sugar,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reconcilerDone := rec.Start(ctx)

	sugar.Infow("serving", "address", listenAddr, "state_file", flagStateFile, "dns_file", flagDNSFile)
	serveErr := srv.Serve(ctx, listener)

	cancel()
	<-reconcilerDone
	sugar.Info("shutdown complete")

	if serveErr != nil {
		return fmt.Errorf("datamesher: serve: %w", serveErr)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(level); err != nil {
		return nil, fmt.Errorf("unrecognized log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}
