package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Poom5741/tok-tradingbot/internal/bot"
	"github.com/Poom5741/tok-tradingbot/internal/chain"
	"github.com/Poom5741/tok-tradingbot/internal/controlplane"
	"github.com/Poom5741/tok-tradingbot/internal/execution"
	"github.com/Poom5741/tok-tradingbot/internal/github"
	"github.com/Poom5741/tok-tradingbot/internal/metrics"
	"github.com/Poom5741/tok-tradingbot/internal/pnl"
	signals "github.com/Poom5741/tok-tradingbot/internal/signal"
	"github.com/Poom5741/tok-tradingbot/internal/telegram"
	"github.com/Poom5741/tok-tradingbot/pkg/config"
	"github.com/Poom5741/tok-tradingbot/pkg/logger"
	"github.com/Poom5741/tok-tradingbot/pkg/persistence"
	"github.com/Poom5741/tok-tradingbot/pkg/secretstore"
	"github.com/Poom5741/tok-tradingbot/pkg/shutdown"
	"github.com/Poom5741/tok-tradingbot/pkg/subgraph"
	"github.com/Poom5741/tok-tradingbot/pkg/syncgroup"
)

const usage = `usage: tokbot [flags] <command>

commands:
  paper [loops]   run N paper iterations and print the outcomes (default 10)
  telegram        serve the chat front end; trading runs on demand
  live            run the live loop; add -submit to trade for real
  issue <title> [body]            open a GitHub issue on the configured repo
  issue read <number>             print an issue's comments
  issue comment <number> <body>   append a comment to an issue

flags:
`

func main() {
	configPath := flag.String("config", "", "config file path (.yaml, .yml or .json)")
	pairName := flag.String("pair", "tok-weth", "pair identifier for signals and persistence")
	wsURL := flag.String("ws", os.Getenv("TOKBOT_WS_URL"), "swap feed websocket URL; empty uses the synthetic paper feed")
	loopInterval := flag.Duration("interval", 5*time.Second, "live mode: delay between decision iterations")
	submit := flag.Bool("submit", false, "live mode: actually submit transactions; without it live runs dry")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	// .env is optional; absence is the normal case in production.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "paper":
		loops := 10
		if flag.NArg() > 1 {
			loops, err = strconv.Atoi(flag.Arg(1))
			if err != nil || loops < 1 {
				fmt.Fprintf(os.Stderr, "paper: loop count must be a positive integer, got %q\n", flag.Arg(1))
				os.Exit(2)
			}
		}
		runPaper(ctx, cfg, *pairName, *wsURL, loops)
	case "telegram":
		runTelegram(ctx, cfg, *pairName, *wsURL)
	case "live":
		// Submission is opt-in: without -submit the live loop runs every
		// guard but keeps the engine silent.
		if !*submit {
			cfg.DryRun = true
		}
		runLive(ctx, cfg, *pairName, *wsURL, *loopInterval)
	case "issue":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "issue: a title or subcommand is required")
			os.Exit(2)
		}
		runIssue(ctx, cfg, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		flag.Usage()
		os.Exit(2)
	}
}

// buildBot wires the decision loop with whatever the mode needs. A nil
// engine keeps everything off-chain. The websocket feed, when configured, is
// registered on bg and returned so live mode can react to its updates.
func buildBot(ctx context.Context, cfg *config.Config, pairName, wsURL string, engine *execution.Engine, live bot.Gates, bg *syncgroup.SyncGroup) (*bot.Bot, *pnl.Ledger, *signals.Feed, error) {
	var provider signals.Provider
	var feed *signals.Feed
	if wsURL != "" {
		feed = signals.NewFeed(wsURL, pairName)
		bg.Add(func() { feed.Run(ctx) })
		provider = feed
	} else {
		provider = signals.NewPaper(pairName)
	}

	ledger, err := pnl.Open(filepath.Join(cfg.DataDir, "pnl.db"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open pnl ledger: %w", err)
	}

	store := persistence.NewJSONFileService(filepath.Join(cfg.DataDir, "persistence")).
		NewStore("tokbot", pairName, "position")

	gates := bot.DefaultGates(provider, cfg.Execution.QuietSwapsPer10m)
	if live.Ready != nil {
		gates.Ready = live.Ready
	}
	if live.GasOK != nil {
		gates.GasOK = live.GasOK
	}

	b, err := bot.New(bot.Deps{
		Provider:       provider,
		Engine:         engine,
		Ledger:         ledger,
		Store:          store,
		Gates:          gates,
		Risk:           cfg.Risk,
		Exec:           cfg.Execution,
		NativeUSDPrice: envFloat("NATIVE_USD_PRICE"),
		DryRun:         cfg.DryRun,
	})
	if err != nil {
		_ = ledger.Close()
		return nil, nil, nil, err
	}
	return b, ledger, feed, nil
}

// startSurfaces registers the optional HTTP surfaces shared by the long
// running modes: the control plane and the metrics/pprof listener.
func startSurfaces(ctx context.Context, cfg *config.Config, b *bot.Bot, ledger *pnl.Ledger, bg *syncgroup.SyncGroup) {
	if cfg.StatusAddr != "" {
		srv := controlplane.New(b, ledger)
		bg.Add(func() {
			if err := srv.Run(ctx, cfg.StatusAddr); err != nil {
				logrus.WithError(err).Error("control plane stopped")
			}
		})
	}
	if addr := os.Getenv("TOKBOT_PPROF_ADDR"); addr != "" {
		if _, err := metrics.StartAsync(ctx, addr); err != nil {
			logrus.WithError(err).Error("metrics listener failed to start")
		} else {
			logrus.WithField("addr", addr).Info("metrics/pprof listening")
		}
	}
}

func runPaper(ctx context.Context, cfg *config.Config, pairName, wsURL string, loops int) {
	bg := syncgroup.New()
	b, ledger, _, err := buildBot(ctx, cfg, pairName, wsURL, nil, bot.Gates{}, bg)
	if err != nil {
		logrus.WithError(err).Fatal("paper setup failed")
	}
	defer ledger.Close()
	bg.Run()

	outcomes, err := b.Run(ctx, loops)
	fmt.Println(telegram.RenderOutcomes(outcomes))
	if err != nil {
		logrus.WithError(err).Fatal("paper run aborted")
	}

	windows, err := ledger.Report(ctx)
	if err == nil {
		fmt.Printf("pnl 1h=%s 4h=%s 24h=%s\n",
			windows.H1.StringFixed(2), windows.H4.StringFixed(2), windows.D1.StringFixed(2))
	}
}

func runTelegram(ctx context.Context, cfg *config.Config, pairName, wsURL string) {
	if cfg.TelegramBotToken == "" || cfg.TelegramAdminID == 0 {
		logrus.Fatal("TELEGRAM_BOT_TOKEN and TELEGRAM_ADMIN_ID are required for telegram mode")
	}

	engine, liveGates := maybeLiveEngine(cfg)
	bg := syncgroup.New()
	b, ledger, _, err := buildBot(ctx, cfg, pairName, wsURL, engine, liveGates, bg)
	if err != nil {
		logrus.WithError(err).Fatal("telegram setup failed")
	}

	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(context.Context, *sync.WaitGroup) {
		if err := ledger.Close(); err != nil {
			logrus.WithError(err).Warn("ledger close failed")
		}
	})

	startSurfaces(ctx, cfg, b, ledger, bg)
	bg.Run()

	var resolver telegram.PairResolver
	if endpoint := os.Getenv("TOKBOT_SUBGRAPH_URL"); endpoint != "" {
		resolver = subgraph.NewResolver(endpoint)
	}

	svc := telegram.NewService(
		telegram.NewClient(cfg.TelegramBotToken),
		b, ledger, resolver, cfg.TelegramAdminID,
	)
	logrus.Info("telegram front end started")
	svc.Poll(ctx)

	bg.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)
	logrus.Info("telegram front end stopped")
}

func runLive(ctx context.Context, cfg *config.Config, pairName, wsURL string, interval time.Duration) {
	engine, liveGates := maybeLiveEngine(cfg)
	if engine == nil {
		logrus.Fatal("live mode needs full chain configuration")
	}

	bg := syncgroup.New()
	b, ledger, feed, err := buildBot(ctx, cfg, pairName, wsURL, engine, liveGates, bg)
	if err != nil {
		logrus.WithError(err).Fatal("live setup failed")
	}
	defer ledger.Close()

	startSurfaces(ctx, cfg, b, ledger, bg)
	bg.Run()
	defer bg.Wait()

	// Iterate on the timer, or sooner when the feed reports a fresh swap.
	var updates <-chan struct{}
	if feed != nil {
		updates = feed.Updates()
	}

	logrus.WithFields(logrus.Fields{
		"interval": interval.String(),
		"dry_run":  cfg.DryRun,
	}).Info("live loop started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("live loop stopped")
			return
		case <-ticker.C:
		case <-updates:
		}

		outcomes, err := b.Run(ctx, 1)
		if err != nil {
			logrus.WithError(err).Error("iteration failed")
			continue
		}
		for _, o := range outcomes {
			logrus.WithField("state", string(o.State)).Debug("transition")
		}
	}
}

func runIssue(ctx context.Context, cfg *config.Config, args []string) {
	if cfg.GitHubRepo == "" {
		logrus.Fatal("TOKBOT_GITHUB_REPO is required for the issue command")
	}
	notifier := github.NewNotifier(cfg.GitHubRepo, os.Getenv("GITHUB_TOKEN"))

	switch args[0] {
	case "read":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: issue read <number>")
			os.Exit(2)
		}
		number := mustIssueNumber(args[1])
		comments, err := notifier.ReadComments(ctx, number)
		if err != nil {
			logrus.WithError(err).Fatal("comment read failed")
		}
		if len(comments) == 0 {
			fmt.Printf("issue #%d has no comments\n", number)
			return
		}
		for _, c := range comments {
			fmt.Printf("[%s] %s:\n%s\n\n", c.CreatedAt.Format(time.RFC3339), c.User.Login, c.Body)
		}
	case "comment":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: issue comment <number> <body>")
			os.Exit(2)
		}
		number := mustIssueNumber(args[1])
		if err := notifier.PostComment(ctx, number, strings.Join(args[2:], " ")); err != nil {
			logrus.WithError(err).Fatal("comment post failed")
		}
		fmt.Printf("commented on issue #%d\n", number)
	default:
		title := args[0]
		body := strings.Join(args[1:], " ")
		number, err := notifier.CreateIssue(ctx, title, body)
		if err != nil {
			logrus.WithError(err).Fatal("issue creation failed")
		}
		fmt.Printf("opened issue #%d on %s\n", number, cfg.GitHubRepo)
	}
}

func mustIssueNumber(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		fmt.Fprintf(os.Stderr, "issue: %q is not an issue number\n", raw)
		os.Exit(2)
	}
	return n
}

// maybeLiveEngine builds the on-chain engine when the chain configuration is
// complete, resolving the bot key from the secret store if the environment
// did not provide one. Returns a nil engine and zero gates when chain config
// is absent so chat mode can run paper-only. The returned gates tie the
// decision loop to the RPC breaker and the gas price cap.
func maybeLiveEngine(cfg *config.Config) (*execution.Engine, bot.Gates) {
	if cfg.Chain.RPCURL == "" {
		return nil, bot.Gates{}
	}
	if cfg.Chain.BotPK == "" && cfg.SecretStoreDir != "" {
		loadBotKeyFromStore(cfg)
	}
	if err := cfg.ValidateLive(); err != nil {
		logrus.WithError(err).Fatal("live configuration invalid")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.BotPK, "0x"))
	if err != nil {
		logrus.WithError(err).Fatal("bot private key invalid")
	}
	client, err := chain.NewEthClient(cfg.Chain.RPCURL, cfg.Chain.ChainID, key)
	if err != nil {
		logrus.WithError(err).Fatal("rpc connection failed")
	}
	topupKey, err := execution.ParseTopupKey(cfg.Execution)
	if err != nil {
		logrus.WithError(err).Fatal("top-up key invalid")
	}
	engine, err := execution.New(client, cfg.Execution, cfg.Chain, cfg.Risk.GasCapGwei, topupKey)
	if err != nil {
		logrus.WithError(err).Fatal("execution engine setup failed")
	}
	gates := bot.Gates{
		Ready: func(context.Context) bool { return client.Healthy() },
		GasOK: func(ctx context.Context) bool {
			if cfg.Risk.GasCapGwei <= 0 {
				return true
			}
			gwei, err := client.GasPriceGwei(ctx)
			if err != nil {
				// RPC trouble belongs to the readiness gate; the engine
				// enforces the cap again before any submission.
				return true
			}
			return gwei <= cfg.Risk.GasCapGwei
		},
	}
	return engine, gates
}

func loadBotKeyFromStore(cfg *config.Config) {
	var encKey []byte
	if raw := os.Getenv("TOKBOT_SECRET_KEY"); raw != "" {
		parsed, err := secretstore.ParseKey(raw)
		if err != nil {
			logrus.WithError(err).Fatal("TOKBOT_SECRET_KEY invalid")
		}
		encKey = parsed
	}
	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretStoreDir,
		EncryptionKey: encKey,
		ReadOnly:      true,
	})
	if err != nil {
		logrus.WithError(err).Fatal("secret store open failed")
	}
	defer store.Close()

	pk, ok, err := store.GetString(secretstore.KeyBotPK)
	if err != nil {
		logrus.WithError(err).Fatal("secret store read failed")
	}
	if ok {
		cfg.Chain.BotPK = pk
	}
}

func envFloat(key string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return 0
	}
	return v
}
