package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Poom5741/tok-tradingbot/internal/bot"
	"github.com/Poom5741/tok-tradingbot/internal/domain"
	"github.com/Poom5741/tok-tradingbot/internal/pnl"
)

// Core is the slice of the trading bot the chat surface needs.
type Core interface {
	Run(ctx context.Context, loops int) ([]domain.BotOutcome, error)
	Status() bot.Status
	Kill(ctx context.Context)
	Resume()
}

// PnLReporter answers the rolling-window PnL query. *pnl.Ledger satisfies it.
type PnLReporter interface {
	Report(ctx context.Context) (pnl.Windows, error)
}

// PairResolver answers /pair lookups against the indexing API. Resolve
// covers constant-product pairs, ResolvePool the fee-tiered pools.
type PairResolver interface {
	Resolve(ctx context.Context, token0, token1 string) (string, error)
	ResolvePool(ctx context.Context, token0, token1 string, feeBps int64) (string, error)
}

const (
	pollTimeoutS  = 30
	maxPaperLoops = 50
	retryBackoff  = 5 * time.Second
)

// Service is the long-poll command loop. Only the configured admin may
// issue commands; everyone else gets their numeric ID for setup.
type Service struct {
	api      API
	core     Core
	pnl      PnLReporter
	resolver PairResolver
	adminID  int64

	offset int64
	log    *logrus.Entry
}

func NewService(api API, core Core, reporter PnLReporter, resolver PairResolver, adminID int64) *Service {
	return &Service{
		api:      api,
		core:     core,
		pnl:      reporter,
		resolver: resolver,
		adminID:  adminID,
		log:      logrus.WithField("module", "telegram"),
	}
}

// Poll runs the long-poll loop until ctx is done. A failed poll backs off
// and retries; it never kills the process.
func (s *Service) Poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := s.api.GetUpdates(ctx, s.offset, pollTimeoutS)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Warn("poll failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= s.offset {
				s.offset = u.UpdateID + 1
			}
			s.handleUpdate(ctx, u)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, u Update) {
	if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
		return
	}
	chatID := u.Message.Chat.ID

	var fromID int64
	if u.Message.From != nil {
		fromID = u.Message.From.ID
	}
	reply := s.Handle(ctx, fromID, u.Message.Text)
	if reply == "" {
		return
	}
	if err := s.api.SendMessage(ctx, chatID, reply); err != nil {
		s.log.WithError(err).Warn("send failed")
	}
}

// Handle parses one command line and returns the reply text. Exported for
// the command tests; Poll is just transport around it.
func (s *Service) Handle(ctx context.Context, fromID int64, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(strings.TrimSuffix(fields[0], "@"+botCommandSuffix(fields[0])))

	if cmd == "/whoami" {
		return fmt.Sprintf("your id: %d", fromID)
	}
	if s.adminID != 0 && fromID != s.adminID {
		return "not authorized"
	}

	switch cmd {
	case "/help", "/start":
		return helpText
	case "/paper":
		return s.cmdPaper(ctx, fields[1:])
	case "/status":
		return s.cmdStatus()
	case "/kill":
		s.core.Kill(ctx)
		return "trading halted, open position closed"
	case "/resume":
		s.core.Resume()
		return "trading resumed"
	case "/pnl":
		return s.cmdPnL(ctx)
	case "/pair":
		return s.cmdPair(ctx, fields[1:])
	default:
		return "unknown command, try /help"
	}
}

const helpText = `/paper N   run N paper iterations
/status    breaker + position state
/pnl       rolling 1h/4h/24h realized PnL
/pair A B [v2|v3] [fee_bps]  resolve pool address for tokens A, B
/kill      halt trading and close the position
/resume    clear the halt
/whoami    show your numeric id`

func (s *Service) cmdPaper(ctx context.Context, args []string) string {
	loops := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return "usage: /paper N (N >= 1)"
		}
		loops = n
	}
	if loops > maxPaperLoops {
		loops = maxPaperLoops
	}

	outs, err := s.core.Run(ctx, loops)
	if err != nil {
		return fmt.Sprintf("run aborted: %v (%d outcomes kept)", err, len(outs))
	}
	return RenderOutcomes(outs)
}

func (s *Service) cmdStatus() string {
	st := s.core.Status()
	var b strings.Builder

	if st.Breakers.Halted {
		fmt.Fprintf(&b, "trading OFF (%s)\n", st.Breakers.Reason)
	} else {
		b.WriteString("trading ON\n")
	}
	fmt.Fprintf(&b, "gas today: $%.2f  pnl today: $%.2f\n", st.Breakers.DailyGasUSD, st.Breakers.DailyPnLUSD)

	if st.Position != nil {
		fmt.Fprintf(&b, "position: size=%.2f entry=%.6f opened=%s\n",
			st.Position.Size, st.Position.EntryPrice, st.Position.EntryTime.Format(time.RFC3339))
	} else {
		b.WriteString("position: none\n")
	}
	if !st.LastTradeAt.IsZero() {
		fmt.Fprintf(&b, "last trade: %s\n", st.LastTradeAt.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) cmdPnL(ctx context.Context) string {
	if s.pnl == nil {
		return "pnl ledger not configured"
	}
	w, err := s.pnl.Report(ctx)
	if err != nil {
		return fmt.Sprintf("pnl query failed: %v", err)
	}
	return fmt.Sprintf("realized pnl\n1h:  $%s\n4h:  $%s\n24h: $%s",
		w.H1.StringFixed(2), w.H4.StringFixed(2), w.D1.StringFixed(2))
}

const pairUsage = "usage: /pair TOKEN0 TOKEN1 [v2|v3] [fee_bps]"

func (s *Service) cmdPair(ctx context.Context, args []string) string {
	if s.resolver == nil {
		return "pair resolver not configured"
	}
	if len(args) < 2 || len(args) > 4 {
		return pairUsage
	}

	dex := "v2"
	if len(args) > 2 {
		dex = strings.ToLower(args[2])
	}

	var addr string
	var err error
	switch dex {
	case "v2":
		if len(args) == 4 {
			return "fee tiers only apply to v3 pools"
		}
		addr, err = s.resolver.Resolve(ctx, args[0], args[1])
	case "v3":
		var feeBps int64
		if len(args) == 4 {
			feeBps, err = strconv.ParseInt(args[3], 10, 64)
			if err != nil || feeBps < 1 {
				return pairUsage
			}
		}
		addr, err = s.resolver.ResolvePool(ctx, args[0], args[1], feeBps)
	default:
		return pairUsage
	}
	if err != nil {
		return fmt.Sprintf("resolve failed: %v", err)
	}
	if addr == "" {
		return "no pool found"
	}
	return "pool: " + addr
}

// RenderOutcomes formats an outcome sequence, one line per transition.
func RenderOutcomes(outs []domain.BotOutcome) string {
	if len(outs) == 0 {
		return "no outcomes"
	}
	var b strings.Builder
	for _, o := range outs {
		b.WriteString(renderOutcome(o))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderOutcome(o domain.BotOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s", o.State)
	if o.Signal != nil {
		fmt.Fprintf(&b, " ft=%.2f ip=%.1f se=%.2f ofi=%.2f ld=%.2f",
			o.Signal.FT, o.Signal.IPBps, o.Signal.SE, o.Signal.OFI, o.Signal.LD)
	}
	if o.Position != nil {
		fmt.Fprintf(&b, " pos=%.2f@%.4f", o.Position.Size, o.Position.EntryPrice)
	}
	if o.Exited {
		b.WriteString(" EXITED")
	}
	return b.String()
}

// botCommandSuffix strips the "@BotName" form Telegram appends in groups.
func botCommandSuffix(cmd string) string {
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		return cmd[i+1:]
	}
	return ""
}
