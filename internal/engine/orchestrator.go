package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/utrading/utrading-copy-engine/config"
	"github.com/utrading/utrading-copy-engine/internal/cache"
	"github.com/utrading/utrading-copy-engine/internal/dao"
	"github.com/utrading/utrading-copy-engine/internal/exchange"
	"github.com/utrading/utrading-copy-engine/internal/models"
	"github.com/utrading/utrading-copy-engine/internal/monitor"
	"github.com/utrading/utrading-copy-engine/internal/nats"
	"github.com/utrading/utrading-copy-engine/internal/risk"
	"github.com/utrading/utrading-copy-engine/internal/sizing"
	"github.com/utrading/utrading-copy-engine/internal/vault"
	"github.com/utrading/utrading-copy-engine/pkg/goplus"
	"github.com/utrading/utrading-copy-engine/pkg/logger"
)

// StatusSkipped 本次派发未落台账（重复事件），仅出现在结果消息里
const StatusSkipped = "skipped"

const marginCoin = "USDT"

// ResultPublisher 执行结果发布接口
type ResultPublisher interface {
	PublishExecutionResult(result *nats.ExecutionResult) error
}

// Outcome 单个跟单者对一次事件的处理结果
type Outcome struct {
	ExecutionID uint
	TradeID     uint
	SettingsID  uint
	WalletID    uint
	Action      string
	Status      string // open/blocked/failed/closed/skipped
	Reason      string
	Pair        string
	Direction   string
	OrderID     string
	Size        float64
	Price       float64
	RealizedPnl float64
}

func (out *Outcome) skip(reason string) *Outcome {
	out.Status = StatusSkipped
	out.Reason = reason
	return out
}

// Orchestrator 跟单执行编排器
// 消费持仓生命周期事件，对每个跟单者独立执行：
// 风控 → 算量 → 解密凭证 → 下单 → 落台账 → 发结果
type Orchestrator struct {
	store     Store
	vault     *vault.Vault
	factory   exchange.Factory
	gate      *risk.Gate
	deduper   *cache.DedupCache
	publisher ResultPublisher
	pool      *ants.Pool
	timeout   time.Duration
}

// NewOrchestrator 创建编排器
// publisher 可为 nil（结果不出站，只落台账）
func NewOrchestrator(
	store Store,
	v *vault.Vault,
	factory exchange.Factory,
	publisher ResultPublisher,
	cfg config.Engine,
) (*Orchestrator, error) {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 30
	}
	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Orchestrator{
		store:     store,
		vault:     v,
		factory:   factory,
		gate:      risk.NewGate(store),
		deduper:   cache.NewDedupCache(cfg.DedupTTL),
		publisher: publisher,
		pool:      pool,
		timeout:   cfg.ExchangeTimeout,
	}, nil
}

// OnTradeOpened 提供者开仓，向全部生效跟单者扇出
// 单个跟单者的失败不影响其他人，全部完成后统一发布结果
func (o *Orchestrator) OnTradeOpened(ctx context.Context, trade *models.ProviderTrade) {
	if trade == nil || trade.Status == models.TradeStatusCancelled {
		return
	}

	bindings, err := o.store.ListActiveBindings(trade.ProviderID)
	if err != nil {
		logger.Error().Err(err).
			Uint("provider_id", trade.ProviderID).
			Uint("trade_id", trade.ID).
			Msg("list active bindings failed")
		return
	}
	if len(bindings) == 0 {
		logger.Debug().Uint("trade_id", trade.ID).Msg("no active followers for trade")
		return
	}

	start := time.Now()
	outcomes := make([]*Outcome, len(bindings))
	var wg sync.WaitGroup
	for i, b := range bindings {
		i, b := i, b
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer goplus.Recover()
			outcomes[i] = o.executeOpen(ctx, trade, b)
		}
		if err = o.pool.Submit(task); err != nil {
			// 池不可用时降级为同步执行，不丢跟单者
			task()
		}
	}
	wg.Wait()

	monitor.ObserveFanout(len(bindings), time.Since(start).Seconds())
	o.finishFanout(trade, outcomes)
}

// OnTradeClosed 提供者平仓，对该持仓下全部未平仓记录扇出平仓
func (o *Orchestrator) OnTradeClosed(ctx context.Context, trade *models.ProviderTrade) {
	if trade == nil {
		return
	}

	execs, err := o.store.ListOpenExecutions(trade.ID)
	if err != nil {
		logger.Error().Err(err).Uint("trade_id", trade.ID).Msg("list open executions failed")
		return
	}
	if len(execs) == 0 {
		logger.Debug().Uint("trade_id", trade.ID).Msg("no open executions for trade")
		return
	}

	start := time.Now()
	outcomes := make([]*Outcome, len(execs))
	var wg sync.WaitGroup
	for i, e := range execs {
		i, e := i, e
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer goplus.Recover()
			outcomes[i] = o.executeClose(ctx, trade, e)
		}
		if err = o.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	monitor.ObserveFanout(len(execs), time.Since(start).Seconds())
	o.finishFanout(trade, outcomes)
}

// finishFanout 记指标并发布每个跟单者的结果
func (o *Orchestrator) finishFanout(trade *models.ProviderTrade, outcomes []*Outcome) {
	for _, out := range outcomes {
		if out == nil {
			// worker panic 已被 recover，没有结果可发
			continue
		}
		monitor.IncExecution(out.Action, out.Status)
		o.publishOutcome(out)
	}
}

func (o *Orchestrator) publishOutcome(out *Outcome) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishExecutionResult(&nats.ExecutionResult{
		ExecutionID: out.ExecutionID,
		TradeID:     out.TradeID,
		SettingsID:  out.SettingsID,
		WalletID:    out.WalletID,
		Action:      out.Action,
		Status:      out.Status,
		Reason:      out.Reason,
		Pair:        out.Pair,
		Direction:   out.Direction,
		OrderID:     out.OrderID,
		Size:        out.Size,
		Price:       out.Price,
		RealizedPnl: out.RealizedPnl,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		logger.Error().Err(err).
			Uint("trade_id", out.TradeID).
			Uint("settings_id", out.SettingsID).
			Msg("publish outcome failed")
	}
}

// executeOpen 为单个跟单者执行开仓
func (o *Orchestrator) executeOpen(ctx context.Context, trade *models.ProviderTrade, b *dao.Binding) *Outcome {
	begin := time.Now()
	defer func() {
		monitor.ObserveExecutionDuration(time.Since(begin).Seconds())
	}()

	settings, wallet := b.Settings, b.Wallet
	out := &Outcome{
		TradeID:    trade.ID,
		SettingsID: settings.ID,
		WalletID:   wallet.ID,
		Action:     models.ExecActionOpen,
		Pair:       trade.Pair,
		Direction:  trade.Direction,
	}

	// 去重三道防线：缓存 → 台账查询 → 数据库唯一键
	if !o.deduper.Claim(trade.ID, settings.ID, models.ExecActionOpen) {
		monitor.IncDedupSkipped()
		return out.skip("duplicate dispatch")
	}
	seen, err := o.store.HasOpenAttempt(trade.ID, settings.ID)
	if err != nil {
		o.deduper.Release(trade.ID, settings.ID, models.ExecActionOpen)
		logger.Error().Err(err).Uint("trade_id", trade.ID).Uint("settings_id", settings.ID).
			Msg("open attempt lookup failed")
		return out.skip("storage unavailable")
	}
	if seen {
		monitor.IncDedupSkipped()
		return out.skip("already attempted")
	}

	// 先占台账：pending 记录写入成功才允许触达交易所
	exec := &models.CopyExecution{
		ProviderTradeID: trade.ID,
		CopySettingsID:  settings.ID,
		WalletID:        wallet.ID,
		Pair:            trade.Pair,
		Direction:       trade.Direction,
		Action:          models.ExecActionOpen,
		Leverage:        trade.Leverage,
		Status:          models.ExecStatusPending,
	}
	if err = o.store.CreatePending(exec); err != nil {
		if errors.Is(err, dao.ErrDuplicateExecution) {
			monitor.IncDedupSkipped()
			return out.skip("duplicate dispatch")
		}
		o.deduper.Release(trade.ID, settings.ID, models.ExecActionOpen)
		logger.Error().Err(err).Uint("trade_id", trade.ID).Uint("settings_id", settings.ID).
			Msg("create pending execution failed")
		return out.skip("storage unavailable")
	}
	out.ExecutionID = exec.ID

	if !wallet.IsActive {
		return o.fail(out, "wallet inactive")
	}

	decision, err := o.gate.Evaluate(settings, trade.Pair)
	if err != nil {
		logger.Error().Err(err).Uint("settings_id", settings.ID).Msg("risk evaluation failed")
		return o.fail(out, "risk evaluation failed")
	}
	if !decision.Approved {
		monitor.IncRiskBlocked(decision.Reason)
		if err = o.store.MarkBlocked(exec.ID, decision.Reason); err != nil {
			logger.Error().Err(err).Uint("execution_id", exec.ID).Msg("mark blocked failed")
		}
		out.Status = models.ExecStatusBlocked
		out.Reason = decision.Reason
		logger.Info().
			Uint("trade_id", trade.ID).
			Uint("settings_id", settings.ID).
			Str("reason", decision.Reason).
			Msg("execution blocked by risk gate")
		return out
	}

	creds, err := o.decryptCredentials(wallet)
	if err != nil {
		logger.Error().Err(err).Uint("wallet_id", wallet.ID).Msg("decrypt credentials failed")
		return o.fail(out, "credential decrypt failed")
	}

	gw, err := o.factory.New(wallet.Exchange, creds)
	if err != nil {
		return o.fail(out, err.Error())
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	balance, err := gw.GetBalance(cctx, marginCoin)
	if err != nil {
		return o.failExchange(out, wallet, err)
	}

	size := sizing.Size(settings, sizing.TradeInput{
		Direction:  trade.Direction,
		EntryPrice: trade.EntryPrice,
		Quantity:   trade.Quantity,
	}, balance)
	if size <= 0 {
		return o.fail(out, "zero size")
	}

	// 保证金预检，避免交易所端必败的下单
	lev := trade.Leverage
	if lev < 1 {
		lev = 1
	}
	if balance < size*trade.EntryPrice/float64(lev) {
		return o.fail(out, "insufficient balance")
	}

	octx, openCancel := context.WithTimeout(ctx, o.timeout)
	defer openCancel()
	res, err := gw.OpenPosition(octx, exchange.FuturesSymbol(trade.Pair), trade.Direction, size, trade.Leverage)
	if err != nil {
		return o.failExchange(out, wallet, err)
	}

	if err = o.store.MarkOpened(exec.ID, res.OrderID, size, trade.EntryPrice); err != nil {
		// 订单已成交但台账未更新，必须留痕待人工对账
		logger.Error().Err(err).
			Uint("execution_id", exec.ID).
			Str("order_id", res.OrderID).
			Msg("order placed but ledger update failed")
	}

	out.Status = models.ExecStatusOpen
	out.OrderID = res.OrderID
	out.Size = size
	out.Price = trade.EntryPrice

	logger.Info().
		Uint("trade_id", trade.ID).
		Uint("settings_id", settings.ID).
		Str("order_id", res.OrderID).
		Str("pair", trade.Pair).
		Str("direction", trade.Direction).
		Float64("size", size).
		Msg("copy position opened")

	return out
}

// executeClose 为单条未平仓记录执行平仓
// 平仓不过风控，钱包停用也要出场
func (o *Orchestrator) executeClose(ctx context.Context, trade *models.ProviderTrade, exec *models.CopyExecution) *Outcome {
	begin := time.Now()
	defer func() {
		monitor.ObserveExecutionDuration(time.Since(begin).Seconds())
	}()

	out := &Outcome{
		ExecutionID: exec.ID,
		TradeID:     trade.ID,
		SettingsID:  exec.CopySettingsID,
		WalletID:    exec.WalletID,
		Action:      models.ExecActionClose,
		Pair:        exec.Pair,
		Direction:   exec.Direction,
	}

	if !o.deduper.Claim(trade.ID, exec.CopySettingsID, models.ExecActionClose) {
		monitor.IncDedupSkipped()
		return out.skip("duplicate dispatch")
	}

	wallet, err := o.store.WalletByID(exec.WalletID)
	if err != nil {
		o.deduper.Release(trade.ID, exec.CopySettingsID, models.ExecActionClose)
		logger.Error().Err(err).Uint("wallet_id", exec.WalletID).Msg("load wallet failed")
		return o.failClose(out, exec, "wallet not found")
	}

	creds, err := o.decryptCredentials(wallet)
	if err != nil {
		o.deduper.Release(trade.ID, exec.CopySettingsID, models.ExecActionClose)
		logger.Error().Err(err).Uint("wallet_id", wallet.ID).Msg("decrypt credentials failed")
		return o.failClose(out, exec, "credential decrypt failed")
	}

	gw, err := o.factory.New(wallet.Exchange, creds)
	if err != nil {
		o.deduper.Release(trade.ID, exec.CopySettingsID, models.ExecActionClose)
		return o.failClose(out, exec, err.Error())
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	res, err := gw.ClosePosition(cctx, exchange.FuturesSymbol(exec.Pair), exec.Direction, exec.Size)
	if err != nil {
		// 仓位保持 open，释放占位允许下次事件重试
		o.deduper.Release(trade.ID, exec.CopySettingsID, models.ExecActionClose)
		o.recordExchangeError(wallet, err)
		return o.failClose(out, exec, err.Error())
	}

	exitPrice := trade.ExitPrice
	if exitPrice <= 0 {
		exitPrice = res.Price
	}
	if exitPrice <= 0 {
		// 市价单回包不带成交价，退而取最新成交价
		if p, perr := gw.GetPrice(cctx, exchange.FuturesSymbol(exec.Pair)); perr == nil {
			exitPrice = p
		}
	}
	pnl := realizedPnl(exec.Direction, exec.Size, exec.EntryPrice, exitPrice)

	if err = o.store.MarkClosed(exec.ID, exitPrice, pnl); err != nil {
		if errors.Is(err, dao.ErrExecutionNotOpen) {
			// 并发平仓已有人先到，本次不重复发结果
			return out.skip("already closed")
		}
		logger.Error().Err(err).Uint("execution_id", exec.ID).Msg("mark closed failed")
	}

	out.Status = models.ExecStatusClosed
	out.OrderID = res.OrderID
	out.Size = exec.Size
	out.Price = exitPrice
	out.RealizedPnl = pnl

	logger.Info().
		Uint("trade_id", trade.ID).
		Uint("execution_id", exec.ID).
		Str("pair", exec.Pair).
		Float64("exit_price", exitPrice).
		Float64("realized_pnl", pnl).
		Msg("copy position closed")

	return out
}

// fail 开仓失败：pending → failed
func (o *Orchestrator) fail(out *Outcome, reason string) *Outcome {
	if err := o.store.MarkFailed(out.ExecutionID, reason); err != nil {
		logger.Error().Err(err).Uint("execution_id", out.ExecutionID).Msg("mark failed failed")
	}
	out.Status = models.ExecStatusFailed
	out.Reason = reason
	logger.Warn().
		Uint("trade_id", out.TradeID).
		Uint("settings_id", out.SettingsID).
		Str("reason", reason).
		Msg("copy execution failed")
	return out
}

// failExchange 交易所调用失败：分类记指标，凭证失效时停用钱包
func (o *Orchestrator) failExchange(out *Outcome, wallet *models.FollowerWallet, err error) *Outcome {
	o.recordExchangeError(wallet, err)
	return o.fail(out, err.Error())
}

// failClose 平仓失败：记录原因但不改状态，仓位留在 open 待重试
func (o *Orchestrator) failClose(out *Outcome, exec *models.CopyExecution, reason string) *Outcome {
	if err := o.store.AppendCloseError(exec.ID, reason); err != nil {
		logger.Error().Err(err).Uint("execution_id", exec.ID).Msg("append close error failed")
	}
	out.Status = models.ExecStatusFailed
	out.Reason = reason
	logger.Warn().
		Uint("trade_id", out.TradeID).
		Uint("execution_id", exec.ID).
		Str("reason", reason).
		Msg("copy close failed, position stays open")
	return out
}

func (o *Orchestrator) recordExchangeError(wallet *models.FollowerWallet, err error) {
	var authErr *exchange.AuthError
	var netErr *exchange.NetworkError
	var exErr *exchange.ExchangeError
	var valErr *exchange.ValidationError

	switch {
	case errors.As(err, &authErr):
		monitor.IncExchangeError("auth")
		// 凭证失效，停用钱包等待用户重新绑定
		if dErr := o.store.DeactivateWallet(wallet.ID); dErr != nil {
			logger.Error().Err(dErr).Uint("wallet_id", wallet.ID).Msg("deactivate wallet failed")
		} else {
			monitor.IncWalletsDeactivated()
			logger.Warn().Uint("wallet_id", wallet.ID).Msg("wallet deactivated after auth failure")
		}
	case errors.As(err, &netErr):
		monitor.IncExchangeError("network")
	case errors.As(err, &exErr):
		monitor.IncExchangeError("exchange")
	case errors.As(err, &valErr):
		monitor.IncExchangeError("validation")
	default:
		monitor.IncExchangeError("unknown")
	}
}

// decryptCredentials 解密钱包凭证，明文只在本次执行作用域内存在
func (o *Orchestrator) decryptCredentials(wallet *models.FollowerWallet) (exchange.Credentials, error) {
	apiKey, err := o.vault.Decrypt(wallet.APIKeyEncrypted)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("api key: %w", err)
	}
	secret, err := o.vault.Decrypt(wallet.APISecretEncrypted)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("api secret: %w", err)
	}
	passphrase := ""
	if wallet.APIPassphraseEncrypted != "" {
		if passphrase, err = o.vault.Decrypt(wallet.APIPassphraseEncrypted); err != nil {
			return exchange.Credentials{}, fmt.Errorf("passphrase: %w", err)
		}
	}
	return exchange.Credentials{
		APIKey:     apiKey,
		SecretKey:  secret,
		Passphrase: passphrase,
	}, nil
}

// realizedPnl 按开仓价口径计算已实现盈亏（USDT）
func realizedPnl(direction string, size, entryPrice, exitPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	pct := (exitPrice - entryPrice) / entryPrice * 100
	if direction == models.DirectionShort {
		pct = -pct
	}
	return size * entryPrice * (pct / 100)
}

// GetStats 运行时统计，/status 端点使用
func (o *Orchestrator) GetStats() map[string]any {
	return map[string]any{
		"pool_running": o.pool.Running(),
		"pool_cap":     o.pool.Cap(),
		"dedup":        o.deduper.Stats(),
	}
}

// Stop 释放协程池
func (o *Orchestrator) Stop() {
	o.pool.Release()
}
