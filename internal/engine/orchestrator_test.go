package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-copy-engine/config"
	"github.com/utrading/utrading-copy-engine/internal/dao"
	"github.com/utrading/utrading-copy-engine/internal/exchange"
	"github.com/utrading/utrading-copy-engine/internal/models"
	"github.com/utrading/utrading-copy-engine/internal/nats"
	"github.com/utrading/utrading-copy-engine/internal/vault"
)

const testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// fakeStore 内存版持久层
type fakeStore struct {
	mu       sync.Mutex
	bindings []*dao.Binding
	wallets  map[uint]*models.FollowerWallet
	execs    map[uint]*models.CopyExecution
	nextID   uint
	pnl      float64 // SumRealizedPnlSince 返回值
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets: make(map[uint]*models.FollowerWallet),
		execs:   make(map[uint]*models.CopyExecution),
	}
}

func (s *fakeStore) ListActiveBindings(providerID uint) ([]*dao.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindings, nil
}

func (s *fakeStore) HasOpenAttempt(tradeID, settingsID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.execs {
		if e.ProviderTradeID == tradeID && e.CopySettingsID == settingsID && e.Action == models.ExecActionOpen {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) CreatePending(exec *models.CopyExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.execs {
		if e.ProviderTradeID == exec.ProviderTradeID &&
			e.CopySettingsID == exec.CopySettingsID &&
			e.Action == exec.Action {
			return dao.ErrDuplicateExecution
		}
	}
	s.nextID++
	exec.ID = s.nextID
	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}

func (s *fakeStore) MarkOpened(id uint, orderID string, size, entryPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.execs[id]
	if e == nil || e.Status != models.ExecStatusPending {
		return dao.ErrExecutionNotPending
	}
	e.Status = models.ExecStatusOpen
	e.OrderID = orderID
	e.Size = size
	e.EntryPrice = entryPrice
	return nil
}

func (s *fakeStore) MarkBlocked(id uint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.execs[id]
	if e == nil || e.Status != models.ExecStatusPending {
		return dao.ErrExecutionNotPending
	}
	e.Status = models.ExecStatusBlocked
	e.BlockReason = reason
	return nil
}

func (s *fakeStore) MarkFailed(id uint, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.execs[id]
	if e == nil || e.Status != models.ExecStatusPending {
		return dao.ErrExecutionNotPending
	}
	e.Status = models.ExecStatusFailed
	e.ErrorMessage = msg
	return nil
}

func (s *fakeStore) ListOpenExecutions(tradeID uint) ([]*models.CopyExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CopyExecution
	for _, e := range s.execs {
		if e.ProviderTradeID == tradeID && e.Action == models.ExecActionOpen && e.Status == models.ExecStatusOpen {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkClosed(id uint, exitPrice, realizedPnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.execs[id]
	if e == nil || e.Status != models.ExecStatusOpen {
		return dao.ErrExecutionNotOpen
	}
	e.Status = models.ExecStatusClosed
	e.ExitPrice = exitPrice
	e.RealizedPnl = realizedPnl
	return nil
}

func (s *fakeStore) AppendCloseError(id uint, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.execs[id]; e != nil {
		e.ErrorMessage = msg
	}
	return nil
}

func (s *fakeStore) WalletByID(id uint) (*models.FollowerWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[id], nil
}

func (s *fakeStore) DeactivateWallet(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.wallets[id]; w != nil {
		w.IsActive = false
	}
	return nil
}

func (s *fakeStore) SumRealizedPnlSince(settingsID uint, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pnl, nil
}

func (s *fakeStore) execByID(id uint) *models.CopyExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.execs[id]; e != nil {
		cp := *e
		return &cp
	}
	return nil
}

func (s *fakeStore) execsByStatus(status string) []*models.CopyExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CopyExecution
	for _, e := range s.execs {
		if e.Status == status {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// fakeGateway 可编程交易所网关
type fakeGateway struct {
	mu        sync.Mutex
	balance   float64
	price     float64
	openErr   error
	closeErr  error
	openCalls int
}

func (g *fakeGateway) GetBalance(ctx context.Context, coin string) (float64, error) {
	return g.balance, nil
}

func (g *fakeGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return g.price, nil
}

func (g *fakeGateway) OpenPosition(ctx context.Context, symbol, direction string, size float64, leverage int) (*exchange.OrderResult, error) {
	g.mu.Lock()
	g.openCalls++
	g.mu.Unlock()
	if g.openErr != nil {
		return nil, g.openErr
	}
	return &exchange.OrderResult{OrderID: "order-" + symbol, Size: size}, nil
}

func (g *fakeGateway) ClosePosition(ctx context.Context, symbol, direction string, size float64) (*exchange.OrderResult, error) {
	if g.closeErr != nil {
		return nil, g.closeErr
	}
	return &exchange.OrderResult{OrderID: "close-" + symbol, Size: size, Price: g.price}, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (g *fakeGateway) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return nil, nil
}

func (g *fakeGateway) ValidateCredentials(ctx context.Context) bool {
	return true
}

// fakeFactory 按 API key 分发预置网关
type fakeFactory struct {
	mu       sync.Mutex
	gateways map[string]*fakeGateway // key: 明文 APIKey
}

func (f *fakeFactory) New(exchangeName string, creds exchange.Credentials) (exchange.Gateway, error) {
	if exchangeName != "bitget" {
		return nil, &exchange.ErrUnsupportedExchange{Exchange: exchangeName}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	gw, ok := f.gateways[creds.APIKey]
	if !ok {
		gw = &fakeGateway{balance: 10000, price: 100}
		f.gateways[creds.APIKey] = gw
	}
	return gw, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	results []*nats.ExecutionResult
}

func (p *fakePublisher) PublishExecutionResult(r *nats.ExecutionResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return nil
}

func (p *fakePublisher) byStatus(status string) []*nats.ExecutionResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*nats.ExecutionResult
	for _, r := range p.results {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

type harness struct {
	store     *fakeStore
	factory   *fakeFactory
	publisher *fakePublisher
	orch      *Orchestrator
	vault     *vault.Vault
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v, err := vault.New(testVaultKey)
	require.NoError(t, err)

	store := newFakeStore()
	factory := &fakeFactory{gateways: make(map[string]*fakeGateway)}
	publisher := &fakePublisher{}

	orch, err := NewOrchestrator(store, v, factory, publisher, config.Engine{
		WorkerPoolSize:  8,
		ExchangeTimeout: 2 * time.Second,
		DedupTTL:        time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(orch.Stop)

	return &harness{store: store, factory: factory, publisher: publisher, orch: orch, vault: v}
}

// addFollower 注册一个跟单者，返回其预置网关
func (h *harness) addFollower(t *testing.T, walletID, settingsID uint, mutate func(*models.CopySettings)) *fakeGateway {
	t.Helper()
	apiKey := "key-" + strings.Repeat("x", int(walletID))
	encKey, err := h.vault.Encrypt(apiKey)
	require.NoError(t, err)
	encSecret, err := h.vault.Encrypt("secret")
	require.NoError(t, err)
	encPass, err := h.vault.Encrypt("pass")
	require.NoError(t, err)

	wallet := &models.FollowerWallet{
		ID:                     walletID,
		UserID:                 walletID,
		Exchange:               "bitget",
		APIKeyEncrypted:        encKey,
		APISecretEncrypted:     encSecret,
		APIPassphraseEncrypted: encPass,
		IsActive:               true,
	}
	settings := &models.CopySettings{
		ID:              settingsID,
		WalletID:        walletID,
		ProviderID:      1,
		CopyMode:        models.CopyModeProportional,
		SizeValue:       1,
		MaxPositionUSD:  1_000_000,
		MaxDailyLossUSD: 0,
		IsActive:        true,
	}
	if mutate != nil {
		mutate(settings)
	}

	h.store.wallets[walletID] = wallet
	h.store.bindings = append(h.store.bindings, &dao.Binding{Settings: settings, Wallet: wallet})

	gw := &fakeGateway{balance: 10000, price: 100}
	h.factory.mu.Lock()
	h.factory.gateways[apiKey] = gw
	h.factory.mu.Unlock()
	return gw
}

func sampleTrade() *models.ProviderTrade {
	return &models.ProviderTrade{
		ID:         1,
		ProviderID: 1,
		Pair:       "BTC/USDT",
		Direction:  models.DirectionLong,
		EntryPrice: 100,
		Quantity:   2,
		Leverage:   5,
		Status:     models.TradeStatusOpen,
	}
}

// TestFanoutPartialFailure 单个跟单者失败不影响其他人
func TestFanoutPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.addFollower(t, 1, 11, nil)
	gwB := h.addFollower(t, 2, 12, nil)
	h.addFollower(t, 3, 13, nil)

	gwB.openErr = &exchange.ExchangeError{Code: "40309", Msg: "symbol suspended"}

	h.orch.OnTradeOpened(context.Background(), sampleTrade())

	opened := h.store.execsByStatus(models.ExecStatusOpen)
	assert.Len(t, opened, 2)
	failed := h.store.execsByStatus(models.ExecStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, uint(12), failed[0].CopySettingsID)
	assert.Contains(t, failed[0].ErrorMessage, "40309")

	// 三个结果全部发布
	assert.Len(t, h.publisher.results, 3)
}

// TestDuplicateEventNoDoubleOpen 同一事件重复派发不会二次下单
func TestDuplicateEventNoDoubleOpen(t *testing.T) {
	h := newHarness(t)
	gw := h.addFollower(t, 1, 11, nil)

	trade := sampleTrade()
	h.orch.OnTradeOpened(context.Background(), trade)
	h.orch.OnTradeOpened(context.Background(), trade)

	assert.Equal(t, 1, gw.openCalls)
	assert.Len(t, h.store.execsByStatus(models.ExecStatusOpen), 1)
	assert.Len(t, h.publisher.byStatus(StatusSkipped), 1)
}

// TestRiskBlockedOutcome 风控拦截产出 blocked 台账记录
func TestRiskBlockedOutcome(t *testing.T) {
	h := newHarness(t)
	gw := h.addFollower(t, 1, 11, func(s *models.CopySettings) {
		s.AllowedPairs = []string{"ETH/USDT"}
	})

	h.orch.OnTradeOpened(context.Background(), sampleTrade())

	blocked := h.store.execsByStatus(models.ExecStatusBlocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, "pair not allowed", blocked[0].BlockReason)
	assert.Equal(t, 0, gw.openCalls)
}

// TestDailyLossCircuitBreaker 当日亏损超限拦截
func TestDailyLossCircuitBreaker(t *testing.T) {
	h := newHarness(t)
	h.addFollower(t, 1, 11, func(s *models.CopySettings) {
		s.MaxDailyLossUSD = 500
	})
	h.store.pnl = -600

	h.orch.OnTradeOpened(context.Background(), sampleTrade())

	blocked := h.store.execsByStatus(models.ExecStatusBlocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, "daily loss limit reached", blocked[0].BlockReason)
}

// TestWalletInactiveFails 钱包停用时记 failed
func TestWalletInactiveFails(t *testing.T) {
	h := newHarness(t)
	gw := h.addFollower(t, 1, 11, nil)
	h.store.wallets[1].IsActive = false
	h.store.bindings[0].Wallet.IsActive = false

	h.orch.OnTradeOpened(context.Background(), sampleTrade())

	failed := h.store.execsByStatus(models.ExecStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "wallet inactive", failed[0].ErrorMessage)
	assert.Equal(t, 0, gw.openCalls)
}

// TestInsufficientBalanceShortCircuit 保证金不足不触达交易所下单
func TestInsufficientBalanceShortCircuit(t *testing.T) {
	h := newHarness(t)
	gw := h.addFollower(t, 1, 11, nil)
	// 需要保证金 2*100/5=40，余额只有 10
	gw.balance = 10

	h.orch.OnTradeOpened(context.Background(), sampleTrade())

	failed := h.store.execsByStatus(models.ExecStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "insufficient balance", failed[0].ErrorMessage)
	assert.Equal(t, 0, gw.openCalls)
}

// TestAuthErrorDeactivatesWallet 凭证失效自动停用钱包
func TestAuthErrorDeactivatesWallet(t *testing.T) {
	h := newHarness(t)
	gw := h.addFollower(t, 1, 11, nil)
	gw.openErr = &exchange.AuthError{Msg: "apikey expired"}

	h.orch.OnTradeOpened(context.Background(), sampleTrade())

	require.Len(t, h.store.execsByStatus(models.ExecStatusFailed), 1)
	assert.False(t, h.store.wallets[1].IsActive)
}

// TestCloseFlowPnl 平仓写入出场价和已实现盈亏
func TestCloseFlowPnl(t *testing.T) {
	h := newHarness(t)
	h.addFollower(t, 1, 11, nil)

	trade := sampleTrade()
	h.orch.OnTradeOpened(context.Background(), trade)
	opened := h.store.execsByStatus(models.ExecStatusOpen)
	require.Len(t, opened, 1)
	assert.Equal(t, 2.0, opened[0].Size)

	trade.Status = models.TradeStatusClosed
	trade.ExitPrice = 110
	h.orch.OnTradeClosed(context.Background(), trade)

	closed := h.store.execsByStatus(models.ExecStatusClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, 110.0, closed[0].ExitPrice)
	// 多头 100→110: 2 * 100 * 10% = +20
	assert.InDelta(t, 20.0, closed[0].RealizedPnl, 1e-9)

	// 重复平仓事件不再产生结果
	before := len(h.publisher.results)
	h.orch.OnTradeClosed(context.Background(), trade)
	assert.Equal(t, before, len(h.publisher.results))
}

// TestCloseErrorKeepsPositionOpen 平仓失败仓位保持 open 并留痕
func TestCloseErrorKeepsPositionOpen(t *testing.T) {
	h := newHarness(t)
	gw := h.addFollower(t, 1, 11, nil)

	trade := sampleTrade()
	h.orch.OnTradeOpened(context.Background(), trade)

	gw.closeErr = &exchange.NetworkError{Op: "close position", Err: context.DeadlineExceeded}
	trade.ExitPrice = 110
	h.orch.OnTradeClosed(context.Background(), trade)

	open := h.store.execsByStatus(models.ExecStatusOpen)
	require.Len(t, open, 1)
	assert.Contains(t, open[0].ErrorMessage, "close position")

	// 网络恢复后重试成功
	gw.closeErr = nil
	h.orch.OnTradeClosed(context.Background(), trade)
	assert.Len(t, h.store.execsByStatus(models.ExecStatusClosed), 1)
}

// TestRealizedPnl 盈亏口径
func TestRealizedPnl(t *testing.T) {
	// 多头 100→110 = +10%
	assert.InDelta(t, 20.0, realizedPnl(models.DirectionLong, 2, 100, 110), 1e-9)
	// 空头 100→110 = -10%
	assert.InDelta(t, -20.0, realizedPnl(models.DirectionShort, 2, 100, 110), 1e-9)
	// 空头 100→90 = +10%
	assert.InDelta(t, 20.0, realizedPnl(models.DirectionShort, 2, 100, 90), 1e-9)
	// 开仓价非法
	assert.Equal(t, 0.0, realizedPnl(models.DirectionLong, 2, 0, 110))
}
