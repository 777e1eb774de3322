package lending

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"moneymarket/core/events"
	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

const moduleName = "lending"

// Action names double as pause keys ("lending.borrow") and metric labels.
const (
	ActionSupply    = "supply"
	ActionRedeem    = "redeem"
	ActionBorrow    = "borrow"
	ActionRepay     = "repay"
	ActionLiquidate = "liquidate"
	ActionTransfer  = "transfer"
	ActionAccrue    = "accrue"
	ActionAdmin     = "admin"
)

// Graph owns the state shared by a set of markets and the controllers that
// govern them: the lock serialising every mutation, the block clock, the
// undo journal and the committed event log.
//
// Every mutating entry point holds the write lock for its whole duration,
// including nested calls into other markets and controllers of the graph.
// Queries hold the read lock. Emitters are invoked with the write lock held
// and must not call back into the graph.
type Graph struct {
	mu sync.RWMutex

	height uint64

	journal *journal
	pending []events.Renderable

	log      []types.Event
	sequence uint64

	emitter events.Emitter
	logger  *slog.Logger
	metrics Metrics
	pauses  nativecommon.PauseView

	markets       []*Market
	marketsByAddr map[crypto.Address]*Market
	controllers   []*Controller
}

// NewGraph constructs an empty graph at block height zero.
func NewGraph() *Graph {
	return &Graph{
		emitter:       events.NoopEmitter{},
		logger:        slog.Default(),
		metrics:       noopMetrics{},
		marketsByAddr: make(map[crypto.Address]*Market),
	}
}

func (g *Graph) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = logger
}

func (g *Graph) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emitter = emitter
}

func (g *Graph) SetMetrics(metrics Metrics) {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics = metrics
}

// SetPauses wires the pause switches consulted before every market action.
func (g *Graph) SetPauses(p nativecommon.PauseView) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pauses = p
}

// SetBlockHeight moves the clock used for accrual. Heights never decrease.
func (g *Graph) SetBlockHeight(height uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if height < g.height {
		return fmt.Errorf("%w: %d < %d", ErrBlockRegression, height, g.height)
	}
	g.height = height
	return nil
}

// AdvanceBlocks moves the clock forward by n blocks and returns the new
// height. The height saturates at math.MaxUint64.
func (g *Graph) AdvanceBlocks(n uint64) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n > math.MaxUint64-g.height {
		g.height = math.MaxUint64
		return g.height
	}
	g.height += n
	return g.height
}

func (g *Graph) BlockHeight() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.height
}

// NewMarket registers a market in the graph. The market starts accruing at
// the current block height with both indices at One.
func (g *Graph) NewMarket(cfg MarketConfig) (*Market, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidMarket)
	}
	if cfg.Asset == nil {
		return nil, fmt.Errorf("%w: asset required", ErrInvalidMarket)
	}
	addr := cfg.Address
	if addr.IsZero() {
		addr = crypto.DeriveAddress(crypto.MarketPrefix, name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.marketsByAddr[addr]; exists {
		return nil, fmt.Errorf("%w: address %s already in use", ErrInvalidMarket, addr)
	}
	m := newMarket(g, name, addr, cfg)
	g.markets = append(g.markets, m)
	g.marketsByAddr[addr] = m
	g.logger.Info("lending market created",
		slog.String("market", name),
		slog.String("address", addr.String()),
		slog.String("asset", cfg.Asset.Address().String()),
		slog.Bool("unrestricted", cfg.Unrestricted))
	return m, nil
}

// NewController creates a controller owned by owner. Both risk factors start
// at zero and the liquidation incentive at 1.05.
func (g *Graph) NewController(owner crypto.Address) *Controller {
	g.mu.Lock()
	defer g.mu.Unlock()
	label := fmt.Sprintf("%s/%d", owner, len(g.controllers))
	c := newController(g, crypto.DeriveAddress(crypto.ControllerPrefix, label), owner)
	g.controllers = append(g.controllers, c)
	return c
}

// Markets returns the markets of the graph in creation order.
func (g *Graph) Markets() []*Market {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Market(nil), g.markets...)
}

// Market looks a market up by address.
func (g *Graph) Market(addr crypto.Address) (*Market, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.marketsByAddr[addr]
	return m, ok
}

func (g *Graph) Controllers() []*Controller {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Controller(nil), g.controllers...)
}

// Events returns a copy of the committed event log.
func (g *Graph) Events() []types.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return cloneEvents(g.log)
}

// EventsSince returns the committed events with a sequence number greater
// than seq.
func (g *Graph) EventsSince(seq uint64) []types.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx := sort.Search(len(g.log), func(i int) bool { return g.log[i].Sequence > seq })
	return cloneEvents(g.log[idx:])
}

// Sequence returns the sequence number of the last committed event.
func (g *Graph) Sequence() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sequence
}

// update runs fn as a single unit of work under the write lock. Any error
// rolls back every journaled mutation and discards the events fn produced.
func (g *Graph) update(scope, action string, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.journal = &journal{}
	g.pending = nil
	committed := false
	defer func() {
		if !committed {
			g.journal.rollback()
			g.pending = nil
		}
		g.journal = nil
	}()

	if err := fn(); err != nil {
		g.logger.Debug("lending operation rejected",
			slog.String("scope", scope),
			slog.String("action", action),
			slog.Int("undone", g.journal.size()),
			slog.Any("error", err))
		g.metrics.ObserveOperation(scope, action, err)
		return err
	}
	committed = true
	g.commit()
	g.metrics.ObserveOperation(scope, action, nil)
	return nil
}

func (g *Graph) record(undo func()) {
	g.journal.record(undo)
}

func (g *Graph) emit(e events.Renderable) {
	g.pending = append(g.pending, e)
}

func (g *Graph) commit() {
	for _, e := range g.pending {
		g.sequence++
		rendered := e.Event()
		rendered.Sequence = g.sequence
		rendered.Height = g.height
		g.log = append(g.log, *rendered)
		g.emitter.Emit(e)

		switch ev := e.(type) {
		case AccrueEvent:
			g.metrics.ObserveIndices(ev.Market.String(), ev.SupplyIndex, ev.BorrowIndex)
		case LiquidateBorrowEvent:
			g.metrics.ObserveLiquidation(ev.Market.String(), ev.CollateralMarket.String(), ev.Amount)
		}
	}
	g.pending = nil
}

func (g *Graph) guard(action string) error {
	return nativecommon.GuardAction(g.pauses, moduleName, action)
}

func cloneEvents(in []types.Event) []types.Event {
	out := make([]types.Event, len(in))
	for i, e := range in {
		attrs := make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs[k] = v
		}
		e.Attributes = attrs
		out[i] = e
	}
	return out
}
