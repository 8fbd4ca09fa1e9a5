package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"settlement-engine/internal/events"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/lock"
	"settlement-engine/internal/market"
	"settlement-engine/internal/oracle"
	"settlement-engine/internal/settlement"
	"settlement-engine/internal/store"
)

const defaultCollateralDecimals = 6

// Options supplies the infrastructure a scenario runs on. A nil Store or
// Locker falls back to the in-memory implementation.
type Options struct {
	Store     store.MarketStore
	Locker    lock.Locker
	Hub       *events.Hub
	Logger    *zap.Logger
	OracleKey string // overrides the scenario's oracle_key

	// WatchInterval, when positive, runs the expiration watcher in the
	// background for the duration of the scenario
	WatchInterval time.Duration
}

// StepResult records the outcome of one step
type StepResult struct {
	Index  int    `json:"index"`
	Action string `json:"action"`
	Expect string `json:"expect,omitempty"`
	Got    string `json:"got,omitempty"`
	Detail string `json:"detail,omitempty"`
	OK     bool   `json:"ok"`
}

// CheckResult records a final balance assertion
type CheckResult struct {
	Check
	Got uint64 `json:"got"`
	OK  bool   `json:"ok"`
}

// Report summarizes a scenario run
type Report struct {
	Name     string            `json:"name"`
	Oracle   string            `json:"oracle"`
	Market   market.MarketJSON `json:"market"`
	Steps    []StepResult      `json:"steps"`
	Checks   []CheckResult     `json:"checks"`
	Assets   []ledger.Snapshot `json:"assets"`
	Receipts []ledger.Receipt  `json:"receipts"` // most recent ledger batches
	Failures []string          `json:"failures,omitempty"`
}

const reportReceipts = 10

// Passed reports whether every step and assertion matched
func (r *Report) Passed() bool {
	return len(r.Failures) == 0
}

func (r *Report) fail(format string, args ...interface{}) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// ErrorCode maps an operation error to the code scenarios expect
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := market.CodeOf(err); code != "" {
		return code
	}
	switch {
	case errors.Is(err, oracle.ErrInvalidSignature):
		return "InvalidSignature"
	case errors.Is(err, store.ErrNotFound):
		return "NotFound"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	}
	return "Error"
}

// AccountAddress returns the ledger address used for a scenario account name
func AccountAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("scenario/account/" + name))[12:])
}

var (
	collateralAsset = common.BytesToAddress(crypto.Keccak256([]byte("scenario/collateral"))[12:])
	collateralMint  = common.BytesToAddress(crypto.Keccak256([]byte("scenario/issuer"))[12:])
)

// run holds the state of a single scenario execution
type run struct {
	sc      *Scenario
	svc     *settlement.Service
	ledger  *ledger.Memory
	clock   *oracle.ManualClock
	watcher *settlement.Watcher
	signers map[string]*oracle.Signer
	market  *market.Market
	log     *zap.Logger
}

// Run executes sc from a fresh ledger and returns the report. The error is
// non-nil only when the scenario could not be set up.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Report, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ms := opts.Store
	if ms == nil {
		ms = store.NewMemory()
	}
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}

	signer, err := oracleSigner(sc, opts)
	if err != nil {
		return nil, err
	}

	l := ledger.NewMemory(256)
	decimals := sc.Collateral.Decimals
	if decimals == 0 {
		decimals = defaultCollateralDecimals
	}
	if err := l.CreateAsset(collateralAsset, decimals, collateralMint); err != nil {
		return nil, fmt.Errorf("scenario: create collateral: %w", err)
	}
	for _, name := range sc.AccountNames() {
		amount := sc.Accounts[name]
		if amount == 0 {
			continue
		}
		if _, err := l.Execute(ctx, ledger.MintTo(collateralAsset, AccountAddress(name), amount, collateralMint)); err != nil {
			return nil, fmt.Errorf("scenario: fund %s: %w", name, err)
		}
	}

	clock := oracle.NewManualClock(sc.StartTime)
	svc := settlement.New(settlement.Options{
		Store:  ms,
		Ledger: l,
		Locker: locker,
		Clock:  clock,
		Hub:    opts.Hub,
		Logger: log,
	})

	var controller common.Address
	if sc.Market.Controller != "" {
		controller = AccountAddress(sc.Market.Controller)
	}
	m, err := svc.CreateMarket(ctx, settlement.CreateMarketParams{
		Controller:      controller,
		Oracle:          signer.Address(),
		CollateralAsset: collateralAsset,
		ExpirationTime:  sc.Market.ExpirationTime,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario: create market: %w", err)
	}

	r := &run{
		sc:      sc,
		svc:     svc,
		ledger:  l,
		clock:   clock,
		watcher: settlement.NewWatcher(svc, opts.WatchInterval),
		signers: map[string]*oracle.Signer{SignerOracle: signer},
		market:  m,
		log:     log.Named("scenario"),
	}

	if opts.WatchInterval > 0 {
		r.watcher.Start(ctx)
		defer r.watcher.Stop()
	}

	report := &Report{Name: sc.Name, Oracle: signer.Address().Hex()}
	for i, st := range sc.Steps {
		res := r.step(ctx, i+1, st)
		report.Steps = append(report.Steps, res)
		if !res.OK {
			report.fail("step %d (%s): expected %q, got %q %s", res.Index, res.Action, res.Expect, res.Got, res.Detail)
		}
	}

	final, err := svc.Get(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	report.Market = final.ToJSON()
	for _, a := range []string{AssetCollateral, AssetYes, AssetNo} {
		report.Assets = append(report.Assets, l.Snapshot(r.asset(a)))
	}
	report.Receipts = l.Journal().Recent(reportReceipts)
	r.checkBalances(report)
	r.checkFinal(report, final)
	return report, nil
}

func oracleSigner(sc *Scenario, opts Options) (*oracle.Signer, error) {
	key := opts.OracleKey
	if key == "" {
		key = sc.OracleKey
	}
	if key == "" {
		return oracle.GenerateSigner()
	}
	s, err := oracle.NewSigner(key)
	if err != nil {
		return nil, fmt.Errorf("scenario: oracle key: %w", err)
	}
	return s, nil
}

func (r *run) asset(name string) common.Address {
	switch name {
	case AssetYes:
		return r.market.Outcomes[market.OutcomeYes].Address
	case AssetNo:
		return r.market.Outcomes[market.OutcomeNo].Address
	default:
		return r.market.CollateralAsset
	}
}

func (r *run) signer(name string) (*oracle.Signer, error) {
	if name == "" {
		name = SignerOracle
	}
	if s, ok := r.signers[name]; ok {
		return s, nil
	}
	s, err := oracle.GenerateSigner()
	if err != nil {
		return nil, err
	}
	r.signers[name] = s
	return s, nil
}

func recipientOr(st Step) common.Address {
	if st.Recipient != "" {
		return AccountAddress(st.Recipient)
	}
	return AccountAddress(st.Account)
}

func (r *run) step(ctx context.Context, index int, st Step) StepResult {
	res := StepResult{Index: index, Action: st.Action, Expect: st.Expect}

	err := r.apply(ctx, &res, st)
	res.Got = ErrorCode(err)
	res.OK = res.Got == st.Expect && res.Detail == ""
	if err != nil && !res.OK && res.Detail == "" {
		res.Detail = err.Error()
	}

	r.log.Debug("step",
		zap.Int("index", index),
		zap.String("action", st.Action),
		zap.String("expect", st.Expect),
		zap.String("got", res.Got),
		zap.Bool("ok", res.OK))
	return res
}

func (r *run) apply(ctx context.Context, res *StepResult, st Step) error {
	id := r.market.ID

	switch st.Action {
	case ActionDeposit:
		return r.svc.Deposit(ctx, id, AccountAddress(st.Account), st.Amount)

	case ActionMint:
		_, err := r.svc.Mint(ctx, id, settlement.MintParams{
			Amount:       st.Amount,
			YesRecipient: AccountAddress(st.Yes),
			NoRecipient:  AccountAddress(st.No),
		})
		return err

	case ActionRedeem:
		_, err := r.svc.Redeem(ctx, id, market.RedeemRequest{
			Amount:    st.Amount,
			Owner:     AccountAddress(st.Account),
			Recipient: recipientOr(st),
		})
		return err

	case ActionTransfer:
		from := AccountAddress(st.From)
		cmd := ledger.Transfer(r.asset(st.Outcome), from, AccountAddress(st.To), st.Amount, from)
		if _, err := r.ledger.Execute(ctx, cmd); err != nil {
			return fmt.Errorf("%w: %w", market.ErrLedgerRejected, err)
		}
		return nil

	case ActionAdvance:
		r.clock.Advance(st.Seconds)
		return nil

	case ActionSetTime:
		r.clock.Set(st.Time)
		return nil

	case ActionResolve:
		signer, err := r.signer(st.Signer)
		if err != nil {
			return err
		}
		resolution := oracle.Resolution{Market: id, Winner: r.asset(st.Winner), Timestamp: r.clock.Now()}
		sig, err := signer.Sign(resolution)
		if err != nil {
			return err
		}
		_, err = r.svc.Resolve(ctx, settlement.SignedResolution{Resolution: resolution, Signature: sig})
		return err

	case ActionClaim:
		_, err := r.svc.Claim(ctx, id, market.ClaimRequest{
			Amount:    st.Amount,
			Outcome:   r.asset(st.Outcome),
			Owner:     AccountAddress(st.Account),
			Recipient: recipientOr(st),
		})
		return err

	case ActionBurnLosing:
		_, err := r.svc.BurnLosing(ctx, id, market.BurnLosingRequest{
			Amount:  st.Amount,
			Outcome: r.asset(st.Outcome),
			Owner:   AccountAddress(st.Account),
		})
		return err

	case ActionSweep:
		if _, err := r.watcher.Sweep(ctx); err != nil {
			return err
		}
		// the background watcher may have announced it first
		m, err := r.svc.Get(ctx, id)
		if err != nil {
			return err
		}
		n := 0
		if r.watcher.Announced(id) && m.AwaitingResolution(r.clock.Now()) {
			n = 1
		}
		if st.Expired != nil && n != *st.Expired {
			res.Detail = fmt.Sprintf("expired=%d want=%d", n, *st.Expired)
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", st.Action)
}

func (r *run) checkBalances(report *Report) {
	for _, c := range r.sc.Checks {
		holder := r.market.CollateralVault
		if c.Account != AccountVault {
			holder = AccountAddress(c.Account)
		}
		got := r.ledger.Balance(r.asset(c.Asset), holder)
		ok := got == c.Balance
		report.Checks = append(report.Checks, CheckResult{Check: c, Got: got, OK: ok})
		if !ok {
			report.fail("balance %s/%s=%d want=%d", c.Account, c.Asset, got, c.Balance)
		}
	}
}

func (r *run) checkFinal(report *Report, m *market.Market) {
	f := r.sc.Final
	if f == nil {
		return
	}
	if f.Status != "" && m.Status().String() != f.Status {
		report.fail("status=%s want=%s", m.Status(), f.Status)
	}
	if f.Winner != "" && m.Winner != r.asset(f.Winner) {
		report.fail("winner=%s want=%s", m.Winner.Hex(), f.Winner)
	}
	if f.CollateralMinted != nil && m.CollateralMinted != *f.CollateralMinted {
		report.fail("collateral_minted=%d want=%d", m.CollateralMinted, *f.CollateralMinted)
	}
	if f.CollateralReleased != nil && m.CollateralReleased != *f.CollateralReleased {
		report.fail("collateral_released=%d want=%d", m.CollateralReleased, *f.CollateralReleased)
	}
}
