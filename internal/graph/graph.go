package graph

import (
	"bytes"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"trustlines-relay/internal/events"
)

// Config holds the static settings of a currency network.
type Config struct {
	CapacityImbalanceFeeDivisor uint64
	DefaultInterestRate         int64
	CustomInterests             bool
	PreventMediatorInterests    bool
}

// Account is the state of one trustline seen from one of its endpoints.
type Account struct {
	CreditlineGiven      *big.Int
	CreditlineReceived   *big.Int
	InterestRateGiven    int64
	InterestRateReceived int64
	IsFrozen             bool
	Balance              *big.Int
	MTime                uint64
}

func newAccount() *Account {
	return &Account{
		CreditlineGiven:    new(big.Int),
		CreditlineReceived: new(big.Int),
		Balance:            new(big.Int),
	}
}

func (a *Account) clone() *Account {
	return &Account{
		CreditlineGiven:      cloneInt(a.CreditlineGiven),
		CreditlineReceived:   cloneInt(a.CreditlineReceived),
		InterestRateGiven:    a.InterestRateGiven,
		InterestRateReceived: a.InterestRateReceived,
		IsFrozen:             a.IsFrozen,
		Balance:              cloneInt(a.Balance),
		MTime:                a.MTime,
	}
}

// reverse returns the account seen from the other endpoint.
func (a *Account) reverse() *Account {
	return &Account{
		CreditlineGiven:      cloneInt(a.CreditlineReceived),
		CreditlineReceived:   cloneInt(a.CreditlineGiven),
		InterestRateGiven:    a.InterestRateReceived,
		InterestRateReceived: a.InterestRateGiven,
		IsFrozen:             a.IsFrozen,
		Balance:              new(big.Int).Neg(cloneInt(a.Balance)),
		MTime:                a.MTime,
	}
}

// BalanceAt returns the balance accrued up to ts.
func (a *Account) BalanceAt(ts uint64) *big.Int {
	return BalanceWithInterests(a.Balance, a.MTime, ts, a.InterestRateGiven, a.InterestRateReceived)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// pairKey stores an unordered pair with low < high.
type pairKey struct {
	low, high common.Address
}

func keyOf(a, b common.Address) (pairKey, bool) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return pairKey{low: a, high: b}, false
	}
	return pairKey{low: b, high: a}, true
}

// TrustlineUpdate is an absolute update of the creditline and interest fields of a trustline.
type TrustlineUpdate struct {
	Creditor             common.Address
	Debtor               common.Address
	CreditlineGiven      *big.Int
	CreditlineReceived   *big.Int
	InterestRateGiven    int64
	InterestRateReceived int64
	IsFrozen             bool
	Timestamp            uint64
}

// Snapshot is the complete state of a network at one block.
type Snapshot struct {
	BlockNumber uint64
	Timestamp   uint64
	Accounts    []SnapshotAccount
}

// SnapshotAccount is a trustline seen from A.
type SnapshotAccount struct {
	A       common.Address
	B       common.Address
	Account Account
}

// Graph mirrors the trustlines of one currency network.
type Graph struct {
	mu       sync.RWMutex
	cfg      Config
	accounts map[pairKey]*Account
	friends  map[common.Address]map[common.Address]struct{}

	synced        bool
	syncBlock     uint64
	syncTimestamp uint64
}

func NewGraph(cfg Config) *Graph {
	return &Graph{
		cfg:      cfg,
		accounts: make(map[pairKey]*Account),
		friends:  make(map[common.Address]map[common.Address]struct{}),
	}
}

func (g *Graph) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// SyncPoint returns the block and timestamp of the last applied full sync.
func (g *Graph) SyncPoint() (block, timestamp uint64, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.syncBlock, g.syncTimestamp, g.synced
}

// ApplyFullSync replaces every trustline with the snapshot. A snapshot older than
// the current sync point is ignored.
func (g *Graph) ApplyFullSync(snap Snapshot) bool {
	accounts := make(map[pairKey]*Account, len(snap.Accounts))
	friends := make(map[common.Address]map[common.Address]struct{})
	for _, sa := range snap.Accounts {
		if sa.A == sa.B {
			continue
		}
		key, reversed := keyOf(sa.A, sa.B)
		acc := sa.Account.clone()
		if reversed {
			acc = acc.reverse()
		}
		accounts[key] = acc
		link(friends, sa.A, sa.B)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.synced && snap.Timestamp < g.syncTimestamp {
		return false
	}
	g.accounts = accounts
	g.friends = friends
	g.synced = true
	g.syncBlock = snap.BlockNumber
	g.syncTimestamp = snap.Timestamp
	return true
}

// ApplyBalanceUpdate sets the balance of the trustline between from and to, seen
// from from, and marks it modified at ts. Updates older than the sync point are
// discarded and reported as not applied.
func (g *Graph) ApplyBalanceUpdate(from, to common.Address, value *big.Int, ts uint64) bool {
	if from == to {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stale(ts) {
		return false
	}
	acc, reversed := g.touch(from, to)
	balance := cloneInt(value)
	if reversed {
		balance.Neg(balance)
	}
	acc.Balance = balance
	acc.MTime = ts
	return true
}

// ApplyTrustlineUpdate sets the creditlines and interest rates of a trustline
// without touching its balance.
func (g *Graph) ApplyTrustlineUpdate(u TrustlineUpdate) bool {
	if u.Creditor == u.Debtor {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stale(u.Timestamp) {
		return false
	}
	acc, reversed := g.touch(u.Creditor, u.Debtor)
	given, received := cloneInt(u.CreditlineGiven), cloneInt(u.CreditlineReceived)
	rateGiven, rateReceived := u.InterestRateGiven, u.InterestRateReceived
	if reversed {
		given, received = received, given
		rateGiven, rateReceived = rateReceived, rateGiven
	}
	acc.CreditlineGiven = given
	acc.CreditlineReceived = received
	acc.InterestRateGiven = rateGiven
	acc.InterestRateReceived = rateReceived
	acc.IsFrozen = u.IsFrozen
	return true
}

func (g *Graph) stale(ts uint64) bool {
	return g.synced && ts < g.syncTimestamp
}

// touch returns the stored account of a and b, materializing it on first use.
// Caller holds the write lock.
func (g *Graph) touch(a, b common.Address) (*Account, bool) {
	key, reversed := keyOf(a, b)
	acc, ok := g.accounts[key]
	if !ok {
		acc = newAccount()
		g.accounts[key] = acc
		link(g.friends, a, b)
	}
	return acc, reversed
}

func link(friends map[common.Address]map[common.Address]struct{}, a, b common.Address) {
	for _, pair := range [2][2]common.Address{{a, b}, {b, a}} {
		set, ok := friends[pair[0]]
		if !ok {
			set = make(map[common.Address]struct{})
			friends[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
}

// Account returns a copy of the trustline between a and b seen from a.
func (g *Graph) Account(a, b common.Address) (Account, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	acc, ok := g.account(a, b)
	if !ok {
		return Account{}, false
	}
	return *acc, true
}

func (g *Graph) account(a, b common.Address) (*Account, bool) {
	key, reversed := keyOf(a, b)
	acc, ok := g.accounts[key]
	if !ok {
		return nil, false
	}
	if reversed {
		return acc.reverse(), true
	}
	return acc.clone(), true
}

// AccountSum returns the balance of user accrued up to ts, towards counterparty
// or, when counterparty is nil, summed over all trustlines of user.
func (g *Graph) AccountSum(user common.Address, counterparty *common.Address, ts uint64) *big.Int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.accountSum(user, counterparty, ts)
}

func (g *Graph) accountSum(user common.Address, counterparty *common.Address, ts uint64) *big.Int {
	if counterparty != nil {
		acc, ok := g.account(user, *counterparty)
		if !ok {
			return new(big.Int)
		}
		return acc.BalanceAt(ts)
	}
	sum := new(big.Int)
	for friend := range g.friends[user] {
		acc, ok := g.account(user, friend)
		if !ok {
			continue
		}
		sum.Add(sum, acc.BalanceAt(ts))
	}
	return sum
}

// HopFee returns the fee a mediator charges for passing value from sender to
// receiver, based on the sender's balance at ts.
func (g *Graph) HopFee(sender, receiver common.Address, value *big.Int, ts uint64) *big.Int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	balance := new(big.Int)
	if acc, ok := g.account(sender, receiver); ok {
		balance = acc.BalanceAt(ts)
	}
	return CalculateFees(ImbalanceGenerated(value, balance), g.cfg.CapacityImbalanceFeeDivisor)
}

// Users returns every address with at least one trustline, sorted.
func (g *Graph) Users() []common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedAddresses(g.friends)
}

func (g *Graph) HasUser(user common.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.friends[user]
	return ok
}

// Friends returns the counterparties of user, sorted.
func (g *Graph) Friends(user common.Address) []common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]common.Address, 0, len(g.friends[user]))
	for friend := range g.friends[user] {
		out = append(out, friend)
	}
	sortAddresses(out)
	return out
}

// DerivedEvents computes the four balance events that follow a mutation of the
// trustline between user1 and user2: both directional balances, then both
// network balances. All values are read under one lock.
func (g *Graph) DerivedEvents(network, user1, user2 common.Address, ts uint64) []events.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]events.Event, 0, 4)
	for _, pair := range [2][2]common.Address{{user1, user2}, {user2, user1}} {
		counterparty := pair[1]
		out = append(out, derived(network, events.TypeBalance, pair[0], &counterparty, ts,
			events.BalancePayload{Value: g.accountSum(pair[0], &counterparty, ts)}))
	}
	for _, user := range [2]common.Address{user1, user2} {
		out = append(out, derived(network, events.TypeNetworkBalance, user, nil, ts,
			events.NetworkBalancePayload{Value: g.accountSum(user, nil, ts)}))
	}
	return out
}

func derived(network common.Address, typ string, user common.Address, to *common.Address, ts uint64, payload events.Payload) events.Event {
	return events.Event{
		Contract:  network,
		Kind:      events.CurrencyNetwork,
		Type:      typ,
		Timestamp: ts,
		From:      user,
		To:        to,
		User:      user,
		Payload:   payload,
	}
}

func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	out := make([]common.Address, 0, len(m))
	for addr := range m {
		out = append(out, addr)
	}
	sortAddresses(out)
	return out
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
}
