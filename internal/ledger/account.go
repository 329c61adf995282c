package ledger

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset describes a tradable asset and the number of decimal places its
// amounts may carry.
type Asset struct {
	Symbol string
	Scale  int32
}

var (
	assetsMu sync.RWMutex
	assets   = map[string]Asset{
		"USDT": {Symbol: "USDT", Scale: 6},
		"USDC": {Symbol: "USDC", Scale: 6},
		"BTC":  {Symbol: "BTC", Scale: 8},
		"ETH":  {Symbol: "ETH", Scale: 18},
	}
)

func GetAsset(symbol string) (Asset, bool) {
	assetsMu.RLock()
	defer assetsMu.RUnlock()
	a, ok := assets[symbol]
	return a, ok
}

// RegisterAsset adds or replaces an asset in the registry.
func RegisterAsset(a Asset) error {
	if a.Symbol == "" || strings.ContainsAny(a.Symbol, "-: ") {
		return fmt.Errorf("invalid asset symbol %q", a.Symbol)
	}
	if a.Scale < 0 || a.Scale > 18 {
		return fmt.Errorf("asset %s: scale %d out of range [0,18]", a.Symbol, a.Scale)
	}
	assetsMu.Lock()
	assets[a.Symbol] = a
	assetsMu.Unlock()
	return nil
}

// FitsScale reports whether amount has no more decimal places than the asset allows.
func (a Asset) FitsScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(a.Scale))
}

// LookupAmount resolves symbol in the registry and checks that amount fits
// its scale. Unknown assets are InvalidRequest; amounts with more decimal
// places than the asset carries are InvalidAmount.
func LookupAmount(symbol string, amount decimal.Decimal) (Asset, error) {
	a, ok := GetAsset(symbol)
	if !ok {
		return Asset{}, Errorf(CodeInvalidRequest, "unknown asset %q", symbol)
	}
	if !a.FitsScale(amount) {
		return Asset{}, Errorf(CodeInvalidAmount,
			"amount %s exceeds %s precision of %d", amount, a.Symbol, a.Scale)
	}
	return a, nil
}

// Market is a BASE-QUOTE trading pair such as BTC-USDT.
type Market struct {
	Symbol string
	Base   Asset
	Quote  Asset
}

func ParseMarket(symbol string) (Market, error) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 2 {
		return Market{}, Errorf(CodeInvalidOrder, "malformed symbol %q, want BASE-QUOTE", symbol)
	}
	base, ok := GetAsset(parts[0])
	if !ok {
		return Market{}, Errorf(CodeInvalidOrder, "unknown base asset %q", parts[0])
	}
	quote, ok := GetAsset(parts[1])
	if !ok {
		return Market{}, Errorf(CodeInvalidOrder, "unknown quote asset %q", parts[1])
	}
	if base.Symbol == quote.Symbol {
		return Market{}, Errorf(CodeInvalidOrder, "symbol %q uses the same asset twice", symbol)
	}
	return Market{Symbol: symbol, Base: base, Quote: quote}, nil
}

// BalanceKey identifies one balance row.
type BalanceKey struct {
	UserID uuid.UUID
	Asset  string
}

func NewBalanceKey(userID uuid.UUID, asset string) BalanceKey {
	return BalanceKey{UserID: userID, Asset: asset}
}

// Compare defines the global lock order: user id bytes first, then asset.
func (k BalanceKey) Compare(o BalanceKey) int {
	if c := bytes.Compare(k.UserID[:], o.UserID[:]); c != 0 {
		return c
	}
	return strings.Compare(k.Asset, o.Asset)
}

func (k BalanceKey) Less(o BalanceKey) bool {
	return k.Compare(o) < 0
}

// AccountPath returns a human-readable path for logs and error messages.
// Format: "user:{uuid}:{asset}"
func (k BalanceKey) AccountPath() string {
	return fmt.Sprintf("user:%s:%s", k.UserID, k.Asset)
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (BalanceKey, error) {
	parts := strings.SplitN(path, ":", 3)
	if len(parts) != 3 || parts[0] != "user" || parts[2] == "" {
		return BalanceKey{}, fmt.Errorf("malformed account path %q", path)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return BalanceKey{}, fmt.Errorf("account path %q: %w", path, err)
	}
	return BalanceKey{UserID: id, Asset: parts[2]}, nil
}

func (k BalanceKey) String() string {
	return k.AccountPath()
}

// SortKeys returns keys in lock order with duplicates removed.
func SortKeys(keys ...BalanceKey) []BalanceKey {
	out := make([]BalanceKey, 0, len(keys))
	out = append(out, keys...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })

	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
