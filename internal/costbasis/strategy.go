package costbasis

import (
	"fmt"
	"time"

	"github.com/cleared-dev/basis/internal/model"
)

// Strategy decides how a withdrawal is matched against a pool.
type Strategy interface {
	Method() model.Method
}

// LotOrdering is a Strategy that draws from discrete lots in the order
// given by Less.
type LotOrdering interface {
	Strategy
	Less(a, b model.Investment) bool
}

// WashSaleRule is implemented by strategies that defer losses onto
// replacement lots acquired within a window after the loss.
type WashSaleRule interface {
	WashSaleWindow() time.Duration
}

// Fifo draws from the oldest lot first.
type Fifo struct{}

func (Fifo) Method() model.Method { return model.MethodFifo }

func (Fifo) Less(a, b model.Investment) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return amountDescThenID(a, b)
}

// Lifo draws from the newest lot first.
type Lifo struct{}

func (Lifo) Method() model.Method { return model.MethodLifo }

func (Lifo) Less(a, b model.Investment) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	return amountDescThenID(a, b)
}

// LowestCost draws from the cheapest lot first.
type LowestCost struct{}

func (LowestCost) Method() model.Method { return model.MethodLowestCost }

func (LowestCost) Less(a, b model.Investment) bool {
	if !a.Value.Equal(b.Value) {
		return a.Value.LessThan(b.Value)
	}
	return Fifo{}.Less(a, b)
}

// HighestCost draws from the most expensive lot first.
type HighestCost struct{}

func (HighestCost) Method() model.Method { return model.MethodHighestCost }

func (HighestCost) Less(a, b model.Investment) bool {
	if !a.Value.Equal(b.Value) {
		return a.Value.GreaterThan(b.Value)
	}
	return Fifo{}.Less(a, b)
}

// AverageCost values every withdrawal at the pool's average cost.
type AverageCost struct{}

func (AverageCost) Method() model.Method { return model.MethodAverageCost }

// FifoWashSale is Fifo with wash-sale loss deferral.
type FifoWashSale struct {
	Fifo
	Window time.Duration
}

func (FifoWashSale) Method() model.Method { return model.MethodFifoWashSale }

func (s FifoWashSale) WashSaleWindow() time.Duration { return s.Window }

// DefaultWashSaleWindow is the look-back window for replacement lots.
const DefaultWashSaleWindow = 30 * 24 * time.Hour

// StrategyFor returns the strategy for a method name. washSaleDays <= 0
// uses the default window.
func StrategyFor(method model.Method, washSaleDays int) (Strategy, error) {
	switch method {
	case model.MethodFifo, "":
		return Fifo{}, nil
	case model.MethodLifo:
		return Lifo{}, nil
	case model.MethodLowestCost:
		return LowestCost{}, nil
	case model.MethodHighestCost:
		return HighestCost{}, nil
	case model.MethodAverageCost:
		return AverageCost{}, nil
	case model.MethodFifoWashSale:
		window := DefaultWashSaleWindow
		if washSaleDays > 0 {
			window = time.Duration(washSaleDays) * 24 * time.Hour
		}
		return FifoWashSale{Window: window}, nil
	default:
		return nil, fmt.Errorf("unknown cost basis method %q", method)
	}
}

func amountDescThenID(a, b model.Investment) bool {
	if !a.Amount.Equal(b.Amount) {
		return a.Amount.GreaterThan(b.Amount)
	}
	return a.ID < b.ID
}
