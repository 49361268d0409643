package pricing

import "fmt"

const (
	maxBracketSteps = 40
	maxBisectSteps  = 60
	bracketGrowth   = 1.5
	priceTolerance  = 0.01
	marginSlack     = 1e-6
)

// Solution is the outcome of SolvePrice. When Reachable is false the price
// is the highest one tried and does not achieve the target margin.
type Solution struct {
	TargetMarginPercent float64   `json:"target_margin_percent"`
	Price               float64   `json:"price"`
	Reachable           bool      `json:"reachable"`
	Converged           bool      `json:"converged"`
	Evaluations         int       `json:"evaluations"`
	Result              Result    `json:"result"`
	Messages            []Message `json:"messages,omitempty"`
}

// SolvePrice searches for the sale price whose margin reaches
// targetMarginPercent, ignoring in.SalePrice. It first grows an upper
// bracket from hint, then bisects to one cent. Margin must be
// non-decreasing in price for the answer to be meaningful; tiered
// commissions with falling rates can break that.
func SolvePrice(targetMarginPercent float64, in Input, hint float64) Solution {
	sol := Solution{TargetMarginPercent: targetMarginPercent}
	margin := func(price float64) float64 {
		sol.Evaluations++
		return Margin(in.WithPrice(price))
	}

	lo := max(in.BaseCost, 1.0)
	hi := max(hint, 5*lo)

	best := hi
	for i := 0; i < maxBracketSteps; i++ {
		best = hi
		if margin(hi) >= targetMarginPercent-marginSlack {
			sol.Reachable = true
			break
		}
		hi *= bracketGrowth
	}

	if !sol.Reachable {
		sol.Price = RoundMoney(best)
		sol.Messages = append(sol.Messages, Message{
			Level: LevelWarning,
			Code:  CodeTargetUnreachable,
			Text:  fmt.Sprintf("target margin %s is not reachable; best price tried was %.2f", FormatPercent(targetMarginPercent), sol.Price),
		})
		sol.Result = Evaluate(in.WithPrice(sol.Price))
		return sol
	}

	mid := 0.5 * (lo + hi)
	for i := 0; i < maxBisectSteps; i++ {
		mid = 0.5 * (lo + hi)
		if margin(mid) < targetMarginPercent {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < priceTolerance {
			sol.Converged = true
			break
		}
	}
	if !sol.Converged {
		mid = 0.5 * (lo + hi)
		sol.Messages = append(sol.Messages, Message{
			Level: LevelWarning,
			Code:  CodeSolverNotConverged,
			Text:  fmt.Sprintf("price search stopped after %d steps with a %.4f bracket", maxBisectSteps, hi-lo),
		})
	}

	sol.Price = RoundMoney(mid)
	sol.Result = Evaluate(in.WithPrice(sol.Price))
	return sol
}
