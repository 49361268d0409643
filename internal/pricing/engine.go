package pricing

import (
	"go.uber.org/zap"
)

// Engine wraps the pricing functions with data-quality logging. It holds no
// state besides the logger and is safe for concurrent use.
type Engine struct {
	log *zap.Logger
}

// NewEngine returns an Engine logging to log, or discarding logs when nil.
func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log.Named("pricing")}
}

// Evaluate prices in and logs any data-quality warnings.
func (e *Engine) Evaluate(in Input) Result {
	res := Evaluate(in)
	e.logMessages(res.Messages, zap.Float64("sale_price", in.SalePrice))
	return res
}

// SolvePrice finds the price for targetMarginPercent, see SolvePrice.
func (e *Engine) SolvePrice(targetMarginPercent float64, in Input, hint float64) Solution {
	sol := SolvePrice(targetMarginPercent, in, hint)
	e.logMessages(sol.Messages, zap.Float64("target_margin_percent", targetMarginPercent), zap.Int("evaluations", sol.Evaluations))
	e.logMessages(sol.Result.Messages)
	return sol
}

// Simulate runs the portfolio simulation, see Simulate.
func (e *Engine) Simulate(s Scenario) (Portfolio, error) {
	out, err := Simulate(s)
	if err != nil {
		return Portfolio{}, err
	}
	e.logMessages(out.Messages)
	e.log.Debug("portfolio simulated",
		zap.Int("procedures", len(s.Procedures)),
		zap.Stringer("portfolio", out),
	)
	return out, nil
}

func (e *Engine) logMessages(msgs []Message, fields ...zap.Field) {
	for _, m := range msgs {
		e.log.Warn(m.Text, append([]zap.Field{zap.String("code", m.Code)}, fields...)...)
	}
}
