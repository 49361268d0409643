package pricing

import "testing"

// margin(p) = 0.62 - 120/p for this input, so 30% is reached at p = 375.
func solverInput() Input {
	return Input{
		BaseCost:    100,
		Commission:  PercentCommission{Rate: 0.3},
		Overhead:    BOMOverhead{Fixed: 20},
		GatewayRate: 0.03,
		TaxesRate:   0.05,
		FeeMode:     FeeModeRate,
	}
}

func TestSolvePrice_FindsPriceForTargetMargin(t *testing.T) {
	sol := SolvePrice(30, solverInput(), 100)

	if !sol.Reachable || !sol.Converged {
		t.Fatalf("expected reachable converged solution, got %+v", sol)
	}
	within(t, "price", sol.Price, 375, 0.02)
	within(t, "margin at price", Margin(solverInput().WithPrice(sol.Price)), 30, 0.5)
	within(t, "result margin", sol.Result.MarginPercent, 30, 0.5)
	if sol.Evaluations > maxBracketSteps+maxBisectSteps {
		t.Fatalf("evaluations = %d, want <= %d", sol.Evaluations, maxBracketSteps+maxBisectSteps)
	}
}

func TestSolvePrice_HintAboveAnswer(t *testing.T) {
	sol := SolvePrice(30, solverInput(), 10_000)

	within(t, "price", sol.Price, 375, 0.02)
}

func TestSolvePrice_FixedCommission(t *testing.T) {
	in := Input{BaseCost: 50, Commission: FixedCommission{Value: 25}, FeeMode: FeeModeRate}

	sol := SolvePrice(25, in, 0)
	within(t, "price", sol.Price, 100, 0.02)
}

func TestSolvePrice_FlatGatewayMode(t *testing.T) {
	in := Input{
		BaseCost:        80,
		Commission:      PercentCommission{Rate: 0.2},
		GatewayFeeFixed: 20,
		FeeMode:         FeeModeFlatGateway,
	}

	// margin(p) = 0.8 - 100/p reaches 40% at p = 250.
	sol := SolvePrice(40, in, 100)
	within(t, "price", sol.Price, 250, 0.02)
}

func TestSolvePrice_UnreachableTargetIsFlagged(t *testing.T) {
	sol := SolvePrice(70, solverInput(), 100)

	if sol.Reachable {
		t.Fatalf("expected unreachable target, got %+v", sol)
	}
	if sol.Evaluations != maxBracketSteps {
		t.Fatalf("evaluations = %d, want %d", sol.Evaluations, maxBracketSteps)
	}
	if sol.Price <= 500 {
		t.Fatalf("expected the bracket to grow past the first guess, got %v", sol.Price)
	}
	if len(sol.Messages) != 1 || sol.Messages[0].Code != CodeTargetUnreachable {
		t.Fatalf("expected unreachable warning, got %+v", sol.Messages)
	}
}

func TestSolvePrice_TargetBelowFloorConvergesToLowerBound(t *testing.T) {
	sol := SolvePrice(-100, solverInput(), 100)

	if !sol.Reachable {
		t.Fatalf("expected reachable")
	}
	within(t, "price", sol.Price, 100, 0.02)
}
