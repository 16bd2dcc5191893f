package domain

// RiskGate names one pre-trade validation that can block execution.
type RiskGate string

const (
	RiskGateDrawdown    RiskGate = "drawdown"
	RiskGateBuyingPower RiskGate = "buying_power"
	RiskGateSectorCap   RiskGate = "sector_cap"
)

// RiskCheckResult is the outcome of running the risk gates against a signal.
// On failure, Gate names the first gate that failed and CapitalAtRisk is the
// notional that would have been committed -- the basis of the running
// "capital protected" ledger.
type RiskCheckResult struct {
	Passed        bool
	Gate          RiskGate
	Reason        string
	CapitalAtRisk float64
}

// Approved returns a passing result.
func Approved() RiskCheckResult {
	return RiskCheckResult{Passed: true}
}

// Blocked returns a failing result for the given gate.
func Blocked(gate RiskGate, reason string, capitalAtRisk float64) RiskCheckResult {
	return RiskCheckResult{
		Passed:        false,
		Gate:          gate,
		Reason:        reason,
		CapitalAtRisk: capitalAtRisk,
	}
}
