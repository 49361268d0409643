package pricing

// FeeMode selects how payment fees are composed into net profit.
type FeeMode string

const (
	// FeeModeRate charges gateway and taxes as rates of the discounted price
	// and clamps the margin to [-100, 100].
	FeeModeRate FeeMode = "rate"
	// FeeModeFlatGateway charges a flat gateway fee per sale, taxes as a rate
	// of the discounted price, and leaves the margin unclamped.
	FeeModeFlatGateway FeeMode = "flat_gateway"
)

// Fees returns gateway plus taxes on the discounted price, and the
// discounted price itself.
func Fees(price, gatewayRate, discountRate, taxesRate float64) (feesTotal, priceAfterDiscount float64) {
	priceAfterDiscount = price * (1 - discountRate)
	gateway := gatewayRate * priceAfterDiscount
	taxes := taxesRate * priceAfterDiscount
	return gateway + taxes, priceAfterDiscount
}

// FlatGatewayFees returns taxes on the discounted price plus a flat gateway
// fee, and the discounted price.
func FlatGatewayFees(price, gatewayFee, discountRate, taxesRate float64) (feesTotal, priceAfterDiscount float64) {
	feesTotal, priceAfterDiscount = Fees(price, 0, discountRate, taxesRate)
	return feesTotal + gatewayFee, priceAfterDiscount
}
