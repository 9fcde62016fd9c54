package payout

import "github.com/shopspring/decimal"

// =============================================================================
// LEDGER CALCULATOR
// =============================================================================

// Deduction rates. Each applies to the gross amount; they do not compound.
var (
	GSTRate         = decimal.RequireFromString("0.0875")
	TaxRate         = decimal.RequireFromString("0.15")
	PlatformFeeRate = decimal.RequireFromString("0.05")

	// NetRate is what remains of gross after every deduction.
	NetRate = decimal.NewFromInt(1).Sub(GSTRate).Sub(TaxRate).Sub(PlatformFeeRate)

	minutesPerHour = decimal.NewFromInt(60)
)

// Breakdown is the full payout computation for one session.
// Values are kept at full precision; round only when presenting.
type Breakdown struct {
	GrossAmount decimal.Decimal
	GST         decimal.Decimal
	Taxes       decimal.Decimal
	PlatformFee decimal.Decimal
	NetAmount   decimal.Decimal
}

// ComputeBreakdown derives the payout figures from an hourly rate and a
// duration in minutes.
//
// Precondition: ratePerHour > 0 and durationMinutes >= MinDurationMinutes.
// Callers validate (see SessionInput.Validate); this function does not.
func ComputeBreakdown(ratePerHour decimal.Decimal, durationMinutes int) Breakdown {
	// multiply before dividing so whole-cent results stay exact
	gross := ratePerHour.Mul(decimal.NewFromInt(int64(durationMinutes))).Div(minutesPerHour)

	gst := gross.Mul(GSTRate)
	taxes := gross.Mul(TaxRate)
	fee := gross.Mul(PlatformFeeRate)

	return Breakdown{
		GrossAmount: gross,
		GST:         gst,
		Taxes:       taxes,
		PlatformFee: fee,
		NetAmount:   gross.Sub(gst).Sub(taxes).Sub(fee),
	}
}

// Deductions is GST + taxes + platform fee.
func (b Breakdown) Deductions() decimal.Decimal {
	return b.GST.Add(b.Taxes).Add(b.PlatformFee)
}

// FormatAmount renders a money value for people: dollar sign, two decimals.
func FormatAmount(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
