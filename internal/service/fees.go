package service

import "math"

// FeeSchedule computes transaction fees in minor units.
// fee = clamp(amount * rate, min, max), rounded half-up; amounts below the
// exemption threshold pay no fee.
type FeeSchedule struct {
	Rate               float64
	MinFee             int64
	MaxFee             int64
	ExemptionThreshold int64
}

// Fee returns the fee for an amount.
func (f FeeSchedule) Fee(amount int64) int64 {
	if amount < f.ExemptionThreshold {
		return 0
	}
	fee := int64(math.Round(float64(amount) * f.Rate))
	if fee < f.MinFee {
		fee = f.MinFee
	}
	if fee > f.MaxFee {
		fee = f.MaxFee
	}
	return fee
}

// TotalHold returns amount plus its fee: what is held in the sender's
// wallet at initiation.
func (f FeeSchedule) TotalHold(amount int64) int64 {
	return amount + f.Fee(amount)
}
