package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeeSchedule_Fee(t *testing.T) {
	// Rate 2.5%, min 50, max 10000, amounts below 100 exempt. Minor units.
	fees := FeeSchedule{Rate: 0.025, MinFee: 50, MaxFee: 10_000, ExemptionThreshold: 100}

	tests := []struct {
		name   string
		amount int64
		want   int64
	}{
		{"below exemption threshold", 99, 0},
		{"percentage applies", 10_000, 250},
		{"clamped to min fee", 200, 50},
		{"clamped to max fee", 1_000_000, 10_000},
		{"rounds half up", 2_020, 51}, // 2020 * 0.025 = 50.5
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fees.Fee(tt.amount))
		})
	}
}

func TestFeeSchedule_TotalHold(t *testing.T) {
	fees := FeeSchedule{Rate: 0.025, MinFee: 50, MaxFee: 10_000, ExemptionThreshold: 100}
	assert.Equal(t, int64(10_250), fees.TotalHold(10_000))
	assert.Equal(t, int64(99), fees.TotalHold(99))
}
