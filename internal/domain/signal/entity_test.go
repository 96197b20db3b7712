package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/errors"
)

func TestReasons_ValueScanRoundTrip(t *testing.T) {
	risk := 0.42
	in := Reasons{
		SentimentZ: 2.1,
		Momentum:   0.003,
		Volatility: 0.01,
		OFI:        0.5,
		Trigger:    TriggerPositiveSentimentMomentum,
		RiskScore:  &risk,
		Timeframes: []string{"1m", "5m"},
	}

	raw, err := in.Value()
	require.NoError(t, err)

	var out Reasons
	require.NoError(t, out.Scan(raw))
	assert.Equal(t, in, out)

	require.NoError(t, out.Scan(nil))
	assert.Equal(t, Reasons{}, out)

	assert.Error(t, out.Scan(42))
}

func TestAlertPolicy_Validate(t *testing.T) {
	valid := AlertPolicy{
		Symbol:             "BTC-USDT",
		SentimentThreshold: 1.5,
		MomentumThreshold:  0.001,
		VolatilityMin:      0.0001,
		VolatilityMax:      0.05,
		Description:        "btc momentum",
	}

	tests := []struct {
		name    string
		mutate  func(p *AlertPolicy)
		wantErr bool
	}{
		{name: "valid", mutate: func(p *AlertPolicy) {}},
		{name: "missing symbol", mutate: func(p *AlertPolicy) { p.Symbol = "" }, wantErr: true},
		{name: "negative sentiment", mutate: func(p *AlertPolicy) { p.SentimentThreshold = -1 }, wantErr: true},
		{name: "negative momentum", mutate: func(p *AlertPolicy) { p.MomentumThreshold = -0.1 }, wantErr: true},
		{name: "inverted band", mutate: func(p *AlertPolicy) { p.VolatilityMin = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAlertPolicy_NormalizeDefaultsCooldown(t *testing.T) {
	p := AlertPolicy{Symbol: "ETH-USDT"}
	p.Normalize()
	assert.Equal(t, DefaultAlertCooldownMinutes, p.CooldownMinutes)

	p.CooldownMinutes = 10
	p.Normalize()
	assert.Equal(t, 10, p.CooldownMinutes)
}
