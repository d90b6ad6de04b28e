package cc1101

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrequencyWordRoundsToNearestStep(t *testing.T) {

	assert := assert.New(t)

	word := FrequencyWord(433.82e6, XtalFrequencyHz)
	assert.Equal(uint32(0x10AF75), word, "433.82 MHz word")

	actual := FrequencyFromWord(word, XtalFrequencyHz)
	assert.InDelta(433819854.736, actual, 0.01, "programmed frequency")
	assert.LessOrEqual(433.82e6-actual, FrequencyStepHz(XtalFrequencyHz)/2, "within half a step")

	assert.Equal(uint32(0x3FFFFF), FrequencyWord(5e9, XtalFrequencyHz), "clamped to 22 bits")
}

func TestRSSIConversion(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(-11, RSSIToDbm(0x7F))
	assert.Equal(-74, RSSIToDbm(0x00))
	assert.Equal(-90, RSSIToDbm(0xE0))
	assert.Equal(-138, RSSIToDbm(0x80))

	assert.Equal(0, RSSIPercent(-130))
	assert.Equal(0, RSSIPercent(-120))
	assert.Equal(37, RSSIPercent(-90))
	assert.Equal(100, RSSIPercent(-40))
	assert.Equal(100, RSSIPercent(-11))
}

func TestLQIPercent(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(0, LQIPercent(0))
	assert.Equal(50, LQIPercent(128))
	assert.Equal(100, LQIPercent(255))
}

func TestFreqEstToHz(t *testing.T) {

	assert := assert.New(t)

	assert.InDelta(1586.914, FreqEstToHz(1), 0.001)
	assert.InDelta(-3173.828, FreqEstToHz(-2), 0.001)
	assert.Equal(0.0, FreqEstToHz(0))
}

func TestMarcState(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("RX", MarcRx.String())
	assert.Equal("TX_UNDERFLOW", MarcTxUnderflow.String())
	assert.Equal("UNKNOWN(0x1F)", MarcState(0x1F).String())
	assert.True(MarcRxEnd.IsRx())
	assert.True(MarcTxEnd.IsTx())
	assert.False(MarcIdle.IsTx())
}

func TestRegisterSet(t *testing.T) {

	assert := assert.New(t)

	regs := DefaultRegisters()
	v, ok := regs.Get(MDMCFG4)
	assert.True(ok)
	assert.Equal(MDMCFG4Bandwidth58k, v)

	_, ok = regs.Get(FREQ2)
	assert.False(ok, "frequency is not part of the modem setup")

	changed := regs.With(PKTLEN, 12)
	v, _ = changed.Get(PKTLEN)
	assert.Equal(byte(12), v)
	v, _ = regs.Get(PKTLEN)
	assert.Equal(byte(38), v, "original untouched")
	assert.Len(changed, len(regs))

	added := regs.With(CHANNR, 3)
	assert.Len(added, len(regs)+1)
}
