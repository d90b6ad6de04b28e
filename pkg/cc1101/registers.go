package cc1101

import (
	"fmt"
	"math"
)

// Register is a CC1101 configuration or status register address.
type Register uint8

// Strobe is a single byte command strobe.
type Strobe uint8

const (
	XtalFrequencyHz = 26000000

	headerWrite     = 0x00
	headerBurst     = 0x40
	headerRead      = 0x80
	headerReadBurst = 0xC0
)

// configuration registers
const (
	IOCFG2   Register = 0x00
	IOCFG1   Register = 0x01
	IOCFG0   Register = 0x02
	FIFOTHR  Register = 0x03
	SYNC1    Register = 0x04
	SYNC0    Register = 0x05
	PKTLEN   Register = 0x06
	PKTCTRL1 Register = 0x07
	PKTCTRL0 Register = 0x08
	ADDR     Register = 0x09
	CHANNR   Register = 0x0A
	FSCTRL1  Register = 0x0B
	FSCTRL0  Register = 0x0C
	FREQ2    Register = 0x0D
	FREQ1    Register = 0x0E
	FREQ0    Register = 0x0F
	MDMCFG4  Register = 0x10
	MDMCFG3  Register = 0x11
	MDMCFG2  Register = 0x12
	MDMCFG1  Register = 0x13
	MDMCFG0  Register = 0x14
	DEVIATN  Register = 0x15
	MCSM2    Register = 0x16
	MCSM1    Register = 0x17
	MCSM0    Register = 0x18
	FOCCFG   Register = 0x19
	BSCFG    Register = 0x1A
	AGCCTRL2 Register = 0x1B
	AGCCTRL1 Register = 0x1C
	AGCCTRL0 Register = 0x1D
	WOREVT1  Register = 0x1E
	WOREVT0  Register = 0x1F
	WORCTRL  Register = 0x20
	FREND1   Register = 0x21
	FREND0   Register = 0x22
	FSCAL3   Register = 0x23
	FSCAL2   Register = 0x24
	FSCAL1   Register = 0x25
	FSCAL0   Register = 0x26
	TEST2    Register = 0x2C
	TEST1    Register = 0x2D
	TEST0    Register = 0x2E
	PATABLE  Register = 0x3E
	FIFO     Register = 0x3F
)

// status registers, read with the burst bit set
const (
	PARTNUM   Register = 0x30
	VERSION   Register = 0x31
	FREQEST   Register = 0x32
	LQI       Register = 0x33
	RSSI      Register = 0x34
	MARCSTATE Register = 0x35
	PKTSTATUS Register = 0x38
	TXBYTES   Register = 0x3A
	RXBYTES   Register = 0x3B

	fifoBytesMask byte = 0x7F
	fifoOverflow  byte = 0x80
)

const (
	SRES    Strobe = 0x30
	SFSTXON Strobe = 0x31
	SXOFF   Strobe = 0x32
	SCAL    Strobe = 0x33
	SRX     Strobe = 0x34
	STX     Strobe = 0x35
	SIDLE   Strobe = 0x36
	SAFC    Strobe = 0x37
	SWOR    Strobe = 0x38
	SPWD    Strobe = 0x39
	SFRX    Strobe = 0x3A
	SFTX    Strobe = 0x3B
	SWORRST Strobe = 0x3C
	SNOP    Strobe = 0x3D
)

func (r Register) IsStatus() bool {
	return r >= PARTNUM && r <= RXBYTES
}

// MarcState is the main radio control state machine state (MARCSTATE & 0x1F).
type MarcState uint8

const (
	MarcSleep         MarcState = 0x00
	MarcIdle          MarcState = 0x01
	MarcXOff          MarcState = 0x02
	MarcManCal        MarcState = 0x05
	MarcFSWakeup      MarcState = 0x06
	MarcCalibrate     MarcState = 0x08
	MarcSettling      MarcState = 0x09
	MarcRx            MarcState = 0x0D
	MarcRxEnd         MarcState = 0x0E
	MarcRxRst         MarcState = 0x0F
	MarcRxOverflow    MarcState = 0x11
	MarcFSTxOn        MarcState = 0x12
	MarcTx            MarcState = 0x13
	MarcTxEnd         MarcState = 0x14
	MarcRxTxSettling  MarcState = 0x15
	MarcTxUnderflow   MarcState = 0x16
	marcStateBitsMask byte      = 0x1F
)

func (s MarcState) String() string {
	switch s {
	case MarcSleep:
		return "SLEEP"
	case MarcIdle:
		return "IDLE"
	case MarcXOff:
		return "XOFF"
	case MarcManCal, MarcCalibrate:
		return "CALIBRATE"
	case MarcFSWakeup, MarcSettling, MarcRxTxSettling:
		return "SETTLING"
	case MarcRx, MarcRxEnd, MarcRxRst:
		return "RX"
	case MarcRxOverflow:
		return "RX_OVERFLOW"
	case MarcFSTxOn:
		return "FSTXON"
	case MarcTx, MarcTxEnd:
		return "TX"
	case MarcTxUnderflow:
		return "TX_UNDERFLOW"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(s))
	}
}

func (s MarcState) IsRx() bool {
	return s == MarcRx || s == MarcRxEnd || s == MarcRxRst
}

func (s MarcState) IsTx() bool {
	return s == MarcTx || s == MarcTxEnd
}

// FrequencyWord returns the FREQ2/FREQ1/FREQ0 word closest to hz.
func FrequencyWord(hz float64, xtalHz float64) uint32 {
	word := math.Round(hz * 65536 / xtalHz)
	if word < 0 {
		return 0
	}
	if word > 0x3FFFFF {
		return 0x3FFFFF
	}
	return uint32(word)
}

// FrequencyFromWord is the carrier actually programmed by a frequency word.
func FrequencyFromWord(word uint32, xtalHz float64) float64 {
	return float64(word&0x3FFFFF) * xtalHz / 65536
}

// FrequencyStepHz is the synthesizer resolution.
func FrequencyStepHz(xtalHz float64) float64 {
	return xtalHz / 65536
}

func RSSIToDbm(raw uint8) int {
	if raw >= 128 {
		return (int(raw)-256)/2 - 74
	}
	return int(raw)/2 - 74
}

func RSSIPercent(dbm int) int {
	return scalePercent(dbm, -120, -40)
}

func LQIPercent(lqi uint8) int {
	return scalePercent(int(lqi), 0, 255)
}

// FreqEstToHz converts the FREQEST register (two's complement) into a carrier offset.
func FreqEstToHz(est int8) float64 {
	return float64(est) * XtalFrequencyHz / 16384
}

func scalePercent(v, lo, hi int) int {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return (v - lo) * 100 / (hi - lo)
}
