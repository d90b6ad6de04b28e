package cc1101

// register values used by the RADIAN modem setup
const (
	IOCFG2SerialDataOutput   byte = 0x0D
	IOCFG0SyncWordDetect     byte = 0x06
	FIFOTHR33_32             byte = 0x47
	PKTCTRL1NoAddressCheck   byte = 0x00
	PKTCTRL0FixedLength      byte = 0x00
	PKTCTRL0InfiniteLength   byte = 0x02
	FSCTRL1IntermediateFreq  byte = 0x08
	MDMCFG4Bandwidth58k      byte = 0xF6
	MDMCFG4Bandwidth58k9600  byte = 0xF8
	MDMCFG3DataRate2400      byte = 0x83
	MDMCFG2FSK16of16Sync     byte = 0x02
	MDMCFG2NoPreambleSync    byte = 0x00
	MDMCFG1TwoPreambleBytes  byte = 0x00
	MDMCFG0ChannelSpacing25k byte = 0x00
	DEVIATN5157              byte = 0x15
	MCSM1IdleOnExit          byte = 0x00
	MCSM1RxOnExit            byte = 0x0F
	MCSM0AutoCalibrate       byte = 0x18
	FOCCFGDefault            byte = 0x1D
	BSCFGDefault             byte = 0x1C
	AGCCTRL2MaxGain          byte = 0xC7
	AGCCTRL1Default          byte = 0x00
	AGCCTRL0Filter16         byte = 0xB2
	WORCTRLDefault           byte = 0xFB
	FREND1LNACurrent         byte = 0xB6
	TEST2LowDataRate         byte = 0x81
	TEST1LowDataRate         byte = 0x35
	TEST0LowDataRate         byte = 0x09
)

// PowerTable is the PATABLE written on configure. FSK only uses entry 0; 0x60 is about 0 dBm at 433 MHz.
var PowerTable = []byte{0x60, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

type RegisterValue struct {
	Register Register
	Value    byte
}

// RegisterSet is an ordered list of register writes.
type RegisterSet []RegisterValue

func (s RegisterSet) Get(r Register) (byte, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Register == r {
			return s[i].Value, true
		}
	}
	return 0, false
}

// With returns a copy of the set with the register overridden.
func (s RegisterSet) With(r Register, value byte) RegisterSet {
	out := make(RegisterSet, 0, len(s)+1)
	replaced := false
	for _, rv := range s {
		if rv.Register == r {
			rv.Value = value
			replaced = true
		}
		out = append(out, rv)
	}
	if !replaced {
		out = append(out, RegisterValue{Register: r, Value: value})
	}
	return out
}

// DefaultRegisters is the 2-FSK 2.4 kbps setup the meters talk, with a 58 kHz receive
// bandwidth, 5.157 kHz deviation and the 0x5500 sync word. Frequency registers are not
// part of the set; they are written by TuneTo.
func DefaultRegisters() RegisterSet {
	return RegisterSet{
		{IOCFG2, IOCFG2SerialDataOutput},
		{IOCFG0, IOCFG0SyncWordDetect},
		{FIFOTHR, FIFOTHR33_32},
		{SYNC1, 0x55},
		{SYNC0, 0x00},
		{PKTLEN, 38},
		{PKTCTRL1, PKTCTRL1NoAddressCheck},
		{PKTCTRL0, PKTCTRL0FixedLength},
		{FSCTRL1, FSCTRL1IntermediateFreq},
		{MDMCFG4, MDMCFG4Bandwidth58k},
		{MDMCFG3, MDMCFG3DataRate2400},
		{MDMCFG2, MDMCFG2FSK16of16Sync},
		{MDMCFG1, MDMCFG1TwoPreambleBytes},
		{MDMCFG0, MDMCFG0ChannelSpacing25k},
		{DEVIATN, DEVIATN5157},
		{MCSM1, MCSM1IdleOnExit},
		{MCSM0, MCSM0AutoCalibrate},
		{FOCCFG, FOCCFGDefault},
		{BSCFG, BSCFGDefault},
		{AGCCTRL2, AGCCTRL2MaxGain},
		{AGCCTRL1, AGCCTRL1Default},
		{AGCCTRL0, AGCCTRL0Filter16},
		{WORCTRL, WORCTRLDefault},
		{FREND1, FREND1LNACurrent},
		{TEST2, TEST2LowDataRate},
		{TEST1, TEST1LowDataRate},
		{TEST0, TEST0LowDataRate},
	}
}
