package pgn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channelByID(id uint32) Channel {
	for _, c := range StandardChannels() {
		if c.ID == id {
			return c
		}
	}
	panic("channel not found")
}

func TestCompileChargeDischargeLimits(t *testing.T) {
	ch := channelByID(IDChargeDischargeLimits)
	ctx := Context{Signals: map[string]float64{
		"cvl_v": 54.40,
		"ccl_a": 110.0,
		"dcl_a": 150.0,
	}}

	got, err := Compile(ch.Fields, ctx)
	require.NoError(t, err)
	// 54.40 * 100 = 5440 = 0x1540 LE; 110.0*10=1100=0x044C LE; 150.0*10=1500=0x05DC LE.
	assert.Equal(t, [8]byte{0x40, 0x15, 0x4C, 0x04, 0xDC, 0x05, 0x00, 0x00}, got)
}

func TestCompileVoltageCurrentTemp(t *testing.T) {
	ch := channelByID(IDVoltageCurrentTemp)
	ctx := Context{Signals: map[string]float64{
		"pack_voltage_v": 53.21,
		"pack_current_a": -12.3,
		"avg_temp_c":     25.5,
	}}

	got, err := Compile(ch.Fields, ctx)
	require.NoError(t, err)
	assert.Equal(t, [8]byte{0xC9, 0x14, 0x85, 0xFF, 0xFF, 0x00, 0x00, 0x00}, got)
}

func TestCompileSocSoh(t *testing.T) {
	ch := channelByID(IDStateOfChargeHealth)
	ctx := Context{Signals: map[string]float64{"soc_pct": 75.6, "soh_pct": 99.1}}

	got, err := Compile(ch.Fields, ctx)
	require.NoError(t, err)
	// 75.6*10 = 756 = 0x02F4 LE; 99.1*10 = 991 = 0x03DF LE.
	assert.Equal(t, [8]byte{0xF4, 0x02, 0xDF, 0x03, 0x00, 0x00, 0x00, 0x00}, got)
}

func TestCompileAlarmsWarningsPacksAllBitFields(t *testing.T) {
	ch := channelByID(IDAlarmsWarnings)
	ctx := Context{Signals: map[string]float64{
		"alarm_uv": 1, "alarm_ov": 2, "alarm_ot": 0, "alarm_ltc": 3,
		"alarm_imbalance": 1, "alarm_comms": 0, "alarm_low_soc": 2, "alarm_derate_high_soc": 0,
		"alarm_summary": 1,
	}}
	got, err := Compile(ch.Fields, ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1|2<<2|0<<4|3<<6, got[0])
	assert.EqualValues(t, 1|0<<2|2<<4|0<<6, got[1])
	assert.EqualValues(t, 1, got[7])
}

func TestCompileEnergyCounters(t *testing.T) {
	ch := channelByID(IDEnergyCounters)
	ctx := Context{Signals: map[string]float64{"charged_wh": 173.33, "discharged_wh": 40.0}}
	got, err := Compile(ch.Fields, ctx)
	require.NoError(t, err)
	// round(173.33*100) = 17333 = 0x000043B5 LE
	assert.Equal(t, byte(0xB5), got[0])
	assert.Equal(t, byte(0x43), got[1])
	assert.Equal(t, byte(0x00), got[2])
	assert.Equal(t, byte(0x00), got[3])
	// round(40.0*100) = 4000 = 0x00000FA0 LE
	assert.Equal(t, byte(0xA0), got[4])
	assert.Equal(t, byte(0x0F), got[5])
}

func TestCompileManufacturerSanitisesNonPrintable(t *testing.T) {
	ch := channelByID(IDManufacturer)
	ctx := Context{Strings: map[string]string{"manufacturer": "Ti\x01nyBMS"}}
	got, err := Compile(ch.Fields, ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(' '), got[2]) // the 0x01 byte is sanitised to a space
	assert.Equal(t, byte('T'), got[0])
}

func TestCompileKeepaliveIsSingleZeroByte(t *testing.T) {
	ch := channelByID(IDKeepalive)
	got, err := Compile(ch.Fields, Context{})
	require.NoError(t, err)
	assert.Equal(t, byte(0), got[0])
	assert.EqualValues(t, 1, ch.DLC)
}

func TestValidateRejectsOverlappingByteFields(t *testing.T) {
	fields := []Field{
		{ByteOffset: 0, Encoding: EncodingUnsigned, ByteLength: 2},
		{ByteOffset: 1, Encoding: EncodingUnsigned, ByteLength: 2},
	}
	assert.Error(t, Validate(fields))
}

func TestValidateRejectsFieldPastByte7(t *testing.T) {
	fields := []Field{
		{ByteOffset: 6, Encoding: EncodingUnsigned, ByteLength: 4},
	}
	assert.Error(t, Validate(fields))
}

func TestValidateAllowsDisjointBitFieldsInSameByte(t *testing.T) {
	fields := []Field{
		{ByteOffset: 0, Encoding: EncodingBits, BitOffset: 0, BitLength: 4},
		{ByteOffset: 0, Encoding: EncodingBits, BitOffset: 4, BitLength: 4},
	}
	assert.NoError(t, Validate(fields))
}

func TestValidateRejectsOverlappingBitFields(t *testing.T) {
	fields := []Field{
		{ByteOffset: 0, Encoding: EncodingBits, BitOffset: 0, BitLength: 4},
		{ByteOffset: 0, Encoding: EncodingBits, BitOffset: 3, BitLength: 2},
	}
	assert.Error(t, Validate(fields))
}
