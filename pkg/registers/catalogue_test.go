package registers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogueLoads(t *testing.T) {
	cat, err := DefaultCatalogue()
	require.NoError(t, err)
	assert.Greater(t, cat.Len(), 10)

	d, ok := cat.ByKey("pack_voltage_v")
	require.True(t, ok)
	assert.Equal(t, TypeF32, d.Type)

	d2, ok := cat.ByAddress(0x0024)
	require.True(t, ok)
	assert.Equal(t, "pack_voltage_v", d2.Key)

	ordered := cat.Ordered()
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Address, ordered[i].Address)
	}
}

func TestCatalogueEncodesBothSocScalings(t *testing.T) {
	// spec.md leaves the exact SoC register scaling (0.01% vs 0.002%) an
	// open question; both candidate scales are kept as distinct, explicit
	// descriptor entries rather than guessed at in code.
	cat, err := DefaultCatalogue()
	require.NoError(t, err)

	coarse, ok := cat.ByKey("state_of_charge_pct")
	require.True(t, ok)
	assert.InDelta(t, 0.01, coarse.Scale, 1e-9)

	fine, ok := cat.ByKey("state_of_charge_pct_highres")
	require.True(t, ok)
	assert.InDelta(t, 0.002, fine.Scale, 1e-9)
}

func TestCatalogueRejectsDuplicateAddress(t *testing.T) {
	doc := []byte(`
[0x0001]
Key=a
Type=U16
AccessType=ro
ValueClass=unsigned
Scale=1
Offset=0
Step=1
MinRaw=0
MaxRaw=10
DefaultRaw=0

[0x0001]
Key=b
Type=U16
AccessType=ro
ValueClass=unsigned
Scale=1
Offset=0
Step=1
MinRaw=0
MaxRaw=10
DefaultRaw=0
`)
	_, err := LoadCatalogue(doc)
	assert.Error(t, err)
}

func TestCatalogueParsesEnumOptions(t *testing.T) {
	cat, err := DefaultCatalogue()
	require.NoError(t, err)

	d, ok := cat.ByKey("online_status")
	require.True(t, ok)
	require.NotEmpty(t, d.Options)
	assert.Equal(t, "Running", d.Options[1].Label)
}

func TestRegisterRoundTripLaw(t *testing.T) {
	cat, err := DefaultCatalogue()
	require.NoError(t, err)

	cases := []struct {
		key   string
		value float64
	}{
		{"overvoltage_cutoff_mv", 3700},
		{"overtemp_cutoff_c", 55.0},
		{"overcurrent_charge_a", 120.3},
	}

	for _, tc := range cases {
		d, ok := cat.ByKey(tc.key)
		require.True(t, ok, tc.key)

		raw, err := d.UserToRaw(tc.value)
		require.NoError(t, err, tc.key)

		got := d.RawToUser(raw)
		want := d.Aligned(tc.value)
		assert.InDelta(t, want, got, 1e-9, tc.key)
	}
}

func TestDescriptorUserToRawRejectsOutOfRange(t *testing.T) {
	cat, err := DefaultCatalogue()
	require.NoError(t, err)
	d, ok := cat.ByKey("overvoltage_cutoff_mv")
	require.True(t, ok)

	_, err = d.UserToRaw(9999)
	assert.Error(t, err)
}

func TestDescriptorEnumRejectsNonMember(t *testing.T) {
	cat, err := DefaultCatalogue()
	require.NoError(t, err)
	d, ok := cat.ByKey("online_status")
	require.True(t, ok)

	_, err = d.UserToRaw(99)
	assert.Error(t, err)
}
