package codec

import (
	"math"
	"math/rand"
	"testing"

	"github.com/annel0/voxelfield/internal/noise"
	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
	"github.com/annel0/voxelfield/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeChange_Layout(t *testing.T) {
	c := voxel.Change{
		Position: voxel.Some(vec.Vec3{X: 1, Y: -2, Z: 3}),
		Density:  voxel.Some[uint8](200),
		HasBlock: voxel.Some(false),
		Natural:  voxel.Some(true),
		IsUndo:   true,
	}

	expected := []byte{
		0x05, 0x10, 0x00, 0xC4, // маска: 0, 2, 12, 26, 30, 31
		0x01, 0x00, 0x00, 0x00,
		0xFE, 0xFF, 0xFF, 0xFF,
		0x03, 0x00, 0x00, 0x00,
		0xC8,
	}
	assert.Equal(t, expected, EncodeChange(&c))
}

func TestEncodeChange_EmptyIsMaskOnly(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0}, EncodeChange(&voxel.Change{}))
}

// randomChange заполняет случайное подмножество полей
func randomChange(rng *rand.Rand) voxel.Change {
	var c voxel.Change
	pick := func() bool { return rng.Intn(2) == 0 }
	randVec := func() vec.Vec3 {
		return vec.Vec3{X: rng.Intn(2000) - 1000, Y: rng.Intn(2000) - 1000, Z: rng.Intn(2000) - 1000}
	}
	if pick() {
		c.Position = voxel.Some(randVec())
	}
	if pick() {
		c.Texture = voxel.Some(uint8(rng.Intn(256)))
	}
	if pick() {
		c.Density = voxel.Some(uint8(rng.Intn(256)))
	}
	if pick() {
		c.Orientation = voxel.Some(voxel.Orientation(rng.Intn(7)))
	}
	if pick() {
		c.Color = voxel.Some(voxel.Color{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
	}
	if pick() {
		c.Magnitude = voxel.Some(rng.Float32()*20 - 10)
	}
	if pick() {
		c.Yaw = voxel.Some(rng.Float32() * 360)
	}
	if pick() {
		c.Form = voxel.Some(voxel.Form(rng.Intn(int(voxel.FormLast) + 1)))
	}
	if pick() {
		c.UpperBound = voxel.Some(randVec())
	}
	c.IsUndo = pick()
	for _, f := range []*voxel.Opt[bool]{&c.Revert, &c.NoRandom, &c.ModifiesBlocks, &c.Replace, &c.HasBlock, &c.IsBreakable, &c.Natural} {
		if pick() {
			*f = voxel.Some(pick())
		}
	}
	return c
}

func TestChange_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		c := randomChange(rng)
		data := EncodeChange(&c)

		decoded, n, err := DecodeChange(data, CurrentVersion)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		require.True(t, c.Equal(decoded), "изменение %v разобрано как %v", c, decoded)
		require.Equal(t, data, EncodeChange(&decoded))
	}
}

func TestDecodeChange_Rejects(t *testing.T) {
	c, _, err := DecodeChange([]byte{0, 0, 0, 0x01}, "")
	require.NoError(t, err, "бит 24 без значения означает replace=false")
	assert.Equal(t, voxel.Some(false), c.Replace)

	_, _, err = DecodeChange([]byte{0, 0, 0, 0x02}, "")
	assert.ErrorIs(t, err, ErrMalformed, "значение replace без наличия")

	_, _, err = DecodeChange([]byte{0x00, 0x02, 0x00, 0x00}, "")
	assert.ErrorIs(t, err, ErrMalformed, "бит 9 не используется")

	_, _, err = DecodeChange([]byte{0x00, 0x00, 0x00, 0x08}, "")
	assert.ErrorIs(t, err, ErrMalformed, "значение hasBlock без наличия")

	_, _, err = DecodeChange([]byte{0x80, 0x00, 0x00, 0x00, 0x09}, "")
	assert.ErrorIs(t, err, ErrMalformed, "форма 9 не существует")

	_, _, err = DecodeChange([]byte{0x01, 0x00, 0x00, 0x00, 0x01, 0x00}, "")
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, _, err = DecodeChange([]byte{0x00}, "")
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecoderFor_UnsupportedVersion(t *testing.T) {
	_, err := DecoderFor("0.0.11")
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, _, err = DecodeChange(EncodeChange(&voxel.Change{}), "1.0.0.1")
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	d, err := DecoderFor("")
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestChanges_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	changes := make([]voxel.Change, 40)
	for i := range changes {
		changes[i] = randomChange(rng)
	}

	data := EncodeChanges(changes)
	decoded, err := DecodeChanges(data, CurrentVersion)
	require.NoError(t, err)
	require.Len(t, decoded, len(changes))
	for i := range changes {
		assert.True(t, changes[i].Equal(decoded[i]), "запись %d", i)
	}

	_, err = DecodeChanges(append(data, 0), CurrentVersion)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeChanges([]byte{0xff, 0xff, 0xff, 0x00}, CurrentVersion)
	assert.ErrorIs(t, err, ErrShortBuffer)

	empty, err := DecodeChanges(EncodeChanges(nil), "")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func sampleRecord() *MapRecord {
	params := world.DefaultMapParams()
	params.Name = "остров"
	params.Version = "2.3"
	params.Terrain.Seed = -77
	params.Terrain.Noise = noise.KindPerlin
	params.Terrain.Stone = voxel.Some(voxel.Change{Texture: voxel.Some(voxel.TextureSpeckled), Color: voxel.Some(voxel.ColorDirt)})
	params.BreakableEdges = true

	return NewMapRecord(params, []voxel.Change{
		{Position: voxel.Some(vec.Vec3{X: 1}), Form: voxel.Some(voxel.FormSingle), Density: voxel.Some[uint8](12)},
		{Position: voxel.Some(vec.Vec3{Y: -3}), Form: voxel.Some(voxel.FormSingle), Natural: voxel.Some(false), IsUndo: true},
	})
}

func TestMap_RoundTrip(t *testing.T) {
	rec := sampleRecord()

	decoded, err := DecodeMap(EncodeMap(rec))
	require.NoError(t, err)
	assert.Equal(t, rec.ID, decoded.ID)
	assert.Equal(t, rec.Params, decoded.Params)
	require.Len(t, decoded.Changes, 2)
	assert.True(t, rec.Changes[1].Equal(decoded.Changes[1]))

	packed, err := EncodeMapCompressed(rec)
	require.NoError(t, err)
	unpacked, err := DecodeMapAuto(packed)
	require.NoError(t, err)
	assert.Equal(t, rec.Params, unpacked.Params)

	plain, err := DecodeMapAuto(EncodeMap(rec))
	require.NoError(t, err)
	assert.Equal(t, rec.ID, plain.ID)
}

func TestMap_WithoutTerrainHeight(t *testing.T) {
	rec := sampleRecord()
	rec.Params.TerrainHeight = voxel.Opt[int32]{}

	decoded, err := DecodeMap(EncodeMap(rec))
	require.NoError(t, err)
	assert.False(t, decoded.Params.TerrainHeight.Set)
}

func TestMap_Rejects(t *testing.T) {
	_, err := DecodeMap([]byte("JUNK"))
	assert.ErrorIs(t, err, ErrNotMap)

	data := EncodeMap(sampleRecord())
	_, err = DecodeMap(data[:len(data)-3])
	assert.Error(t, err)

	w := NewWriter(nil)
	w.PutRaw(mapMagic)
	w.PutString("0.0.12")
	_, err = DecodeMap(w.Bytes())
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	bad := sampleRecord()
	bad.Params.Dimension.Lower = vec.Vec3{X: 10}
	_, err = DecodeMap(EncodeMap(bad))
	assert.ErrorIs(t, err, world.ErrInvalidMap)

	_, err = DecodeMapAuto(append([]byte("VXFZ"), 1, 2, 3))
	assert.Error(t, err)
}

func TestCheckRange(t *testing.T) {
	assert.NoError(t, CheckVec3(vec.Vec3{X: math.MinInt32, Y: 0, Z: math.MaxInt32}))
	if math.MaxInt == math.MaxInt32 {
		t.Skip("int помещается в int32")
	}

	var wide int64 = math.MaxInt32 + 1
	far := vec.Vec3{Z: int(wide)}
	assert.ErrorIs(t, CheckVec3(far), ErrOutOfRange)

	prism := voxel.Change{Position: voxel.Some(vec.Vec3{}), UpperBound: voxel.Some(far)}
	assert.ErrorIs(t, CheckChange(&prism), ErrOutOfRange)
	assert.ErrorIs(t, CheckChanges([]voxel.Change{{}, prism}), ErrOutOfRange)

	rec := sampleRecord()
	require.NoError(t, CheckMap(rec))
	rec.Params.Dimension.Lower.X = -int(wide) - 1
	assert.ErrorIs(t, CheckMap(rec), ErrOutOfRange)
}
