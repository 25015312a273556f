package codec

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
)

// ErrOutOfRange координата не помещается в int32 формата
var ErrOutOfRange = errors.New("координата вне диапазона int32")

func fitsInt32(n int) bool { return n >= math.MinInt32 && n <= math.MaxInt32 }

// CheckVec3 проверяет, что позиция переживёт запись тремя int32
func CheckVec3(v vec.Vec3) error {
	if fitsInt32(v.X) && fitsInt32(v.Y) && fitsInt32(v.Z) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrOutOfRange, v)
}

// CheckChange проверяет позиции изменения перед кодированием
func CheckChange(c *voxel.Change) error {
	if p, ok := c.Position.Get(); ok {
		if err := CheckVec3(p); err != nil {
			return err
		}
	}
	if p, ok := c.UpperBound.Get(); ok {
		return CheckVec3(p)
	}
	return nil
}

// CheckChanges проверяет список изменений
func CheckChanges(changes []voxel.Change) error {
	for i := range changes {
		if err := CheckChange(&changes[i]); err != nil {
			return fmt.Errorf("изменение %d: %w", i, err)
		}
	}
	return nil
}

// CheckMap проверяет границы карты и все её изменения
func CheckMap(rec *MapRecord) error {
	p := &rec.Params
	if err := CheckVec3(p.Dimension.Lower); err != nil {
		return fmt.Errorf("нижняя граница: %w", err)
	}
	if err := CheckVec3(p.Dimension.Upper); err != nil {
		return fmt.Errorf("верхняя граница: %w", err)
	}
	for _, c := range []voxel.Opt[voxel.Change]{p.Terrain.Grass, p.Terrain.Stone} {
		if c.Set {
			if err := CheckChange(&c.Value); err != nil {
				return err
			}
		}
	}
	return CheckChanges(rec.Changes)
}
