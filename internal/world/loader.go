package world

import (
	"fmt"

	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
)

// Stage стадия загрузки карты
type Stage uint8

const (
	StageCleaningUp Stage = iota
	StageSettingUp
	StageGenerating
	StageUpdatingMesh
	StageCompleted
)

func (s Stage) String() string {
	switch s {
	case StageCleaningUp:
		return "CleaningUp"
	case StageSettingUp:
		return "SettingUp"
	case StageGenerating:
		return "Generating"
	case StageUpdatingMesh:
		return "UpdatingMesh"
	case StageCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Progress сообщение о ходе загрузки
type Progress struct {
	Stage    Stage
	Fraction float32
}

// ProgressFunc получает сообщения о ходе загрузки
type ProgressFunc func(Progress)

// Loader загружает карту в ChunkManager по одному шагу за вызов Step.
// Цикл шагов ведёт вызывающий (планировщик тиков, утилита).
type Loader struct {
	m          *ChunkManager
	params     *MapParams
	changes    []voxel.Change
	onProgress ProgressFunc

	stage   Stage
	queue   []vec.Vec3
	next    int
	touched *TouchedSet
	err     error
}

// NewLoader готовит загрузку карты params с журналом changes.
// Ошибки параметров возвращаются сразу, до вывода старых чанков.
func (m *ChunkManager) NewLoader(params *MapParams, changes []voxel.Change, onProgress ProgressFunc) (*Loader, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Loader{
		m:          m,
		params:     params.Clone(),
		changes:    changes,
		onProgress: onProgress,
		stage:      StageCleaningUp,
		queue:      m.Positions(),
		touched:    NewTouchedSet(),
	}, nil
}

// Stage возвращает текущую стадию
func (l *Loader) Stage() Stage { return l.stage }

// Done сообщает, завершена ли загрузка
func (l *Loader) Done() bool { return l.stage == StageCompleted || l.err != nil }

// Err возвращает ошибку, прервавшую загрузку
func (l *Loader) Err() error { return l.err }

func (l *Loader) report(stage Stage, fraction float32) {
	if l.onProgress != nil {
		l.onProgress(Progress{Stage: stage, Fraction: fraction})
	}
}

func (l *Loader) fraction() float32 {
	if len(l.queue) == 0 {
		return 1
	}
	return float32(l.next) / float32(len(l.queue))
}

// Step выполняет одно действие загрузки: вывод, ввод, генерацию или
// обновление сетки одного чанка. Возвращает true, когда загрузка завершена.
func (l *Loader) Step() (bool, error) {
	if l.err != nil {
		return true, l.err
	}
	switch l.stage {
	case StageCleaningUp:
		l.stepCleaningUp()
	case StageSettingUp:
		l.stepSettingUp()
	case StageGenerating:
		l.stepGenerating()
	case StageUpdatingMesh:
		l.stepUpdatingMesh()
	}
	if l.err != nil {
		l.m.logger.Error("Загрузка карты %q прервана на стадии %s: %v", l.params.Name, l.stage, l.err)
		return true, l.err
	}
	return l.stage == StageCompleted, nil
}

func (l *Loader) advance(stage Stage) {
	l.stage = stage
	l.next = 0
	l.m.logger.Debug("Загрузка карты %q: стадия %s", l.params.Name, stage)
}

func (l *Loader) stepCleaningUp() {
	if l.next < len(l.queue) {
		l.m.Decommission(l.queue[l.next])
		l.next++
		l.report(StageCleaningUp, l.fraction())
		return
	}

	if err := l.m.SetMap(l.params); err != nil {
		l.err = err
		return
	}
	if !l.params.TerrainHeight.Set {
		l.m.logger.Info("Карта %q без высоты рельефа: генерация пропущена", l.params.Name)
		l.advance(StageCompleted)
		l.report(StageCompleted, 1)
		return
	}
	if err := l.m.ResizePool(l.params.ChunkVolume()); err != nil {
		l.err = err
		return
	}

	l.queue = l.queue[:0]
	l.params.Dimension.Each(func(p vec.Vec3) { l.queue = append(l.queue, p) })
	l.advance(StageSettingUp)
}

func (l *Loader) stepSettingUp() {
	if _, err := l.m.Commission(l.queue[l.next]); err != nil {
		l.err = err
		return
	}
	l.next++
	l.report(StageSettingUp, l.fraction())
	if l.next == len(l.queue) {
		l.advance(StageGenerating)
	}
}

func (l *Loader) stepGenerating() {
	if l.next < len(l.queue) {
		l.m.ChunkAt(l.queue[l.next]).FillFromTerrain(l.m.terrain)
		l.next++
		l.report(StageGenerating, l.fraction())
		return
	}

	// Журнал карты воспроизводится после генерации всех чанков.
	// Сетки обновит следующая стадия.
	for i := range l.changes {
		if err := l.m.ApplyChange(&l.changes[i], ApplyOptions{Touched: l.touched}); err != nil {
			l.err = fmt.Errorf("воспроизведение изменения %d: %w", i, err)
			return
		}
	}
	l.touched.Clear()
	l.m.log.TakeDelta()
	l.m.logger.Info("Карта %q: сгенерировано %d чанков, воспроизведено %d изменений", l.params.Name, len(l.queue), len(l.changes))
	l.advance(StageUpdatingMesh)
}

func (l *Loader) stepUpdatingMesh() {
	c := l.m.ChunkAt(l.queue[l.next])
	if l.m.mesh != nil {
		l.m.mesh.RefreshChunk(c)
	}
	if l.m.observer != nil {
		l.m.observer.ChunksRefreshed(1)
	}
	l.next++
	l.report(StageUpdatingMesh, l.fraction())
	if l.next == len(l.queue) {
		l.advance(StageCompleted)
		l.report(StageCompleted, 1)
	}
}
