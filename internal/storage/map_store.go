package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/annel0/voxelfield/internal/changelog"
	"github.com/annel0/voxelfield/internal/codec"
	"github.com/annel0/voxelfield/internal/logging"
	"github.com/annel0/voxelfield/internal/voxel"
)

var (
	// ErrMapNotFound карта с таким идентификатором или именем не сохранена
	ErrMapNotFound   = errors.New("карта не найдена")
	// ErrStoreClosed хранилище уже закрыто
	ErrStoreClosed   = errors.New("хранилище не готово")
	// ErrShapedChanges журнал содержит объёмные изменения или откаты,
	// которые нельзя слить по позиции без воспроизведения в мире
	ErrShapedChanges = errors.New("журнал содержит объёмные изменения")
)

// Ключи BadgerDB:
//
//	map:<id>                снимок карты (codec.EncodeMap, возможно сжатый)
//	mapname:<name>          id карты по имени
//	changes:<id>:<seq>      пакет изменений, дописанный после снимка
const (
	mapPrefix     = "map:"
	namePrefix    = "mapname:"
	changesPrefix = "changes:"
	seqKey        = "seq:changes"

	// попытки транзакции при конфликте с параллельной записью
	maxConflictRetries = 8
)

func mapKey(id uuid.UUID) []byte { return []byte(mapPrefix + id.String()) }
func nameKey(name string) []byte { return []byte(namePrefix + name) }
func changesKeyPrefix(id uuid.UUID) []byte { return []byte(changesPrefix + id.String() + ":") }

func changesKey(id uuid.UUID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x", changesPrefix, id, seq))
}

// DecodeObserver получает сообщения о повреждённых записях
type DecodeObserver interface {
	DecodeFailed(source string)
}

// StoreOptions параметры открытия хранилища
type StoreOptions struct {
	Path     string // каталог BadgerDB
	InMemory bool   // хранить данные только в памяти
	Compress bool   // сжимать снимки карт zstd
	Observer DecodeObserver
}

// MapInfo краткое описание сохранённой карты
type MapInfo struct {
	ID   uuid.UUID
	Name string
}

// MapStore хранилище карт и их журналов изменений на BadgerDB
type MapStore struct {
	db       *badger.DB
	seq      *badger.Sequence
	mutex    sync.RWMutex
	writeMu  sync.Mutex // упорядочивает дозапись пакетов и сжатие
	isReady  bool
	compress bool
	observer DecodeObserver
	logger   *logging.Logger
}

// OpenMapStore открывает (или создаёт) хранилище
func OpenMapStore(opts StoreOptions) (*MapStore, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, fmt.Errorf("не задан путь к хранилищу")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось получить последовательность: %w", err)
	}

	logger := logging.GetStorageLogger()
	logger.Info("Хранилище карт открыто (in-memory=%t, zstd=%t)", opts.InMemory, opts.Compress)

	return &MapStore{
		db:       db,
		seq:      seq,
		isReady:  true,
		compress: opts.Compress,
		observer: opts.Observer,
		logger:   logger,
	}, nil
}

// Close закрывает хранилище
func (s *MapStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false

	if err := s.seq.Release(); err != nil {
		s.logger.Warn("Не удалось освободить последовательность: %v", err)
	}
	return s.db.Close()
}

// update выполняет транзакцию, повторяя её при конфликте записи
func (s *MapStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = s.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *MapStore) encode(rec *codec.MapRecord) ([]byte, error) {
	if err := codec.CheckMap(rec); err != nil {
		return nil, err
	}
	if s.compress {
		return codec.EncodeMapCompressed(rec)
	}
	return codec.EncodeMap(rec), nil
}

func (s *MapStore) decodeFailed(source string, err error, data []byte) {
	s.logger.LogDecodeError(source, err, data)
	if s.observer != nil {
		s.observer.DecodeFailed(source)
	}
}

// SaveMap сохраняет снимок карты. Пакеты, дописанные к прежнему снимку,
// удаляются: снимок уже содержит полный журнал.
func (s *MapStore) SaveMap(rec *codec.MapRecord) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrStoreClosed
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	data, err := s.encode(rec)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, changesKeyPrefix(rec.ID)); err != nil {
			return err
		}
		if err := txn.Set(mapKey(rec.ID), data); err != nil {
			return err
		}
		return txn.Set(nameKey(rec.Params.Name), []byte(rec.ID.String()))
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения карты %s в BadgerDB: %w", rec.ID, err)
	}

	s.logger.Debug("Карта %q (%s) сохранена: %d байт, %d изменений", rec.Params.Name, rec.ID, len(data), len(rec.Changes))
	return nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *MapStore) readValue(key []byte) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// LoadMap загружает снимок карты вместе с дописанными пакетами
func (s *MapStore) LoadMap(id uuid.UUID) (*codec.MapRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrStoreClosed
	}

	// Снимок и пакеты читаются одной транзакцией, чтобы не увидеть
	// половину параллельного сжатия
	var rec *codec.MapRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(mapKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrMapNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
		}

		rec, err = codec.DecodeMapAuto(data)
		if err != nil {
			s.decodeFailed(string(mapKey(id)), err, data)
			return fmt.Errorf("ошибка разбора карты %s: %w", id, err)
		}

		appended, _, err := s.readSegments(txn, id)
		if err != nil {
			return err
		}
		rec.Changes = append(rec.Changes, appended...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FindMap возвращает идентификатор карты по имени
func (s *MapStore) FindMap(name string) (uuid.UUID, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return uuid.Nil, ErrStoreClosed
	}

	data, err := s.readValue(nameKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrMapNotFound, name)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return uuid.ParseBytes(data)
}

// ListMaps возвращает сохранённые карты в порядке имён
func (s *MapStore) ListMaps() ([]MapInfo, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrStoreClosed
	}

	var out []MapInfo
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(namePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), namePrefix)
			err := item.Value(func(val []byte) error {
				id, err := uuid.ParseBytes(val)
				if err != nil {
					return fmt.Errorf("повреждён индекс карты %q: %w", name, err)
				}
				out = append(out, MapInfo{ID: id, Name: name})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// DeleteMap удаляет карту и её пакеты изменений
func (s *MapStore) DeleteMap(id uuid.UUID) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrStoreClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(mapKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrMapNotFound, id)
			}
			return err
		}
		if err := deletePrefix(txn, changesKeyPrefix(id)); err != nil {
			return err
		}
		// Индекс имени удаляется, только если указывает на эту карту
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(namePrefix)
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err == nil && string(val) == id.String() {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(mapKey(id))
	})
}

// AppendChanges дописывает пакет изменений к сохранённой карте.
// Возвращает идентификатор пакета.
func (s *MapStore) AppendChanges(id uuid.UUID, changes []voxel.Change) (uuid.UUID, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return uuid.Nil, ErrStoreClosed
	}
	if len(changes) == 0 {
		return uuid.Nil, nil
	}
	if err := codec.CheckChanges(changes); err != nil {
		return uuid.Nil, err
	}

	n, err := s.seq.Next()
	if err != nil {
		return uuid.Nil, fmt.Errorf("ошибка последовательности: %w", err)
	}
	batch := uuid.New()

	w := codec.NewWriter(nil)
	w.PutString(codec.CurrentVersion)
	w.PutRaw(batch[:])
	codec.AppendChanges(w, changes)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(mapKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrMapNotFound, id)
			}
			return err
		}
		return txn.Set(changesKey(id, n), w.Bytes())
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Trace("Пакет %s карты %s: %d изменений", batch, id, len(changes))
	return batch, nil
}

// LoadChanges возвращает изменения, дописанные после последнего снимка
func (s *MapStore) LoadChanges(id uuid.UUID) ([]voxel.Change, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrStoreClosed
	}
	return s.loadChanges(id)
}

func (s *MapStore) loadChanges(id uuid.UUID) ([]voxel.Change, error) {
	var out []voxel.Change
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, _, err = s.readSegments(txn, id)
		return err
	})
	return out, err
}

// readSegments читает дописанные пакеты карты в порядке номеров
// и возвращает их изменения вместе с прочитанными ключами
func (s *MapStore) readSegments(txn *badger.Txn, id uuid.UUID) ([]voxel.Change, [][]byte, error) {
	var (
		out  []voxel.Change
		keys [][]byte
	)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = changesKeyPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		data, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, err
		}

		r := codec.NewReader(data)
		version := r.Str()
		r.Raw(16) // идентификатор пакета
		if err := r.Err(); err != nil {
			s.decodeFailed(string(key), err, data)
			return nil, nil, fmt.Errorf("пакет %s: %w", key, err)
		}
		changes, err := codec.DecodeChanges(data[r.Offset():], version)
		if err != nil {
			s.decodeFailed(string(key), err, data)
			return nil, nil, fmt.Errorf("пакет %s: %w", key, err)
		}
		out = append(out, changes...)
		keys = append(keys, key)
	}
	return out, keys, nil
}

// FoldFunc строит новый журнал карты из полного (снимок и пакеты)
type FoldFunc func(rec *codec.MapRecord) ([]voxel.Change, error)

// FoldPositions сливает изменения одной позиции так же, как журнал карты.
// Это верно только для одиночных изменений без отката: откат
// зависит от порядка применения и при слиянии его теряет.
func FoldPositions(rec *codec.MapRecord) ([]voxel.Change, error) {
	for i := range rec.Changes {
		c := &rec.Changes[i]
		if !c.IsPoint() || c.Revert.Set {
			return nil, fmt.Errorf("%w: карта %s, изменение %d", ErrShapedChanges, rec.ID, i)
		}
	}
	log, err := changelog.FromChanges(rec.Changes)
	if err != nil {
		return nil, err
	}
	return log.Changes(), nil
}

// Compact сливает дописанные пакеты в снимок карты через FoldPositions.
// Журнал с объёмными изменениями или откатами сначала нужно
// воспроизвести в мире (см. CompactWith).
func (s *MapStore) Compact(id uuid.UUID) error {
	return s.CompactWith(id, FoldPositions)
}

// CompactWith заменяет журнал карты результатом fold. Чтение, свёртка
// и запись идут в одной транзакции. Удаляются только прочитанные пакеты,
// так что пакеты, дописанные во время сжатия, сохраняются.
func (s *MapStore) CompactWith(id uuid.UUID, fold FoldFunc) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrStoreClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var before, after int
	err := s.update(func(txn *badger.Txn) error {
		item, err := txn.Get(mapKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrMapNotFound, id)
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err := codec.DecodeMapAuto(data)
		if err != nil {
			s.decodeFailed(string(mapKey(id)), err, data)
			return fmt.Errorf("ошибка разбора карты %s: %w", id, err)
		}

		appended, keys, err := s.readSegments(txn, id)
		if err != nil {
			return err
		}
		rec.Changes = append(rec.Changes, appended...)
		before = len(rec.Changes)

		folded, err := fold(rec)
		if err != nil {
			return fmt.Errorf("сжатие карты %s: %w", id, err)
		}
		rec.Changes = folded
		after = len(folded)

		encoded, err := s.encode(rec)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Set(mapKey(id), encoded)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Карта %s сжата: %d -> %d изменений", id, before, after)
	return nil
}
