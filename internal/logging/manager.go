package logging

import (
	"fmt"
	"os"
	"sync"
)

// LoggerManager раздаёт логгеры компонентов движка.
// Уровень, заданный через SetAllLevels, получают и логгеры,
// созданные позже.
type LoggerManager struct {
	mu      sync.Mutex
	loggers map[string]*Logger
	level   LogLevel
	leveled bool
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{loggers: make(map[string]*Logger)}
	})
	return globalManager
}

// Component возвращает логгер компонента, создавая его при первом запросе.
// Если файл лога открыть нельзя, компонент пишет только в консоль.
func (lm *LoggerManager) Component(name string) *Logger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if l, ok := lm.loggers[name]; ok {
		return l
	}
	l, err := NewLogger(name)
	if err != nil {
		l = NewConsoleLogger(name, os.Stdout, INFO)
		l.Warn("Файл лога недоступен: %v", err)
	}
	if lm.leveled {
		l.SetLevel(lm.level, TRACE)
	}
	lm.loggers[name] = l
	return l
}

// SetAllLevels задаёт порог консоли всем компонентам, нынешним и будущим
func (lm *LoggerManager) SetAllLevels(level LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.level, lm.leveled = level, true
	for _, l := range lm.loggers {
		l.SetLevel(level, TRACE)
	}
}

// CloseAll закрывает файлы всех логгеров и забывает их
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for name, l := range lm.loggers {
		if err := l.Close(); err != nil {
			lastErr = fmt.Errorf("закрытие логгера %s: %w", name, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
	return lastErr
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().Component(component)
}

func GetWorldLogger() *Logger   { return GetComponentLogger("world") }
func GetCodecLogger() *Logger   { return GetComponentLogger("codec") }
func GetStorageLogger() *Logger { return GetComponentLogger("storage") }
func GetMetricsLogger() *Logger { return GetComponentLogger("metrics") }
