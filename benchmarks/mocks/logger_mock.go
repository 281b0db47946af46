package mocks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Sarayalth/nxapi/internal/domain"
)

// MockLogger implements domain.Logger and records every entry.
type MockLogger struct {
	entries *[]LogEntry
	mu      *sync.RWMutex
	fields  []any

	InfoCount  *int64
	WarnCount  *int64
	ErrorCount *int64
	DebugCount *int64
}

// LogEntry is one recorded log call.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates a new mock logger
func NewMockLogger() *MockLogger {
	return &MockLogger{
		entries:    &[]LogEntry{},
		mu:         &sync.RWMutex{},
		InfoCount:  new(int64),
		WarnCount:  new(int64),
		ErrorCount: new(int64),
		DebugCount: new(int64),
	}
}

func (m *MockLogger) Info(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(m.InfoCount, 1)
	m.add("INFO", msg, fields)
}

func (m *MockLogger) Warn(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(m.WarnCount, 1)
	m.add("WARN", msg, fields)
}

func (m *MockLogger) Error(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(m.ErrorCount, 1)
	m.add("ERROR", msg, fields)
}

func (m *MockLogger) Debug(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(m.DebugCount, 1)
	m.add("DEBUG", msg, fields)
}

// Fatal records the entry but does not exit.
func (m *MockLogger) Fatal(ctx context.Context, msg string, fields ...any) {
	atomic.AddInt64(m.ErrorCount, 1)
	m.add("FATAL", msg, fields)
}

// With returns a logger sharing this logger's entries, with fields prepended.
func (m *MockLogger) With(fields ...any) domain.Logger {
	child := *m
	child.fields = append(append([]any{}, m.fields...), fields...)
	return &child
}

func (m *MockLogger) add(level, msg string, fields []any) {
	all := append(append([]any{}, m.fields...), fields...)
	fieldMap := make(map[string]any, len(all)/2)
	for i := 0; i+1 < len(all); i += 2 {
		if key, ok := all[i].(string); ok {
			fieldMap[key] = all[i+1]
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	*m.entries = append(*m.entries, LogEntry{Level: level, Message: msg, Fields: fieldMap})
}

// Entries returns a copy of all recorded entries.
func (m *MockLogger) Entries() []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]LogEntry, len(*m.entries))
	copy(entries, *m.entries)
	return entries
}

// EntriesByLevel returns entries filtered by level.
func (m *MockLogger) EntriesByLevel(level string) []LogEntry {
	var filtered []LogEntry
	for _, entry := range m.Entries() {
		if entry.Level == level {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
