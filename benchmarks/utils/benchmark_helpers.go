package utils

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sarayalth/nxapi/internal/domain"
)

// BenchmarkRunner measures wall time, allocations and goroutines around a run.
type BenchmarkRunner struct {
	startTime      time.Time
	endTime        time.Time
	memStatsStart  runtime.MemStats
	memStatsEnd    runtime.MemStats
	goroutineStart int
	goroutineEnd   int

	operationCount int64
	errorCount     int64

	mu sync.RWMutex
}

// NewBenchmarkRunner creates a new benchmark runner
func NewBenchmarkRunner() *BenchmarkRunner {
	return &BenchmarkRunner{}
}

func (br *BenchmarkRunner) Start() {
	br.mu.Lock()
	defer br.mu.Unlock()

	br.startTime = time.Now()
	br.goroutineStart = runtime.NumGoroutine()
	runtime.GC()
	runtime.ReadMemStats(&br.memStatsStart)
}

func (br *BenchmarkRunner) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()

	br.endTime = time.Now()
	br.goroutineEnd = runtime.NumGoroutine()
	runtime.GC()
	runtime.ReadMemStats(&br.memStatsEnd)
}

func (br *BenchmarkRunner) IncrementOperations(count int64) {
	atomic.AddInt64(&br.operationCount, count)
}

func (br *BenchmarkRunner) IncrementErrors(count int64) {
	atomic.AddInt64(&br.errorCount, count)
}

// GetResults returns the measurements taken between Start and Stop.
func (br *BenchmarkRunner) GetResults() *BenchmarkResults {
	br.mu.RLock()
	defer br.mu.RUnlock()

	duration := br.endTime.Sub(br.startTime)
	operations := atomic.LoadInt64(&br.operationCount)

	var opsPerSecond float64
	if duration.Seconds() > 0 {
		opsPerSecond = float64(operations) / duration.Seconds()
	}
	return &BenchmarkResults{
		Duration:            duration,
		Operations:          operations,
		Errors:              atomic.LoadInt64(&br.errorCount),
		OperationsPerSecond: opsPerSecond,
		MemoryAllocated:     br.memStatsEnd.TotalAlloc - br.memStatsStart.TotalAlloc,
		MemoryAllocations:   br.memStatsEnd.Mallocs - br.memStatsStart.Mallocs,
		GoroutineLeak:       br.goroutineEnd - br.goroutineStart,
	}
}

// BenchmarkResults holds the results of one worker or one run.
type BenchmarkResults struct {
	Duration            time.Duration `json:"duration_ns"`
	Operations          int64         `json:"operations"`
	Errors              int64         `json:"errors"`
	OperationsPerSecond float64       `json:"operations_per_second"`
	MemoryAllocated     uint64        `json:"memory_allocated_bytes"`
	MemoryAllocations   uint64        `json:"memory_allocations"`
	GoroutineLeak       int           `json:"goroutine_leak"`
}

func (br *BenchmarkResults) String() string {
	return fmt.Sprintf("Duration: %v, Ops: %d, Errors: %d, Ops/sec: %.2f, Memory: %d bytes, Allocs: %d, Goroutine leak: %d",
		br.Duration, br.Operations, br.Errors, br.OperationsPerSecond, br.MemoryAllocated, br.MemoryAllocations, br.GoroutineLeak)
}

// CredentialMetrics counts what the credential cache did during a load run.
type CredentialMetrics struct {
	CacheHits        int64 `json:"cache_hits"`
	FullExchanges    int64 `json:"full_exchanges"`
	AttestationCalls int64 `json:"attestation_calls"`
	LockAttempts     int64 `json:"lock_attempts"`
	LockFailures     int64 `json:"lock_failures"`
}

// RecordHit classifies one GetOrRefresh result.
func (m *CredentialMetrics) RecordHit(fresh bool) {
	if fresh {
		atomic.AddInt64(&m.FullExchanges, 1)
		return
	}
	atomic.AddInt64(&m.CacheHits, 1)
}

// Snapshot returns a copy safe to embed in a report.
func (m *CredentialMetrics) Snapshot() CredentialMetrics {
	return CredentialMetrics{
		CacheHits:        atomic.LoadInt64(&m.CacheHits),
		FullExchanges:    atomic.LoadInt64(&m.FullExchanges),
		AttestationCalls: atomic.LoadInt64(&m.AttestationCalls),
		LockAttempts:     atomic.LoadInt64(&m.LockAttempts),
		LockFailures:     atomic.LoadInt64(&m.LockFailures),
	}
}

// RecordGenerator builds valid cached token records for seeding a store.
type RecordGenerator struct {
	counter int64
}

func NewRecordGenerator() *RecordGenerator {
	return &RecordGenerator{}
}

// NsoRecord returns an NSO record for accountID valid for ttl from now.
func (g *RecordGenerator) NsoRecord(accountID string, ttl time.Duration) *domain.NsoTokenRecord {
	n := atomic.AddInt64(&g.counter, 1)
	now := time.Now()
	rec := &domain.NsoTokenRecord{
		UUID:      fmt.Sprintf("00000000-0000-4000-8000-%012d", n),
		Timestamp: fmt.Sprint(now.Unix()),
		User:      domain.AccountUser{ID: accountID, Birthday: "1990-01-01", Country: "GB", Language: "en-GB"},
		Credential: domain.ServiceCredential{
			AccessToken: fmt.Sprintf("znc-access-%d", n),
			ExpiresIn:   int64(ttl.Seconds()),
		},
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	rec.NintendoAccountToken = domain.NintendoAccountToken{IDToken: "id." + accountID, AccessToken: "na-access." + accountID, ExpiresIn: 900}
	rec.NsoAccount.WebAPIServerCredential = rec.Credential
	return rec
}

// Encode marshals a record the way the credential cache stores it.
func (g *RecordGenerator) Encode(rec domain.CachedTokenRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// ConcurrentTestRunner runs workerCount workers until duration elapses.
type ConcurrentTestRunner struct {
	workerCount int
	duration    time.Duration
	results     chan *BenchmarkResults
	stopSignal  chan struct{}
}

func NewConcurrentTestRunner(workerCount int, duration time.Duration) *ConcurrentTestRunner {
	return &ConcurrentTestRunner{
		workerCount: workerCount,
		duration:    duration,
		results:     make(chan *BenchmarkResults, workerCount),
		stopSignal:  make(chan struct{}),
	}
}

// RunTest starts the workers, closes stopSignal after the duration and collects results.
func (ctr *ConcurrentTestRunner) RunTest(workerFunc func(workerID int, stopSignal <-chan struct{}) *BenchmarkResults) []*BenchmarkResults {
	var wg sync.WaitGroup
	for i := 0; i < ctr.workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if result := workerFunc(workerID, ctr.stopSignal); result != nil {
				ctr.results <- result
			}
		}(i)
	}

	timer := time.AfterFunc(ctr.duration, func() { close(ctr.stopSignal) })
	defer timer.Stop()

	wg.Wait()
	close(ctr.results)

	var results []*BenchmarkResults
	for result := range ctr.results {
		results = append(results, result)
	}
	return results
}

// LoadProfile is a credential API load scenario.
type LoadProfile struct {
	Name             string
	ConcurrentUsers  int
	DistinctSessions int // callers share this many session tokens
	Duration         time.Duration
}

var PredefinedLoadProfiles = map[string]LoadProfile{
	"light": {
		Name:             "Light Load",
		ConcurrentUsers:  4,
		DistinctSessions: 2,
		Duration:         200 * time.Millisecond,
	},
	"shared": {
		Name:             "Shared Sessions",
		ConcurrentUsers:  32,
		DistinctSessions: 4,
		Duration:         500 * time.Millisecond,
	},
	"spread": {
		Name:             "Spread Sessions",
		ConcurrentUsers:  32,
		DistinctSessions: 32,
		Duration:         500 * time.Millisecond,
	},
}

// BenchmarkReport aggregates worker results of one load run.
type BenchmarkReport struct {
	TestName        string              `json:"test_name"`
	LoadProfile     LoadProfile         `json:"load_profile"`
	Results         []*BenchmarkResults `json:"results"`
	TotalOperations int64               `json:"total_operations"`
	TotalErrors     int64               `json:"total_errors"`
	OpsPerSecond    float64             `json:"ops_per_second"`
	ErrorRate       float64             `json:"error_rate"`
	Credentials     CredentialMetrics   `json:"credentials"`
}

// GenerateReport sums the worker results.
func GenerateReport(testName string, profile LoadProfile, results []*BenchmarkResults, credentials CredentialMetrics) *BenchmarkReport {
	report := &BenchmarkReport{
		TestName:    testName,
		LoadProfile: profile,
		Results:     results,
		Credentials: credentials,
	}
	for _, r := range results {
		report.TotalOperations += r.Operations
		report.TotalErrors += r.Errors
		report.OpsPerSecond += r.OperationsPerSecond
	}
	if report.TotalOperations > 0 {
		report.ErrorRate = float64(report.TotalErrors) / float64(report.TotalOperations) * 100
	}
	return report
}

func (br *BenchmarkReport) PrintSummary() string {
	return fmt.Sprintf(`
Benchmark Report: %s
Load Profile: %s (%d callers, %d sessions, %v)
- Total Operations: %d
- Total Errors: %d (%.2f%%)
- Ops/sec: %.2f
- Cache Hits: %d
- Full Exchanges: %d
- Attestation Calls: %d
`,
		br.TestName,
		br.LoadProfile.Name, br.LoadProfile.ConcurrentUsers, br.LoadProfile.DistinctSessions, br.LoadProfile.Duration,
		br.TotalOperations,
		br.TotalErrors, br.ErrorRate,
		br.OpsPerSecond,
		br.Credentials.CacheHits,
		br.Credentials.FullExchanges,
		br.Credentials.AttestationCalls,
	)
}
