// Package health агрегирует проверки зависимостей маркетплейса для /healthz, /readyz и gRPC health.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultCheckTimeout = 2 * time.Second

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report — сводный ответ /healthz.
type Report struct {
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Checks        []Check   `json:"checks,omitempty"`
	Version       string    `json:"version,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// Checker проверяет одну зависимость. Реализация должна уважать ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler хранит зарегистрированные проверки и отдаёт их по HTTP.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
	timeout   time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
		timeout:   defaultCheckTimeout,
	}
}

// RegisterChecker добавляет или заменяет проверку с таким именем.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Evaluate запускает все проверки параллельно и сводит их в общий статус:
// хотя бы один unhealthy делает сервис unhealthy, degraded понижает healthy.
func (h *Handler) Evaluate(ctx context.Context) Report {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make([]Checker, 0, len(h.checkers))
	for name, c := range h.checkers {
		names = append(names, name)
		checkers = append(checkers, c)
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks := make([]Check, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check := c.Check(ctx)
			if check.Name == "" {
				check.Name = names[i]
			}
			checks[i] = check
		}()
	}
	wg.Wait()

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	overall := StatusHealthy
	for _, c := range checks {
		switch {
		case c.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case c.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Report{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

// ServeHTTP отдаёт подробный отчёт; 503 только для unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Evaluate(r.Context())
	writeJSON(w, statusCode(report.Status), report)
}

// ReadinessHandler отвечает 503, пока хоть одна критичная зависимость недоступна.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	report := h.Evaluate(r.Context())
	writeJSON(w, statusCode(report.Status), map[string]Status{"status": report.Status})
}

// LivenessHandler всегда отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]Status{"status": StatusHealthy})
}

// Watch периодически вычисляет статус и передаёт его в onChange при каждом изменении.
// Первый результат передаётся сразу. Возвращается после отмены ctx.
func (h *Handler) Watch(ctx context.Context, interval time.Duration, onChange func(Status)) {
	var last Status
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if status := h.Evaluate(ctx).Status; status != last {
			last = status
			onChange(status)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// CheckFunc превращает функцию в критичную проверку: ошибка означает unhealthy.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func NewCheckFunc(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

func (c *CheckFunc) Check(ctx context.Context) Check {
	return run(ctx, c.name, true, c.fn)
}

// Pinger — зависимость, умеющая проверять своё подключение (хранилище, Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker проверяет зависимость через Ping.
// Некритичная зависимость при сбое переводит сервис в degraded.
type PingChecker struct {
	name     string
	pinger   Pinger
	critical bool
}

func NewPingChecker(name string, pinger Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, pinger: pinger, critical: critical}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	return run(ctx, c.name, c.critical, c.pinger.Ping)
}

func run(ctx context.Context, name string, critical bool, fn func(context.Context) error) Check {
	start := time.Now()
	err := fn(ctx)
	check := Check{Name: name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Message = err.Error()
		check.Status = StatusDegraded
		if critical {
			check.Status = StatusUnhealthy
		}
	}
	return check
}
