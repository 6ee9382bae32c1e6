package app

import "testing"

// testConfig возвращает валидную конфигурацию на in-memory хранилище и локальных портах.
func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.JWTSecret = "test-secret"
	cfg.AllowMockIntegrations = true
	return cfg
}
