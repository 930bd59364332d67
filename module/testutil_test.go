package module

import (
	"github.com/GoCodeAlone/modular"
)

// testLogger discards application log output.
type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// newTestApplication creates an isolated application for module tests.
func newTestApplication() modular.Application {
	return modular.NewStdApplication(modular.NewStdConfigProvider(nil), testLogger{})
}
