// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tapwise/internal/config"
	"github.com/xkilldash9x/tapwise/internal/service"
)

const fixturePath = "../internal/ocr/testdata/messages.json"

// quietConfig removes every pacing delay and keeps the store in memory.
const quietConfig = `
logger:
  level: error
store:
  driver: none
tap:
  randomization_enabled: false
  min_tap_interval: 0s
behavior:
  reading_delay: {min: 0s, max: 0s}
  reading_per_char: 0s
  thinking_delay: {min: 0s, max: 0s}
  action_delay: {min: 0s, max: 0s}
  tap_delay: {min: 0s, max: 0s}
`

const sendMessageYAML = `
name: send-message
app_context: messages
actions:
  - tap:
      text: Mom
    domain: contact
  - verify: Text message
  - tap:
      x: 360
      y: 1704
  - type_text: on my way
  - verify: Delivered
`

// MockComponentFactory mocks service.ComponentFactory.
type MockComponentFactory struct {
	mock.Mock
}

func (m *MockComponentFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	args := m.Called(ctx, cfg, logger)
	c, _ := args.Get(0).(*service.Components)
	return c, args.Error(1)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// executeCommand runs a fresh command tree against factory.
func executeCommand(t *testing.T, factory service.ComponentFactory, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(factory)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}
