// File: cmd/tapwise/main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tapwise/cmd"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
	execute = cmd.Execute
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(cmd.ErrSequencesFailed))
	assert.Equal(t, 1, exitCode(errors.New("no adb devices attached")))
}

func TestMain_ExitsWithCommandStatus(t *testing.T) {
	defer resetMocks()

	var code = -1
	osExit = func(c int) { code = c }
	execute = func(ctx context.Context) error {
		require.NotNil(t, ctx)
		return cmd.ErrSequencesFailed
	}

	main()
	assert.Equal(t, 1, code)
}

func TestHandlePanic(t *testing.T) {
	t.Run("WritesPanicLog", func(t *testing.T) {
		defer resetMocks()
		var (
			written []byte
			path    string
			code    = -1
		)
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			path, written = name, data
			return nil
		}
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("screen went away")
		}()

		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, string(written), "panic: screen went away")
		assert.Contains(t, string(written), "goroutine")
		assert.Equal(t, 2, code)
	})

	t.Run("LogWriteFails", func(t *testing.T) {
		defer resetMocks()
		code := -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, 2, code)
	})

	t.Run("NoPanic", func(t *testing.T) {
		defer resetMocks()
		called := false
		osExit = func(int) { called = true }
		func() {
			defer handlePanic()
		}()
		assert.False(t, called)
	})
}
