package ocr

import (
	"fmt"
	"strings"
)

// EngineMissingError reports that the engine binary could not be started.
type EngineMissingError struct {
	Path string
	Err  error
}

func (e *EngineMissingError) Error() string {
	return fmt.Sprintf("ocr: engine %q could not be started: %v", e.Path, e.Err)
}

func (e *EngineMissingError) Unwrap() error { return e.Err }

// LanguageMissingError reports that the engine lacks recognition data for a
// requested language. It takes precedence over a zero exit status.
type LanguageMissingError struct {
	Language string
}

func (e *LanguageMissingError) Error() string {
	return fmt.Sprintf("ocr: engine has no data for language %q", e.Language)
}

// EngineFailedError reports a non-zero exit from the engine.
type EngineFailedError struct {
	ExitCode int
	Stderr   string
}

func (e *EngineFailedError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("ocr: engine exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("ocr: engine exited with status %d: %s", e.ExitCode, msg)
}
