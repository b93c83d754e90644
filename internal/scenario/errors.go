package scenario

import (
	"errors"
	"fmt"
)

// ConfigError codes. Every load-time rejection carries one.
const (
	ErrCodeParse      = "E_PARSE"
	ErrCodeSchema     = "E_SCHEMA"
	ErrCodeVersion    = "E_VERSION"
	ErrCodeDuplicate  = "E_DUPLICATE_ID"
	ErrCodeDangling   = "E_DANGLING_REF"
	ErrCodeBadConfig  = "E_BAD_CONFIG"
	ErrCodeGroupDest  = "E_GROUP_DEST"
	ErrCodeTypeChange = "E_TYPE_CHANGE"
)

// ConfigError is a hard load-time rejection. The engine never starts a run
// on a scenario that produced one.
type ConfigError struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func configErrf(code, path, format string, args ...any) *ConfigError {
	return &ConfigError{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// asConfigError unwraps a ConfigError that json surfaced through a wrapping
// layer (custom UnmarshalJSON errors arrive wrapped).
func asConfigError(err error, target **ConfigError) bool {
	return errors.As(err, target)
}
