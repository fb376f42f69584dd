package model

import "errors"

var (
	ErrUnknownState  = errors.New("unknown task state")
	ErrSecretDecrypt = errors.New("failed to decrypt subscription secret")
	ErrPatchMismatch = errors.New("patch does not apply to this task kind")
)
