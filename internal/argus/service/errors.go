package service

import (
	"errors"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/detect"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
)

var (
	ErrInvalidSessionID   = errors.New("session_id is required")
	ErrInvalidUserID      = errors.New("user id is required")
	ErrNotSessionOwner    = errors.New("session does not belong to caller")
	ErrForbidden          = errors.New("caller may not access this resource")
	ErrProctoringDisabled = errors.New("proctoring is disabled for this assessment")
	ErrInvalidViolation   = errors.New("unknown violation type")
	ErrInvalidSnapshot    = errors.New("snapshot does not belong to session")
	ErrFaceCount          = errors.New("reference image must contain exactly one face")
	ErrFaceCheckFailed    = errors.New("could not count faces in reference image")
	ErrEmptyVideo         = errors.New("video file is required")

	// Re-exported so callers can match on one package.
	ErrSessionNotFound   = store.ErrSessionNotFound
	ErrSessionNotActive  = store.ErrSessionNotActive
	ErrViolationNotFound = store.ErrViolationNotFound
	ErrNoRecording       = store.ErrNoRecording
	ErrUndecodableFrame  = detect.ErrUndecodableFrame
)
