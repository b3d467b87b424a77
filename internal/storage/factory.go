// Package storage provides blob-based persistence with pluggable backends.
package storage

import (
	"fmt"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
)

// Backend type constants.
const (
	BackendFile = "file"
)

// NewBlobStore creates a blob store based on the configuration.
// "file" is the only backend this module wires in (see DESIGN.md).
func NewBlobStore(logger *common.Logger, config *BlobStoreConfig) (BlobStore, error) {
	backend := config.Backend
	if backend == "" {
		backend = BackendFile // Default to file backend
	}

	switch backend {
	case BackendFile:
		return NewFileBlobStore(logger, &config.File)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file)", backend)
	}
}
