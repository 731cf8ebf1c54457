package port

import (
	"github.com/lmplayground/model-store/internal/domain/repository"
)

// DownloadRecordRepository is an alias to domain repository interface
type DownloadRecordRepository = repository.DownloadRecordRepository

// MetaRepository is an alias to domain repository interface
type MetaRepository = repository.MetaRepository

// Store is an alias to domain repository interface
type Store = repository.Store
