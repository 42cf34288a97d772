// Package storage provides persistence implementations for scheduler state.
//
// This package includes:
//   - GormStore: a GORM-based StateStore supporting sqlite and postgres
//
// Records carry explicit expiry columns; expired rows read as absent and are
// physically removed by the cleanup sweep. The StateStore interface is
// defined in pkg/core and must be implemented by any custom backend.
package storage
