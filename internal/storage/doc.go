package storage

// Package storage is the SQLite persistence layer for catalog state.
//
// It owns:
//   - The bounded connection pool (Acquire/Release, jittered backoff, ErrPoolExhausted)
//   - The contention retry policy for busy/locked errors
//   - The diff engine (ProcessItems) that classifies fetched items in one transaction
//   - Notification + stats persistence
//   - The background audit worker for execution records
