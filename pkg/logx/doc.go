// Package logx configures prijswacht's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Level/outputs swappable at runtime via Service.Apply
package logx
