// Package decode turns the raw byte stream of a generation response into
// typed events. It is split into two layers:
//
//   - LineDecoder: an incremental splitter that buffers arbitrary byte
//     chunks and yields complete newline-delimited Records, whatever the
//     chunk boundaries were. Its output depends only on the logical byte
//     sequence, never on how the transport happened to slice it.
//   - Parser: maps one Record onto zero or more core Events (Fragment,
//     Done, Error). Empty Records are keep-alives and yield nothing.
//
// Neither layer performs I/O; callers feed bytes in and pull events out,
// which keeps both layers trivially testable.
package decode
