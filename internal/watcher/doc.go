// Package watcher bridges filesystem change notifications into index
// updates. It watches the indexed root recursively with fsnotify,
// filters events with the same ignore rules as enumeration, debounces
// per path, and submits one maintenance-priority task per settled
// path. Editors that write through temp files produce bursts of
// events; debouncing collapses them into a single reindex.
package watcher
