// Package watcher watches a workspace for changes and turns raw
// filesystem events into the debounced batches the index coordinator
// consumes.
//
// HybridWatcher prefers fsnotify for efficient event-based notification and
// falls back to PollingWatcher when fsnotify can't be started (network
// mounts and some container volume drivers don't deliver inotify events).
// Either way, raw events pass through a Debouncer so a burst of saves from
// an editor or a git checkout collapses into one batch per settled path.
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	// Start blocks for the lifetime of the watch.
//	go func() {
//	    if err := w.Start(ctx, "/path/to/project"); err != nil {
//	        log.Println(err)
//	    }
//	}()
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        switch event.Operation {
//	        case watcher.OpCreate, watcher.OpModify:
//	            // index the file
//	        case watcher.OpDelete:
//	            // remove it from the store
//	        case watcher.OpGitignoreChange:
//	            // reconcile the affected subtree
//	        }
//	    }
//	}
package watcher
