package store

import "sync"

// TaskLocker serializes writers per task id. next_task_seq plus append is a
// read-modify-write on the log, so all writers touching the same task take
// its mutex first. Entries are created lazily and reclaimed once a task is
// retired (reached a terminal state) and no holder remains.
type TaskLocker struct {
	mu    sync.Mutex
	locks map[string]*taskLock
}

type taskLock struct {
	mu      sync.Mutex
	refs    int
	retired bool
}

// NewTaskLocker creates an empty locker.
func NewTaskLocker() *TaskLocker {
	return &TaskLocker{locks: make(map[string]*taskLock)}
}

// Lock acquires the mutex for taskID, creating the entry if needed. The
// returned function releases it.
func (l *TaskLocker) Lock(taskID string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.locks[taskID]
	if !ok {
		entry = &taskLock{}
		l.locks[taskID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 && entry.retired {
			delete(l.locks, taskID)
		}
		l.mu.Unlock()
	}
}

// Retire marks taskID's entry for reclamation. Called after committing a
// terminal transition; the entry is removed when its last holder unlocks.
func (l *TaskLocker) Retire(taskID string) {
	l.mu.Lock()
	if entry, ok := l.locks[taskID]; ok {
		entry.retired = true
		if entry.refs == 0 {
			delete(l.locks, taskID)
		}
	}
	l.mu.Unlock()
}

// Len reports how many task entries are live. Used by tests and diagnostics.
func (l *TaskLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
