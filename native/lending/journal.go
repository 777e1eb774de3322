package lending

// journal collects undo closures for the state touched by a single entry
// point. Entries are replayed newest first on rollback.
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	if j == nil || fn == nil {
		return
	}
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback() {
	if j == nil {
		return
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func (j *journal) size() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}
