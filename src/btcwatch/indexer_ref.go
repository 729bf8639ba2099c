package btcwatch

// Passed to roles during an iteration
type indexerRef struct {
	module    string
	callbacks []func()
}

func newIndexerRef(module string) *indexerRef {
	return &indexerRef{module: module}
}

func (self *indexerRef) Module() string {
	return self.module
}

func (self *indexerRef) AfterCommit(fn func()) {
	self.callbacks = append(self.callbacks, fn)
}

func (self *indexerRef) commit() {
	for _, fn := range self.callbacks {
		fn()
	}
	self.callbacks = nil
}
