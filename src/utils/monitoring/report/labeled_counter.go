package report

import (
	"encoding/json"
	"sync"

	"go.uber.org/atomic"
)

// Counter split by a single label, e.g. RPC method or processing stage.
// Must not be copied after first use.
type LabeledCounter struct {
	values sync.Map
}

func (self *LabeledCounter) Inc(label string) {
	self.Add(label, 1)
}

func (self *LabeledCounter) Add(label string, delta uint64) {
	v, ok := self.values.Load(label)
	if !ok {
		v, _ = self.values.LoadOrStore(label, atomic.NewUint64(0))
	}
	v.(*atomic.Uint64).Add(delta)
}

func (self *LabeledCounter) Load(label string) uint64 {
	v, ok := self.values.Load(label)
	if !ok {
		return 0
	}
	return v.(*atomic.Uint64).Load()
}

func (self *LabeledCounter) Range(f func(label string, value uint64)) {
	self.values.Range(func(key, value any) bool {
		f(key.(string), value.(*atomic.Uint64).Load())
		return true
	})
}

func (self *LabeledCounter) MarshalJSON() ([]byte, error) {
	out := make(map[string]uint64)
	self.Range(func(label string, value uint64) {
		out[label] = value
	})
	return json.Marshal(out)
}
