// Package logonce suppresses repeated log lines for recurring cosmetic failures.
package logonce

import (
	"fmt"
	"log"
	"sync"
)

type Logger struct {
	log *log.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func New(l *log.Logger) *Logger {
	return &Logger{log: l, seen: map[string]struct{}{}}
}

// Printf logs the formatted line the first time key is seen and reports
// whether it did.
func (o *Logger) Printf(key string, format string, args ...any) bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	if _, ok := o.seen[key]; ok {
		o.mu.Unlock()
		return false
	}
	o.seen[key] = struct{}{}
	o.mu.Unlock()
	if o.log != nil {
		o.log.Output(2, fmt.Sprintf(format, args...))
	}
	return true
}

// Seen reports how many distinct keys were logged.
func (o *Logger) Seen() int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seen)
}
