package internal

import (
	"fmt"
	"time"

	"github.com/gokit/actorcell"
)

// TLog implements the actorcell.Logs interface, printing
// out basic type and value contents with log.
type TLog struct{}

// Emit prints type implement log event and type data, it implements
// actorcell.Logs Emit method.
func (TLog) Emit(l actorcell.Level, m actorcell.LogMessage) {
	fmt.Printf("[%s : %s : %T] %s\n", time.Now().Format(time.RFC3339), l, m, m.Message())
}
