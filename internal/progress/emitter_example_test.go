package progress

import (
	"context"
	"fmt"
)

// ExampleEmitter shows that writes after the terminal event are dropped.
func ExampleEmitter() {
	sink := SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			fmt.Println(evt.Name)
		}
		return nil
	})
	e := NewEmitter(context.Background(), "demo", sink)
	e.Progress(50, "halfway")
	e.Cancelled("stopped by caller")
	e.Progress(90, "ignored")
	// Output:
	// progress
	// cancelled
}
