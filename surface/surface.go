// Package surface hosts the widget web surface. Every adapter offers the
// same three operations: open the widget at a URL with a sink for the
// messages it posts, evaluate a script inside it, and close it.
package surface

import "errors"

// ErrNotOpen is returned when a script is evaluated or a message is posted
// while no widget is open.
var ErrNotOpen = errors.New("surface: widget is not open")

// Sink receives raw UTF-8 messages posted by the widget.
type Sink func(raw []byte)
