// Package wayland is the display-protocol boundary: output enumeration,
// layer surface lifecycle, frame callbacks, buffer attach/commit and
// pointer input. Conn abstracts the connection so the engine and its
// tests run against fakes; Connect provides the real wire binding for
// the protocol subset a bar needs.
package wayland
