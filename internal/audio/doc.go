// Package audio is the audio-server boundary: connect, watch volume and
// mute changes on the default sink, read the current level. The default
// implementation shells out to pactl; the volume module only sees the
// Client interface.
package audio
