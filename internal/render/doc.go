// Package render paints widget content into pixel buffers. It is purely
// functional over its inputs: the same canvas size, draw calls and
// resources always produce byte-identical pixels, which is what makes
// glyph caching and golden-buffer tests workable. Nothing here does I/O
// at paint time; fonts and icons are loaded up front.
package render
