// Package audio provides the binary audio plumbing shared by the caches and
// the word playback path: base64 transport decoding, PCM duration math,
// RIFF/WAVE framing, and the playback port with its oto-backed production
// implementation.
package audio
