// Package audio handles format normalization and container conversion.
// It drives ffmpeg as an external transcoder to turn arbitrary voice
// message codecs into canonical 16 kHz mono PCM-16, and wraps PCM in a
// WAV container for the inference tooling.
package audio
