// Package bitstream reads and writes MSB-first bit fields, including the
// Exp-Golomb codes used throughout H.264 parameter-set syntax.
//
// [Reader] is the parsing primitive behind the h264 package. [Writer] is its
// inverse and exists mainly to build bit-exact fixtures.
package bitstream
