// Package stats holds the numeric helpers shared by the histogram engine
// and the slice finder.
package stats
