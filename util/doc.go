// Package util holds small helpers shared across adapters.
package util
