//go:build !linux

package jmedge

func processRSSBytes() (uint64, bool) { return 0, false }
