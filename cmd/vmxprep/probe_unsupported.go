//go:build !linux

package main

import "fmt"

func runProbe(cpu int, list bool) error {
	return fmt.Errorf("hardware probing needs the Linux msr device; use -check for a simulated run")
}
