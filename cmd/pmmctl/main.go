// Command pmmctl runs the physical memory allocator on the host against
// emulated machines. It prints the memory map the allocator would manage and
// runs randomized workloads that check the allocator invariants.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
