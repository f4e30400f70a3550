package main

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/gc"
	"github.com/joshuapare/memkit/gc/arena"
)

var (
	stressObjects int
	stressRounds  int
	stressSize    int
	stressChain   int
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressObjects, "objects", 10000, "Objects allocated per round")
	cmd.Flags().IntVar(&stressRounds, "rounds", 10, "Workload rounds to run")
	cmd.Flags().IntVar(&stressSize, "size", 64, "Payload bytes per object")
	cmd.Flags().IntVar(&stressChain, "chain", 16, "Length of the retained chains")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run a churn workload through a collector and report statistics",
		Long: `The stress command allocates linked chains of objects, keeps a fraction
of them reachable from enrolled root slots, drops the rest, and collects
between rounds. It then reports collector and arena counters.

Example:
  memctl stress --objects 50000 --rounds 20
  memctl stress --size 256 --chain 64 -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
}

func runStress() error {
	if stressSize < int(unsafe.Sizeof(uintptr(0))) {
		return fmt.Errorf("size must hold at least one word (%d bytes)", unsafe.Sizeof(uintptr(0)))
	}

	a, err := arena.New(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := gc.New(a, nil)
	if err != nil {
		return err
	}

	var base int
	c.Start(unsafe.Pointer(&base))
	defer c.Stop()

	// Root slots: one retained chain head per slot, refreshed every round.
	// Everything not hanging off a slot becomes garbage.
	roots := make([]uintptr, 64)
	c.AddRoots(unsafe.Pointer(&roots[0]), unsafe.Pointer(unsafe.Add(unsafe.Pointer(&roots[0]), len(roots)*int(unsafe.Sizeof(uintptr(0))))))

	destructed := 0
	dtor := func(unsafe.Pointer) { destructed++ }

	start := time.Now()
	for round := range stressRounds {
		for i := range stressObjects {
			head := roots[i%len(roots)]
			p := c.AllocOpts(uintptr(stressSize), 0, dtor)
			if p == nil {
				return fmt.Errorf("round %d: allocation %d failed", round, i)
			}
			// Link the new object in front of the slot's chain, truncating
			// it once it exceeds the target length.
			*(*uintptr)(p) = head
			roots[i%len(roots)] = uintptr(p)
			truncateChain(roots[i%len(roots)], stressChain)
		}
		c.Run()
		printVerbose("round %d: %d live, %d destructed so far\n",
			round, c.Stats().Live, destructed)
	}

	// Drop every chain and collect the remainder.
	for i := range roots {
		roots[i] = 0
	}
	c.Run()
	elapsed := time.Since(start)

	st := c.Stats()
	as := a.Stats()

	printInfo("\nWorkload:\n")
	printInfo("  rounds: %d, objects/round: %d, payload: %d bytes\n",
		stressRounds, stressObjects, stressSize)
	printInfo("  elapsed: %v\n", elapsed)

	printInfo("\nCollector:\n")
	printInfo("  allocations:   %d (%d bytes)\n", st.Allocs, st.BytesAllocated)
	printInfo("  frees:         %d (%d bytes)\n", st.Frees, st.BytesFreed)
	printInfo("  collections:   %d\n", st.Collections)
	printInfo("  destructed:    %d\n", destructed)
	printInfo("  live:          %d (registry capacity %d)\n", st.Live, st.Capacity)

	printInfo("\nArena:\n")
	printInfo("  segments:      %d (%d bytes mapped)\n", as.MapCalls, as.MappedBytes)
	printInfo("  splits:        %d\n", as.SplitCount)
	printInfo("  coalesces:     %d forward, %d backward\n", as.CoalesceForward, as.CoalesceBackward)

	// Stale stack slots may conservatively retain a handful of objects;
	// that is expected, not a leak.
	if st.Live != 0 {
		printVerbose("  note: %d object(s) retained by stale stack words\n", st.Live)
	}
	return nil
}

// truncateChain walks count links from head and severs the chain there.
func truncateChain(head uintptr, count int) {
	for i := 0; head != 0 && i < count; i++ {
		next := (*uintptr)(unsafe.Pointer(head))
		if i == count-1 {
			*next = 0
			return
		}
		head = *next
	}
}
