// Package partition splits a stage's work units across workers, tracks
// completed units through durable markers and runs the workers with a
// barrier between stages.
package partition

// Assign returns the indices of the units owned by one worker under the
// strided layout: unit i belongs to the worker with rank i mod size. Every
// unit is owned by exactly one worker.
func Assign(rank, size, n int) []int {
	if size < 1 || rank < 0 || rank >= size || n <= 0 {
		return nil
	}
	out := make([]int, 0, (n+size-1)/size)
	for i := rank; i < n; i += size {
		out = append(out, i)
	}
	return out
}
