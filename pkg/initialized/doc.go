// Package initialized tracks named one-shot readiness latches. The admin
// server reports ready only after every registered latch has signalled, which
// gates traffic on conditions like "first election pass performed" or "index
// synced".
package initialized
