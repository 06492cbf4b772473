// Package redis opens the shared Redis connection used for distributed
// rate-limit counters when several auth instances sit behind one proxy.
package redis
