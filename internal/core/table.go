package core

import (
	"slices"

	"github.com/samber/lo"
)

// ChannelTable maps a channel number to the participant ids assigned to it.
type ChannelTable map[int][]string

// Clone returns a deep copy of the table.
func (t ChannelTable) Clone() ChannelTable {
	out := make(ChannelTable, len(t))
	for ch, ids := range t {
		out[ch] = slices.Clone(ids)
		if out[ch] == nil {
			out[ch] = []string{}
		}
	}
	return out
}

// Channels returns the channel numbers present in the table in ascending order.
func (t ChannelTable) Channels() []int {
	keys := lo.Keys(map[int][]string(t))
	slices.Sort(keys)
	return keys
}

// Total returns the number of assignments across all channels.
func (t ChannelTable) Total() int {
	n := 0
	for _, ids := range t {
		n += len(ids)
	}
	return n
}

// Equal reports whether both tables have the same channel keys and the same
// ordered membership per channel. Nil and empty sequences compare equal.
func (t ChannelTable) Equal(other ChannelTable) bool {
	if len(t) != len(other) {
		return false
	}
	for ch, ids := range t {
		otherIDs, ok := other[ch]
		if !ok || !slices.Equal(ids, otherIDs) {
			return false
		}
	}
	return true
}

// Reconcile returns a copy of table in which every channel 1..count is present.
// Channels above count are kept untouched.
func Reconcile(table ChannelTable, count int) ChannelTable {
	out := table.Clone()
	for ch := 1; ch <= count; ch++ {
		if _, ok := out[ch]; !ok {
			out[ch] = []string{}
		}
	}
	return out
}

// PickLeastLoaded returns the channel in 1..count with the fewest participants.
// Ties go to the lowest channel number. It returns 0 when count is not positive.
func PickLeastLoaded(table ChannelTable, count int) int {
	if count <= 0 {
		return 0
	}
	reconciled := Reconcile(table, count)

	best, bestLen := 1, len(reconciled[1])
	for ch := 2; ch <= count; ch++ {
		if n := len(reconciled[ch]); n < bestLen {
			best, bestLen = ch, n
		}
	}
	return best
}

// Assign returns a copy of table with participant appended to channel.
// Membership in other channels is not checked.
func Assign(table ChannelTable, channel int, participant string) ChannelTable {
	out := table.Clone()
	out[channel] = append(out[channel], participant)
	return out
}

// Remove returns a copy of table with every occurrence of participant removed.
func Remove(table ChannelTable, participant string) ChannelTable {
	out := make(ChannelTable, len(table))
	for ch, ids := range table {
		out[ch] = lo.Without(ids, participant)
	}
	return out
}
