package broadcast

import (
	"fmt"
	"strings"

	"github.com/geyserpipe/geyserpipe/internal/types"
)

// Filter selects which committed updates a subscriber receives. An empty
// filter matches everything; otherwise an update matches if its owner is in
// Programs or its address is in Accounts.
type Filter struct {
	programs map[types.Pubkey]struct{}
	accounts map[types.Pubkey]struct{}
}

// NewAllFilter returns a filter matching every committed update.
func NewAllFilter() Filter {
	return Filter{}
}

// NewProgramFilter returns a filter matching accounts owned by any of the
// given programs.
func NewProgramFilter(programs ...types.Pubkey) Filter {
	f := Filter{programs: make(map[types.Pubkey]struct{}, len(programs))}
	for _, p := range programs {
		f.programs[p] = struct{}{}
	}
	return f
}

// NewAccountFilter returns a filter matching exactly the given account
// addresses.
func NewAccountFilter(accounts ...types.Pubkey) Filter {
	f := Filter{accounts: make(map[types.Pubkey]struct{}, len(accounts))}
	for _, a := range accounts {
		f.accounts[a] = struct{}{}
	}
	return f
}

// Combine merges the given filters: programs and accounts accumulate, and if
// any input matches everything the result does too.
func Combine(filters ...Filter) Filter {
	out := Filter{}
	for _, f := range filters {
		if f.MatchesAll() {
			return NewAllFilter()
		}
		for p := range f.programs {
			if out.programs == nil {
				out.programs = make(map[types.Pubkey]struct{})
			}
			out.programs[p] = struct{}{}
		}
		for a := range f.accounts {
			if out.accounts == nil {
				out.accounts = make(map[types.Pubkey]struct{})
			}
			out.accounts[a] = struct{}{}
		}
	}
	return out
}

// MatchesAll reports whether the filter is unrestricted.
func (f Filter) MatchesAll() bool {
	return len(f.programs) == 0 && len(f.accounts) == 0
}

// Matches reports whether the update passes the filter.
func (f Filter) Matches(u *types.CommittedUpdate) bool {
	if f.MatchesAll() {
		return true
	}
	if _, ok := f.programs[u.Owner]; ok {
		return true
	}
	_, ok := f.accounts[u.Account]
	return ok
}

// String renders the filter for diagnostics and the subscriber listing.
func (f Filter) String() string {
	if f.MatchesAll() {
		return "all"
	}

	parts := make([]string, 0, 2)
	if len(f.programs) > 0 {
		keys := make([]string, 0, len(f.programs))
		for p := range f.programs {
			keys = append(keys, p.String())
		}
		parts = append(parts, fmt.Sprintf("programs(%s)", strings.Join(keys, ",")))
	}
	if len(f.accounts) > 0 {
		keys := make([]string, 0, len(f.accounts))
		for a := range f.accounts {
			keys = append(keys, a.String())
		}
		parts = append(parts, fmt.Sprintf("accounts(%s)", strings.Join(keys, ",")))
	}
	return strings.Join(parts, "+")
}
