package feed

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"mev-sentinel/internal/config"
)

// Venue is one known external protocol contract the classifier matches against.
type Venue struct {
	Name     string
	Family   string
	Address  common.Address
	Pairs    []string
	Pools    map[string]common.Address
	Accounts []common.Address
}

// Token is a known ERC-20 contract with its display precision.
type Token struct {
	Address  common.Address
	Decimals int32
}

// Table indexes known venues by contract address.
type Table struct {
	venues map[common.Address]Venue
	dex    []Venue
	tokens map[string]Token
	byAddr map[common.Address]Token
}

// NewTable builds the classification table from configuration.
func NewTable(venues []config.VenueConfig, tokens map[string]config.TokenConfig) *Table {
	t := &Table{
		venues: make(map[common.Address]Venue, len(venues)),
		tokens: make(map[string]Token, len(tokens)),
		byAddr: make(map[common.Address]Token, len(tokens)),
	}

	for symbol, tc := range tokens {
		tok := Token{Address: common.HexToAddress(tc.Address), Decimals: tc.Decimals}
		t.tokens[strings.ToUpper(symbol)] = tok
		t.byAddr[tok.Address] = tok
	}

	for _, vc := range venues {
		venue := Venue{
			Name:    vc.Name,
			Family:  vc.Family,
			Address: common.HexToAddress(vc.Address),
			Pairs:   vc.Pairs,
			Pools:   make(map[string]common.Address, len(vc.Pools)),
		}
		for pair, pool := range vc.Pools {
			venue.Pools[pair] = common.HexToAddress(pool)
		}
		for _, account := range vc.Accounts {
			venue.Accounts = append(venue.Accounts, common.HexToAddress(account))
		}
		t.venues[venue.Address] = venue
		if venue.Family == config.FamilyDEX {
			t.dex = append(t.dex, venue)
		}
	}

	sort.Slice(t.dex, func(i, j int) bool { return t.dex[i].Name < t.dex[j].Name })
	return t
}

// Lookup resolves a contract address to a known venue.
func (t *Table) Lookup(addr common.Address) (Venue, bool) {
	v, ok := t.venues[addr]
	return v, ok
}

// DEXVenues lists DEX-family venues quoting the given pair, in a stable order.
func (t *Table) DEXVenues(pair string) []Venue {
	var out []Venue
	for _, v := range t.dex {
		for _, p := range v.Pairs {
			if p == pair {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

// PairTokens resolves a "BASE/QUOTE" pair symbol to token contracts.
func (t *Table) PairTokens(pair string) (base, quote Token, ok bool) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return Token{}, Token{}, false
	}
	base, okBase := t.tokens[strings.ToUpper(parts[0])]
	quote, okQuote := t.tokens[strings.ToUpper(parts[1])]
	return base, quote, okBase && okQuote
}

// TokenByAddress resolves a token contract address to its metadata.
func (t *Table) TokenByAddress(addr common.Address) (Token, bool) {
	tok, ok := t.byAddr[addr]
	return tok, ok
}
