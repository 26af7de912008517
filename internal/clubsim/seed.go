package clubsim

import (
	"fmt"

	"github.com/codr1/courtside/internal/clubapi"
)

// SeedMember is one member loaded into a fresh club.
type SeedMember struct {
	Member    clubapi.Member
	Token     string
	Favorites []int64
}

// DemoMembers is the roster used when no members are configured.
func DemoMembers() []SeedMember {
	return []SeedMember{
		{
			Member:    clubapi.Member{ID: 1, FirstName: "Dana", LastName: "Whitfield", Email: "dana@example.com", Phone: "+15555550101"},
			Token:     "demo-dana",
			Favorites: []int64{2, 3},
		},
		{
			Member:    clubapi.Member{ID: 2, FirstName: "Pat", LastName: "Lee", Email: "pat.lee@example.com", Phone: "+15555550102"},
			Token:     "demo-pat",
			Favorites: []int64{1},
		},
		{
			Member: clubapi.Member{ID: 3, FirstName: "Patrice", LastName: "Ng", Email: "patrice@example.com", Phone: "+15555550103"},
			Token:  "demo-patrice",
		},
		{
			Member: clubapi.Member{ID: 4, FirstName: "Sam", LastName: "Ortiz", Email: "sam.ortiz@example.com", Phone: "+15555550104"},
			Token:  "demo-sam",
		},
	}
}

// Seed registers members first and favorites second so favorites may point at any
// seeded member.
func Seed(club *Club, members []SeedMember) error {
	for _, m := range members {
		if err := club.AddMember(m.Member, m.Token); err != nil {
			return fmt.Errorf("seed member %d: %w", m.Member.ID, err)
		}
	}
	for _, m := range members {
		for _, fav := range m.Favorites {
			if err := club.AddFavorite(m.Member.ID, fav); err != nil {
				return fmt.Errorf("seed favorite %d for member %d: %w", fav, m.Member.ID, err)
			}
		}
	}
	return nil
}
