package partner

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	branchCityKey     = "chago.branch.to.city"
	bannedBranchesKey = "chago.banned-branches"
)

// BranchLister is the slice of Client the directory refresh needs.
type BranchLister interface {
	Regions(ctx context.Context) ([]Region, error)
	Branches(ctx context.Context, regionID string) ([]Branch, error)
}

// BranchStore is the slice of redis the directory uses. Satisfied by
// redis.Cmdable.
type BranchStore interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
}

// Directory answers branch questions from redis: which city a branch is in,
// and whether redemptions from it are banned.
type Directory struct {
	client BranchStore
}

func NewDirectory(client BranchStore) *Directory {
	return &Directory{client: client}
}

// CityOf returns "" when the branch is unknown.
func (d *Directory) CityOf(ctx context.Context, branchID string) (string, error) {
	city, err := d.client.HGet(ctx, branchCityKey, branchID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("partner: branch city %s: %w", branchID, err)
	}
	return city, nil
}

func (d *Directory) IsBanned(ctx context.Context, branchID string) (bool, error) {
	banned, err := d.client.SIsMember(ctx, bannedBranchesKey, branchID).Result()
	if err != nil {
		return false, fmt.Errorf("partner: banned check %s: %w", branchID, err)
	}
	return banned, nil
}

// Refresh rebuilds the branch→city hash from the partner's region and branch
// listings. Returns the number of branches written.
func (d *Directory) Refresh(ctx context.Context, lister BranchLister) (int, error) {
	regions, err := lister.Regions(ctx)
	if err != nil {
		return 0, fmt.Errorf("partner: refresh branch map: %w", err)
	}

	total := 0
	for _, region := range regions {
		branches, err := lister.Branches(ctx, region.ID)
		if err != nil {
			return total, fmt.Errorf("partner: refresh branch map, region %s: %w", region.Name, err)
		}
		for _, b := range branches {
			city := b.City
			if city == "" {
				city = region.Name
			}
			if err := d.client.HSet(ctx, branchCityKey, b.ID, city).Err(); err != nil {
				return total, fmt.Errorf("partner: refresh branch map, branch %s: %w", b.ID, err)
			}
			total++
		}
	}
	return total, nil
}
