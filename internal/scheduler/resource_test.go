package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceFreeCount(t *testing.T) {
	res := NewResource(mustMediaType("T10K", "^IT", 10), nil, nil)
	user1, user2 := User{Name: "user1"}, User{Name: "user2"}

	res.SetUsedResources(user1, 5)
	res.SetUsedResources(user2, 5)
	assert.Equal(t, 0, res.CountFreeResources())

	res.SetUsedResources(user1, 0)
	assert.Equal(t, 5, res.CountFreeResources())

	res.ResetUsedResources()
	assert.Equal(t, 10, res.CountFreeResources())
}

func TestResourceIncreaseDecrease(t *testing.T) {
	res := NewResource(mustMediaType("T10K", "^IT", 3), nil, nil)
	atlas := User{Name: "atlas"}

	res.IncreaseUsedResources(atlas)
	res.IncreaseUsedResources(atlas)
	assert.Equal(t, 2, res.GetUsedResources(atlas))
	assert.Equal(t, 1, res.CountFreeResources())

	res.DecreaseUsedResources(atlas)
	res.DecreaseUsedResources(atlas)
	res.DecreaseUsedResources(atlas)
	assert.Zero(t, res.GetUsedResources(atlas))
	assert.Equal(t, 3, res.CountFreeResources())
}

func TestResourceAllocation(t *testing.T) {
	res := NewResource(mustMediaType("T10K", "^IT", 4), map[string]float64{"atlas": 0.5}, nil)
	atlas, cms := User{Name: "atlas"}, User{Name: "cms"}

	assert.InDelta(t, 2.0, res.GetUserAllocation(atlas), 1e-9)
	assert.Zero(t, res.GetUserAllocation(cms))

	assert.True(t, res.IsUnderAllocation(atlas))
	res.IncreaseUsedResources(atlas)
	assert.True(t, res.IsUnderAllocation(atlas))
	res.IncreaseUsedResources(atlas)
	assert.False(t, res.IsUnderAllocation(atlas))

	// Undefined users never hold a guarantee.
	assert.False(t, res.IsUnderAllocation(cms))
}

func TestResourceAge(t *testing.T) {
	clock := newFakeClock()
	res := NewResource(mustMediaType("T10K", "^IT", 4), nil, clock.Now)

	clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, res.GetAge())

	res.ResetTimestamp()
	assert.Zero(t, res.GetAge())
}

func TestResourceSnapshotIsCopy(t *testing.T) {
	res := NewResource(mustMediaType("T10K", "^IT", 4), map[string]float64{"atlas": 0.5}, nil)
	res.IncreaseUsedResources(User{Name: "atlas"})

	snap := res.Snapshot()
	snap.Used["atlas"] = 10

	assert.Equal(t, "T10K", snap.MediaType)
	assert.Equal(t, 3, snap.Free)
	assert.Equal(t, 1, res.GetUsedResources(User{Name: "atlas"}))
}
