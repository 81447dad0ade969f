package scheduler

import (
	"maps"
	"sync"
	"time"
)

// Resource accounts the drives of one media type between users.
//
// Allocations are configured as a share of the drives in [0,1]; a user is
// under allocation while it uses fewer drives than its share of the total.
type Resource struct {
	mutex sync.Mutex

	mediaType   *MediaType
	total       int
	used        map[string]int
	allocations map[string]float64
	timestamp   time.Time
	now         func() time.Time
}

func NewResource(mediaType *MediaType, allocations map[string]float64, now func() time.Time) *Resource {
	if now == nil {
		now = time.Now
	}

	shares := make(map[string]float64, len(allocations))
	maps.Copy(shares, allocations)

	return &Resource{
		mediaType:   mediaType,
		total:       mediaType.Drives,
		used:        make(map[string]int),
		allocations: shares,
		timestamp:   now(),
		now:         now,
	}
}

func (r *Resource) MediaType() *MediaType {
	return r.mediaType
}

func (r *Resource) Total() int {
	return r.total
}

// CountFreeResources returns the total drives minus the drives in use.
func (r *Resource) CountFreeResources() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.free()
}

func (r *Resource) free() int {
	free := r.total
	for _, n := range r.used {
		free -= n
	}
	return free
}

func (r *Resource) GetUsedResources(user User) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.used[user.Name]
}

func (r *Resource) IncreaseUsedResources(user User) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.used[user.Name]++
}

// DecreaseUsedResources never goes below zero.
func (r *Resource) DecreaseUsedResources(user User) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.used[user.Name] <= 1 {
		delete(r.used, user.Name)
		return
	}
	r.used[user.Name]--
}

func (r *Resource) SetUsedResources(user User, n int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if n <= 0 {
		delete(r.used, user.Name)
		return
	}
	r.used[user.Name] = n
}

func (r *Resource) ResetUsedResources() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	clear(r.used)
}

// GetUserAllocation returns the user's share in drives, 0 if undefined.
func (r *Resource) GetUserAllocation(user User) float64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.allocation(user)
}

func (r *Resource) allocation(user User) float64 {
	return r.allocations[user.Name] * float64(r.total)
}

func (r *Resource) IsUnderAllocation(user User) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return float64(r.used[user.Name]) < r.allocation(user)
}

// GetAge returns the time since the resource was built or last reset.
func (r *Resource) GetAge() time.Duration {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.now().Sub(r.timestamp)
}

func (r *Resource) ResetTimestamp() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.timestamp = r.now()
}

type ResourceSnapshot struct {
	MediaType   string             `json:"media_type"`
	Total       int                `json:"total"`
	Free        int                `json:"free"`
	Used        map[string]int     `json:"used"`
	Allocations map[string]float64 `json:"allocations"`
}

func (r *Resource) Snapshot() ResourceSnapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return ResourceSnapshot{
		MediaType:   r.mediaType.Name,
		Total:       r.total,
		Free:        r.free(),
		Used:        maps.Clone(r.used),
		Allocations: maps.Clone(r.allocations),
	}
}
