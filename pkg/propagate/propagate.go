// Package propagate applies a single region operation to a set of regions.
// Regions are processed one after another and a failure in one region never
// stops the others: it is recorded in the result instead.
package propagate

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Session is the region holder operations run against. The engine switches it
// to each target region in turn and leaves it on the last one.
type Session interface {
	Region() string
	SetRegion(region string)
}

// Operation runs in the current region of the session and returns an optional
// value, such as the id of a copied image.
type Operation func(ctx context.Context, region string) (string, error)

// Outcome is the result of an operation in one region.
type Outcome struct {
	Value string
	Err   error
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Result maps each target region to its outcome.
type Result map[string]Outcome

// Values returns the value of each region, nil where the operation failed.
func (r Result) Values() map[string]*string {
	values := make(map[string]*string, len(r))
	for region, o := range r {
		if o.Failed() {
			values[region] = nil
			continue
		}
		value := o.Value
		values[region] = &value
	}
	return values
}

// Failed returns the sorted regions in which the operation failed.
func (r Result) Failed() []string {
	var failed []string
	for region, o := range r {
		if o.Failed() {
			failed = append(failed, region)
		}
	}
	sort.Strings(failed)
	return failed
}

type Config struct {
	// Name of the operation, used for logging.
	Name    string
	Session Session
	// Regions are the target regions. All regions returned by ListRegions
	// are targeted when empty.
	Regions     []string
	ListRegions func(ctx context.Context) ([]string, error)
	// ExcludeCurrent skips the region the session is in when the call starts.
	ExcludeCurrent bool
}

// ForEachRegion runs op once per target region in order. Only a failure to
// list the regions is returned as an error.
func ForEachRegion(ctx context.Context, c Config, op Operation) (Result, error) {
	log := log.FromContext(ctx)

	regions := c.Regions
	if len(regions) == 0 {
		if c.ListRegions == nil {
			return nil, fmt.Errorf("no regions given for %s and no way to list them", c.Name)
		}
		listed, err := c.ListRegions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list regions for %s: %w", c.Name, err)
		}
		regions = listed
	}

	if c.ExcludeCurrent {
		current := c.Session.Region()
		regions = slices.DeleteFunc(slices.Clone(regions), func(r string) bool {
			return r == current
		})
	}

	result := make(Result, len(regions))
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			result[region] = Outcome{Err: err}
			continue
		}

		c.Session.SetRegion(region)
		value, err := op(ctx, region)
		if err != nil {
			log.Error(err, "Operation failed in region, continuing with the next one", "operation", c.Name, "region", region)
			result[region] = Outcome{Err: err}
			continue
		}
		result[region] = Outcome{Value: value}
	}

	return result, nil
}
