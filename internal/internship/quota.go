package internship

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Quota maps a category to the number of reserved slots.
type Quota map[Category]int

// DecodeQuota converts a loosely typed quota document, e.g. {"SC": "1", "ST": 2}.
func DecodeQuota(raw map[string]any) (Quota, error) {
	if len(raw) == 0 {
		return Quota{}, nil
	}

	var decoded map[string]int
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &decoded,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode quota: %w", err)
	}

	quota := make(Quota, len(decoded))
	for category, count := range decoded {
		if count < 0 {
			return nil, fmt.Errorf("quota for %q is negative: %d", category, count)
		}
		quota[Category(category)] = count
	}

	return quota, nil
}

// Categories returns the quota categories in ascending name order.
func (q Quota) Categories() []Category {
	categories := make([]Category, 0, len(q))
	for c := range q {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories
}

func (q Quota) Total() int {
	total := 0
	for _, n := range q {
		total += n
	}
	return total
}

// Validate checks the quota against the posting openings.
func (q Quota) Validate(openings int) error {
	for c, n := range q {
		if n < 0 {
			return fmt.Errorf("quota for %q is negative: %d", c, n)
		}
	}
	if total := q.Total(); total > openings {
		return fmt.Errorf("total reserved quota (%d) cannot exceed openings (%d)", total, openings)
	}
	return nil
}
