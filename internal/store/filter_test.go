package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatch(t *testing.T) {
	get := func(field string) (any, error) {
		switch field {
		case "count":
			return 5, nil
		case "name":
			return "web-service", nil
		}
		return nil, nil
	}

	tests := []struct {
		name     string
		filter   *Filter
		expected bool
	}{
		{name: "eq match", filter: New().Eq("name", "web-service"), expected: true},
		{name: "eq mismatch", filter: New().Eq("name", "other"), expected: false},
		{name: "gt true", filter: New().Gt("count", 1), expected: true},
		{name: "gt false", filter: New().Gt("count", 10), expected: false},
		{name: "like wildcard", filter: New().Like("name", "web%"), expected: true},
		{name: "between inclusive", filter: New().Between("count", 5, 10), expected: true},
		{name: "in set", filter: New().In("count", []int{1, 5, 9}), expected: true},
		{name: "not in set", filter: New().In("count", []int{1, 2, 3}), expected: false},
		{name: "combined and", filter: New().Eq("name", "web-service").Gt("count", 1), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.filter.Match(get)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}
