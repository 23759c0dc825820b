package batch

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkirchner/pizzakg/extract"
	"github.com/lkirchner/pizzakg/tabular"
)

func TestCustomID(t *testing.T) {
	tests := []struct {
		name string
		row  tabular.Row
		want string
	}{
		{
			name: "spaces become underscores",
			row:  tabular.Row{Index: 0, Restaurant: "Tony's Pizza", MenuItem: "Margherita"},
			want: "0_Tony's_Pizza_Margherita",
		},
		{
			name: "commas stripped",
			row:  tabular.Row{Index: 7, Restaurant: "Pizza, Pasta & More", MenuItem: "Diavola"},
			want: "7_Pizza_Pasta_&_More_Diavola",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CustomID(tt.row))
		})
	}
}

// The custom id must round-trip through the extractor's row matching.
func TestCustomIDRoundTrip(t *testing.T) {
	row := tabular.Row{Index: 42, Restaurant: "Tony's, Downtown", MenuItem: "Pizza Bianca"}
	idx, err := extract.RowIndex(CustomID(row))
	require.NoError(t, err)
	assert.Equal(t, 42, idx)
}

func TestBuildRequests(t *testing.T) {
	rows := []tabular.Row{
		{Index: 0, Restaurant: "Tony's", MenuItem: "Margherita", Description: "Tomato and mozzarella"},
		{Index: 1, Restaurant: "Tony's", MenuItem: "Hawaiian", Description: "Pineapple, ham"},
	}
	reqs := BuildRequests(rows, "")
	require.Len(t, reqs, 2)

	r := reqs[0]
	assert.Equal(t, "0_Tony's_Margherita", r.CustomID)
	assert.Equal(t, "POST", r.Method)
	assert.Equal(t, "/v1/chat/completions", r.URL)
	assert.Equal(t, DefaultModel, r.Body.Model)
	require.Len(t, r.Body.Messages, 2)
	assert.Equal(t, "system", r.Body.Messages[0].Role)
	assert.Contains(t, r.Body.Messages[1].Content, `"Margherita"`)
	assert.Contains(t, r.Body.Messages[1].Content, `"Tomato and mozzarella"`)
}

func TestBuildRequestsModelOverride(t *testing.T) {
	reqs := BuildRequests([]tabular.Row{{Index: 0}}, "gpt-4o-mini")
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4o-mini", reqs[0].Body.Model)
}

func TestWriteJSONL(t *testing.T) {
	reqs := BuildRequests([]tabular.Row{
		{Index: 0, Restaurant: "A", MenuItem: "X"},
		{Index: 1, Restaurant: "B", MenuItem: "Y"},
	}, "")

	var sb strings.Builder
	require.NoError(t, WriteJSONL(&sb, reqs))

	sc := bufio.NewScanner(strings.NewReader(sb.String()))
	var lines int
	for sc.Scan() {
		var req Request
		require.NoError(t, json.Unmarshal(sc.Bytes(), &req), "line %d is not valid JSON", lines+1)
		assert.NotEmpty(t, req.CustomID)
		lines++
	}
	assert.Equal(t, 2, lines)
}
