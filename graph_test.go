package flow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionType(t *testing.T) {
	tests := map[string]ActionType{
		"launch":         ActionLaunch,
		"create_quote":   ActionQuote,
		"Devis":          ActionQuote,
		"payment":        ActionInvoice,
		" facture ":      ActionInvoice,
		"client_choice":  ActionClientChoice,
		"material_order": ActionMaterialOrder,
		"email":          ActionEmail,
		"calendar":       ActionCalendar,
		"site_visit":     ActionManual,
		"":               ActionManual,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseActionType(in), in)
	}
	for _, typ := range ActionTypes {
		assert.Equal(t, typ, ParseActionType(string(typ)))
	}
}

func TestNodeJSON(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(`{
		"action_type": "devis",
		"label": "Quote",
		"config": {"quote_id": "q1"},
		"automation_state": {"notification_sent": true}
	}`), &n))
	assert.Equal(t, ActionQuote, n.Type)
	assert.Equal(t, "q1", n.Config.QuoteID)
	assert.True(t, n.State.NotificationSent)

	out, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"action_type":"quote"`)
}

func TestValidateAcyclic(t *testing.T) {
	nodes := []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	assert.NoError(t, ValidateAcyclic(nodes, []Edge{
		{FromNodeID: "a", ToNodeID: "b"},
		{FromNodeID: "a", ToNodeID: "c"},
		{FromNodeID: "b", ToNodeID: "c"},
	}))
	assert.ErrorIs(t, ValidateAcyclic(nodes, []Edge{
		{FromNodeID: "a", ToNodeID: "b"},
		{FromNodeID: "b", ToNodeID: "c"},
		{FromNodeID: "c", ToNodeID: "a"},
	}), ErrCycleDetected)
	assert.ErrorIs(t, ValidateAcyclic(nodes, []Edge{{FromNodeID: "a", ToNodeID: "a"}}), ErrCycleDetected)
}

func TestGraphLookups(t *testing.T) {
	g := &Graph{Nodes: []Node{{ID: "e", Type: ActionEmail}, {ID: "l", Type: ActionLaunch}}}
	require.NotNil(t, g.LaunchNode())
	assert.Equal(t, "l", g.LaunchNode().ID)
	assert.Equal(t, ActionEmail, g.Node("e").Type)
	assert.Nil(t, g.Node("x"))
	assert.Nil(t, (&Graph{}).LaunchNode())
}
