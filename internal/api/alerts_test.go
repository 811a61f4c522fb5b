package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/datastore/entities"
)

func seedRule(f *testFixture, name string) uint {
	return f.rules.add(entities.AlertRule{
		Name:      name,
		Enabled:   true,
		Category:  alerting.CategorySystem,
		Metric:    alerting.MetricCPUUsage,
		Operator:  alerting.OperatorGreaterThan,
		Threshold: 90,
		Severity:  alerting.SeverityWarning,
	})
}

func TestGetAlertSchema(t *testing.T) {
	f, _ := newTestFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/alerts/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var schema alerting.Schema
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	assert.NotEmpty(t, schema.Categories)
	assert.NotEmpty(t, schema.Operators)
	assert.NotEmpty(t, schema.Severities)
}

func TestListAlertRules(t *testing.T) {
	f, _ := newTestFixture(t)
	seedRule(f, "cpu high")
	seedRule(f, "cpu critical")

	rec := f.request(t, http.MethodGet, "/api/v1/alerts/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rules []entities.AlertRule `json:"rules"`
		Count int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestListAlertRules_EnabledFilter(t *testing.T) {
	f, _ := newTestFixture(t)
	seedRule(f, "enabled rule")
	f.rules.add(entities.AlertRule{
		Name:     "disabled rule",
		Enabled:  false,
		Category: alerting.CategorySystem,
		Metric:   alerting.MetricCPUUsage,
		Operator: alerting.OperatorGreaterThan,
		Severity: alerting.SeverityWarning,
	})

	rec := f.request(t, http.MethodGet, "/api/v1/alerts/rules?enabled=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rules []entities.AlertRule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rules, 1)
	assert.Equal(t, "enabled rule", body.Rules[0].Name)
}

func TestCreateAlertRule(t *testing.T) {
	f, _ := newTestFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/alerts/rules",
		`{"name":"disk low","category":"system","metric":"system.disk_usage",
		  "operator":"greater_than","threshold":85,"severity":"warning","enabled":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var rule entities.AlertRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	assert.NotZero(t, rule.ID)
	assert.False(t, rule.BuiltIn, "user-created rules are never built-in")
}

func TestCreateAlertRule_Validation(t *testing.T) {
	f, _ := newTestFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"category":"system","metric":"system.cpu_usage","operator":"greater_than","severity":"warning"}`},
		{"missing metric", `{"name":"x","category":"system","operator":"greater_than","severity":"warning"}`},
		{"bad category", `{"name":"x","category":"weather","metric":"system.cpu_usage","operator":"greater_than","severity":"warning"}`},
		{"bad operator", `{"name":"x","category":"system","metric":"system.cpu_usage","operator":"approximately","severity":"warning"}`},
		{"bad severity", `{"name":"x","category":"system","metric":"system.cpu_usage","operator":"greater_than","severity":"shrug"}`},
		{"negative duration", `{"name":"x","category":"system","metric":"system.cpu_usage","operator":"greater_than","severity":"warning","duration_sec":-5}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.request(t, http.MethodPost, "/api/v1/alerts/rules", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateAlertRule_DuplicateName(t *testing.T) {
	f, _ := newTestFixture(t)
	seedRule(f, "cpu high")

	rec := f.request(t, http.MethodPost, "/api/v1/alerts/rules",
		`{"name":"cpu high","category":"system","metric":"system.cpu_usage",
		  "operator":"greater_than","severity":"warning"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateAlertRule(t *testing.T) {
	f, _ := newTestFixture(t)
	id := seedRule(f, "cpu high")

	rec := f.request(t, http.MethodPut, fmt.Sprintf("/api/v1/alerts/rules/%d", id),
		`{"name":"cpu very high","category":"system","metric":"system.cpu_usage",
		  "operator":"greater_than","threshold":95,"severity":"critical","enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stored := f.rules.get(id)
	assert.Equal(t, "cpu very high", stored.Name)
	assert.InDelta(t, 95.0, stored.Threshold, 0.001)
}

func TestUpdateAlertRule_PreservesBuiltInFlag(t *testing.T) {
	f, _ := newTestFixture(t)
	id := f.rules.add(entities.AlertRule{
		Name:     "built in",
		Enabled:  true,
		BuiltIn:  true,
		Category: alerting.CategorySystem,
		Metric:   alerting.MetricCPUUsage,
		Operator: alerting.OperatorGreaterThan,
		Severity: alerting.SeverityWarning,
	})

	rec := f.request(t, http.MethodPut, fmt.Sprintf("/api/v1/alerts/rules/%d", id),
		`{"name":"built in","category":"system","metric":"system.cpu_usage",
		  "operator":"greater_than","threshold":80,"severity":"warning","built_in":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.rules.get(id).BuiltIn)
}

func TestToggleAlertRule(t *testing.T) {
	f, _ := newTestFixture(t)
	id := seedRule(f, "cpu high")

	rec := f.request(t, http.MethodPatch, fmt.Sprintf("/api/v1/alerts/rules/%d/toggle", id),
		`{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.rules.get(id).Enabled)
}

func TestDeleteAlertRule(t *testing.T) {
	f, _ := newTestFixture(t)
	id := seedRule(f, "cpu high")

	rec := f.request(t, http.MethodDelete, fmt.Sprintf("/api/v1/alerts/rules/%d", id), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.request(t, http.MethodGet, fmt.Sprintf("/api/v1/alerts/rules/%d", id), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertRule_NotFoundPaths(t *testing.T) {
	f, _ := newTestFixture(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/alerts/rules/99", ""},
		{http.MethodPut, "/api/v1/alerts/rules/99", `{"name":"x","category":"system","metric":"system.cpu_usage","operator":"greater_than","severity":"warning"}`},
		{http.MethodPatch, "/api/v1/alerts/rules/99/toggle", `{"enabled":true}`},
		{http.MethodDelete, "/api/v1/alerts/rules/99", ""},
		{http.MethodPost, "/api/v1/alerts/rules/99/test", ""},
	} {
		rec := f.request(t, tc.method, tc.path, tc.body)
		assert.Equalf(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestTestAlertRule_FiresAcceptor(t *testing.T) {
	f, acceptor := newTestFixture(t)
	id := seedRule(f, "cpu high")

	rec := f.request(t, http.MethodPost, fmt.Sprintf("/api/v1/alerts/rules/%d/test", id), "")
	require.Equal(t, http.StatusOK, rec.Code)

	events := acceptor.all()
	require.Len(t, events, 1)
	assert.Equal(t, "cpu high", events[0].RuleName)
	assert.Equal(t, alerting.StatusFiring, events[0].Status)
}

func TestListAlertHistory(t *testing.T) {
	f, _ := newTestFixture(t)
	for i := range 5 {
		require.NoError(t, f.rules.SaveHistory(t.Context(), &entities.AlertHistory{
			RuleID:   1,
			DeviceID: uint(i%2) + 1,
			Status:   alerting.StatusFiring,
			Value:    95,
			FiredAt:  time.Now(),
		}))
	}

	rec := f.request(t, http.MethodGet, "/api/v1/alerts/history?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		History []entities.AlertHistory `json:"history"`
		Total   int64                   `json:"total"`
		Limit   int                     `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.History, 3)
	assert.EqualValues(t, 5, body.Total)
	assert.Equal(t, 3, body.Limit)
}

func TestListAlertHistory_DeviceFilter(t *testing.T) {
	f, _ := newTestFixture(t)
	require.NoError(t, f.rules.SaveHistory(t.Context(), &entities.AlertHistory{RuleID: 1, DeviceID: 7, Status: alerting.StatusFiring, FiredAt: time.Now()}))
	require.NoError(t, f.rules.SaveHistory(t.Context(), &entities.AlertHistory{RuleID: 1, DeviceID: 8, Status: alerting.StatusFiring, FiredAt: time.Now()}))

	rec := f.request(t, http.MethodGet, "/api/v1/alerts/history?device_id=7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		History []entities.AlertHistory `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.History, 1)
	assert.EqualValues(t, 7, body.History[0].DeviceID)
}

func TestExportImportAlertRules(t *testing.T) {
	f, _ := newTestFixture(t)
	seedRule(f, "cpu high")

	rec := f.request(t, http.MethodGet, "/api/v1/alerts/rules/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "alert-rules.json")

	// Re-import into a fresh fixture.
	f2, _ := newTestFixture(t)
	rec2 := f2.request(t, http.MethodPost, "/api/v1/alerts/rules/import", rec.Body.String())
	require.Equal(t, http.StatusOK, rec2.Code)

	var result struct {
		Imported int `json:"imported"`
		Total    int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Total)
}

func TestImportAlertRules_SkipsInvalid(t *testing.T) {
	f, _ := newTestFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/alerts/rules/import",
		`{"version":1,"rules":[
		   {"name":"good","category":"system","metric":"system.cpu_usage","operator":"greater_than","severity":"warning"},
		   {"name":"","category":"system","metric":"system.cpu_usage","operator":"greater_than","severity":"warning"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Imported int `json:"imported"`
		Total    int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 2, result.Total)
}
