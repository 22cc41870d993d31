package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/Towow-sub000/profile"
)

// fakeNode answers with canned JSON and keeps the bodies it received.
type fakeNode struct {
	mu     sync.Mutex
	bodies map[string]map[string]interface{}
	routes map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	f := &fakeNode{
		bodies: map[string]map[string]interface{}{},
		routes: map[string]func(w http.ResponseWriter, r *http.Request){},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		if r.ContentLength > 0 {
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.bodies[key] = body
			f.mu.Unlock()
		}
		h, ok := f.routes[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeNode) on(key string, status int, body string) {
	f.routes[key] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (f *fakeNode) body(key string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func run(cmd *cobra.Command, args ...string) (string, error) {
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	err := cmd.Execute()
	return buf.String(), err
}

func TestSubmitWaitsForOutcome(t *testing.T) {
	f, srv := newFakeNode(t)
	f.on("POST /api/signals", http.StatusAccepted, `{"negotiation_id":"n-1"}`)
	var gotWait string
	f.routes["GET /api/signals/n-1"] = func(w http.ResponseWriter, r *http.Request) {
		gotWait = r.URL.Query().Get("wait")
		_, _ = w.Write([]byte(`{"negotiation_id":"n-1","state":"closed","result":{"kind":"plan"}}`))
	}

	out, err := run(SubmitCmd, "need", "a", "logo", "--scope", "design, print", "--scene", "studio", "--wait", "5s", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Negotiation ID: n-1")
	assert.Contains(t, out, `"state": "closed"`)
	assert.Equal(t, "5s", gotWait)

	body := f.body("POST /api/signals")
	assert.Equal(t, "need a logo", body["payload"])
	assert.Equal(t, "studio", body["scene_id"])
	assert.Equal(t, []interface{}{"design", "print"}, body["scope"])
}

func TestResultPending(t *testing.T) {
	f, srv := newFakeNode(t)
	f.on("GET /api/signals/n-2", http.StatusAccepted, `{"status":"pending","negotiation_id":"n-2","state":"collecting"}`)

	out, err := run(ResultCmd, "n-2", "--wait", "0s", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Negotiation n-2 is still collecting")
}

func TestCancelSurfacesNodeError(t *testing.T) {
	f, srv := newFakeNode(t)
	f.on("DELETE /api/signals/n-3", http.StatusConflict, `{"error":"negotiation already closed","retryable":false}`)

	_, err := run(CancelCmd, "n-3", "--api-url", srv.URL)
	require.Error(t, err)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "negotiation already closed", apiErr.Message)

	_, err = run(CancelCmd, "ghost", "--api-url", srv.URL)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestOfferAndDecline(t *testing.T) {
	f, srv := newFakeNode(t)
	f.on("POST /api/signals/n-4/offers", http.StatusAccepted, `{"status":"accepted"}`)

	out, err := run(OfferCmd, "n-4", "--agent", "studio-a", "--content", "logo in two weeks", "--confidence", "0.8", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Offer delivered")
	body := f.body("POST /api/signals/n-4/offers")
	assert.Equal(t, "studio-a", body["agent_id"])
	assert.Equal(t, 0.8, body["confidence"])
	assert.Equal(t, false, body["decline"])

	_, err = run(OfferCmd, "n-4", "--agent", "studio-b", "--content", "", "--decline", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, true, f.body("POST /api/signals/n-4/offers")["decline"])
}

func TestEchoRejectsUnknownKind(t *testing.T) {
	f, srv := newFakeNode(t)
	f.on("POST /api/echo", http.StatusAccepted, `{"status":"recorded"}`)

	_, err := run(EchoCmd, "--agent", "studio-a", "--kind", "promised", "--api-url", srv.URL)
	require.Error(t, err)
	assert.Nil(t, f.body("POST /api/echo"))

	out, err := run(EchoCmd, "--agent", "studio-a", "--kind", "delivered", "--source", "counterpart",
		"--confirmations", "2", "--summary", "logo shipped", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Echo recorded for studio-a")

	body := f.body("POST /api/echo")
	assert.Equal(t, "delivered", body["outcome_kind"])
	assert.Equal(t, "counterpart", body["source"])
	assert.Equal(t, float64(2), body["confirmations"])
	assert.Equal(t, map[string]interface{}{"summary": "logo shipped"}, body["payload"])
	assert.NotEmpty(t, body["observed_at"])
}

func TestAgentsRegisterWithTemplate(t *testing.T) {
	dir := t.TempDir()
	src, err := profile.NewTemplateSource(dir)
	require.NoError(t, err)
	require.NoError(t, src.SaveTemplate("bakery-designer", &profile.AgentTemplate{
		Name:   "Bakery designer",
		Role:   "designer",
		Skills: []string{"packaging", "logo"},
	}))

	f, srv := newFakeNode(t)
	f.on("POST /api/agents", http.StatusCreated, `{"id":"bakery-designer","source_type":"template","agent_type":"general"}`)

	out, err := run(AgentsCmd, "register", "--source", profile.SourceTemplate, "--template", "bakery-designer",
		"--template-dir", dir, "--scope", "design", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Agent ID: bakery-designer")

	body := f.body("POST /api/agents")
	assert.Equal(t, "bakery-designer", body["id"])
	assert.Equal(t, "template", body["source_type"])
	assert.Equal(t, []interface{}{"design"}, body["scope"])
	tmpl, ok := body["template"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Bakery designer", tmpl["name"])

	_, err = run(AgentsCmd, "register", "--source", profile.SourceTemplate, "--template", "missing",
		"--template-dir", dir, "--api-url", srv.URL)
	require.Error(t, err)
}

func TestAgentsListAndSpecialize(t *testing.T) {
	f, srv := newFakeNode(t)
	f.on("GET /api/agents", http.StatusOK, `{"agents":[
		{"id":"studio-a","source_type":"memory","agent_type":"general"},
		{"id":"studio-a-logo","source_type":"memory","agent_type":"specialized","parent_id":"studio-a","lens":"logo"}]}`)
	f.on("POST /api/agents/studio-a/specialize", http.StatusCreated,
		`{"id":"studio-a-logo","source_type":"memory","agent_type":"specialized","lens":"logo"}`)

	out, err := run(AgentsCmd, "list", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "- studio-a (general, memory)")
	assert.Contains(t, out, "- studio-a-logo (specialized, memory) lens: logo")

	out, err = run(AgentsCmd, "specialize", "studio-a", "--lens", "logo", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Specialized agent studio-a-logo (lens: logo)")
	assert.Equal(t, "logo", f.body("POST /api/agents/studio-a/specialize")["lens"])
}

func TestScenesListAndPut(t *testing.T) {
	f, srv := newFakeNode(t)
	f.on("GET /api/scenes", http.StatusOK, `{"default":{"scene_id":"default","k_star":10,"min_responders":1,"collect_timeout":30000000000},
		"scenes":[{"scene_id":"design","k_star":4,"lens_template":"design {scope}","min_responders":2,"collect_timeout":45000000000,"adaptive":true}]}`)
	f.on("PUT /api/scenes/design", http.StatusOK, `{"scene_id":"design"}`)

	out, err := run(ScenesCmd, "list", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Default: k*=10 min_responders=1 collect_timeout=30s")
	assert.Contains(t, out, `- design: k*=4 min_responders=2 collect_timeout=45s adaptive=true lens="design {scope}"`)

	out, err = run(ScenesCmd, "put", "design", "--k-star", "6", "--collect-timeout", "1m", "--adaptive", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Scene design saved")
	body := f.body("PUT /api/scenes/design")
	assert.Equal(t, float64(6), body["k_star"])
	assert.Equal(t, "1m0s", body["collect_timeout"])
	assert.Equal(t, true, body["adaptive"])
}

func TestTemplateCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := run(TemplateCmd, "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Available templates:")

	out, err = run(TemplateCmd, "create", "--dir", dir, "--name", "printer", "--role", "supplier",
		"--skills", "offset printing, packaging", "--description", "Small-batch print shop")
	require.NoError(t, err)
	assert.Contains(t, out, "Template 'printer' created successfully!")

	out, err = run(TemplateCmd, "show", "printer", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Role: supplier")
	assert.Contains(t, out, "Skills: offset printing, packaging")

	_, err = run(TemplateCmd, "show", "nobody", "--dir", dir)
	require.Error(t, err)
}
