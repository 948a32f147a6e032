package jenkins

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/odstat/internal/domain"
)

// fakeJenkins serves consoleFull pages keyed by job path. "{{host}}" in a page
// is replaced by the server base URL.
func fakeJenkins(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(strings.ReplaceAll(page, "{{host}}", "http://"+r.Host)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const triggerConsole = `Started by user admin
+ export od_tag="V2.4.1" integration_ticket="PS-1024"
<div class="x">od_perception_check summary</div><div>od_deploy_arm: :&nbsp;<br>od_perception_arm: :&nbsp; {{host}}/job/perc/11/<br>od_perception_check: :&nbsp; {{host}}/job/check/21/<br>od_deploy_arm: :&nbsp;<br>od_perception_arm: :&nbsp; {{host}}/job/perc/12/<br>od_perception_check: :&nbsp; {{host}}/job/check/22/</div></div>
Finished: SUCCESS`

func triggerPages() map[string]string {
	return map[string]string{
		"/job/OD_ARM_trigger/77/consoleFull": triggerConsole,
		"/job/perc/11/consoleFull":           "+ python -m src.perception.od_perception --inno_pc_path=ARM_scene_a --verbose",
		"/job/perc/12/consoleFull":           "INNO_PC_PATH=/data/pc/arm-scene_b/",
		"/job/check/21/consoleFull":          "Archive:  /mnt/ODPerceptionResult/881_scene_a/result.zip",
		"/job/check/22/consoleFull":          "Archive:  /mnt/ODPerceptionResult/882_scene_b/result.zip",
	}
}

func TestScraper_Scrape(t *testing.T) {
	srv := fakeJenkins(t, triggerPages())
	scraper := NewScraper(NewClient(&ClientConfig{}), DefaultRules(), 2)

	res, err := scraper.Scrape(context.Background(), srv.URL+"/job/OD_ARM_trigger/77")
	require.NoError(t, err)

	assert.Equal(t, domain.BuildTag{Primary: "V2.4.1", Ticket: "PS-1024"}, res.Tag)
	require.Len(t, res.Perception, 2)
	require.Len(t, res.Check, 2)

	assert.Equal(t, srv.URL+"/job/perc/11/", res.Perception[0].URL)
	assert.Equal(t, "scene_a", res.Perception[0].Name())
	assert.Equal(t, "scene_b", res.Perception[1].Name())
	assert.Equal(t, srv.URL+"/job/check/22/", res.Check[1].URL)
	assert.Equal(t, "scene_a", res.Check[0].Name())
	assert.Equal(t, "scene_b", res.Check[1].Name())
}

func TestScraper_UnresolvedNameIsNil(t *testing.T) {
	pages := triggerPages()
	delete(pages, "/job/perc/12/consoleFull")
	pages["/job/check/21/consoleFull"] = "Archive: /tmp/elsewhere/881_scene_a/result.zip"
	srv := fakeJenkins(t, pages)

	scraper := NewScraper(NewClient(&ClientConfig{}), DefaultRules(), 1)
	res, err := scraper.Scrape(context.Background(), srv.URL+"/job/OD_ARM_trigger/77/")
	require.NoError(t, err)

	assert.Nil(t, res.Perception[1].SceneName)
	assert.Nil(t, res.Check[0].SceneName)
	assert.Equal(t, "scene_a", res.Perception[0].Name())
}

func TestScraper_TagNotFound(t *testing.T) {
	srv := fakeJenkins(t, map[string]string{
		"/job/t/1/consoleFull": "+ export od_tag=V1 only",
	})
	scraper := NewScraper(NewClient(&ClientConfig{}), DefaultRules(), 1)

	_, err := scraper.Scrape(context.Background(), srv.URL+"/job/t/1/")
	assert.True(t, errors.Is(err, domain.ErrTagNotFound))
}

func TestScraper_ConsoleUnavailable(t *testing.T) {
	srv := fakeJenkins(t, map[string]string{})
	scraper := NewScraper(NewClient(&ClientConfig{}), DefaultRules(), 1)

	_, err := scraper.Scrape(context.Background(), srv.URL+"/job/missing/1/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consoleFull failed")
	assert.True(t, errors.Is(err, domain.ErrConsoleUnreachable))
	assert.False(t, errors.Is(err, domain.ErrTagNotFound))
}

func TestExtractBuildTag(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want domain.BuildTag
		ok   bool
	}{
		{
			name: "quoted values",
			text: `export od_tag="V1.0" integration_ticket="PS-1"`,
			want: domain.BuildTag{Primary: "V1.0", Ticket: "PS-1"},
			ok:   true,
		},
		{
			name: "html escaped quotes",
			text: `od_tag=&quot;V1.0&quot; integration_ticket=&quot;PS-1&quot;`,
			want: domain.BuildTag{Primary: "V1.0", Ticket: "PS-1"},
			ok:   true,
		},
		{
			name: "first complete line wins",
			text: "od_tag=A\nod_tag=B integration_ticket=T2\nod_tag=C integration_ticket=T3",
			want: domain.BuildTag{Primary: "B", Ticket: "T2"},
			ok:   true,
		},
		{
			name: "ticket missing",
			text: "od_tag=A",
			ok:   false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractBuildTag(tc.text, DefaultRules())
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
				assert.Equal(t, tc.want.Primary+"-job-"+tc.want.Ticket, got.String())
			}
		})
	}
}

func TestParseEntries_Classification(t *testing.T) {
	s := NewScraper(nil, DefaultRules(), 1)
	text := `<p>od_perception_check</p></div></div><div>od_deploy_x86: :&nbsp;<br>od_perception_x86: :&nbsp; http://j/job/p/1<br>od_perception_check: :&nbsp; http://j/job/c/2<br>no url here</div></div>
od_deploy: :&nbsp;<br>od_perception: :&nbsp; http://j/job/p/9`

	perception, check := s.parseEntries(text)
	assert.Equal(t, []string{"http://j/job/p/1/"}, perception)
	assert.Equal(t, []string{"http://j/job/c/2/"}, check)
}

func TestNormalizeSceneName(t *testing.T) {
	testCases := map[string]string{
		"ARM_scene_a":    "scene_a",
		"arm-scene_b":    "scene_b",
		"  _scene_c":     "scene_c",
		"ARMARM_scene_d": "scene_d",
		"scene_e":        "scene_e",
		"ARM":            "",
	}
	for in, want := range testCases {
		got := NormalizeSceneName(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, NormalizeSceneName(got), "idempotent for %q", in)
	}
}

func TestClient_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ci" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/job/p/1/artifact/SummaryResults.zip" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("PK-payload"))
	}))
	defer srv.Close()

	c := NewClient(&ClientConfig{Username: "ci", Password: "secret", RequestsPerSecond: 100, Burst: 2})
	dir := t.TempDir()

	path := filepath.Join(dir, "a.zip")
	n, err := c.Download(context.Background(), srv.URL+"/job/p/1/artifact/SummaryResults.zip", path)
	require.NoError(t, err)
	assert.Equal(t, int64(len("PK-payload")), n)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PK-payload", string(data))

	missing := filepath.Join(dir, "b.zip")
	_, err = c.Download(context.Background(), srv.URL+"/job/p/2/artifact/SummaryResults.zip", missing)
	require.Error(t, err)
	assert.NoFileExists(t, missing)
}

func TestJobURL(t *testing.T) {
	assert.Equal(t, "http://j/job/a/1/", JobURL("http://j/job/a/1"))
	assert.Equal(t, "http://j/job/a/1/", JobURL(" http://j/job/a/1// "))
	assert.Equal(t, "http://j/job/a/1/consoleFull", ConsoleURL("http://j/job/a/1"))
}

func TestBuildNumber(t *testing.T) {
	assert.Equal(t, "77", BuildNumber("http://j/job/PS_IntegrationTest/job/OD_X86_trigger/77/"))
	assert.Equal(t, "78", BuildNumber("http://j/job/OD_ARM_trigger/78"))
}
